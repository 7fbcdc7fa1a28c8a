package cache

import "testing"

func TestDirectoryPutGet(t *testing.T) {
	d := NewDirectory()
	d.Put(ChatEntry{ID: "a@g.us", Name: "Team", Embedded: []Message{{ID: "m1"}}})

	got, ok := d.Get("a@g.us")
	if !ok {
		t.Fatal("entry missing")
	}
	if got.Name != "Team" || len(got.Embedded) != 1 {
		t.Errorf("got %+v", got)
	}

	got.Embedded[0].ID = "mutated"
	again, _ := d.Get("a@g.us")
	if again.Embedded[0].ID != "m1" {
		t.Error("Get() must return a copy")
	}
}

func TestDirectoryUpdateCreates(t *testing.T) {
	d := NewDirectory()
	d.Update("x@s.whatsapp.net", func(e *ChatEntry) { e.UnreadCount++ })
	d.Update("x@s.whatsapp.net", func(e *ChatEntry) { e.UnreadCount++ })

	got, ok := d.Get("x@s.whatsapp.net")
	if !ok || got.UnreadCount != 2 {
		t.Errorf("got %+v, ok=%v; want unread 2", got, ok)
	}
}

func TestDirectoryPutEmptyIDIgnored(t *testing.T) {
	d := NewDirectory()
	d.Put(ChatEntry{Name: "nobody"})
	d.Update("", func(e *ChatEntry) { e.Name = "x" })
	if d.Len() != 0 {
		t.Errorf("Len() = %d, want 0", d.Len())
	}
}

func TestDirectorySnapshotAndClear(t *testing.T) {
	d := NewDirectory()
	d.Put(ChatEntry{ID: "b"})
	d.Put(ChatEntry{ID: "a"})

	snap := d.Snapshot()
	if len(snap) != 2 || snap[0].ID != "a" || snap[1].ID != "b" {
		t.Errorf("Snapshot() = %+v", snap)
	}

	d.Clear()
	if d.Len() != 0 {
		t.Errorf("Len() after Clear = %d", d.Len())
	}
}
