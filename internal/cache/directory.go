package cache

import (
	"slices"
	"sync"
)

// Directory maps raw chat identifiers to their last-known metadata.
type Directory struct {
	mu    sync.RWMutex
	chats map[string]*ChatEntry
}

// NewDirectory creates an empty chat directory.
func NewDirectory() *Directory {
	return &Directory{chats: make(map[string]*ChatEntry)}
}

// Put replaces the entry for e.ID with e.
func (d *Directory) Put(e ChatEntry) {
	if e.ID == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	e.Embedded = slices.Clone(e.Embedded)
	d.chats[e.ID] = &e
}

// Update applies fn to the entry for id, creating an empty entry first when
// none exists.
func (d *Directory) Update(id string, fn func(*ChatEntry)) {
	if id == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.chats[id]
	if !ok {
		e = &ChatEntry{ID: id}
		d.chats[id] = e
	}
	fn(e)
	e.ID = id
}

// Get returns a copy of the entry for id.
func (d *Directory) Get(id string) (ChatEntry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.chats[id]
	if !ok {
		return ChatEntry{}, false
	}
	return copyEntry(e), true
}

// Snapshot returns copies of all entries ordered by identifier.
func (d *Directory) Snapshot() []ChatEntry {
	d.mu.RLock()
	out := make([]ChatEntry, 0, len(d.chats))
	for _, e := range d.chats {
		out = append(out, copyEntry(e))
	}
	d.mu.RUnlock()
	slices.SortFunc(out, func(a, b ChatEntry) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Len returns the number of entries.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.chats)
}

// Clear drops every entry.
func (d *Directory) Clear() {
	d.mu.Lock()
	d.chats = make(map[string]*ChatEntry)
	d.mu.Unlock()
}

func copyEntry(e *ChatEntry) ChatEntry {
	c := *e
	c.Embedded = slices.Clone(e.Embedded)
	c.Raw = slices.Clone(e.Raw)
	return c
}
