package history

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/matheus3301/wppgw/internal/cache"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

type fakeFetcher struct {
	msgs  []cache.Message
	err   error
	calls int
	block bool
}

func (f *fakeFetcher) FetchHistory(ctx context.Context, chatID string, count int) ([]cache.Message, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.msgs, f.err
}

type ledgerWriter struct{ l *cache.Ledger }

func (w ledgerWriter) AppendMessages(chatID string, msgs []cache.Message) int {
	return w.l.AppendMany(chatID, msgs)
}

var fixedNow = time.Unix(1_700_000_000, 0)

func newTestRetriever() *Retriever {
	r := NewRetriever(zap.NewNop())
	r.now = func() time.Time { return fixedNow }
	return r
}

func textMsg(id string, ts int64, fromMe bool) cache.Message {
	return cache.Message{ID: id, Timestamp: ts, FromMe: fromMe, Content: &waE2E.Message{Conversation: proto.String("text " + id)}}
}

func TestEffectiveCount(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 20}, {-3, 20}, {1, 5}, {5, 5}, {12, 12}, {20, 20}, {1000, 20},
	}
	for _, tt := range tests {
		if got := EffectiveCount(tt.in); got != tt.want {
			t.Errorf("EffectiveCount(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRetrieveCeilingAndChronology(t *testing.T) {
	ledger := cache.NewLedger(0)
	for i := 0; i < 200; i++ {
		ledger.Append("c@g.us", textMsg(fmt.Sprintf("m%03d", i), 1_600_000_000+int64(i), false))
	}
	r := newTestRetriever()

	res := r.Retrieve(context.Background(), Source{Ledger: ledger}, "c@g.us", 1000)
	if res.Source != SourceLedger {
		t.Errorf("source = %q, want ledger", res.Source)
	}
	if len(res.Messages) != 20 {
		t.Fatalf("got %d messages, want 20", len(res.Messages))
	}
	for i := 1; i < len(res.Messages); i++ {
		if *res.Messages[i-1].Timestamp > *res.Messages[i].Timestamp {
			t.Fatalf("messages not oldest-first at %d", i)
		}
	}
	if res.Messages[19].ID != "m199" || res.Messages[0].ID != "m180" {
		t.Errorf("window = %s..%s, want m180..m199", res.Messages[0].ID, res.Messages[19].ID)
	}
}

func TestRetrieveUnreadRecentRankedFirst(t *testing.T) {
	ledger := cache.NewLedger(0)
	now := fixedNow.Unix()
	// One recent incoming message far older in ranking order than 10 newer own messages.
	ledger.Append("c", textMsg("recent-in", now-3600, false))
	for i := 0; i < 10; i++ {
		ledger.Append("c", textMsg(fmt.Sprintf("own%d", i), now-60+int64(i), true))
	}
	r := newTestRetriever()

	res := r.Retrieve(context.Background(), Source{Ledger: ledger}, "c", 5)
	if len(res.Messages) != 5 {
		t.Fatalf("got %d messages, want 5", len(res.Messages))
	}
	last := res.Messages[len(res.Messages)-1]
	if last.ID != "recent-in" || !last.MightBeUnread {
		t.Errorf("last record = %+v, want recent-in flagged as might-be-unread", last)
	}
}

func TestRetrieveURLDecodedMatch(t *testing.T) {
	ledger := cache.NewLedger(0)
	ledger.Append("123@g.us", textMsg("m1", 10, false))
	r := newTestRetriever()

	res := r.Retrieve(context.Background(), Source{Ledger: ledger}, "123%40g.us", 10)
	if len(res.Messages) != 1 || res.ChatID != "123@g.us" {
		t.Errorf("got %+v", res)
	}
}

func TestRetrieveAliases(t *testing.T) {
	ledger := cache.NewLedger(0)
	ledger.Append("42@lid", textMsg("m1", 10, false))
	r := newTestRetriever()

	src := Source{
		Ledger:  ledger,
		Aliases: func(string) []string { return []string{"42@lid"} },
	}
	res := r.Retrieve(context.Background(), src, "5511000000001@s.whatsapp.net", 10)
	if len(res.Messages) != 1 || res.ChatID != "42@lid" {
		t.Errorf("got %+v", res)
	}
}

func TestRetrieveFallsBackToEmbeddedWithoutFetch(t *testing.T) {
	ledger := cache.NewLedger(0)
	chats := cache.NewDirectory()
	chats.Put(cache.ChatEntry{ID: "c@g.us", Embedded: []cache.Message{
		textMsg("e1", 100, false), textMsg("e2", 200, false), textMsg("e3", 300, true), textMsg("e1", 100, false),
	}})
	fetcher := &fakeFetcher{}
	r := newTestRetriever()

	res := r.Retrieve(context.Background(), Source{
		Ledger: ledger, Chats: chats, Writer: ledgerWriter{ledger}, Fetcher: fetcher,
	}, "c@g.us", 10)

	if res.Source != SourceEmbedded {
		t.Errorf("source = %q, want chat", res.Source)
	}
	if len(res.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(res.Messages))
	}
	if fetcher.calls != 0 {
		t.Errorf("live fetch attempted %d times, want 0", fetcher.calls)
	}
	if ledger.Len("c@g.us") != 3 {
		t.Errorf("ledger holds %d messages after write-back, want 3", ledger.Len("c@g.us"))
	}
}

func TestRetrieveLiveFetchWritesBack(t *testing.T) {
	ledger := cache.NewLedger(0)
	fetcher := &fakeFetcher{msgs: []cache.Message{textMsg("f1", 10, false), textMsg("f2", 20, false)}}
	r := newTestRetriever()

	src := Source{Ledger: ledger, Chats: cache.NewDirectory(), Writer: ledgerWriter{ledger}, Fetcher: fetcher}
	res := r.Retrieve(context.Background(), src, "c@s.whatsapp.net", 10)
	if res.Source != SourceLive || len(res.Messages) != 2 {
		t.Fatalf("got %+v", res)
	}
	if ledger.Len("c@s.whatsapp.net") != 2 {
		t.Errorf("ledger len = %d, want 2", ledger.Len("c@s.whatsapp.net"))
	}

	// Second call is served from the ledger.
	res = r.Retrieve(context.Background(), src, "c@s.whatsapp.net", 10)
	if res.Source != SourceLedger || fetcher.calls != 1 {
		t.Errorf("source = %q, fetch calls = %d; want ledger, 1", res.Source, fetcher.calls)
	}
}

func TestRetrieveFetchErrorIsSwallowed(t *testing.T) {
	r := newTestRetriever()
	res := r.Retrieve(context.Background(), Source{
		Ledger: cache.NewLedger(0), Fetcher: &fakeFetcher{err: errors.New("boom")},
	}, "c@s.whatsapp.net", 10)

	if len(res.Messages) != 0 || res.Note != NoteFetchFailed {
		t.Errorf("got %+v, want empty result with a note", res)
	}
	if res.Messages == nil {
		t.Error("Messages must be an empty slice, not nil")
	}
}

func TestRetrieveFetchTimeout(t *testing.T) {
	r := newTestRetriever()
	r.fetchTimeout = 20 * time.Millisecond

	start := time.Now()
	res := r.Retrieve(context.Background(), Source{Fetcher: &fakeFetcher{block: true}}, "c@s.whatsapp.net", 10)
	if time.Since(start) > time.Second {
		t.Error("fetch did not honor its timeout")
	}
	if res.Note == "" {
		t.Error("expected a note on timeout")
	}
}

func TestRetrieveNotConnected(t *testing.T) {
	r := newTestRetriever()
	res := r.Retrieve(context.Background(), Source{Ledger: cache.NewLedger(0)}, "c@s.whatsapp.net", 10)
	if res.Note != NoteNotConnected || res.Source != SourceNone {
		t.Errorf("got %+v", res)
	}
}

func TestRecordFields(t *testing.T) {
	r := newTestRetriever()
	recs := r.format([]cache.Message{
		{ID: "a", ChatID: "c", Content: &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}},
	}, 5)
	if len(recs) != 1 {
		t.Fatal("want one record")
	}
	rec := recs[0]
	if rec.Timestamp != nil {
		t.Errorf("timestamp = %v, want nil for unknown time", *rec.Timestamp)
	}
	if rec.Type != cache.TypeImage || rec.Text != "[Image]" {
		t.Errorf("record = %+v", rec)
	}
	if rec.MightBeUnread {
		t.Error("message without a timestamp cannot be recent")
	}
}
