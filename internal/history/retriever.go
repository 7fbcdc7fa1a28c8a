// Package history answers "the last messages of a chat" from the session
// caches, falling back to the live connection.
package history

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/matheus3301/wppgw/internal/cache"
	"go.uber.org/zap"
)

const (
	// MaxMessages is the most messages ever returned for one request.
	MaxMessages = 20
	// MinMessages is the smallest effective request size.
	MinMessages = 5
	// FetchCount is how many messages a live fetch asks for.
	FetchCount = 10
	// FetchTimeout bounds a live fetch.
	FetchTimeout = 30 * time.Second

	recentWindow = 24 * time.Hour
)

// Strategy names reported in Result.Source.
const (
	SourceLedger   = "ledger"
	SourceEmbedded = "chat"
	SourceLive     = "live"
	SourceNone     = "none"
)

// Notes returned when nothing could be retrieved.
const (
	NoteNoHistory    = "No messages available for this chat yet. History is delivered asynchronously by the network; try again later."
	NoteFetchFailed  = "No cached messages and the on-demand fetch did not return any. Try again later."
	NoteNotConnected = "No cached messages and the session is not connected, so no on-demand fetch was attempted."
)

// Fetcher asks the live connection for recent messages of a chat.
type Fetcher interface {
	FetchHistory(ctx context.Context, chatID string, count int) ([]cache.Message, error)
}

// Writer persists messages found by a fallback strategy.
type Writer interface {
	AppendMessages(chatID string, msgs []cache.Message) int
}

// Source bundles one session's data sources for a retrieval.
type Source struct {
	Ledger *cache.Ledger
	Chats  *cache.Directory
	Writer Writer
	// Aliases lists other raw ids that denote the same chat. Optional.
	Aliases func(chatID string) []string
	// Fetcher is nil when the session has no live connection.
	Fetcher Fetcher
}

// Record is the display form of one message.
type Record struct {
	ID            string  `json:"id"`
	ChatID        string  `json:"chatId"`
	FromMe        bool    `json:"fromMe"`
	Sender        string  `json:"sender,omitempty"`
	Text          string  `json:"body"`
	Type          string  `json:"type"`
	Timestamp     *string `json:"timestamp"`
	Status        string  `json:"status,omitempty"`
	MightBeUnread bool    `json:"mightBeUnread"`
}

// Result is the outcome of a retrieval. It is never an error.
type Result struct {
	ChatID   string   `json:"chatId"`
	Source   string   `json:"source"`
	Messages []Record `json:"messages"`
	Note     string   `json:"note,omitempty"`
}

// Retriever runs the strategy chain: ledger, chat-embedded messages, live
// fetch. The first non-empty strategy wins.
type Retriever struct {
	logger       *zap.Logger
	now          func() time.Time
	fetchTimeout time.Duration
}

// NewRetriever creates a retriever.
func NewRetriever(logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		logger:       logger,
		now:          time.Now,
		fetchTimeout: FetchTimeout,
	}
}

// EffectiveCount clamps a requested limit into [MinMessages, MaxMessages].
// A non-positive limit means MaxMessages.
func EffectiveCount(limit int) int {
	switch {
	case limit <= 0:
		return MaxMessages
	case limit < MinMessages:
		return MinMessages
	case limit > MaxMessages:
		return MaxMessages
	default:
		return limit
	}
}

// Retrieve returns up to EffectiveCount(limit) messages of chatID, oldest
// first.
func (r *Retriever) Retrieve(ctx context.Context, src Source, chatID string, limit int) Result {
	count := EffectiveCount(limit)
	res := Result{ChatID: chatID, Source: SourceNone, Messages: []Record{}}

	if msgs, id := r.fromLedger(src, chatID); len(msgs) > 0 {
		res.ChatID = id
		res.Source = SourceLedger
		res.Messages = r.format(msgs, count)
		return res
	}

	if msgs, id := r.fromEmbedded(src, chatID); len(msgs) > 0 {
		if src.Writer != nil {
			src.Writer.AppendMessages(id, msgs)
		}
		res.ChatID = id
		res.Source = SourceEmbedded
		res.Messages = r.format(dedupe(msgs), count)
		return res
	}

	if src.Fetcher == nil {
		res.Note = NoteNotConnected
		return res
	}
	msgs, err := r.fetch(ctx, src.Fetcher, chatID)
	if err != nil {
		r.logger.Warn("live history fetch failed", zap.String("chat", chatID), zap.Error(err))
		res.Note = NoteFetchFailed
		return res
	}
	if len(msgs) == 0 {
		res.Note = NoteNoHistory
		return res
	}
	if src.Writer != nil {
		src.Writer.AppendMessages(chatID, msgs)
	}
	res.Source = SourceLive
	res.Messages = r.format(dedupe(msgs), count)
	return res
}

// fromLedger tries the exact id, then aliases, then a URL-decoded comparison
// against every chat id the ledger knows.
func (r *Retriever) fromLedger(src Source, chatID string) ([]cache.Message, string) {
	if src.Ledger == nil {
		return nil, ""
	}
	if msgs := src.Ledger.Get(chatID); len(msgs) > 0 {
		return msgs, chatID
	}
	if src.Aliases != nil {
		for _, alias := range src.Aliases(chatID) {
			if msgs := src.Ledger.Get(alias); len(msgs) > 0 {
				return msgs, alias
			}
		}
	}
	want := decode(chatID)
	for _, id := range src.Ledger.ChatIDs() {
		if decode(id) == want {
			if msgs := src.Ledger.Get(id); len(msgs) > 0 {
				return msgs, id
			}
		}
	}
	return nil, ""
}

func (r *Retriever) fromEmbedded(src Source, chatID string) ([]cache.Message, string) {
	if src.Chats == nil {
		return nil, ""
	}
	ids := []string{chatID}
	if src.Aliases != nil {
		ids = append(ids, src.Aliases(chatID)...)
	}
	if d := decode(chatID); d != chatID {
		ids = append(ids, d)
	}
	for _, id := range ids {
		if e, ok := src.Chats.Get(id); ok && len(e.Embedded) > 0 {
			return e.Embedded, id
		}
	}
	return nil, ""
}

func (r *Retriever) fetch(ctx context.Context, f Fetcher, chatID string) (msgs []cache.Message, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("fetch panicked: %v", p)
		}
	}()
	msgs, err = f.FetchHistory(ctx, decode(chatID), FetchCount)
	if errors.Is(err, context.DeadlineExceeded) && len(msgs) > 0 {
		err = nil
	}
	return msgs, err
}

// format converts messages to records, keeps the count most relevant
// (unread-and-recent first, then newest) and returns them oldest first.
func (r *Retriever) format(msgs []cache.Message, count int) []Record {
	now := r.now()
	type ranked struct {
		rec Record
		ts  int64
	}
	items := make([]ranked, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, ranked{rec: r.toRecord(m, now), ts: m.Timestamp})
	}
	slices.SortStableFunc(items, func(a, b ranked) int {
		if a.rec.MightBeUnread != b.rec.MightBeUnread {
			if a.rec.MightBeUnread {
				return -1
			}
			return 1
		}
		switch {
		case a.ts > b.ts:
			return -1
		case a.ts < b.ts:
			return 1
		}
		return 0
	})
	if len(items) > count {
		items = items[:count]
	}
	out := make([]Record, len(items))
	for i, it := range items {
		out[len(items)-1-i] = it.rec
	}
	return out
}

// toRecord never fails: a malformed cached payload degrades to a minimal
// placeholder.
func (r *Retriever) toRecord(m cache.Message, now time.Time) (rec Record) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("malformed cached message", zap.String("id", m.ID), zap.Any("panic", p))
			rec = Record{ID: m.ID, ChatID: m.ChatID, FromMe: m.FromMe, Text: "[Unreadable message]", Type: cache.TypeUnknown}
		}
	}()
	rec = Record{
		ID:     m.ID,
		ChatID: m.ChatID,
		FromMe: m.FromMe,
		Sender: m.SenderID,
		Text:   m.Text(),
		Type:   m.Type(),
		Status: m.Status,
	}
	if m.Timestamp > 0 {
		t := time.Unix(m.Timestamp, 0).UTC()
		s := t.Format(time.RFC3339)
		rec.Timestamp = &s
		rec.MightBeUnread = !m.FromMe && now.Sub(t) < recentWindow
	}
	return rec
}

func dedupe(msgs []cache.Message) []cache.Message {
	seen := make(map[string]struct{}, len(msgs))
	out := make([]cache.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.ID]; ok || m.ID == "" {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

func decode(id string) string {
	if d, err := url.PathUnescape(id); err == nil {
		return d
	}
	return id
}
