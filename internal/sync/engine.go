package sync

import (
	gosync "sync"

	"github.com/matheus3301/wppgw/internal/bus"
	"github.com/matheus3301/wppgw/internal/cache"
	"go.uber.org/zap"
)

// HistoryBatch is one bulk history delivery decoded into cache records.
type HistoryBatch struct {
	Chats    []cache.ChatEntry
	Messages []cache.Message // messages delivered outside any chat payload
	Contacts []cache.Contact
}

// Engine is the single ingestion funnel for one session. Every mutation of
// the session's ledger, directory and contact table goes through it, and
// mutations are mutually exclusive.
type Engine struct {
	mu       gosync.Mutex
	session  string
	ledger   *cache.Ledger
	chats    *cache.Directory
	contacts *cache.Contacts
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewEngine creates an engine feeding the given stores.
func NewEngine(session string, l *cache.Ledger, d *cache.Directory, c *cache.Contacts, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		session:  session,
		ledger:   l,
		chats:    d,
		contacts: c,
		bus:      b,
		logger:   logger,
	}
}

// IngestMessage processes one live message (idempotent). Chat activity is
// bumped and, for messages from others, the unread count incremented.
func (e *Engine) IngestMessage(msg cache.Message) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ledger.Append(msg.ChatID, msg) {
		return false
	}
	e.chats.Update(msg.ChatID, func(c *cache.ChatEntry) {
		if msg.Timestamp > c.LastActivity {
			c.LastActivity = msg.Timestamp
		}
		if !msg.FromMe {
			c.UnreadCount++
			if c.Name == "" && cache.Classify(msg.ChatID) != cache.KindGroup {
				c.Name = msg.PushName
			}
		}
	})
	if !msg.FromMe && msg.SenderID != "" && msg.PushName != "" {
		e.contacts.Upsert(cache.Contact{JID: msg.SenderID, Name: msg.PushName})
	}
	e.publishAppended(msg.ChatID, 1)
	return true
}

// IngestHistory processes a bulk history delivery. Chat entries replace the
// directory metadata, their embedded messages and the loose messages are
// appended to the ledger. Returns the number of chats and new messages.
func (e *Engine) IngestHistory(batch HistoryBatch) (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, c := range batch.Contacts {
		e.contacts.Upsert(c)
	}

	added := 0
	for _, in := range batch.Chats {
		if in.ID == "" {
			continue
		}
		e.chats.Update(in.ID, func(c *cache.ChatEntry) {
			if in.Name != "" && in.Name != cache.UnknownName {
				c.Name = in.Name
			}
			c.UnreadCount = in.UnreadCount
			c.Pinned = in.Pinned
			if in.LastActivity > c.LastActivity {
				c.LastActivity = in.LastActivity
			}
			if len(in.Embedded) > 0 {
				c.Embedded = in.Embedded
			}
			if len(in.Raw) > 0 {
				c.Raw = in.Raw
			}
		})
		n := e.ledger.AppendMany(in.ID, in.Embedded)
		e.publishAppended(in.ID, n)
		added += n
	}

	perChat := make(map[string]int)
	for _, m := range batch.Messages {
		if e.ledger.Append(m.ChatID, m) {
			perChat[m.ChatID]++
			e.chats.Update(m.ChatID, func(c *cache.ChatEntry) {
				if m.Timestamp > c.LastActivity {
					c.LastActivity = m.Timestamp
				}
			})
		}
	}
	for chatID, n := range perChat {
		e.publishAppended(chatID, n)
		added += n
	}

	e.logger.Debug("history batch ingested",
		zap.Int("chats", len(batch.Chats)),
		zap.Int("messages_added", added))
	return len(batch.Chats), added
}

// AppendMessages writes messages obtained outside the event stream (live
// fetch, embedded fallback, own sends) into the ledger.
func (e *Engine) AppendMessages(chatID string, msgs []cache.Message) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.ledger.AppendMany(chatID, msgs)
	e.publishAppended(chatID, n)
	return n
}

// ApplyReceipt sets status on the listed messages of chatID in place.
func (e *Engine) ApplyReceipt(chatID string, msgIDs []string, status string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, id := range msgIDs {
		if e.ledger.UpdateStatus(chatID, id, status) {
			n++
		}
	}
	return n
}

// SetPinned patches the pinned flag of a chat.
func (e *Engine) SetPinned(chatID string, pinned bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chats.Update(chatID, func(c *cache.ChatEntry) { c.Pinned = pinned })
}

// MarkRead clears the unread count of a chat when read is true.
func (e *Engine) MarkRead(chatID string, read bool) {
	if !read {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chats.Update(chatID, func(c *cache.ChatEntry) { c.UnreadCount = 0 })
}

// RenameChat sets a chat's display name, typically from a group info update.
func (e *Engine) RenameChat(chatID, name string) {
	if name == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chats.Update(chatID, func(c *cache.ChatEntry) { c.Name = name })
}

// IngestContacts merges contacts and returns how many changed.
func (e *Engine) IngestContacts(cs []cache.Contact) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range cs {
		if e.contacts.Upsert(c) {
			n++
		}
	}
	return n
}

func (e *Engine) publishAppended(chatID string, n int) {
	if n == 0 || e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{
		Kind:    bus.KindLedgerAppend,
		Session: e.session,
		Payload: bus.LedgerAppended{ChatID: chatID, Added: n},
	})
}
