package cache

import (
	"slices"
	"sync"
)

// DefaultLedgerCap is the number of messages retained per chat.
const DefaultLedgerCap = 100

// Ledger is a per-chat, capped, deduplicated message history. Insertion
// beyond the cap evicts the oldest inserted entry.
type Ledger struct {
	mu    sync.RWMutex
	cap   int
	seq   uint64
	chats map[string]*chatLog
}

type chatLog struct {
	entries []ledgerEntry
	ids     map[string]struct{}
}

type ledgerEntry struct {
	seq uint64
	msg Message
}

// NewLedger creates a ledger holding at most capPerChat messages per chat.
// A non-positive cap falls back to DefaultLedgerCap.
func NewLedger(capPerChat int) *Ledger {
	if capPerChat <= 0 {
		capPerChat = DefaultLedgerCap
	}
	return &Ledger{
		cap:   capPerChat,
		chats: make(map[string]*chatLog),
	}
}

// Append stores msg under chatID. Returns false if the chat already holds a
// message with the same ID, in which case the ledger is unchanged.
func (l *Ledger) Append(chatID string, msg Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(chatID, msg)
}

// AppendMany appends msgs in order and returns how many were new.
func (l *Ledger) AppendMany(chatID string, msgs []Message) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	added := 0
	for _, m := range msgs {
		if l.appendLocked(chatID, m) {
			added++
		}
	}
	return added
}

func (l *Ledger) appendLocked(chatID string, msg Message) bool {
	if chatID == "" || msg.ID == "" {
		return false
	}
	log, ok := l.chats[chatID]
	if !ok {
		log = &chatLog{ids: make(map[string]struct{})}
		l.chats[chatID] = log
	}
	if _, dup := log.ids[msg.ID]; dup {
		return false
	}
	if msg.ChatID == "" {
		msg.ChatID = chatID
	}
	l.seq++
	log.entries = append(log.entries, ledgerEntry{seq: l.seq, msg: msg})
	log.ids[msg.ID] = struct{}{}
	for len(log.entries) > l.cap {
		delete(log.ids, log.entries[0].msg.ID)
		log.entries = log.entries[1:]
	}
	return true
}

// Get returns a copy of the chat's messages sorted ascending by timestamp,
// ties broken by insertion order.
func (l *Ledger) Get(chatID string) []Message {
	l.mu.RLock()
	log, ok := l.chats[chatID]
	if !ok {
		l.mu.RUnlock()
		return nil
	}
	entries := slices.Clone(log.entries)
	l.mu.RUnlock()

	slices.SortStableFunc(entries, func(a, b ledgerEntry) int {
		switch {
		case a.msg.Timestamp < b.msg.Timestamp:
			return -1
		case a.msg.Timestamp > b.msg.Timestamp:
			return 1
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})
	out := make([]Message, len(entries))
	for i, e := range entries {
		out[i] = e.msg
	}
	return out
}

// Len returns the number of messages held for chatID.
func (l *Ledger) Len(chatID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if log, ok := l.chats[chatID]; ok {
		return len(log.entries)
	}
	return 0
}

// ChatIDs returns every chat identifier with at least one message.
func (l *Ledger) ChatIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.chats))
	for id, log := range l.chats {
		if len(log.entries) > 0 {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// UpdateStatus sets the delivery status of a stored message in place.
// Returns false if the message is not held.
func (l *Ledger) UpdateStatus(chatID, msgID, status string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	log, ok := l.chats[chatID]
	if !ok {
		return false
	}
	if _, held := log.ids[msgID]; !held {
		return false
	}
	for i := range log.entries {
		if log.entries[i].msg.ID == msgID {
			log.entries[i].msg.Status = status
			return true
		}
	}
	return false
}
