package cache

import (
	"slices"
	"strings"
	"sync"
)

// Contacts is the additive-merge contact table. Empty incoming fields never
// erase stored values.
type Contacts struct {
	mu      sync.RWMutex
	byJID   map[string]Contact
	version uint64
}

// NewContacts creates an empty contact table.
func NewContacts() *Contacts {
	return &Contacts{byJID: make(map[string]Contact)}
}

// Upsert merges c into the table and reports whether anything changed.
func (t *Contacts) Upsert(c Contact) bool {
	if c.JID == "" {
		return false
	}
	c.Name = strings.TrimSpace(c.Name)
	c.Phone = strings.TrimPrefix(strings.TrimSpace(c.Phone), "+")

	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.byJID[c.JID]
	next := cur
	next.JID = c.JID
	if c.Name != "" {
		next.Name = c.Name
	}
	if c.Phone != "" {
		next.Phone = c.Phone
	}
	if ok && next == cur {
		return false
	}
	t.byJID[c.JID] = next
	t.version++
	return true
}

// Load merges a batch of contacts, typically a persisted snapshot.
func (t *Contacts) Load(cs []Contact) {
	for _, c := range cs {
		t.Upsert(c)
	}
}

// Get returns the contact stored for jid.
func (t *Contacts) Get(jid string) (Contact, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.byJID[jid]
	return c, ok
}

// Name returns the stored display name for jid, or "".
func (t *Contacts) Name(jid string) string {
	c, _ := t.Get(jid)
	return c.Name
}

// Snapshot returns all contacts ordered by JID together with the table
// version they were read at.
func (t *Contacts) Snapshot() ([]Contact, uint64) {
	t.mu.RLock()
	out := make([]Contact, 0, len(t.byJID))
	for _, c := range t.byJID {
		out = append(out, c)
	}
	v := t.version
	t.mu.RUnlock()
	slices.SortFunc(out, func(a, b Contact) int { return strings.Compare(a.JID, b.JID) })
	return out, v
}

// Version increments on every change.
func (t *Contacts) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// Len returns the number of contacts.
func (t *Contacts) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byJID)
}

// FirstName returns the first non-empty candidate.
func FirstName(candidates ...string) string {
	for _, c := range candidates {
		if s := strings.TrimSpace(c); s != "" {
			return s
		}
	}
	return ""
}
