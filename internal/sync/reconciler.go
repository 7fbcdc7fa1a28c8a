package sync

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/matheus3301/wppgw/internal/cache"
)

// Chat types reported on canonical records.
const (
	ChatTypeGroup      = "group"
	ChatTypeIndividual = "individual"
)

// PhoneResolver maps an anonymous user (the part of an @lid id before '@')
// to a phone number user.
type PhoneResolver interface {
	PhoneForLID(lidUser string) (string, bool)
}

// Chat is one reconciled canonical chat record.
type Chat struct {
	ID           string
	RawID        string
	Name         string
	Type         string
	UnreadCount  int
	LastActivity int64 // 0 when unknown
	Pinned       bool
	Raw          json.RawMessage
}

// Reconciler merges phone and anonymous identifiers of the same contact into
// one canonical chat record.
type Reconciler struct {
	contacts *cache.Contacts
	resolver PhoneResolver
}

// NewReconciler creates a reconciler. resolver may be nil.
func NewReconciler(contacts *cache.Contacts, resolver PhoneResolver) *Reconciler {
	return &Reconciler{contacts: contacts, resolver: resolver}
}

// Canonical returns the canonical id for a raw chat id. ok is false for
// broadcast, status and other ids that never surface as chats.
func (r *Reconciler) Canonical(rawID string) (string, bool) {
	switch cache.Classify(rawID) {
	case cache.KindGroup, cache.KindPhone:
		return rawID, true
	case cache.KindAnonymous:
		if phone, ok := r.resolvePhone(rawID); ok {
			return cache.PhoneJID(phone), true
		}
		return rawID, true
	default:
		return "", false
	}
}

// resolvePhone tries the contact table, then the resolver, then the
// digit-length heuristic. The heuristic is a best-effort guess: an anonymous
// id of 10 to 15 digits is taken to be a phone number, which can be wrong.
func (r *Reconciler) resolvePhone(lidID string) (string, bool) {
	if r.contacts != nil {
		if c, ok := r.contacts.Get(lidID); ok && c.Phone != "" {
			return c.Phone, true
		}
	}
	user := cache.User(lidID)
	if r.resolver != nil {
		if pn, ok := r.resolver.PhoneForLID(user); ok && pn != "" {
			return pn, true
		}
	}
	if cache.LooksLikePhone(user) {
		return user, true
	}
	return "", false
}

// Reconcile merges raw directory entries into canonical chats, sorted by
// last activity descending. Chats without activity come last, by name.
func (r *Reconciler) Reconcile(entries []cache.ChatEntry) []Chat {
	merged := make(map[string]*Chat, len(entries))
	for _, e := range entries {
		id, ok := r.Canonical(e.ID)
		if !ok {
			continue
		}
		in := r.format(id, e)
		cur, exists := merged[id]
		if !exists {
			merged[id] = &in
			continue
		}
		mergeInto(cur, in)
	}

	out := make([]Chat, 0, len(merged))
	for _, c := range merged {
		out = append(out, *c)
	}
	SortChats(out)
	return out
}

// Aliases lists the raw ids among rawIDs that reconcile to the same canonical
// id as id. The canonical id itself comes first when present.
func (r *Reconciler) Aliases(id string, rawIDs []string) []string {
	target, ok := r.Canonical(id)
	if !ok {
		return nil
	}
	var out []string
	for _, raw := range rawIDs {
		if raw == id {
			continue
		}
		if c, ok := r.Canonical(raw); ok && c == target {
			out = append(out, raw)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (r *Reconciler) format(id string, e cache.ChatEntry) Chat {
	typ := ChatTypeIndividual
	if cache.Classify(e.ID) == cache.KindGroup {
		typ = ChatTypeGroup
	}
	name := e.Name
	if name == "" && r.contacts != nil {
		name = cache.FirstName(r.contacts.Name(e.ID), r.contacts.Name(id))
	}
	if name == "" {
		name = cache.UnknownName
	}
	unread := e.UnreadCount
	if unread < 0 {
		unread = 0
	}
	return Chat{
		ID:           id,
		RawID:        e.ID,
		Name:         name,
		Type:         typ,
		UnreadCount:  unread,
		LastActivity: e.LastActivity,
		Pinned:       e.Pinned,
		Raw:          e.Raw,
	}
}

// mergeInto folds in into cur: the name is replaced only while cur is still
// Unknown, unread counts add up, the newer timestamp carries its raw payload
// and raw id along, and pinned is sticky.
func mergeInto(cur *Chat, in Chat) {
	if cur.Name == cache.UnknownName && in.Name != cache.UnknownName {
		cur.Name = in.Name
	}
	cur.UnreadCount += in.UnreadCount
	if in.LastActivity > cur.LastActivity {
		cur.LastActivity = in.LastActivity
		cur.Raw = in.Raw
		cur.RawID = in.RawID
	}
	cur.Pinned = cur.Pinned || in.Pinned
}

// SortChats orders chats by last activity descending; chats without
// activity follow, ordered by name then id.
func SortChats(chats []Chat) {
	slices.SortStableFunc(chats, func(a, b Chat) int {
		switch {
		case a.LastActivity != 0 && b.LastActivity != 0:
			if a.LastActivity != b.LastActivity {
				if a.LastActivity > b.LastActivity {
					return -1
				}
				return 1
			}
		case a.LastActivity != 0:
			return -1
		case b.LastActivity != 0:
			return 1
		}
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
