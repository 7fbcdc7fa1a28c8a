package cache

import (
	"encoding/json"

	"go.mau.fi/whatsmeow/proto/waE2E"
)

// Message is one cached message. IDs are unique within a chat only.
type Message struct {
	ID        string
	ChatID    string
	SenderID  string
	PushName  string
	FromMe    bool
	Timestamp int64 // seconds, 0 when unknown
	Status    string
	Content   *waE2E.Message
}

// Type returns the content type tag derived from the raw payload.
func (m Message) Type() string { return ContentType(m.Content) }

// Text returns the display string derived from the raw payload.
func (m Message) Text() string { return ContentText(m.Content) }

// ChatEntry is the last-known metadata for one raw chat identifier.
type ChatEntry struct {
	ID           string
	Name         string
	UnreadCount  int
	Pinned       bool
	LastActivity int64 // seconds, 0 when unknown
	// Embedded holds messages delivered inside the chat payload itself.
	Embedded []Message
	// Raw is the last-seen chat payload, kept unmodified for clients.
	Raw json.RawMessage
}

// Contact is a known contact keyed by raw identifier.
type Contact struct {
	JID   string
	Name  string
	Phone string // resolved phone number when JID is anonymous
}
