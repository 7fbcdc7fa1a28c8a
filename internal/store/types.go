package store

// Contact is one row of the contact snapshot.
type Contact struct {
	JID   string
	Name  string
	Phone string
}

// LIDMapping maps an anonymous user to a phone number user (both without
// server suffix).
type LIDMapping struct {
	LID string
	PN  string
}

// OutboxEntry is one recorded send attempt.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	ChatJID      string
	Body         string
	Status       string // queued, sent, failed
	ErrorMessage string
	ServerMsgID  string
	CreatedAt    int64
}
