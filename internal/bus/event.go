package bus

import "time"

// Event kinds published by the gateway.
const (
	KindStatusChanged = "session.status_changed"
	KindQRGenerated   = "session.qr_generated"
	KindSessionOpened = "session.opened"
	KindSessionClosed = "session.closed"
	KindSessionRemove = "session.removed"
	KindLedgerAppend  = "ledger.appended"
	KindChatsUpdated  = "directory.updated"
)

// Event is a domain event scoped to one session.
type Event struct {
	Kind      string
	Session   string
	Timestamp time.Time
	Payload   any
}

// LedgerAppended is the payload of KindLedgerAppend.
type LedgerAppended struct {
	ChatID string
	Added  int
}
