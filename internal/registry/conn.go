package registry

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/wppgw/internal/cache"
)

var (
	// ErrSessionNotFound is returned for names with no live session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotConnected is returned when the session has no completed handshake.
	ErrNotConnected = errors.New("session not connected")
)

// Conn is one connection handle to the messaging network. A handle is used
// for exactly one connection attempt; reconnects build a new one.
type Conn interface {
	// Connect starts the handshake. For unpaired sessions it also starts
	// issuing pairing codes through HandleQR.
	Connect(ctx context.Context) error
	// Close drops the connection without invalidating credentials.
	Close()
	// Logout invalidates the credentials on the network side.
	Logout(ctx context.Context) error
	IsLoggedIn() bool
	IsConnected() bool
	SendText(ctx context.Context, chatID, text string) (SentMessage, error)
	GroupInfo(ctx context.Context, groupID string) (*GroupInfo, error)
	JoinedGroups(ctx context.Context) ([]GroupInfo, error)
	// OnWhatsApp resolves a phone number to its chat id.
	OnWhatsApp(ctx context.Context, phone string) (string, bool, error)
	FetchHistory(ctx context.Context, chatID string, count int) ([]cache.Message, error)
}

// Connector builds connection handles for sessions. Handles report their
// lifecycle events through hooks.
type Connector interface {
	New(s *Session, hooks Hooks) (Conn, error)
}

// Hooks receive lifecycle events from a handle. The handle identifies
// itself so events from superseded handles can be ignored.
type Hooks interface {
	HandleQR(name string, c Conn, qr QR)
	HandleOpened(name string, c Conn)
	HandleClosed(name string, c Conn, reason CloseReason)
}

// SentMessage describes a message accepted by the network.
type SentMessage struct {
	ID        string
	Timestamp time.Time
}

// GroupInfo is group metadata as reported by the network.
type GroupInfo struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Topic        string        `json:"topic,omitempty"`
	Owner        string        `json:"owner,omitempty"`
	CreatedAt    int64         `json:"createdAt,omitempty"`
	Participants []Participant `json:"participants"`
}

// Participant is one group member.
type Participant struct {
	ID           string `json:"id"`
	Phone        string `json:"phone,omitempty"`
	LID          string `json:"lid,omitempty"`
	Name         string `json:"name,omitempty"`
	IsAdmin      bool   `json:"isAdmin"`
	IsSuperAdmin bool   `json:"isSuperAdmin"`
}

// CloseReason classifies a close event.
type CloseReason struct {
	// LoggedOut marks a terminal close: credentials were revoked.
	LoggedOut bool
	Detail    string
}

// QR is a pending pairing artifact.
type QR struct {
	Code     string
	PNG      string // base64
	IssuedAt time.Time
}
