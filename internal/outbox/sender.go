package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wppgw/internal/cache"
	"github.com/matheus3301/wppgw/internal/registry"
	"github.com/matheus3301/wppgw/internal/store"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

// TextSender is the interface for sending text messages via WhatsApp.
type TextSender interface {
	SendText(ctx context.Context, chatID, text string) (registry.SentMessage, error)
}

// LedgerWriter stores sent messages alongside received ones.
type LedgerWriter interface {
	AppendMessages(chatID string, msgs []cache.Message) int
}

// Channel is where a send goes and where it is recorded.
type Channel struct {
	Conn   TextSender
	DB     *store.DB // optional send log
	Ledger LedgerWriter
}

// Receipt describes an accepted send.
type Receipt struct {
	ClientID  string
	ID        string
	ChatID    string
	Timestamp time.Time
}

// SendError is a failed send with a caller-facing explanation.
type SendError struct {
	Message string
	Err     error
}

func (e *SendError) Error() string { return e.Message + ": " + e.Err.Error() }

func (e *SendError) Unwrap() error { return e.Err }

// Sender performs sends and keeps the send log.
type Sender struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewSender creates a new sender.
func NewSender(logger *zap.Logger) *Sender {
	return &Sender{logger: logger, now: time.Now}
}

// Send delivers text to chatID. Every attempt is logged as queued, then
// sent or failed. Accepted messages are appended to the ledger as own
// messages since the network does not echo them back.
func (s *Sender) Send(ctx context.Context, ch Channel, chatID, text string) (Receipt, error) {
	if ch.Conn == nil {
		return Receipt{}, registry.ErrNotConnected
	}
	clientID := uuid.NewString()
	logger := s.logger.With(zap.String("client_msg_id", clientID), zap.String("chat", chatID))

	if ch.DB != nil {
		if err := ch.DB.QueueOutbox(clientID, chatID, text); err != nil {
			logger.Warn("failed to record send", zap.Error(err))
		}
	}

	sent, err := ch.Conn.SendText(ctx, chatID, text)
	if err != nil {
		logger.Error("failed to send message", zap.Error(err))
		if ch.DB != nil {
			if err := ch.DB.MarkOutboxFailed(clientID, err.Error()); err != nil {
				logger.Warn("failed to mark failed", zap.Error(err))
			}
		}
		return Receipt{}, &SendError{Message: Explain(err), Err: err}
	}

	if ch.DB != nil {
		if err := ch.DB.MarkOutboxSent(clientID, sent.ID); err != nil {
			logger.Warn("failed to mark sent", zap.Error(err))
		}
	}

	ts := sent.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	if ch.Ledger != nil {
		ch.Ledger.AppendMessages(chatID, []cache.Message{{
			ID:        sent.ID,
			ChatID:    chatID,
			FromMe:    true,
			Timestamp: ts.Unix(),
			Status:    "sent",
			Content:   &waE2E.Message{Conversation: proto.String(text)},
		}})
	}

	logger.Info("message sent", zap.String("server_msg_id", sent.ID))
	return Receipt{ClientID: clientID, ID: sent.ID, ChatID: chatID, Timestamp: ts}, nil
}

var explanations = []struct {
	needles []string
	message string
}{
	{[]string{"not logged in", "401", "logged out"}, "session not authenticated, scan the QR code again"},
	{[]string{"rate", "429"}, "rate limited by WhatsApp, try again later"},
	{[]string{"not found", "not on whatsapp", "404"}, "recipient not found on WhatsApp"},
	{[]string{"timeout", "timed out", "deadline"}, "WhatsApp did not answer in time"},
}

// Explain maps a send failure to a human-readable message.
func Explain(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "WhatsApp did not answer in time"
	}
	msg := strings.ToLower(err.Error())
	for _, e := range explanations {
		for _, n := range e.needles {
			if strings.Contains(msg, n) {
				return e.message
			}
		}
	}
	return fmt.Sprintf("failed to send message: %v", err)
}
