package wa

import (
	"github.com/matheus3301/wppgw/internal/cache"
	"github.com/matheus3301/wppgw/internal/registry"
	wsync "github.com/matheus3301/wppgw/internal/sync"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// EventHandler turns whatsmeow events for one connection handle into
// engine mutations and registry lifecycle calls.
type EventHandler struct {
	session string
	conn    registry.Conn
	hooks   registry.Hooks
	engine  *wsync.Engine
	logger  *zap.Logger

	// onOpen runs after the handshake completes, before the registry is told.
	onOpen func()
	// onHistory runs after each bulk history delivery.
	onHistory func()
	// async dispatches lifecycle calls that may tear the handle down.
	async func(func())
}

// NewEventHandler creates a handler reporting on behalf of conn.
func NewEventHandler(session string, conn registry.Conn, hooks registry.Hooks, engine *wsync.Engine, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		session: session,
		conn:    conn,
		hooks:   hooks,
		engine:  engine,
		logger:  logger,
		async:   func(f func()) { go f() },
	}
}

// Handle is the whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		h.engine.IngestMessage(DecodeLive(evt))
	case *events.HistorySync:
		h.handleHistorySync(evt)
	case *events.Receipt:
		h.handleReceipt(evt)
	case *events.PushName:
		if evt.NewPushName != "" {
			h.engine.IngestContacts([]cache.Contact{{JID: evt.JID.ToNonAD().String(), Name: evt.NewPushName}})
		}
	case *events.Contact:
		h.handleContact(evt)
	case *events.Pin:
		if evt.Action != nil {
			h.engine.SetPinned(evt.JID.ToNonAD().String(), evt.Action.GetPinned())
		}
	case *events.MarkChatAsRead:
		if evt.Action != nil {
			h.engine.MarkRead(evt.JID.ToNonAD().String(), evt.Action.GetRead())
		}
	case *events.GroupInfo:
		if evt.Name != nil {
			h.engine.RenameChat(evt.JID.String(), evt.Name.Name)
		}
	case *events.Connected:
		h.logger.Info("WhatsApp connected")
		if h.onOpen != nil {
			h.onOpen()
		}
		h.hooks.HandleOpened(h.session, h.conn)
	case *events.PairSuccess:
		h.logger.Info("paired", zap.String("jid", evt.ID.String()))
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		h.closed(registry.CloseReason{Detail: "disconnected"})
	case *events.StreamReplaced:
		h.logger.Warn("stream replaced by another connection")
		h.closed(registry.CloseReason{Detail: "stream replaced"})
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		h.closed(registry.CloseReason{LoggedOut: true, Detail: evt.Reason.String()})
	case *events.ConnectFailure:
		h.logger.Warn("connect failure", zap.String("reason", evt.Reason.String()), zap.String("message", evt.Message))
		h.closed(registry.CloseReason{LoggedOut: evt.Reason.IsLoggedOut(), Detail: evt.Reason.String()})
	}
}

func (h *EventHandler) closed(reason registry.CloseReason) {
	h.async(func() { h.hooks.HandleClosed(h.session, h.conn, reason) })
}

func (h *EventHandler) handleHistorySync(evt *events.HistorySync) {
	if evt.Data == nil {
		return
	}
	batch := DecodeHistory(evt.Data)
	chats, added := h.engine.IngestHistory(batch)
	h.logger.Info("history sync",
		zap.String("type", evt.Data.GetSyncType().String()),
		zap.Int("chats", chats),
		zap.Int("messages_added", added),
		zap.Int("contacts", len(batch.Contacts)))
	if h.onHistory != nil {
		h.onHistory()
	}
}

func (h *EventHandler) handleReceipt(evt *events.Receipt) {
	status, ok := ReceiptStatus(evt.Type)
	if !ok || len(evt.MessageIDs) == 0 {
		return
	}
	h.engine.ApplyReceipt(evt.Chat.ToNonAD().String(), evt.MessageIDs, status)
}

func (h *EventHandler) handleContact(evt *events.Contact) {
	if evt.Action == nil {
		return
	}
	name := cache.FirstName(evt.Action.GetFullName(), evt.Action.GetFirstName())
	if name == "" {
		return
	}
	h.engine.IngestContacts([]cache.Contact{{JID: evt.JID.ToNonAD().String(), Name: name}})
}
