// Package api exposes the gateway over HTTP.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/wppgw/internal/bus"
	"github.com/matheus3301/wppgw/internal/history"
	"github.com/matheus3301/wppgw/internal/outbox"
	"github.com/matheus3301/wppgw/internal/registry"
	"go.uber.org/zap"
)

const (
	// DefaultQRWait bounds how long a QR request waits for a pairing code.
	DefaultQRWait = 20 * time.Second
	// DefaultGroupTimeout bounds group metadata queries.
	DefaultGroupTimeout = 30 * time.Second
)

// Handler serves the HTTP endpoints on top of the session registry.
type Handler struct {
	registry  *registry.Registry
	bus       *bus.Bus
	retriever *history.Retriever
	sender    *outbox.Sender
	logger    *zap.Logger

	QRWait       time.Duration
	GroupTimeout time.Duration
	now          func() time.Time
}

// NewHandler creates a handler with default timeouts.
func NewHandler(reg *registry.Registry, b *bus.Bus, retriever *history.Retriever, sender *outbox.Sender, logger *zap.Logger) *Handler {
	return &Handler{
		registry:     reg,
		bus:          b,
		retriever:    retriever,
		sender:       sender,
		logger:       logger,
		QRWait:       DefaultQRWait,
		GroupTimeout: DefaultGroupTimeout,
		now:          time.Now,
	}
}

// NewRouter builds the gin engine. Health and diagnostics skip auth.
func NewRouter(h *Handler, auth *Auth, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), AccessLog(logger))

	r.GET("/health", h.health)
	r.GET("/api/:session/diagnostics", h.diagnostics)

	g := r.Group("/api/:session", auth.Middleware())
	g.POST("/start-session", h.startSession)
	g.GET("/qrcode-session", h.qrCode)
	g.GET("/status-session", h.statusSession)
	g.GET("/chats", h.chats)
	g.GET("/all-chats", h.allChats)
	g.GET("/groups", h.groups)
	g.GET("/group-info/:groupId", h.groupInfo)
	g.GET("/messages/:jid", h.messages)
	g.POST("/send-message", h.sendMessage)
	g.DELETE("/close-session", h.closeSession)
	return r
}
