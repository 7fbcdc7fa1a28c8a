package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/wppgw/internal/lock"
	"github.com/matheus3301/wppgw/internal/outbox"
	"github.com/matheus3301/wppgw/internal/registry"
	"github.com/matheus3301/wppgw/internal/session"
)

var errNotOnWhatsApp = errors.New("number is not on whatsapp")

func badRequest(c *gin.Context, field, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "field": field})
}

// respondError maps an error to its HTTP status and JSON body.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	var (
		nameErr *session.NameError
		heldErr *lock.HeldError
		sendErr *outbox.SendError
	)
	switch {
	case errors.As(err, &nameErr):
		badRequest(c, "session", err.Error())
	case errors.Is(err, registry.ErrSessionNotFound), errors.Is(err, registry.ErrNotConnected):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "status": "disconnected"})
	case errors.As(err, &heldErr):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &sendErr):
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": sendErr.Message})
	case errors.Is(err, context.DeadlineExceeded):
		c.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{"error": "WhatsApp did not answer in time"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// loaded returns the live session named in the path.
func (h *Handler) loaded(c *gin.Context) (*registry.Session, bool) {
	name := c.Param("session")
	if err := session.ValidateName(name); err != nil {
		respondError(c, err)
		return nil, false
	}
	s, ok := h.registry.Get(name)
	if !ok {
		respondError(c, registry.ErrSessionNotFound)
		return nil, false
	}
	return s, true
}

// connected returns the session named in the path and its live handle.
func (h *Handler) connected(c *gin.Context) (*registry.Session, registry.Conn, bool) {
	s, ok := h.loaded(c)
	if !ok {
		return nil, nil, false
	}
	conn, err := s.Connected()
	if err != nil {
		respondError(c, err)
		return nil, nil, false
	}
	return s, conn, true
}
