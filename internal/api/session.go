package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/wppgw/internal/bus"
	"github.com/matheus3301/wppgw/internal/registry"
	"github.com/matheus3301/wppgw/internal/session"
	"github.com/matheus3301/wppgw/internal/status"
	"go.uber.org/zap"
)

const diagnosticSends = 10

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) diagnostics(c *gin.Context) {
	name := c.Param("session")
	if err := session.ValidateName(name); err != nil {
		respondError(c, err)
		return
	}
	layout := h.registry.Layout()
	files, err := layout.Files(name)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{
		"session":        name,
		"exists":         false,
		"dir":            layout.Dir(name),
		"files":          files,
		"hasCredentials": layout.HasCredentials(name),
		"status":         status.Public(status.Disconnected),
	}
	if s, ok := h.registry.Get(name); ok {
		_, hasQR := s.QR()
		resp["exists"] = true
		resp["state"] = string(s.Machine.Current())
		resp["status"] = status.Public(s.Machine.Current())
		resp["hasConnection"] = s.Conn() != nil
		resp["hasQR"] = hasQR
		resp["reconnectPending"] = s.ReconnectPending()
		resp["chats"] = s.Chats.Len()
		resp["ledgerChats"] = len(s.Ledger.ChatIDs())
		resp["contacts"] = s.Contacts.Len()
		resp["recentSends"] = recentSends(s, h.logger)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) startSession(c *gin.Context) {
	name := c.Param("session")
	force := queryBool(c, "force")
	s, err := h.registry.Create(c.Request.Context(), name, force)
	if err != nil {
		respondError(c, err)
		return
	}
	state := s.Machine.Current()
	c.JSON(http.StatusOK, gin.H{
		"session": name,
		"status":  status.Public(state),
		"state":   string(state),
	})
}

func (h *Handler) qrCode(c *gin.Context) {
	name := c.Param("session")
	force := queryBool(c, "force")

	s, ok := h.registry.Get(name)
	if force || !ok {
		var err error
		if s, err = h.registry.Create(c.Request.Context(), name, force); err != nil {
			respondError(c, err)
			return
		}
	}

	if s.Machine.Current() == status.Connected {
		c.JSON(http.StatusOK, gin.H{"status": status.Public(status.Connected), "message": "session already connected"})
		return
	}

	qr, ok := h.waitQR(c.Request.Context(), s)
	if !ok {
		state := s.Machine.Current()
		msg := "QR code not yet available, try again"
		if state == status.Connected {
			msg = "session already connected"
		}
		c.JSON(http.StatusOK, gin.H{"status": status.Public(state), "message": msg})
		return
	}

	body := gin.H{"base64": "", "code": qr.Code, "issuedAt": qr.IssuedAt.UTC().Format(time.RFC3339)}
	if qr.PNG != "" {
		body["base64"] = "data:image/png;base64," + qr.PNG
	}
	c.JSON(http.StatusOK, gin.H{"status": status.Public(s.Machine.Current()), "qrcode": body})
}

// waitQR returns the pending pairing code, waiting up to QRWait for one
// to be issued. It gives up early once the session connects.
func (h *Handler) waitQR(ctx context.Context, s *registry.Session) (registry.QR, bool) {
	events, unsub := h.bus.SubscribeSession(s.Name, "session.", 16)
	defer unsub()

	if qr, ok := s.QR(); ok {
		return qr, true
	}
	timer := time.NewTimer(h.QRWait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return registry.QR{}, false
		case <-timer.C:
			return registry.QR{}, false
		case evt := <-events:
			if qr, ok := s.QR(); ok {
				return qr, true
			}
			if s.Machine.Current() == status.Connected || evt.Kind == bus.KindSessionRemove {
				return registry.QR{}, false
			}
		}
	}
}

func (h *Handler) statusSession(c *gin.Context) {
	name := c.Param("session")
	if err := session.ValidateName(name); err != nil {
		respondError(c, err)
		return
	}
	state := status.Disconnected
	if s, ok := h.registry.Get(name); ok {
		state = s.Machine.Current()
	}
	c.JSON(http.StatusOK, gin.H{"session": name, "status": status.Public(state)})
}

func (h *Handler) closeSession(c *gin.Context) {
	name := c.Param("session")
	if err := h.registry.Remove(c.Request.Context(), name, true); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": name, "status": "success", "message": "session closed"})
}

func queryBool(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.Query(key))
	return err == nil && v
}

type sendView struct {
	ClientID string `json:"clientId"`
	ChatID   string `json:"chatId"`
	Status   string `json:"status"`
	ID       string `json:"id,omitempty"`
	Error    string `json:"error,omitempty"`
	QueuedAt int64  `json:"queuedAt"`
}

func recentSends(s *registry.Session, logger *zap.Logger) []sendView {
	out := []sendView{}
	entries, err := s.DB.RecentOutbox(diagnosticSends)
	if err != nil {
		logger.Warn("read outbox", zap.String("session", s.Name), zap.Error(err))
		return out
	}
	for _, e := range entries {
		out = append(out, sendView{
			ClientID: e.ClientMsgID,
			ChatID:   e.ChatJID,
			Status:   e.Status,
			ID:       e.ServerMsgID,
			Error:    e.ErrorMessage,
			QueuedAt: e.CreatedAt,
		})
	}
	return out
}
