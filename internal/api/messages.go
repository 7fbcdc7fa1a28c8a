package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/wppgw/internal/cache"
	"github.com/matheus3301/wppgw/internal/outbox"
	"github.com/matheus3301/wppgw/internal/registry"
	"go.uber.org/zap"
)

func (h *Handler) messages(c *gin.Context) {
	s, ok := h.loaded(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	res := h.retriever.Retrieve(c.Request.Context(), s.HistorySource(), c.Param("jid"), limit)
	c.JSON(http.StatusOK, gin.H{
		"chatId":   res.ChatID,
		"source":   res.Source,
		"count":    len(res.Messages),
		"messages": res.Messages,
		"note":     res.Note,
	})
}

type sendRequest struct {
	Phone   string `json:"phone"`
	ChatID  string `json:"chatId"`
	ChatJID string `json:"chatJid"`
	Message string `json:"message"`
	IsGroup bool   `json:"isGroup"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		badRequest(c, "message", "message is required")
		return
	}

	s, conn, ok := h.connected(c)
	if !ok {
		return
	}

	chatID, ok := h.resolveTarget(c, s, conn, req)
	if !ok {
		return
	}

	receipt, err := h.sender.Send(c.Request.Context(), outbox.Channel{Conn: conn, DB: s.DB, Ledger: s.Engine}, chatID, req.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"id":        receipt.ID,
		"clientId":  receipt.ClientID,
		"chatId":    receipt.ChatID,
		"timestamp": receipt.Timestamp.UTC().Format(time.RFC3339),
	})
}

// resolveTarget turns the request's recipient fields into a chat id. Full
// ids pass through; bare numbers are validated and, for individuals,
// looked up on the network.
func (h *Handler) resolveTarget(c *gin.Context, s *registry.Session, conn registry.Conn, req sendRequest) (string, bool) {
	raw := strings.TrimSpace(cache.FirstName(req.ChatID, req.ChatJID, req.Phone))
	if raw == "" {
		badRequest(c, "phone", "phone or chatId is required")
		return "", false
	}
	if strings.Contains(raw, "@") {
		return raw, true
	}

	if req.IsGroup {
		id := strings.Map(func(r rune) rune {
			if (r >= '0' && r <= '9') || r == '-' {
				return r
			}
			return -1
		}, raw)
		if id == "" {
			badRequest(c, "phone", "invalid group id")
			return "", false
		}
		return id + cache.GroupSuffix, true
	}

	phone := phoneSeparators.Replace(raw)
	if !cache.LooksLikePhone(phone) {
		badRequest(c, "phone", "phone must have 10 to 15 digits")
		return "", false
	}

	chatID, found, err := conn.OnWhatsApp(c.Request.Context(), phone)
	switch {
	case err != nil:
		s.Logger.Warn("number lookup failed, sending to phone id", zap.String("phone", phone), zap.Error(err))
		return cache.PhoneJID(phone), true
	case !found:
		respondError(c, &outbox.SendError{Message: "recipient not found on WhatsApp", Err: errNotOnWhatsApp})
		return "", false
	}
	return chatID, true
}

var phoneSeparators = strings.NewReplacer("+", "", " ", "", "-", "", "(", "", ")", "", ".", "")
