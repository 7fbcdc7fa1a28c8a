package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/wppgw/internal/cache"
	"github.com/matheus3301/wppgw/internal/registry"
	wsync "github.com/matheus3301/wppgw/internal/sync"
)

type chatView struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	UnreadCount int             `json:"unreadCount"`
	Timestamp   *int64          `json:"timestamp"`
	Pinned      bool            `json:"pinned"`
	RawID       string          `json:"rawId,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

func toChatView(ch wsync.Chat) chatView {
	v := chatView{
		ID:          ch.ID,
		Name:        ch.Name,
		Type:        ch.Type,
		UnreadCount: ch.UnreadCount,
		Pinned:      ch.Pinned,
		Raw:         ch.Raw,
	}
	if ch.RawID != ch.ID {
		v.RawID = ch.RawID
	}
	if ch.LastActivity > 0 {
		ts := ch.LastActivity
		v.Timestamp = &ts
	}
	return v
}

func (h *Handler) chats(c *gin.Context) {
	s, ok := h.loaded(c)
	if !ok {
		return
	}
	list := s.ChatList()
	out := make([]chatView, 0, len(list))
	for _, ch := range list {
		out = append(out, toChatView(ch))
	}
	c.JSON(http.StatusOK, out)
}

// allChats lists the raw directory without merging aliases.
func (h *Handler) allChats(c *gin.Context) {
	s, ok := h.loaded(c)
	if !ok {
		return
	}
	entries := s.Chats.Snapshot()
	out := make([]chatView, 0, len(entries))
	for _, e := range entries {
		typ := wsync.ChatTypeIndividual
		if cache.Classify(e.ID) == cache.KindGroup {
			typ = wsync.ChatTypeGroup
		}
		v := chatView{
			ID:          e.ID,
			Name:        cache.FirstName(e.Name, s.Contacts.Name(e.ID), cache.UnknownName),
			Type:        typ,
			UnreadCount: e.UnreadCount,
			Pinned:      e.Pinned,
		}
		if e.LastActivity > 0 {
			ts := e.LastActivity
			v.Timestamp = &ts
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) groups(c *gin.Context) {
	s, conn, ok := h.connected(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.GroupTimeout)
	defer cancel()

	groups, err := conn.JoinedGroups(ctx)
	if err != nil {
		respondError(c, upstreamErr(ctx, err))
		return
	}
	for i := range groups {
		h.fillParticipants(s, &groups[i])
	}
	c.JSON(http.StatusOK, groups)
}

func (h *Handler) groupInfo(c *gin.Context) {
	groupID := c.Param("groupId")
	if !strings.Contains(groupID, "@") {
		groupID += cache.GroupSuffix
	}
	if cache.Classify(groupID) != cache.KindGroup {
		badRequest(c, "groupId", "not a group id")
		return
	}
	s, conn, ok := h.connected(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.GroupTimeout)
	defer cancel()

	info, err := conn.GroupInfo(ctx, groupID)
	if err != nil {
		respondError(c, upstreamErr(ctx, err))
		return
	}
	h.fillParticipants(s, info)
	c.JSON(http.StatusOK, info)
}

// fillParticipants resolves participant names and phones from the session's
// contact table where the network left them out. Best-effort.
func (h *Handler) fillParticipants(s *registry.Session, g *registry.GroupInfo) {
	for i := range g.Participants {
		p := &g.Participants[i]
		if p.Phone == "" && cache.Classify(p.ID) == cache.KindAnonymous {
			if id, ok := s.Reconciler.Canonical(p.ID); ok && cache.Classify(id) == cache.KindPhone {
				p.Phone = cache.User(id)
			}
		}
		if p.Name != "" {
			continue
		}
		candidates := []string{s.Contacts.Name(p.ID)}
		if p.Phone != "" {
			candidates = append(candidates, s.Contacts.Name(cache.PhoneJID(p.Phone)))
		}
		if p.LID != "" {
			candidates = append(candidates, s.Contacts.Name(p.LID))
		}
		p.Name = cache.FirstName(candidates...)
	}
}

// upstreamErr reports an expired bound as a timeout even when the
// upstream library wrapped it in its own error.
func upstreamErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(context.DeadlineExceeded, err)
	}
	return err
}
