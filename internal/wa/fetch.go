package wa

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/wppgw/internal/bus"
	"github.com/matheus3301/wppgw/internal/cache"
	"github.com/matheus3301/wppgw/internal/registry"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
)

// FetchHistory asks the primary device for up to count messages of chatID
// older than the oldest one known, and waits until a delivery for that chat
// lands in the ledger. The caller bounds the wait through ctx.
func (a *Adapter) FetchHistory(ctx context.Context, chatID string, count int) ([]cache.Message, error) {
	if a.client.Store.ID == nil || !a.client.IsConnected() {
		return nil, registry.ErrNotConnected
	}
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return nil, fmt.Errorf("parse JID: %w", err)
	}

	appended, unsub := a.bus.SubscribeSession(a.session.Name, bus.KindLedgerAppend, 16)
	defer unsub()

	req := a.client.BuildHistorySyncRequest(a.anchor(jid), count)
	own := a.client.Store.ID.ToNonAD()
	if _, err := a.client.SendMessage(ctx, own, req, whatsmeow.SendRequestExtra{Peer: true}); err != nil {
		return nil, fmt.Errorf("request history: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case evt := <-appended:
			if p, ok := evt.Payload.(bus.LedgerAppended); ok && p.ChatID == chatID {
				return a.session.Ledger.Get(chatID), nil
			}
		}
	}
}

// anchor returns the oldest known message of the chat. With nothing known,
// the request is anchored at the current time.
func (a *Adapter) anchor(jid types.JID) *types.MessageInfo {
	info := &types.MessageInfo{
		MessageSource: types.MessageSource{Chat: jid, IsGroup: jid.Server == types.GroupServer},
		Timestamp:     time.Now(),
	}

	msgs := a.session.Ledger.Get(jid.String())
	if len(msgs) == 0 {
		if e, ok := a.session.Chats.Get(jid.String()); ok {
			msgs = e.Embedded
		}
	}
	var oldest *cache.Message
	for i := range msgs {
		if msgs[i].Timestamp == 0 {
			continue
		}
		if oldest == nil || msgs[i].Timestamp < oldest.Timestamp {
			oldest = &msgs[i]
		}
	}
	if oldest != nil {
		info.ID = oldest.ID
		info.IsFromMe = oldest.FromMe
		info.Timestamp = time.Unix(oldest.Timestamp, 0)
	}
	return info
}
