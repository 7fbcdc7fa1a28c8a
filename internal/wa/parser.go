package wa

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/wppgw/internal/cache"
	wsync "github.com/matheus3301/wppgw/internal/sync"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// Message statuses recorded in the ledger.
const (
	StatusReceived  = "received"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusPlayed    = "played"
)

// DecodeLive converts a live message event into a ledger record.
func DecodeLive(evt *events.Message) cache.Message {
	status := StatusReceived
	if evt.Info.IsFromMe {
		status = StatusSent
	}
	return cache.Message{
		ID:        evt.Info.ID,
		ChatID:    evt.Info.Chat.ToNonAD().String(),
		SenderID:  evt.Info.Sender.ToNonAD().String(),
		PushName:  evt.Info.PushName,
		FromMe:    evt.Info.IsFromMe,
		Timestamp: unixSeconds(evt.Info.Timestamp),
		Status:    status,
		Content:   evt.Message,
	}
}

// DecodeHistory converts a bulk history delivery into directory entries
// with their embedded messages, plus the push names it carries.
func DecodeHistory(data *waHistorySync.HistorySync) wsync.HistoryBatch {
	var batch wsync.HistoryBatch
	if data == nil {
		return batch
	}

	for _, conv := range data.GetConversations() {
		chatID := normalizeJID(conv.GetID())
		if chatID == "" {
			continue
		}
		entry := cache.ChatEntry{
			ID:           chatID,
			Name:         conv.GetName(),
			UnreadCount:  int(conv.GetUnreadCount()),
			Pinned:       conv.GetPinned() != 0,
			LastActivity: cache.NormalizeTimestamp(conv.GetConversationTimestamp()),
			Raw:          rawConversation(conv),
		}
		for _, hm := range conv.GetMessages() {
			if m, ok := decodeWebMessage(chatID, hm.GetMessage()); ok {
				entry.Embedded = append(entry.Embedded, m)
			}
		}
		if entry.LastActivity == 0 {
			for _, m := range entry.Embedded {
				entry.LastActivity = max(entry.LastActivity, m.Timestamp)
			}
		}
		batch.Chats = append(batch.Chats, entry)
		if entry.Name != "" && cache.Classify(chatID) != cache.KindGroup {
			batch.Contacts = append(batch.Contacts, cache.Contact{JID: chatID, Name: entry.Name})
		}
	}

	for _, pn := range data.GetPushnames() {
		jid := normalizeJID(pn.GetID())
		if jid == "" || pn.GetPushname() == "" {
			continue
		}
		batch.Contacts = append(batch.Contacts, cache.Contact{JID: jid, Name: pn.GetPushname()})
	}
	return batch
}

func decodeWebMessage(chatID string, wm *waWeb.WebMessageInfo) (cache.Message, bool) {
	if wm == nil || wm.GetMessage() == nil {
		return cache.Message{}, false
	}
	key := wm.GetKey()
	if key.GetID() == "" {
		return cache.Message{}, false
	}

	sender := normalizeJID(key.GetParticipant())
	if sender == "" {
		sender = normalizeJID(wm.GetParticipant())
	}
	if sender == "" && !key.GetFromMe() {
		sender = chatID
	}

	status := StatusReceived
	if key.GetFromMe() {
		status = StatusSent
	}
	return cache.Message{
		ID:        key.GetID(),
		ChatID:    chatID,
		SenderID:  sender,
		PushName:  wm.GetPushName(),
		FromMe:    key.GetFromMe(),
		Timestamp: cache.NormalizeTimestamp(wm.GetMessageTimestamp()),
		Status:    status,
		Content:   wm.GetMessage(),
	}, true
}

// rawConversation renders the chat payload without its message list.
func rawConversation(conv *waHistorySync.Conversation) json.RawMessage {
	c := proto.Clone(conv).(*waHistorySync.Conversation)
	c.Messages = nil
	b, err := protojson.Marshal(c)
	if err != nil {
		return nil
	}
	return b
}

// ReceiptStatus maps a receipt type to a ledger status.
func ReceiptStatus(t types.ReceiptType) (string, bool) {
	switch t {
	case types.ReceiptTypeDelivered:
		return StatusDelivered, true
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf:
		return StatusRead, true
	case types.ReceiptTypePlayed:
		return StatusPlayed, true
	default:
		return "", false
	}
}

func normalizeJID(raw string) string {
	if raw == "" {
		return ""
	}
	jid, err := types.ParseJID(raw)
	if err != nil {
		return raw
	}
	return jid.ToNonAD().String()
}

func unixSeconds(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
