package wa

import (
	"encoding/json"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func TestDecodeLive(t *testing.T) {
	ts := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	evt := &events.Message{
		Info: types.MessageInfo{
			PushName:  "Alice",
			Timestamp: ts,
			MessageSource: types.MessageSource{
				Chat:     types.JID{User: "chat", Server: types.DefaultUserServer},
				Sender:   types.JID{User: "sender", Server: types.DefaultUserServer},
				IsFromMe: true,
			},
			ID: "MSG123",
		},
		Message: &waE2E.Message{Conversation: proto.String("hello world")},
	}

	m := DecodeLive(evt)

	if m.ChatID != "chat@s.whatsapp.net" {
		t.Errorf("ChatID = %q, want chat@s.whatsapp.net", m.ChatID)
	}
	if m.ID != "MSG123" {
		t.Errorf("ID = %q, want MSG123", m.ID)
	}
	if m.SenderID != "sender@s.whatsapp.net" {
		t.Errorf("SenderID = %q", m.SenderID)
	}
	if m.PushName != "Alice" {
		t.Errorf("PushName = %q, want Alice", m.PushName)
	}
	if m.Text() != "hello world" || m.Type() != "text" {
		t.Errorf("content = %q/%q", m.Text(), m.Type())
	}
	if !m.FromMe || m.Status != StatusSent {
		t.Errorf("FromMe = %v, Status = %q", m.FromMe, m.Status)
	}
	if m.Timestamp != ts.Unix() {
		t.Errorf("Timestamp = %d, want %d", m.Timestamp, ts.Unix())
	}
}

// Device suffixes must not split one contact into several chats.
func TestDecodeLiveStripsDeviceSuffix(t *testing.T) {
	evt := &events.Message{
		Info: types.MessageInfo{
			ID:        "M1",
			Timestamp: time.Now(),
			MessageSource: types.MessageSource{
				Chat:   types.JID{User: "558592403672", Server: types.DefaultUserServer, Device: 1},
				Sender: types.JID{User: "558592403672", Server: types.DefaultUserServer, Device: 3},
			},
		},
		Message: &waE2E.Message{Conversation: proto.String("hi")},
	}

	m := DecodeLive(evt)
	if m.ChatID != "558592403672@s.whatsapp.net" {
		t.Errorf("ChatID = %q (device suffix not stripped)", m.ChatID)
	}
	if m.SenderID != "558592403672@s.whatsapp.net" {
		t.Errorf("SenderID = %q (device suffix not stripped)", m.SenderID)
	}
	if m.Status != StatusReceived {
		t.Errorf("Status = %q, want received", m.Status)
	}
}

func TestNormalizeJID(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"558592403672@s.whatsapp.net", "558592403672@s.whatsapp.net"},
		{"558592403672:0@s.whatsapp.net", "558592403672@s.whatsapp.net"},
		{"558592403672:5@s.whatsapp.net", "558592403672@s.whatsapp.net"},
		{"120363123456@g.us", "120363123456@g.us"},
		{"", ""},
		{"invalid", "invalid"},
		{"3917077286968@lid", "3917077286968@lid"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := normalizeJID(tt.input); got != tt.want {
				t.Errorf("normalizeJID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func historyMsg(id, remote, participant string, fromMe bool, ts uint64, text string) *waHistorySync.HistorySyncMsg {
	key := &waCommon.MessageKey{
		ID:        proto.String(id),
		FromMe:    proto.Bool(fromMe),
		RemoteJID: proto.String(remote),
	}
	if participant != "" {
		key.Participant = proto.String(participant)
	}
	return &waHistorySync.HistorySyncMsg{
		Message: &waWeb.WebMessageInfo{
			Key:              key,
			MessageTimestamp: proto.Uint64(ts),
			Message:          &waE2E.Message{Conversation: proto.String(text)},
		},
	}
}

func TestDecodeHistory(t *testing.T) {
	data := &waHistorySync.HistorySync{
		Conversations: []*waHistorySync.Conversation{
			{
				ID:                    proto.String("558592403672:0@s.whatsapp.net"),
				Name:                  proto.String("Eric"),
				UnreadCount:           proto.Uint32(2),
				Pinned:                proto.Uint32(1700000000),
				ConversationTimestamp: proto.Uint64(1700000100),
				Messages: []*waHistorySync.HistorySyncMsg{
					historyMsg("h1", "558592403672@s.whatsapp.net", "", false, 1700000050, "older"),
					historyMsg("h2", "558592403672@s.whatsapp.net", "", true, 1700000100, "newer"),
				},
			},
			{
				ID: proto.String("120363@g.us"),
				Messages: []*waHistorySync.HistorySyncMsg{
					historyMsg("g1", "120363@g.us", "111:2@s.whatsapp.net", false, 1700000200, "group"),
				},
			},
			{ID: proto.String("")},
		},
		Pushnames: []*waHistorySync.Pushname{
			{ID: proto.String("111@s.whatsapp.net"), Pushname: proto.String("Bob")},
			{ID: proto.String("222@s.whatsapp.net")},
		},
	}

	batch := DecodeHistory(data)

	if len(batch.Chats) != 2 {
		t.Fatalf("len(Chats) = %d, want 2", len(batch.Chats))
	}
	dm := batch.Chats[0]
	if dm.ID != "558592403672@s.whatsapp.net" {
		t.Errorf("ID = %q", dm.ID)
	}
	if dm.Name != "Eric" || dm.UnreadCount != 2 || !dm.Pinned || dm.LastActivity != 1700000100 {
		t.Errorf("entry = %+v", dm)
	}
	if len(dm.Embedded) != 2 {
		t.Fatalf("len(Embedded) = %d, want 2", len(dm.Embedded))
	}
	if dm.Embedded[0].SenderID != dm.ID {
		t.Errorf("incoming sender = %q, want chat id", dm.Embedded[0].SenderID)
	}
	if dm.Embedded[1].Status != StatusSent {
		t.Errorf("own message status = %q", dm.Embedded[1].Status)
	}

	var raw map[string]any
	if err := json.Unmarshal(dm.Raw, &raw); err != nil {
		t.Fatalf("Raw is not JSON: %v", err)
	}
	if _, ok := raw["messages"]; ok {
		t.Error("Raw should not carry the message list")
	}
	if raw["name"] != "Eric" {
		t.Errorf("Raw name = %v", raw["name"])
	}

	group := batch.Chats[1]
	if group.LastActivity != 1700000200 {
		t.Errorf("group LastActivity = %d, want newest embedded", group.LastActivity)
	}
	if group.Embedded[0].SenderID != "111@s.whatsapp.net" {
		t.Errorf("group sender = %q", group.Embedded[0].SenderID)
	}

	want := map[string]string{
		"558592403672@s.whatsapp.net": "Eric",
		"111@s.whatsapp.net":          "Bob",
	}
	if len(batch.Contacts) != len(want) {
		t.Fatalf("Contacts = %+v", batch.Contacts)
	}
	for _, c := range batch.Contacts {
		if want[c.JID] != c.Name {
			t.Errorf("contact %q = %q, want %q", c.JID, c.Name, want[c.JID])
		}
	}
}

func TestDecodeHistoryNil(t *testing.T) {
	batch := DecodeHistory(nil)
	if len(batch.Chats) != 0 || len(batch.Contacts) != 0 {
		t.Errorf("batch = %+v, want empty", batch)
	}
}

func TestReceiptStatus(t *testing.T) {
	tests := []struct {
		in     types.ReceiptType
		want   string
		wantOK bool
	}{
		{types.ReceiptTypeDelivered, StatusDelivered, true},
		{types.ReceiptTypeRead, StatusRead, true},
		{types.ReceiptTypeReadSelf, StatusRead, true},
		{types.ReceiptTypePlayed, StatusPlayed, true},
		{types.ReceiptTypeRetry, "", false},
	}
	for _, tt := range tests {
		got, ok := ReceiptStatus(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ReceiptStatus(%q) = %q, %v", tt.in, got, ok)
		}
	}
}

func TestRenderQR(t *testing.T) {
	png, err := RenderQR("2@abc,def,ghi")
	if err != nil {
		t.Fatalf("RenderQR() error = %v", err)
	}
	if png == "" {
		t.Error("RenderQR() returned empty image")
	}
}
