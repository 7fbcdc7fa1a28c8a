package cache

import "go.mau.fi/whatsmeow/proto/waE2E"

// Content type tags derived from a raw message payload.
const (
	TypeText     = "text"
	TypeImage    = "image"
	TypeVideo    = "video"
	TypeAudio    = "audio"
	TypeDocument = "document"
	TypeSticker  = "sticker"
	TypeContact  = "contact"
	TypeLocation = "location"
	TypeUnknown  = "unknown"
)

// ContentType returns the type tag of a raw message payload.
func ContentType(msg *waE2E.Message) string {
	msg = unwrap(msg)
	if msg == nil {
		return TypeUnknown
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return TypeText
	case msg.GetImageMessage() != nil:
		return TypeImage
	case msg.GetVideoMessage() != nil:
		return TypeVideo
	case msg.GetAudioMessage() != nil:
		return TypeAudio
	case msg.GetDocumentMessage() != nil:
		return TypeDocument
	case msg.GetStickerMessage() != nil:
		return TypeSticker
	case msg.GetContactMessage() != nil:
		return TypeContact
	case msg.GetLocationMessage() != nil:
		return TypeLocation
	default:
		return TypeUnknown
	}
}

// ContentText returns the display string for a raw message payload.
// Media without a caption renders as a bracketed placeholder.
func ContentText(msg *waE2E.Message) string {
	msg = unwrap(msg)
	if msg == nil {
		return "[Unsupported message]"
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	switch ContentType(msg) {
	case TypeImage:
		return orPlaceholder(msg.GetImageMessage().GetCaption(), "[Image]")
	case TypeVideo:
		return orPlaceholder(msg.GetVideoMessage().GetCaption(), "[Video]")
	case TypeAudio:
		return "[Audio]"
	case TypeDocument:
		return orPlaceholder(msg.GetDocumentMessage().GetFileName(), "[Document]")
	case TypeSticker:
		return "[Sticker]"
	case TypeContact:
		return orPlaceholder(msg.GetContactMessage().GetDisplayName(), "[Contact]")
	case TypeLocation:
		return "[Location]"
	default:
		return "[Unsupported message]"
	}
}

// unwrap strips ephemeral and view-once envelopes.
func unwrap(msg *waE2E.Message) *waE2E.Message {
	for i := 0; msg != nil && i < 3; i++ {
		switch {
		case msg.GetEphemeralMessage().GetMessage() != nil:
			msg = msg.GetEphemeralMessage().GetMessage()
		case msg.GetViewOnceMessage().GetMessage() != nil:
			msg = msg.GetViewOnceMessage().GetMessage()
		case msg.GetViewOnceMessageV2().GetMessage() != nil:
			msg = msg.GetViewOnceMessageV2().GetMessage()
		default:
			return msg
		}
	}
	return msg
}

func orPlaceholder(s, placeholder string) string {
	if s == "" {
		return placeholder
	}
	return s
}
