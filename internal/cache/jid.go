package cache

import "strings"

// Server suffixes recognised on raw chat identifiers.
const (
	GroupSuffix     = "@g.us"
	PhoneSuffix     = "@s.whatsapp.net"
	AnonymousSuffix = "@lid"
)

// UnknownName is the placeholder display name for chats and contacts without one.
const UnknownName = "Unknown"

// Kind classifies a raw chat identifier by its suffix.
type Kind int

const (
	KindOther Kind = iota
	KindGroup
	KindPhone
	KindAnonymous
)

func (k Kind) String() string {
	switch k {
	case KindGroup:
		return "group"
	case KindPhone:
		return "phone"
	case KindAnonymous:
		return "anonymous"
	default:
		return "other"
	}
}

// Classify tags a raw identifier as group, phone, anonymous or other.
// Broadcast lists, status updates and newsletters fall into KindOther.
func Classify(id string) Kind {
	switch {
	case strings.HasSuffix(id, GroupSuffix):
		return KindGroup
	case strings.HasSuffix(id, PhoneSuffix):
		return KindPhone
	case strings.HasSuffix(id, AnonymousSuffix):
		return KindAnonymous
	default:
		return KindOther
	}
}

// User returns the part of id before '@', without any device suffix (":12").
func User(id string) string {
	user, _, _ := strings.Cut(id, "@")
	user, _, _ = strings.Cut(user, ":")
	return user
}

// PhoneJID builds the phone identifier for a bare number or an existing JID.
func PhoneJID(phone string) string {
	phone = strings.TrimPrefix(User(phone), "+")
	if phone == "" {
		return ""
	}
	return phone + PhoneSuffix
}

// IsDigits reports whether s is non-empty and made only of ASCII digits.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// LooksLikePhone reports whether s is a 10 to 15 digit number.
func LooksLikePhone(s string) bool {
	return IsDigits(s) && len(s) >= 10 && len(s) <= 15
}
