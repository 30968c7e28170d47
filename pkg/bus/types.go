package bus

import "strings"

// ContentType is the closed set of LINE message kinds the relay knows.
// Wire strings outside the set parse to ContentOther.
type ContentType int

const (
	ContentText ContentType = iota
	ContentSticker
	ContentImage
	ContentVideo
	ContentFile
	ContentOther
)

// ContentTypes lists every ContentType; switch statements over
// ContentType are tested against it.
var ContentTypes = []ContentType{
	ContentText,
	ContentSticker,
	ContentImage,
	ContentVideo,
	ContentFile,
	ContentOther,
}

var contentTypeNames = map[ContentType]string{
	ContentText:    "TEXT",
	ContentSticker: "STICKER",
	ContentImage:   "IMAGE",
	ContentVideo:   "VIDEO",
	ContentFile:    "FILE",
	ContentOther:   "OTHER",
}

func (c ContentType) String() string {
	if name, ok := contentTypeNames[c]; ok {
		return name
	}
	return "OTHER"
}

// IsMedia reports whether messages of this type carry a binary object
// that has to be fetched and re-hosted.
func (c ContentType) IsMedia() bool {
	return c == ContentImage || c == ContentVideo || c == ContentFile
}

func ParseContentType(s string) ContentType {
	s = strings.ToUpper(strings.TrimSpace(s))
	for ct, name := range contentTypeNames {
		if name == s {
			return ct
		}
	}
	return ContentOther
}

func (c ContentType) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ContentType) UnmarshalText(b []byte) error {
	*c = ParseContentType(string(b))
	return nil
}

type Author struct {
	MID         string `json:"mid"`
	DisplayName string `json:"display_name"`
	IconURL     string `json:"icon_url,omitempty"`
}

// InboundMessage is one square chat message as received from LINE.
type InboundMessage struct {
	ChatID      string            `json:"chat_id"`
	MessageID   string            `json:"message_id"`
	Author      Author            `json:"author"`
	ContentType ContentType       `json:"content_type"`
	Text        string            `json:"text,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	// HasData is set when the message references a binary object
	// retrievable by MessageID.
	HasData bool `json:"has_data,omitempty"`
}

// OutboundMessage is the payload delivered to the Discord webhook.
type OutboundMessage struct {
	Content   string `json:"content"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
	TraceID   string `json:"-"`
}
