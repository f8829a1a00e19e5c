package domain

import "time"

// MessageKey identifies one message within a chat.
type MessageKey struct {
	ChatID      string
	ID          string
	FromMe      bool
	Participant string // sender jid inside groups, empty for 1:1 chats
}

// WireKind is the outbound payload category. It determines how a SendRequest
// is structured on the wire.
type WireKind string

const (
	KindText     WireKind = "text"
	KindImage    WireKind = "image"
	KindVideo    WireKind = "video"
	KindAudio    WireKind = "audio"
	KindSticker  WireKind = "sticker"
	KindDocument WireKind = "document"
	KindContact  WireKind = "contact"
	KindPoll     WireKind = "poll"
)

// SendRequest is an outbound send intent produced by the media pipeline and
// consumed by the transport.
type SendRequest struct {
	ChatID     string
	Kind       WireKind
	Data       []byte // inline payload bytes
	URL        string // upload locator; transports prefer this when set
	MimeType   string
	FileName   string
	Caption    string // text body for KindText, media caption otherwise
	PTT        bool   // voice note flag for audio
	QuotedKey  *MessageKey
	MentionIDs []string
	Timestamp  time.Time
}

// GroupMetadata is a snapshot of a group's subject and roster.
type GroupMetadata struct {
	ID           string
	Subject      string
	Owner        string
	Participants []GroupParticipant
	FetchedAt    time.Time
}

// GroupParticipant is one roster entry.
type GroupParticipant struct {
	ID      string
	IsAdmin bool
}
