// Package protocol defines the wire representation of federated chat
// events and sync payloads, plus the decoder that classifies raw events
// into the closed set of kinds the reconciliation engine understands.
package protocol

import "encoding/json"

// Event type identifiers recognized by the client.
const (
	TypeMessage   = "m.room.message"
	TypeReaction  = "m.reaction"
	TypeRedaction = "m.room.redaction"
	TypeMember    = "m.room.member"
	TypeRoomName  = "m.room.name"
	TypeEncrypted = "m.room.encryption"
)

// Relationship types carried in m.relates_to.
const (
	RelAnnotation = "m.annotation"
	RelReplace    = "m.replace"
)

// Message content types.
const (
	MsgText  = "m.text"
	MsgImage = "m.image"
)

// Membership values carried by m.room.member events.
const (
	MembershipJoin  = "join"
	MembershipLeave = "leave"
	MembershipBan   = "ban"
)

// RawEvent is a protocol event as delivered by the server. Content is left
// undecoded; Decode interprets it based on Type.
type RawEvent struct {
	ID        string          `json:"event_id"`
	Type      string          `json:"type"`
	Sender    string          `json:"sender"`
	StateKey  *string         `json:"state_key,omitempty"`
	Timestamp int64           `json:"origin_server_ts"`
	Content   json.RawMessage `json:"content,omitempty"`
	Redacts   string          `json:"redacts,omitempty"`
	Unsigned  *Unsigned       `json:"unsigned,omitempty"`
}

// Unsigned carries server-added metadata. TransactionID is present on
// events that echo back this session's own sends.
type Unsigned struct {
	TransactionID string `json:"transaction_id,omitempty"`
}

// InReplyTo references the event a message replies to.
type InReplyTo struct {
	EventID string `json:"event_id"`
}

// RelatesTo describes an event's relationship to another event.
type RelatesTo struct {
	RelType   string     `json:"rel_type,omitempty"`
	EventID   string     `json:"event_id,omitempty"`
	Key       string     `json:"key,omitempty"`
	InReplyTo *InReplyTo `json:"m.in_reply_to,omitempty"`
}

// NewContent is the replacement content of an edit (m.replace) event.
type NewContent struct {
	Body          string `json:"body"`
	Format        string `json:"format,omitempty"`
	FormattedBody string `json:"formatted_body,omitempty"`
}

// MediaInfo describes an attached media file.
type MediaInfo struct {
	Width  int `json:"w,omitempty"`
	Height int `json:"h,omitempty"`
}

// AspectRatio returns width/height, or 0 when either dimension is unknown.
func (i *MediaInfo) AspectRatio() float64 {
	if i == nil || i.Width <= 0 || i.Height <= 0 {
		return 0
	}
	return float64(i.Width) / float64(i.Height)
}

// MessageContent is the content of an m.room.message event.
type MessageContent struct {
	MsgType       string      `json:"msgtype,omitempty"`
	Body          string      `json:"body,omitempty"`
	Format        string      `json:"format,omitempty"`
	FormattedBody string      `json:"formatted_body,omitempty"`
	URL           string      `json:"url,omitempty"`
	Info          *MediaInfo  `json:"info,omitempty"`
	RelatesTo     *RelatesTo  `json:"m.relates_to,omitempty"`
	NewContent    *NewContent `json:"m.new_content,omitempty"`
}

// ReactionContent is the content of an m.reaction event.
type ReactionContent struct {
	RelatesTo *RelatesTo `json:"m.relates_to,omitempty"`
}

// RedactionContent is the content of an m.room.redaction event. Newer
// servers put the target here instead of the top-level redacts field.
type RedactionContent struct {
	Redacts string `json:"redacts,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// MemberContent is the content of an m.room.member state event.
type MemberContent struct {
	Membership  string  `json:"membership"`
	DisplayName *string `json:"displayname,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

// NameContent is the content of an m.room.name state event.
type NameContent struct {
	Name string `json:"name"`
}
