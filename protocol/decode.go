package protocol

import "encoding/json"

// Kind classifies a decoded event. The reconciliation engine switches
// exhaustively over this set; KindUnknown events are skipped.
type Kind int

const (
	KindUnknown Kind = iota
	KindMessage
	KindReaction
	KindEdit
	KindRedaction
	KindMember
	KindRoomName
)

// String returns a short name for logging.
func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindReaction:
		return "reaction"
	case KindEdit:
		return "edit"
	case KindRedaction:
		return "redaction"
	case KindMember:
		return "member"
	case KindRoomName:
		return "room_name"
	default:
		return "unknown"
	}
}

// Event is the decoded form of a RawEvent. Only the fields relevant to
// the event's Kind are populated.
type Event struct {
	Kind      Kind
	ID        string
	Sender    string
	Timestamp int64
	TxnID     string // local echo transaction id, when this session sent it

	// KindMessage
	Body          string
	FormattedBody string
	ReplyTo       string // quoted event id, when the message is a reply
	MediaURL      string
	AspectRatio   float64

	// KindReaction and KindEdit
	TargetID string
	Key      string // reaction key
	NewBody  string // edit replacement body
	NewHTML  string // edit replacement formatted body

	// KindRedaction
	Redacts string

	// KindMember
	UserID      string
	Membership  string
	DisplayName *string
	AvatarURL   *string

	// KindRoomName
	Name string
}

// IsReply reports whether a message event carries a reply relationship.
func (e *Event) IsReply() bool { return e.Kind == KindMessage && e.ReplyTo != "" }

// Decode classifies a raw event into the closed union consumed by the
// reconciliation engine. Malformed or unrecognized events decode to
// KindUnknown rather than an error: a bad event is dropped, not fatal.
func Decode(raw *RawEvent) Event {
	ev := Event{
		ID:        raw.ID,
		Sender:    raw.Sender,
		Timestamp: raw.Timestamp,
	}
	if raw.Unsigned != nil {
		ev.TxnID = raw.Unsigned.TransactionID
	}
	if raw.ID == "" {
		return ev
	}

	switch raw.Type {
	case TypeMessage:
		decodeMessage(raw, &ev)
	case TypeReaction:
		decodeReaction(raw, &ev)
	case TypeRedaction:
		decodeRedaction(raw, &ev)
	case TypeMember:
		decodeMember(raw, &ev)
	case TypeRoomName:
		decodeRoomName(raw, &ev)
	}
	return ev
}

func decodeMessage(raw *RawEvent, ev *Event) {
	var content MessageContent
	if err := json.Unmarshal(raw.Content, &content); err != nil {
		return
	}

	// An m.replace relationship turns a message event into an edit.
	if rel := content.RelatesTo; rel != nil && rel.RelType == RelReplace {
		if rel.EventID == "" || content.NewContent == nil {
			return
		}
		ev.Kind = KindEdit
		ev.TargetID = rel.EventID
		ev.NewBody = content.NewContent.Body
		ev.NewHTML = content.NewContent.FormattedBody
		return
	}

	// A message with no body carries nothing to display; drop it.
	if content.Body == "" {
		return
	}

	ev.Kind = KindMessage
	ev.Body = content.Body
	ev.FormattedBody = content.FormattedBody
	if content.MsgType == MsgImage {
		ev.MediaURL = content.URL
		ev.AspectRatio = content.Info.AspectRatio()
	}
	if rel := content.RelatesTo; rel != nil && rel.InReplyTo != nil {
		ev.ReplyTo = rel.InReplyTo.EventID
	}
}

func decodeReaction(raw *RawEvent, ev *Event) {
	var content ReactionContent
	if err := json.Unmarshal(raw.Content, &content); err != nil {
		return
	}
	rel := content.RelatesTo
	if rel == nil || rel.RelType != RelAnnotation || rel.EventID == "" || rel.Key == "" {
		return
	}
	ev.Kind = KindReaction
	ev.TargetID = rel.EventID
	ev.Key = rel.Key
}

func decodeRedaction(raw *RawEvent, ev *Event) {
	ev.Kind = KindRedaction
	ev.Redacts = raw.Redacts
	if ev.Redacts == "" && len(raw.Content) > 0 {
		var content RedactionContent
		if err := json.Unmarshal(raw.Content, &content); err == nil {
			ev.Redacts = content.Redacts
		}
	}
	if ev.Redacts == "" {
		ev.Kind = KindUnknown
	}
}

func decodeMember(raw *RawEvent, ev *Event) {
	if raw.StateKey == nil || *raw.StateKey == "" {
		return
	}
	var content MemberContent
	if err := json.Unmarshal(raw.Content, &content); err != nil {
		return
	}
	if content.Membership == "" {
		return
	}
	ev.Kind = KindMember
	ev.UserID = *raw.StateKey
	ev.Membership = content.Membership
	ev.DisplayName = content.DisplayName
	ev.AvatarURL = content.AvatarURL
}

func decodeRoomName(raw *RawEvent, ev *Event) {
	if raw.StateKey == nil {
		return
	}
	var content NameContent
	if err := json.Unmarshal(raw.Content, &content); err != nil {
		return
	}
	ev.Kind = KindRoomName
	ev.Name = content.Name
}
