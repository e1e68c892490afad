package chatstore

// Room is a joined room and its cached list-view attributes.
type Room struct {
	ID             string
	Name           *string // nil means derive from membership
	PrevBatch      *string // nil means no more history
	UnreadCount    int
	LastActivityTS int64
	Excerpt        string
	Encrypted      bool
}

// Member is a user's identity scoped to a room. Inactive members are
// kept for historical authorship but excluded from the active set.
type Member struct {
	RoomID      string
	UserID      string
	DisplayName *string
	AvatarURL   *string
	Active      bool
}

// Message is a timeline message, or a placeholder created to satisfy a
// relationship event that arrived before its target.
type Message struct {
	ID            string
	RoomID        string
	Sender        string
	Body          *string
	FormattedBody *string
	ReplyTo       *string
	Timestamp     int64
	MediaURL      *string
	AspectRatio   *float64
	Redacted      bool
	Pending       bool
}

// Reaction is a single user's annotation on a message.
type Reaction struct {
	ID        string
	MessageID string
	Key       string
	Sender    string
	Timestamp int64
}

// Edit replaces a message's body. The effective body of a message is
// that of its latest edit by timestamp.
type Edit struct {
	ID               string
	MessageID        string
	NewBody          string
	NewFormattedBody *string
	Timestamp        int64
}

// Redaction is a tombstone instruction whose target is not yet known
// locally. Applied redactions are never persisted.
type Redaction struct {
	ID       string
	RoomID   string
	TargetID *string
	Sender   string
	TS       int64
}

// Session is the single per-user sync session record.
type Session struct {
	UserID    string
	DeviceID  string
	NextBatch *string
	NextTxnID int64
}
