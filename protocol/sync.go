package protocol

// SyncResponse is one increment of the event stream, returned by the
// long-poll sync endpoint.
type SyncResponse struct {
	NextBatch string          `json:"next_batch"`
	Rooms     RoomsSyncUpdate `json:"rooms"`
}

// RoomsSyncUpdate groups per-room updates by membership bucket. Only
// joined rooms are reconciled by this client.
type RoomsSyncUpdate struct {
	Join map[string]JoinedRoomUpdate `json:"join,omitempty"`
}

// JoinedRoomUpdate carries the timeline and state delta for one room.
type JoinedRoomUpdate struct {
	Timeline            Timeline            `json:"timeline"`
	State               StateUpdate         `json:"state"`
	UnreadNotifications UnreadNotifications `json:"unread_notifications"`
}

// Timeline is an ordered slice of a room's event stream. Limited signals
// a gap: the slice is not contiguous with previously delivered history.
type Timeline struct {
	Events    []RawEvent `json:"events"`
	Limited   bool       `json:"limited,omitempty"`
	PrevBatch string     `json:"prev_batch,omitempty"`
}

// StateUpdate carries state events that apply before the timeline slice.
type StateUpdate struct {
	Events []RawEvent `json:"events"`
}

// UnreadNotifications carries server-computed unread counters.
type UnreadNotifications struct {
	NotificationCount int `json:"notification_count"`
	HighlightCount    int `json:"highlight_count"`
}

// MessagesResponse is one page of paginated room history.
type MessagesResponse struct {
	Chunk []RawEvent `json:"chunk"`
	State []RawEvent `json:"state,omitempty"`
	Start string     `json:"start"`
	End   string     `json:"end,omitempty"`
}

// LoginResponse is the result of a successful password login.
type LoginResponse struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	DeviceID    string `json:"device_id"`
}

// ErrorResponse is the standard error body returned by the server.
type ErrorResponse struct {
	ErrCode string `json:"errcode"`
	Error   string `json:"error"`
}
