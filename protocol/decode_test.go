package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func rawEvent(t *testing.T, id, evType string, content string) *RawEvent {
	t.Helper()
	return &RawEvent{
		ID:        id,
		Type:      evType,
		Sender:    "@alice:example.org",
		Timestamp: 1700000000000,
		Content:   json.RawMessage(content),
	}
}

func TestDecodeMessage(t *testing.T) {
	ev := Decode(rawEvent(t, "$m1", TypeMessage, `{"msgtype":"m.text","body":"hello"}`))
	require.Equal(t, KindMessage, ev.Kind)
	require.Equal(t, "$m1", ev.ID)
	require.Equal(t, "hello", ev.Body)
	require.False(t, ev.IsReply())
}

func TestDecodeMessageReply(t *testing.T) {
	ev := Decode(rawEvent(t, "$m2", TypeMessage,
		`{"msgtype":"m.text","body":"> <@bob:example.org> hi\n\nhello","m.relates_to":{"m.in_reply_to":{"event_id":"$m1"}}}`))
	require.Equal(t, KindMessage, ev.Kind)
	require.True(t, ev.IsReply())
	require.Equal(t, "$m1", ev.ReplyTo)
	// The body already embeds the quoted fallback; it is stored as-is.
	require.Contains(t, ev.Body, "> <@bob:example.org>")
}

func TestDecodeImageMessage(t *testing.T) {
	ev := Decode(rawEvent(t, "$m3", TypeMessage,
		`{"msgtype":"m.image","body":"cat.png","url":"mxc://example.org/abc","info":{"w":800,"h":400}}`))
	require.Equal(t, KindMessage, ev.Kind)
	require.Equal(t, "mxc://example.org/abc", ev.MediaURL)
	require.InDelta(t, 2.0, ev.AspectRatio, 0.001)
}

func TestDecodeEdit(t *testing.T) {
	ev := Decode(rawEvent(t, "$e1", TypeMessage,
		`{"msgtype":"m.text","body":"* fixed","m.relates_to":{"rel_type":"m.replace","event_id":"$m1"},"m.new_content":{"body":"fixed"}}`))
	require.Equal(t, KindEdit, ev.Kind)
	require.Equal(t, "$m1", ev.TargetID)
	require.Equal(t, "fixed", ev.NewBody)
}

func TestDecodeReaction(t *testing.T) {
	ev := Decode(rawEvent(t, "$r1", TypeReaction,
		`{"m.relates_to":{"rel_type":"m.annotation","event_id":"$m1","key":"👍"}}`))
	require.Equal(t, KindReaction, ev.Kind)
	require.Equal(t, "$m1", ev.TargetID)
	require.Equal(t, "👍", ev.Key)
}

func TestDecodeRedaction(t *testing.T) {
	raw := rawEvent(t, "$x1", TypeRedaction, `{}`)
	raw.Redacts = "$m1"
	ev := Decode(raw)
	require.Equal(t, KindRedaction, ev.Kind)
	require.Equal(t, "$m1", ev.Redacts)

	// Content-based target (newer room versions).
	ev = Decode(rawEvent(t, "$x2", TypeRedaction, `{"redacts":"$m2"}`))
	require.Equal(t, KindRedaction, ev.Kind)
	require.Equal(t, "$m2", ev.Redacts)
}

func TestDecodeMember(t *testing.T) {
	raw := rawEvent(t, "$s1", TypeMember,
		`{"membership":"join","displayname":"Bob","avatar_url":"mxc://example.org/bob"}`)
	key := "@bob:example.org"
	raw.StateKey = &key
	ev := Decode(raw)
	require.Equal(t, KindMember, ev.Kind)
	require.Equal(t, "@bob:example.org", ev.UserID)
	require.Equal(t, MembershipJoin, ev.Membership)
	require.NotNil(t, ev.DisplayName)
	require.Equal(t, "Bob", *ev.DisplayName)
}

func TestDecodeRoomName(t *testing.T) {
	raw := rawEvent(t, "$s2", TypeRoomName, `{"name":"Watch Party"}`)
	key := ""
	raw.StateKey = &key
	ev := Decode(raw)
	require.Equal(t, KindRoomName, ev.Kind)
	require.Equal(t, "Watch Party", ev.Name)
}

func TestDecodeTransactionID(t *testing.T) {
	raw := rawEvent(t, "$m9", TypeMessage, `{"msgtype":"m.text","body":"mine"}`)
	raw.Unsigned = &Unsigned{TransactionID: "wx1f"}
	ev := Decode(raw)
	require.Equal(t, "wx1f", ev.TxnID)
}

func TestDecodeMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  *RawEvent
	}{
		{"message without body", rawEvent(t, "$b1", TypeMessage, `{"msgtype":"m.text"}`)},
		{"message with broken json", rawEvent(t, "$b2", TypeMessage, `{"body":`)},
		{"reaction without key", rawEvent(t, "$b3", TypeReaction, `{"m.relates_to":{"rel_type":"m.annotation","event_id":"$m1"}}`)},
		{"redaction without target", rawEvent(t, "$b4", TypeRedaction, `{}`)},
		{"member without state key", rawEvent(t, "$b5", TypeMember, `{"membership":"join"}`)},
		{"unrecognized type", rawEvent(t, "$b6", "m.room.topic", `{"topic":"x"}`)},
		{"edit without new content", rawEvent(t, "$b7", TypeMessage, `{"body":"* x","m.relates_to":{"rel_type":"m.replace","event_id":"$m1"}}`)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := Decode(tc.raw)
			require.Equal(t, KindUnknown, ev.Kind)
		})
	}
}
