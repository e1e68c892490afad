package chatsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/watchtrix/watchtrix/protocol"
)

func TestLoadOlderMessagesPaginates(t *testing.T) {
	client, store, transport := newTestClient(t)
	ctx := context.Background()

	token := "t0"
	require.NoError(t, store.UpsertRoom(ctx, testRoom))
	require.NoError(t, store.SetRoomPrevBatch(ctx, testRoom, &token))
	require.NoError(t, store.Save(ctx))

	transport.pages["t0"] = &protocol.MessagesResponse{
		Chunk: []protocol.RawEvent{msgEvent("$m2", "@alice:example.org", "newer", 2000)},
		End:   "t1",
	}
	transport.pages["t1"] = &protocol.MessagesResponse{
		Chunk: []protocol.RawEvent{msgEvent("$m1", "@alice:example.org", "older", 1000)},
		End:   "t2",
	}
	// t2 is unmapped: the fake returns an empty page, i.e. history's end.

	more, err := client.LoadOlderMessages(ctx, testRoom)
	require.NoError(t, err)
	require.True(t, more)

	more, err = client.LoadOlderMessages(ctx, testRoom)
	require.NoError(t, err)
	require.True(t, more)

	more, err = client.LoadOlderMessages(ctx, testRoom)
	require.NoError(t, err)
	require.False(t, more)

	messages, err := store.RoomMessages(ctx, testRoom, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, "$m1", messages[0].ID)
	require.Equal(t, "$m2", messages[1].ID)

	room, err := store.Room(ctx, testRoom)
	require.NoError(t, err)
	require.Nil(t, room.PrevBatch)

	// With the token exhausted, further calls stop before the transport.
	calls := transport.pageCalls
	more, err = client.LoadOlderMessages(ctx, testRoom)
	require.NoError(t, err)
	require.False(t, more)
	require.Equal(t, calls, transport.pageCalls)
}

func TestLoadOlderMessagesAppliesState(t *testing.T) {
	client, store, transport := newTestClient(t)
	ctx := context.Background()

	token := "t0"
	require.NoError(t, store.UpsertRoom(ctx, testRoom))
	require.NoError(t, store.SetRoomPrevBatch(ctx, testRoom, &token))
	require.NoError(t, store.Save(ctx))

	name := "Historical Bob"
	transport.pages["t0"] = &protocol.MessagesResponse{
		Chunk: []protocol.RawEvent{msgEvent("$m1", "@bob:example.org", "hi", 1000)},
		State: []protocol.RawEvent{
			memberEvent("$s1", "@bob:example.org", protocol.MembershipJoin, &name),
		},
		End: "t1",
	}

	more, err := client.LoadOlderMessages(ctx, testRoom)
	require.NoError(t, err)
	require.True(t, more)

	member, err := store.Member(ctx, testRoom, "@bob:example.org")
	require.NoError(t, err)
	require.Equal(t, "Historical Bob", *member.DisplayName)
}

func TestLoadOlderMessagesUnknownRoom(t *testing.T) {
	client, _, _ := newTestClient(t)

	_, err := client.LoadOlderMessages(context.Background(), "!missing:example.org")
	require.Error(t, err)
}
