package chatstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func strPtr(s string) *string { return &s }

func seedRoom(t *testing.T, store *Store, roomID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpsertRoom(ctx, roomID))
	require.NoError(t, store.Save(ctx))
}

func seedMessage(t *testing.T, store *Store, roomID, id, sender, body string, ts int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpsertMessage(ctx, &Message{
		ID:        id,
		RoomID:    roomID,
		Sender:    sender,
		Body:      strPtr(body),
		Timestamp: ts,
	}))
	require.NoError(t, store.Save(ctx))
}

func TestSaveIsNoOpWhenClean(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.False(t, store.Dirty())
	require.NoError(t, store.Save(ctx))
	require.NoError(t, store.Save(ctx))
}

func TestSaveCommitsWorkingSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertRoom(ctx, "!a:example.org"))
	require.True(t, store.Dirty())

	require.NoError(t, store.Save(ctx))
	require.False(t, store.Dirty())

	exists, err := store.HasRoom(ctx, "!a:example.org")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestDiscardRollsBackWorkingSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertRoom(ctx, "!a:example.org"))

	// Mid-batch reads see the uncommitted row.
	exists, err := store.HasRoom(ctx, "!a:example.org")
	require.NoError(t, err)
	require.True(t, exists)

	store.Discard()
	require.False(t, store.Dirty())

	exists, err = store.HasRoom(ctx, "!a:example.org")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestUpsertRoomIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedRoom(t, store, "!a:example.org")
	require.NoError(t, store.SetRoomName(ctx, "!a:example.org", "Watch Party"))
	require.NoError(t, store.Save(ctx))

	// Re-upserting an existing room must not reset its attributes.
	require.NoError(t, store.UpsertRoom(ctx, "!a:example.org"))
	require.NoError(t, store.Save(ctx))

	room, err := store.Room(ctx, "!a:example.org")
	require.NoError(t, err)
	require.NotNil(t, room.Name)
	require.Equal(t, "Watch Party", *room.Name)

	n, err := store.RoomCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestSetRoomNameEmptyClearsIt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRoom(t, store, "!a:example.org")

	require.NoError(t, store.SetRoomName(ctx, "!a:example.org", "Named"))
	require.NoError(t, store.SetRoomName(ctx, "!a:example.org", ""))
	require.NoError(t, store.Save(ctx))

	room, err := store.Room(ctx, "!a:example.org")
	require.NoError(t, err)
	require.Nil(t, room.Name)
}

func TestSetRoomPrevBatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRoom(t, store, "!a:example.org")

	token := "t_100"
	require.NoError(t, store.SetRoomPrevBatch(ctx, "!a:example.org", &token))
	require.NoError(t, store.Save(ctx))

	room, err := store.Room(ctx, "!a:example.org")
	require.NoError(t, err)
	require.NotNil(t, room.PrevBatch)
	require.Equal(t, "t_100", *room.PrevBatch)

	// nil means history exhausted.
	require.NoError(t, store.SetRoomPrevBatch(ctx, "!a:example.org", nil))
	require.NoError(t, store.Save(ctx))

	room, err = store.Room(ctx, "!a:example.org")
	require.NoError(t, err)
	require.Nil(t, room.PrevBatch)
}

func TestUpsertMessageIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRoom(t, store, "!a:example.org")

	msg := &Message{
		ID:        "$m1",
		RoomID:    "!a:example.org",
		Sender:    "@alice:example.org",
		Body:      strPtr("hello"),
		Timestamp: 1000,
	}
	require.NoError(t, store.UpsertMessage(ctx, msg))
	require.NoError(t, store.UpsertMessage(ctx, msg))
	require.NoError(t, store.Save(ctx))

	n, err := store.MessageCount(ctx, "!a:example.org")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := store.Message(ctx, "$m1")
	require.NoError(t, err)
	require.Equal(t, "hello", *got.Body)
	require.False(t, got.Pending)
}

func TestPlaceholderFilledInPlace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRoom(t, store, "!a:example.org")

	require.NoError(t, store.EnsurePlaceholder(ctx, "!a:example.org", "$m1"))
	require.NoError(t, store.Save(ctx))

	got, err := store.Message(ctx, "$m1")
	require.NoError(t, err)
	require.True(t, got.Pending)
	require.Nil(t, got.Body)

	// Placeholders are invisible to timeline reads.
	visible, err := store.RoomMessages(ctx, "!a:example.org", 0)
	require.NoError(t, err)
	require.Empty(t, visible)

	seedMessage(t, store, "!a:example.org", "$m1", "@alice:example.org", "arrived", 1000)

	got, err = store.Message(ctx, "$m1")
	require.NoError(t, err)
	require.False(t, got.Pending)
	require.Equal(t, "arrived", *got.Body)

	total, err := store.TotalMessageCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, total)
}

func TestPlaceholderFillKeepsRedactionFlag(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRoom(t, store, "!a:example.org")

	require.NoError(t, store.EnsurePlaceholder(ctx, "!a:example.org", "$m1"))
	require.NoError(t, store.MarkRedacted(ctx, "$m1"))
	require.NoError(t, store.Save(ctx))

	// The real event arrives after its redaction was already applied.
	seedMessage(t, store, "!a:example.org", "$m1", "@alice:example.org", "too late", 1000)

	got, err := store.Message(ctx, "$m1")
	require.NoError(t, err)
	require.True(t, got.Redacted)
	require.False(t, got.Pending)
}

func TestRoomMessagesOrderAndLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRoom(t, store, "!a:example.org")
	seedMessage(t, store, "!a:example.org", "$m1", "@a:x", "one", 1000)
	seedMessage(t, store, "!a:example.org", "$m2", "@a:x", "two", 2000)
	seedMessage(t, store, "!a:example.org", "$m3", "@a:x", "three", 3000)

	all, err := store.RoomMessages(ctx, "!a:example.org", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "$m1", all[0].ID)
	require.Equal(t, "$m3", all[2].ID)

	// A limit keeps the newest messages, still ascending.
	tail, err := store.RoomMessages(ctx, "!a:example.org", 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	require.Equal(t, "$m2", tail[0].ID)
	require.Equal(t, "$m3", tail[1].ID)
}

func TestMemberCompositeKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRoom(t, store, "!a:example.org")
	seedRoom(t, store, "!b:example.org")

	// The same user can hold a different display name per room.
	require.NoError(t, store.UpsertMember(ctx, &Member{
		RoomID: "!a:example.org", UserID: "@bob:example.org", DisplayName: strPtr("Bob"),
	}))
	require.NoError(t, store.UpsertMember(ctx, &Member{
		RoomID: "!b:example.org", UserID: "@bob:example.org", DisplayName: strPtr("Robert"),
	}))
	require.NoError(t, store.Save(ctx))

	a, err := store.Member(ctx, "!a:example.org", "@bob:example.org")
	require.NoError(t, err)
	require.Equal(t, "Bob", *a.DisplayName)

	b, err := store.Member(ctx, "!b:example.org", "@bob:example.org")
	require.NoError(t, err)
	require.Equal(t, "Robert", *b.DisplayName)
}

func TestEnsureMemberKeepsDisplayName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRoom(t, store, "!a:example.org")

	require.NoError(t, store.UpsertMember(ctx, &Member{
		RoomID: "!a:example.org", UserID: "@bob:example.org", DisplayName: strPtr("Bob"),
	}))
	require.NoError(t, store.EnsureMember(ctx, "!a:example.org", "@bob:example.org"))
	require.NoError(t, store.Save(ctx))

	m, err := store.Member(ctx, "!a:example.org", "@bob:example.org")
	require.NoError(t, err)
	require.NotNil(t, m.DisplayName)
	require.Equal(t, "Bob", *m.DisplayName)
}

func TestSetMemberInactive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRoom(t, store, "!a:example.org")

	require.NoError(t, store.UpsertMember(ctx, &Member{
		RoomID: "!a:example.org", UserID: "@bob:example.org",
	}))
	require.NoError(t, store.SetMemberInactive(ctx, "!a:example.org", "@bob:example.org"))
	require.NoError(t, store.Save(ctx))

	// The row survives for historical authorship.
	m, err := store.Member(ctx, "!a:example.org", "@bob:example.org")
	require.NoError(t, err)
	require.False(t, m.Active)

	active, err := store.Members(ctx, "!a:example.org")
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestDeleteRoomCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRoom(t, store, "!a:example.org")
	seedRoom(t, store, "!b:example.org")
	seedMessage(t, store, "!a:example.org", "$m1", "@a:x", "bye", 1000)
	seedMessage(t, store, "!b:example.org", "$m2", "@a:x", "stay", 1000)

	require.NoError(t, store.UpsertMember(ctx, &Member{RoomID: "!a:example.org", UserID: "@a:x"}))
	require.NoError(t, store.InsertReaction(ctx, &Reaction{
		ID: "$r1", MessageID: "$m1", Key: "👍", Sender: "@a:x", Timestamp: 1001,
	}))
	require.NoError(t, store.InsertEdit(ctx, &Edit{
		ID: "$e1", MessageID: "$m1", NewBody: "edited", Timestamp: 1002,
	}))
	require.NoError(t, store.InsertPendingRedaction(ctx, &Redaction{
		ID: "$x1", RoomID: "!a:example.org", TargetID: strPtr("$missing"), Sender: "@a:x", TS: 1003,
	}))
	require.NoError(t, store.Save(ctx))

	require.NoError(t, store.DeleteRoom(ctx, "!a:example.org"))
	require.NoError(t, store.Save(ctx))

	_, err := store.Message(ctx, "$m1")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.Reaction(ctx, "$r1")
	require.ErrorIs(t, err, ErrNotFound)

	members, err := store.MemberCount(ctx, "!a:example.org")
	require.NoError(t, err)
	require.Zero(t, members)

	edits, err := store.EditCount(ctx, "$m1")
	require.NoError(t, err)
	require.Zero(t, edits)

	pending, err := store.PendingRedactionCount(ctx, "!a:example.org")
	require.NoError(t, err)
	require.Zero(t, pending)

	// The other room is untouched.
	_, err = store.Message(ctx, "$m2")
	require.NoError(t, err)
}

func TestDeleteRoomMessagesCascadesAnnotations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRoom(t, store, "!a:example.org")
	seedMessage(t, store, "!a:example.org", "$m1", "@a:x", "gap", 1000)

	require.NoError(t, store.UpsertMember(ctx, &Member{RoomID: "!a:example.org", UserID: "@a:x"}))
	require.NoError(t, store.InsertReaction(ctx, &Reaction{
		ID: "$r1", MessageID: "$m1", Key: "👍", Sender: "@a:x", Timestamp: 1001,
	}))
	require.NoError(t, store.InsertEdit(ctx, &Edit{
		ID: "$e1", MessageID: "$m1", NewBody: "edited", Timestamp: 1002,
	}))
	require.NoError(t, store.Save(ctx))

	require.NoError(t, store.DeleteRoomMessages(ctx, "!a:example.org"))
	require.NoError(t, store.Save(ctx))

	total, err := store.TotalMessageCount(ctx)
	require.NoError(t, err)
	require.Zero(t, total)

	reactions, err := store.ReactionCount(ctx, "$m1")
	require.NoError(t, err)
	require.Zero(t, reactions)

	// Room and membership survive a timeline purge.
	exists, err := store.HasRoom(ctx, "!a:example.org")
	require.NoError(t, err)
	require.True(t, exists)

	members, err := store.MemberCount(ctx, "!a:example.org")
	require.NoError(t, err)
	require.Equal(t, 1, members)
}
