package chatsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/watchtrix/watchtrix/chatstore"
	"github.com/watchtrix/watchtrix/protocol"
)

// Direction indicates whether a batch extends the timeline forward
// (sync) or backward (history pagination). Event application itself is
// order-independent; direction only matters to callers' cursor and
// token handling.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// Echo identifies a reconciled event that this session originally sent,
// recognized by its echoed transaction id. The caller drops the
// matching outbox transaction once the batch commits.
type Echo struct {
	RoomID  string
	TxnID   string
	EventID string
}

// Engine applies batches of protocol events to the entity store.
// Regardless of arrival order or duplication, repeated application
// converges: every write is an idempotent upsert keyed by event id, and
// relationship events that precede their target attach to a placeholder
// that the real event later fills.
type Engine struct {
	store  *chatstore.Store
	logger *slog.Logger
}

// NewEngine creates an engine writing to store.
func NewEngine(store *chatstore.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger}
}

// ProcessState applies membership, room-name and encryption state
// events for a room. Unrecognized state is skipped.
func (e *Engine) ProcessState(ctx context.Context, roomID string, events []protocol.RawEvent) error {
	for i := range events {
		raw := &events[i]
		if raw.Type == protocol.TypeEncrypted && raw.StateKey != nil {
			if err := e.store.SetRoomEncrypted(ctx, roomID); err != nil {
				return err
			}
			continue
		}

		ev := protocol.Decode(raw)
		switch ev.Kind {
		case protocol.KindMember:
			if err := e.applyMember(ctx, roomID, &ev); err != nil {
				return err
			}
		case protocol.KindRoomName:
			if err := e.store.SetRoomName(ctx, roomID, ev.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

// ProcessTimeline applies an ordered batch of timeline events for a
// room and returns the local echoes it recognized. After the batch it
// re-scans the room's pending redactions, since newly created messages
// or reactions may resolve them, and refreshes the room's cached
// last-activity attributes.
func (e *Engine) ProcessTimeline(ctx context.Context, roomID string, events []protocol.RawEvent, dir Direction) ([]Echo, error) {
	var echoes []Echo
	for i := range events {
		raw := &events[i]
		ev := protocol.Decode(raw)

		switch ev.Kind {
		case protocol.KindMessage:
			if err := e.applyMessage(ctx, roomID, &ev); err != nil {
				return echoes, err
			}
			if ev.TxnID != "" && dir == Forward {
				echoes = append(echoes, Echo{RoomID: roomID, TxnID: ev.TxnID, EventID: ev.ID})
			}

		case protocol.KindReaction:
			if err := e.applyReaction(ctx, roomID, &ev); err != nil {
				return echoes, err
			}

		case protocol.KindEdit:
			if err := e.applyEdit(ctx, roomID, &ev); err != nil {
				return echoes, err
			}

		case protocol.KindRedaction:
			if err := e.applyRedaction(ctx, roomID, &ev); err != nil {
				return echoes, err
			}

		case protocol.KindMember:
			if err := e.applyMember(ctx, roomID, &ev); err != nil {
				return echoes, err
			}

		case protocol.KindRoomName:
			if err := e.store.SetRoomName(ctx, roomID, ev.Name); err != nil {
				return echoes, err
			}

		default:
			e.logger.Debug("Skipping unrecognized event",
				"room", roomID, "event", ev.ID, "type", raw.Type)
		}
	}

	if err := e.resolvePendingRedactions(ctx, roomID); err != nil {
		return echoes, err
	}
	if err := e.store.RefreshRoomCaches(ctx, roomID); err != nil {
		return echoes, err
	}
	return echoes, nil
}

func (e *Engine) applyMessage(ctx context.Context, roomID string, ev *protocol.Event) error {
	if err := e.store.EnsureMember(ctx, roomID, ev.Sender); err != nil {
		return err
	}

	m := &chatstore.Message{
		ID:        ev.ID,
		RoomID:    roomID,
		Sender:    ev.Sender,
		Body:      &ev.Body,
		Timestamp: ev.Timestamp,
	}
	if ev.FormattedBody != "" {
		m.FormattedBody = &ev.FormattedBody
	}
	if ev.ReplyTo != "" {
		m.ReplyTo = &ev.ReplyTo
	}
	if ev.MediaURL != "" {
		m.MediaURL = &ev.MediaURL
		if ev.AspectRatio > 0 {
			ratio := ev.AspectRatio
			m.AspectRatio = &ratio
		}
	}
	return e.store.UpsertMessage(ctx, m)
}

func (e *Engine) applyReaction(ctx context.Context, roomID string, ev *protocol.Event) error {
	if err := e.store.EnsurePlaceholder(ctx, roomID, ev.TargetID); err != nil {
		return err
	}
	if err := e.store.EnsureMember(ctx, roomID, ev.Sender); err != nil {
		return err
	}
	return e.store.InsertReaction(ctx, &chatstore.Reaction{
		ID:        ev.ID,
		MessageID: ev.TargetID,
		Key:       ev.Key,
		Sender:    ev.Sender,
		Timestamp: ev.Timestamp,
	})
}

func (e *Engine) applyEdit(ctx context.Context, roomID string, ev *protocol.Event) error {
	if err := e.store.EnsurePlaceholder(ctx, roomID, ev.TargetID); err != nil {
		return err
	}
	edit := &chatstore.Edit{
		ID:        ev.ID,
		MessageID: ev.TargetID,
		NewBody:   ev.NewBody,
		Timestamp: ev.Timestamp,
	}
	if ev.NewHTML != "" {
		edit.NewFormattedBody = &ev.NewHTML
	}
	return e.store.InsertEdit(ctx, edit)
}

// applyRedaction applies a redaction when its target is known: a
// message is tombstoned, a reaction is deleted outright. An unknown
// target persists as a pending redaction scoped to the room.
func (e *Engine) applyRedaction(ctx context.Context, roomID string, ev *protocol.Event) error {
	applied, err := e.redactTarget(ctx, ev.Redacts)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	target := ev.Redacts
	return e.store.InsertPendingRedaction(ctx, &chatstore.Redaction{
		ID:       ev.ID,
		RoomID:   roomID,
		TargetID: &target,
		Sender:   ev.Sender,
		TS:       ev.Timestamp,
	})
}

// redactTarget tombstones or deletes the target if it exists locally.
func (e *Engine) redactTarget(ctx context.Context, targetID string) (bool, error) {
	_, err := e.store.Message(ctx, targetID)
	if err == nil {
		return true, e.store.MarkRedacted(ctx, targetID)
	}
	if !errors.Is(err, chatstore.ErrNotFound) {
		return false, err
	}

	_, err = e.store.Reaction(ctx, targetID)
	if err == nil {
		return true, e.store.DeleteReaction(ctx, targetID)
	}
	if !errors.Is(err, chatstore.ErrNotFound) {
		return false, err
	}
	return false, nil
}

// resolvePendingRedactions re-checks the room's stored redactions and
// applies any whose target has since arrived. A pending redaction never
// outlives its target becoming known.
func (e *Engine) resolvePendingRedactions(ctx context.Context, roomID string) error {
	pending, err := e.store.PendingRedactions(ctx, roomID)
	if err != nil {
		return err
	}
	for _, r := range pending {
		if r.TargetID == nil {
			continue
		}
		applied, err := e.redactTarget(ctx, *r.TargetID)
		if err != nil {
			return err
		}
		if applied {
			if err := e.store.DeletePendingRedaction(ctx, r.ID); err != nil {
				return err
			}
			e.logger.Debug("Resolved pending redaction",
				"room", roomID, "redaction", r.ID, "target", *r.TargetID)
		}
	}
	return nil
}

func (e *Engine) applyMember(ctx context.Context, roomID string, ev *protocol.Event) error {
	if ev.Membership == protocol.MembershipJoin {
		return e.store.UpsertMember(ctx, &chatstore.Member{
			RoomID:      roomID,
			UserID:      ev.UserID,
			DisplayName: ev.DisplayName,
			AvatarURL:   ev.AvatarURL,
		})
	}
	if err := e.store.SetMemberInactive(ctx, roomID, ev.UserID); err != nil {
		return fmt.Errorf("failed to remove member from active set: %w", err)
	}
	return nil
}
