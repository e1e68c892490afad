package chatsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/watchtrix/watchtrix/protocol"
)

// syncLoop chains long-poll requests: each response is reconciled and
// committed before the next request is issued, so batch N+1 is never
// applied before batch N's cursor is durable. Transport failures back
// off exponentially and resume from the last committed cursor.
func (c *Client) syncLoop(ctx context.Context) {
	backoff := c.config.BackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if c.isPaused() {
			time.Sleep(c.config.BackoffMin)
			continue
		}

		err := c.SyncOnce(ctx)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				c.logger.Error("Credentials rejected; stopping sync", "error", err)
				c.setState(StateSignedOut)
				return
			}
			if ctx.Err() != nil {
				return
			}
			c.setState(StateSyncError)
			c.logger.Warn("Sync failed; backing off", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff = backoff * 2
			if backoff > c.config.BackoffMax {
				backoff = c.config.BackoffMax
			}
			continue
		}

		c.setState(StateSyncing)
		backoff = c.config.BackoffMin
	}
}

// SyncOnce performs one long-poll cycle: request the next increment,
// reconcile every room's state and timeline, and commit together with
// the advanced cursor. On any failure the working set is discarded and
// the cursor stays put, so the batch is re-delivered on retry; the
// engine's idempotency makes the at-least-once delivery safe.
func (c *Client) SyncOnce(ctx context.Context) error {
	if c.isPaused() {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	since := ""
	cursor, err := c.store.Cursor(ctx, c.userID)
	if err != nil {
		return fmt.Errorf("failed to load sync cursor: %w", err)
	}
	if cursor != nil {
		since = *cursor
	}

	resp, err := c.transport.Sync(ctx, since, c.config.LongPollTimeout)
	if err != nil {
		return fmt.Errorf("failed to sync: %w", err)
	}

	var newRooms []string
	var echoes []Echo
	for roomID, update := range resp.Rooms.Join {
		isNew, roomEchoes, err := c.reconcileRoom(ctx, roomID, &update)
		if err != nil {
			c.store.Discard()
			return fmt.Errorf("failed to reconcile room %s: %w", roomID, err)
		}
		if isNew {
			newRooms = append(newRooms, roomID)
		}
		echoes = append(echoes, roomEchoes...)
	}

	if err := c.store.SetCursor(ctx, c.userID, resp.NextBatch); err != nil {
		c.store.Discard()
		return err
	}
	if err := c.store.Save(ctx); err != nil {
		c.store.Discard()
		return err
	}

	// Only after the batch is durable: drop confirmed outbox entries and
	// bootstrap rooms seen for the first time.
	if c.outbox != nil {
		for _, echo := range echoes {
			if txn := c.outbox.MatchEcho(echo.RoomID, echo.TxnID); txn != nil {
				c.logger.Debug("Outbound send confirmed by sync",
					"room", echo.RoomID, "txn", echo.TxnID, "event", echo.EventID)
			}
		}
	}
	for _, roomID := range newRooms {
		c.bootstraps.Add(1)
		go c.bootstrapRoom(ctx, roomID)
	}
	return nil
}

// reconcileRoom applies one room's sync delta inside the working set.
func (c *Client) reconcileRoom(ctx context.Context, roomID string, update *protocol.JoinedRoomUpdate) (isNew bool, echoes []Echo, err error) {
	known, err := c.store.HasRoom(ctx, roomID)
	if err != nil {
		return false, nil, err
	}
	if !known {
		if err := c.store.UpsertRoom(ctx, roomID); err != nil {
			return false, nil, err
		}
	}

	// A limited timeline is a gap: local recent history is no longer
	// contiguous with the delivered slice. Purge the room's messages and
	// rebuild from the gap's state block; the new prev_batch token
	// re-anchors backward pagination.
	if known && update.Timeline.Limited {
		c.logger.Debug("Timeline gap; flushing room messages", "room", roomID)
		if err := c.store.DeleteRoomMessages(ctx, roomID); err != nil {
			return false, nil, err
		}
	}
	if !known || update.Timeline.Limited {
		prev := update.Timeline.PrevBatch
		var tok *string
		if prev != "" {
			tok = &prev
		}
		if err := c.store.SetRoomPrevBatch(ctx, roomID, tok); err != nil {
			return false, nil, err
		}
	}

	if err := c.engine.ProcessState(ctx, roomID, update.State.Events); err != nil {
		return false, nil, err
	}
	echoes, err = c.engine.ProcessTimeline(ctx, roomID, update.Timeline.Events, Forward)
	if err != nil {
		return false, nil, err
	}
	if err := c.store.SetRoomUnread(ctx, roomID, update.UnreadNotifications.NotificationCount); err != nil {
		return false, nil, err
	}
	return !known, echoes, nil
}

// bootstrapRoom runs after a room is first seen: fetch its full
// membership and name, then backfill one page of history. These calls
// interleave freely with the long-poll loop; every write they make is
// an idempotent upsert keyed by stable ids.
func (c *Client) bootstrapRoom(ctx context.Context, roomID string) {
	defer c.bootstraps.Done()

	members, err := c.transport.Members(ctx, roomID)
	if err != nil {
		c.logger.Warn("Failed to fetch members for new room", "room", roomID, "error", err)
	} else {
		c.writeMu.Lock()
		if err := c.engine.ProcessState(ctx, roomID, members); err == nil {
			err = c.store.Save(ctx)
		}
		if err != nil {
			c.store.Discard()
			c.logger.Warn("Failed to store members for new room", "room", roomID, "error", err)
		}
		c.writeMu.Unlock()
	}

	name, err := c.transport.RoomName(ctx, roomID)
	if err != nil {
		c.logger.Warn("Failed to fetch name for new room", "room", roomID, "error", err)
	} else {
		c.writeMu.Lock()
		if err := c.store.SetRoomName(ctx, roomID, name); err == nil {
			err = c.store.Save(ctx)
		}
		if err != nil {
			c.store.Discard()
			c.logger.Warn("Failed to store name for new room", "room", roomID, "error", err)
		}
		c.writeMu.Unlock()
	}

	if _, err := c.LoadOlderMessages(ctx, roomID); err != nil {
		c.logger.Warn("Failed to backfill new room", "room", roomID, "error", err)
	}
}
