package chatsync

import (
	"context"
	"fmt"
)

// LoadOlderMessages fetches one page of history older than the room's
// pagination token and applies it backward. It returns whether more
// history remains; a room whose token is already exhausted returns
// false immediately.
func (c *Client) LoadOlderMessages(ctx context.Context, roomID string) (more bool, err error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	room, err := c.store.Room(ctx, roomID)
	if err != nil {
		return false, fmt.Errorf("failed to load room for backfill: %w", err)
	}
	if room.PrevBatch == nil {
		return false, nil
	}

	resp, err := c.transport.LoadOlderEvents(ctx, roomID, *room.PrevBatch, c.config.BackfillLimit)
	if err != nil {
		return false, fmt.Errorf("failed to load older events: %w", err)
	}

	if err := c.engine.ProcessState(ctx, roomID, resp.State); err != nil {
		c.store.Discard()
		return false, err
	}
	if _, err := c.engine.ProcessTimeline(ctx, roomID, resp.Chunk, Backward); err != nil {
		c.store.Discard()
		return false, err
	}

	// An empty page or missing end token means history is exhausted;
	// a NULL token stops further backfill permanently.
	var token *string
	if resp.End != "" && len(resp.Chunk) > 0 {
		token = &resp.End
	}
	if err := c.store.SetRoomPrevBatch(ctx, roomID, token); err != nil {
		c.store.Discard()
		return false, err
	}
	if err := c.store.Save(ctx); err != nil {
		c.store.Discard()
		return false, err
	}
	return token != nil, nil
}
