package chatstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ReactionGroup is the aggregated view of one reaction key on a message.
type ReactionGroup struct {
	Key      string
	Count    int
	Selected bool // the querying user authored at least one reaction in the group
}

// LastMessage returns the room's most recent real message that is not
// redacted and has no redaction pending against it, or ErrNotFound.
func (s *Store) LastMessage(ctx context.Context, roomID string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.q().QueryRowContext(ctx, `
		SELECT m.id, m.room_id, m.sender, m.body, m.formatted_body, m.reply_to,
			m.ts, m.media_url, m.aspect_ratio, m.is_redacted, m.pending
		FROM messages m
		WHERE m.room_id = ? AND m.pending = 0 AND m.is_redacted = 0
			AND NOT EXISTS (SELECT 1 FROM redactions r WHERE r.target_id = m.id)
		ORDER BY m.ts DESC LIMIT 1
	`, roomID)
	return scanMessage(row)
}

// DisplayBody returns the user-visible body of a message: empty when the
// message is redacted, else the latest edit's body, else its own body.
func (s *Store) DisplayBody(ctx context.Context, messageID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayBodyLocked(ctx, messageID)
}

func (s *Store) displayBodyLocked(ctx context.Context, messageID string) (string, error) {
	m, err := s.messageLocked(ctx, messageID)
	if err != nil {
		return "", err
	}
	if m.Redacted {
		return "", nil
	}
	var edited string
	err = s.q().QueryRowContext(ctx, `
		SELECT new_body FROM edits WHERE message_id = ? ORDER BY ts DESC, id DESC LIMIT 1
	`, messageID).Scan(&edited)
	if err == nil {
		return edited, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to query latest edit: %w", err)
	}
	if m.Body != nil {
		return *m.Body, nil
	}
	return "", nil
}

// Excerpt returns the display body of the room's last message, or the
// empty string when the room has none.
func (s *Store) Excerpt(ctx context.Context, roomID string) (string, error) {
	last, err := s.LastMessage(ctx, roomID)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayBodyLocked(ctx, last.ID)
}

// AggregatedReactions groups a message's reactions by key, ordered by
// key ascending. Selected is set on groups the given user contributed to.
func (s *Store) AggregatedReactions(ctx context.Context, messageID, currentUserID string) ([]ReactionGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.q().QueryContext(ctx, `
		SELECT key, COUNT(*), MAX(CASE WHEN sender = ? THEN 1 ELSE 0 END)
		FROM reactions WHERE message_id = ?
		GROUP BY key ORDER BY key
	`, currentUserID, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate reactions: %w", err)
	}
	defer rows.Close()

	var groups []ReactionGroup
	for rows.Next() {
		var g ReactionGroup
		var selected int
		if err := rows.Scan(&g.Key, &g.Count, &selected); err != nil {
			return nil, fmt.Errorf("failed to scan reaction group: %w", err)
		}
		g.Selected = selected == 1
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reaction groups: %w", err)
	}
	return groups, nil
}

// GenerateName derives a room display name from up to five other active
// members' display names or ids, joined by commas. Used when the room
// has no server-assigned name.
func (s *Store) GenerateName(ctx context.Context, roomID, excludingUserID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.q().QueryContext(ctx, `
		SELECT COALESCE(display_name, user_id)
		FROM members
		WHERE room_id = ? AND active = 1 AND user_id != ?
		ORDER BY user_id LIMIT 5
	`, roomID, excludingUserID)
	if err != nil {
		return "", fmt.Errorf("failed to query members for name: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", fmt.Errorf("failed to scan member name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("error iterating member names: %w", err)
	}
	return strings.Join(names, ", "), nil
}

// RefreshRoomCaches recomputes the room's cached last-activity timestamp
// and excerpt from the current message set. Called after each reconciled
// batch so the room list renders without recomputation.
func (s *Store) RefreshRoomCaches(ctx context.Context, roomID string) error {
	last, err := s.LastMessage(ctx, roomID)
	if errors.Is(err, ErrNotFound) {
		return s.execRoomUpdate(ctx,
			`UPDATE rooms SET last_activity_ts = 0, excerpt = '' WHERE id = ?`, roomID)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	body, err := s.displayBodyLocked(ctx, last.ID)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.execRoomUpdate(ctx,
		`UPDATE rooms SET last_activity_ts = ?, excerpt = ? WHERE id = ?`,
		last.Timestamp, body, roomID)
}
