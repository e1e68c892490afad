package chatstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertMessage writes a complete message row keyed by event id. When a
// placeholder with the same id already exists it is filled in place; the
// is_redacted flag survives the fill so a redaction that raced ahead of
// its target is not lost. Re-processing the same event id is a no-op in
// effect: the row converges to the same values.
func (s *Store) UpsertMessage(ctx context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.ensureTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, room_id, sender, body, formatted_body, reply_to,
			ts, media_url, aspect_ratio, is_redacted, pending)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0)
		ON CONFLICT(id) DO UPDATE SET
			room_id        = excluded.room_id,
			sender         = excluded.sender,
			body           = excluded.body,
			formatted_body = excluded.formatted_body,
			reply_to       = excluded.reply_to,
			ts             = excluded.ts,
			media_url      = excluded.media_url,
			aspect_ratio   = excluded.aspect_ratio,
			pending        = 0
	`, m.ID, m.RoomID, m.Sender, m.Body, m.FormattedBody, m.ReplyTo,
		m.Timestamp, m.MediaURL, m.AspectRatio)
	if err != nil {
		return fmt.Errorf("failed to upsert message: %w", err)
	}
	return nil
}

// EnsurePlaceholder creates a pending message row for an event that has
// been referenced but not yet seen. No-op when the id already exists.
func (s *Store) EnsurePlaceholder(ctx context.Context, roomID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.ensureTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, room_id, pending) VALUES (?, ?, 1)
		ON CONFLICT(id) DO NOTHING
	`, messageID, roomID)
	if err != nil {
		return fmt.Errorf("failed to create placeholder message: %w", err)
	}
	return nil
}

// Message loads one message by event id, placeholder or not.
func (s *Store) Message(ctx context.Context, messageID string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageLocked(ctx, messageID)
}

func (s *Store) messageLocked(ctx context.Context, messageID string) (*Message, error) {
	row := s.q().QueryRowContext(ctx, `
		SELECT id, room_id, sender, body, formatted_body, reply_to,
			ts, media_url, aspect_ratio, is_redacted, pending
		FROM messages WHERE id = ?
	`, messageID)
	return scanMessage(row)
}

// RoomMessages lists a room's real (non-placeholder) messages ordered by
// timestamp ascending. Redacted messages are included with their flag
// set; display layers decide how to render them.
func (s *Store) RoomMessages(ctx context.Context, roomID string, limit int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	query := `
		SELECT id, room_id, sender, body, formatted_body, reply_to,
			ts, media_url, aspect_ratio, is_redacted, pending
		FROM messages WHERE room_id = ? AND pending = 0 ORDER BY ts`
	args := []any{roomID}
	if limit > 0 {
		query += ` DESC LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var result []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	if limit > 0 {
		// The LIMIT query walks newest-first; restore ascending order.
		for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
			result[i], result[j] = result[j], result[i]
		}
	}
	return result, nil
}

// MarkRedacted tombstones a message. The row and its edits survive, but
// the body is no longer user-visible regardless of edits.
func (s *Store) MarkRedacted(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.ensureTx(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET is_redacted = 1 WHERE id = ?`, messageID); err != nil {
		return fmt.Errorf("failed to mark message redacted: %w", err)
	}
	return nil
}

// InsertReaction records a reaction, idempotent on event id.
func (s *Store) InsertReaction(ctx context.Context, r *Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.ensureTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO reactions (id, message_id, key, sender, ts)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, r.ID, r.MessageID, r.Key, r.Sender, r.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert reaction: %w", err)
	}
	return nil
}

// Reaction loads one reaction by event id.
func (s *Store) Reaction(ctx context.Context, reactionID string) (*Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reactionLocked(ctx, reactionID)
}

func (s *Store) reactionLocked(ctx context.Context, reactionID string) (*Reaction, error) {
	r := &Reaction{}
	err := s.q().QueryRowContext(ctx, `
		SELECT id, message_id, key, sender, ts FROM reactions WHERE id = ?
	`, reactionID).Scan(&r.ID, &r.MessageID, &r.Key, &r.Sender, &r.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query reaction: %w", err)
	}
	return r, nil
}

// DeleteReaction removes a reaction row, the effect of redacting it.
func (s *Store) DeleteReaction(ctx context.Context, reactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.ensureTx(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM reactions WHERE id = ?`, reactionID); err != nil {
		return fmt.Errorf("failed to delete reaction: %w", err)
	}
	return nil
}

// InsertEdit records a replacement body, idempotent on event id.
func (s *Store) InsertEdit(ctx context.Context, e *Edit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.ensureTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO edits (id, message_id, new_body, new_formatted_body, ts)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, e.ID, e.MessageID, e.NewBody, e.NewFormattedBody, e.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert edit: %w", err)
	}
	return nil
}

// MessageCount returns the number of non-placeholder messages in a room.
func (s *Store) MessageCount(ctx context.Context, roomID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count(ctx,
		`SELECT COUNT(*) FROM messages WHERE room_id = ? AND pending = 0`, roomID)
}

// ReactionCount returns the number of reactions on a message.
func (s *Store) ReactionCount(ctx context.Context, messageID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count(ctx, `SELECT COUNT(*) FROM reactions WHERE message_id = ?`, messageID)
}

// EditCount returns the number of edits recorded for a message.
func (s *Store) EditCount(ctx context.Context, messageID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count(ctx, `SELECT COUNT(*) FROM edits WHERE message_id = ?`, messageID)
}

// TotalMessageCount counts all message rows, placeholders included.
func (s *Store) TotalMessageCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count(ctx, `SELECT COUNT(*) FROM messages`)
}

func scanMessage(row rowScanner) (*Message, error) {
	m := &Message{}
	var redacted, pending int
	err := row.Scan(&m.ID, &m.RoomID, &m.Sender, &m.Body, &m.FormattedBody,
		&m.ReplyTo, &m.Timestamp, &m.MediaURL, &m.AspectRatio, &redacted, &pending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	m.Redacted = redacted == 1
	m.Pending = pending == 1
	return m, nil
}
