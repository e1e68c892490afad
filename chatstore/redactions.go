package chatstore

import (
	"context"
	"fmt"
)

// InsertPendingRedaction persists a redaction whose target is not yet
// known locally, scoped to the room. Idempotent on event id.
func (s *Store) InsertPendingRedaction(ctx context.Context, r *Redaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.ensureTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO redactions (id, room_id, target_id, sender, ts)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, r.ID, r.RoomID, r.TargetID, r.Sender, r.TS)
	if err != nil {
		return fmt.Errorf("failed to insert pending redaction: %w", err)
	}
	return nil
}

// PendingRedactions lists a room's unresolved redactions.
func (s *Store) PendingRedactions(ctx context.Context, roomID string) ([]*Redaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.q().QueryContext(ctx, `
		SELECT id, room_id, target_id, sender, ts FROM redactions WHERE room_id = ?
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending redactions: %w", err)
	}
	defer rows.Close()

	var result []*Redaction
	for rows.Next() {
		r := &Redaction{}
		if err := rows.Scan(&r.ID, &r.RoomID, &r.TargetID, &r.Sender, &r.TS); err != nil {
			return nil, fmt.Errorf("failed to scan pending redaction: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending redactions: %w", err)
	}
	return result, nil
}

// DeletePendingRedaction removes a resolved (or abandoned) redaction.
func (s *Store) DeletePendingRedaction(ctx context.Context, redactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.ensureTx(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM redactions WHERE id = ?`, redactionID); err != nil {
		return fmt.Errorf("failed to delete pending redaction: %w", err)
	}
	return nil
}

// PendingRedactionCount counts unresolved redactions for a room.
func (s *Store) PendingRedactionCount(ctx context.Context, roomID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count(ctx, `SELECT COUNT(*) FROM redactions WHERE room_id = ?`, roomID)
}
