package chatstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// EnsureSession creates the per-user session row on first use and
// returns its locally generated device id. Subsequent calls return the
// persisted id. The session row also carries the sync cursor and the
// outbound transaction counter.
func (s *Store) EnsureSession(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deviceID string
	err := s.q().QueryRowContext(ctx,
		`SELECT device_id FROM session WHERE user_id = ?`, userID).Scan(&deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		deviceID = uuid.New().String()
		tx, err := s.ensureTx(ctx)
		if err != nil {
			return "", err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session (user_id, device_id, next_batch, next_txn_id)
			VALUES (?, ?, NULL, 1)
		`, userID, deviceID); err != nil {
			return "", fmt.Errorf("failed to insert session: %w", err)
		}
		return deviceID, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query session: %w", err)
	}
	return deviceID, nil
}

// Cursor returns the persisted sync continuation token, or nil when no
// successful sync has completed (forcing an initial sync).
func (s *Store) Cursor(ctx context.Context, userID string) (*string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next sql.NullString
	err := s.q().QueryRowContext(ctx,
		`SELECT next_batch FROM session WHERE user_id = ?`, userID).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cursor: %w", err)
	}
	if !next.Valid {
		return nil, nil
	}
	return &next.String, nil
}

// SetCursor stores the continuation token in the working set, so it is
// committed atomically with the reconciled batch it belongs to.
func (s *Store) SetCursor(ctx context.Context, userID, nextBatch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.ensureTx(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE session SET next_batch = ? WHERE user_id = ?`, nextBatch, userID); err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}
	return nil
}

// ClearCursor resets the cursor, forcing the next sync to start over.
func (s *Store) ClearCursor(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.ensureTx(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE session SET next_batch = NULL WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to clear cursor: %w", err)
	}
	return nil
}

// NextTxnID allocates the next session-unique outbound transaction
// number, monotonically increasing and persisted across restarts. The
// allocation joins the working set; callers should Save before the id
// leaves the process.
func (s *Store) NextTxnID(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.ensureTx(ctx)
	if err != nil {
		return 0, err
	}
	var next int64
	err = tx.QueryRowContext(ctx,
		`SELECT next_txn_id FROM session WHERE user_id = ?`, userID).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query txn counter: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE session SET next_txn_id = ? WHERE user_id = ?`, next+1, userID); err != nil {
		return 0, fmt.Errorf("failed to advance txn counter: %w", err)
	}
	return next, nil
}
