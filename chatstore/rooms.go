package chatstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned by single-entity lookups with no match.
var ErrNotFound = errors.New("chatstore: not found")

// UpsertRoom creates the room if unknown. Existing rows keep their
// cached attributes; sync deltas update those through the setters.
func (s *Store) UpsertRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.ensureTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO rooms (id) VALUES (?)
		ON CONFLICT(id) DO NOTHING
	`, roomID)
	if err != nil {
		return fmt.Errorf("failed to upsert room: %w", err)
	}
	return nil
}

// Room loads one room by id.
func (s *Store) Room(ctx context.Context, roomID string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.q().QueryRowContext(ctx, `
		SELECT id, name, prev_batch, unread_count, last_activity_ts, excerpt, encrypted
		FROM rooms WHERE id = ?
	`, roomID)
	return scanRoom(row)
}

// Rooms lists all rooms ordered by most recent activity.
func (s *Store) Rooms(ctx context.Context) ([]*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.q().QueryContext(ctx, `
		SELECT id, name, prev_batch, unread_count, last_activity_ts, excerpt, encrypted
		FROM rooms ORDER BY last_activity_ts DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer rows.Close()

	var result []*Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rooms: %w", err)
	}
	return result, nil
}

// HasRoom reports whether the room exists locally.
func (s *Store) HasRoom(ctx context.Context, roomID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var exists bool
	err := s.q().QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM rooms WHERE id = ?)`, roomID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check room existence: %w", err)
	}
	return exists, nil
}

// SetRoomName stores the server-assigned room name. An empty name is
// normalized to NULL, meaning the display name derives from membership.
func (s *Store) SetRoomName(ctx context.Context, roomID, name string) error {
	var v any
	if name != "" {
		v = name
	}
	return s.execRoomUpdate(ctx, `UPDATE rooms SET name = ? WHERE id = ?`, v, roomID)
}

// SetRoomPrevBatch stores the room's backward pagination token. Pass nil
// when the server reports no more history.
func (s *Store) SetRoomPrevBatch(ctx context.Context, roomID string, token *string) error {
	var v any
	if token != nil && *token != "" {
		v = *token
	}
	return s.execRoomUpdate(ctx, `UPDATE rooms SET prev_batch = ? WHERE id = ?`, v, roomID)
}

// SetRoomUnread stores the server-computed unread notification count.
func (s *Store) SetRoomUnread(ctx context.Context, roomID string, count int) error {
	return s.execRoomUpdate(ctx, `UPDATE rooms SET unread_count = ? WHERE id = ?`, count, roomID)
}

// SetRoomEncrypted flags the room as end-to-end encrypted.
func (s *Store) SetRoomEncrypted(ctx context.Context, roomID string) error {
	return s.execRoomUpdate(ctx, `UPDATE rooms SET encrypted = 1 WHERE id = ?`, roomID)
}

// DeleteRoom removes a room and, through cascade rules, every message,
// member, reaction, edit and pending redaction that references it.
func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	return s.execRoomUpdate(ctx, `DELETE FROM rooms WHERE id = ?`, roomID)
}

// DeleteRoomMessages purges all of a room's messages, cascading to their
// reactions and edits. Used when a limited timeline signals a gap.
func (s *Store) DeleteRoomMessages(ctx context.Context, roomID string) error {
	return s.execRoomUpdate(ctx, `DELETE FROM messages WHERE room_id = ?`, roomID)
}

func (s *Store) execRoomUpdate(ctx context.Context, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.ensureTx(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update room: %w", err)
	}
	return nil
}

// UpsertMember creates or refreshes a member row, marking it active.
func (s *Store) UpsertMember(ctx context.Context, m *Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.ensureTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO members (room_id, user_id, display_name, avatar_url, active)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(room_id, user_id) DO UPDATE SET
			display_name = excluded.display_name,
			avatar_url   = excluded.avatar_url,
			active       = 1
	`, m.RoomID, m.UserID, m.DisplayName, m.AvatarURL)
	if err != nil {
		return fmt.Errorf("failed to upsert member: %w", err)
	}
	return nil
}

// EnsureMember creates a minimal member row on first reference, leaving
// existing display names untouched. Members come into existence on the
// first state or message event naming them in a room.
func (s *Store) EnsureMember(ctx context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.ensureTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO members (room_id, user_id) VALUES (?, ?)
		ON CONFLICT(room_id, user_id) DO NOTHING
	`, roomID, userID)
	if err != nil {
		return fmt.Errorf("failed to ensure member: %w", err)
	}
	return nil
}

// SetMemberInactive removes a member from the room's active set without
// deleting historical authorship.
func (s *Store) SetMemberInactive(ctx context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.ensureTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE members SET active = 0 WHERE room_id = ? AND user_id = ?`, roomID, userID)
	if err != nil {
		return fmt.Errorf("failed to deactivate member: %w", err)
	}
	return nil
}

// Member loads one member by its composite key.
func (s *Store) Member(ctx context.Context, roomID, userID string) (*Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &Member{}
	var active int
	err := s.q().QueryRowContext(ctx, `
		SELECT room_id, user_id, display_name, avatar_url, active
		FROM members WHERE room_id = ? AND user_id = ?
	`, roomID, userID).Scan(&m.RoomID, &m.UserID, &m.DisplayName, &m.AvatarURL, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query member: %w", err)
	}
	m.Active = active == 1
	return m, nil
}

// Members lists a room's active members ordered by user id.
func (s *Store) Members(ctx context.Context, roomID string) ([]*Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.q().QueryContext(ctx, `
		SELECT room_id, user_id, display_name, avatar_url, active
		FROM members WHERE room_id = ? AND active = 1 ORDER BY user_id
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var result []*Member
	for rows.Next() {
		m := &Member{}
		var active int
		if err := rows.Scan(&m.RoomID, &m.UserID, &m.DisplayName, &m.AvatarURL, &active); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		m.Active = active == 1
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating members: %w", err)
	}
	return result, nil
}

// RoomCount returns the number of rooms. Intended for tests and status.
func (s *Store) RoomCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count(ctx, `SELECT COUNT(*) FROM rooms`)
}

// MemberCount returns the number of member rows for a room, active or not.
func (s *Store) MemberCount(ctx context.Context, roomID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count(ctx, `SELECT COUNT(*) FROM members WHERE room_id = ?`, roomID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*Room, error) {
	room := &Room{}
	var encrypted int
	err := row.Scan(&room.ID, &room.Name, &room.PrevBatch, &room.UnreadCount,
		&room.LastActivityTS, &room.Excerpt, &encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan room: %w", err)
	}
	room.Encrypted = encrypted == 1
	return room, nil
}
