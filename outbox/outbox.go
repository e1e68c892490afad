// Package outbox tracks locally-originated messages before the server
// confirms them. Transactions live outside the entity store so an
// unconfirmed or failed send still renders; they are dropped when the
// matching event echoes back through sync.
package outbox

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Counter allocates session-unique, monotonically increasing numbers.
// Implementations persist their state across restarts; chatstore's
// NextTxnID satisfies this via the session record.
type Counter interface {
	Next(ctx context.Context) (int64, error)
}

// CounterFunc adapts a function to the Counter interface.
type CounterFunc func(ctx context.Context) (int64, error)

// Next calls f.
func (f CounterFunc) Next(ctx context.Context) (int64, error) { return f(ctx) }

// txnPrefix distinguishes this client's transaction ids from other
// sessions reusing the same numeric range.
const txnPrefix = "wx"

// FormatTxnID encodes a counter value in compact base-36 form.
func FormatTxnID(n int64) string {
	return txnPrefix + strconv.FormatInt(n, 36)
}

// Transaction is one outbound send awaiting confirmation.
type Transaction struct {
	ID            string
	RoomID        string
	Body          string
	FormattedBody string // set for replies
	ReplyToID     string // quoted event id, empty for plain messages
	EventID       string // server event id, set on success
	Err           error  // last send failure, nil while in flight or delivered
	CreatedAt     time.Time
}

// IsDelivered reports whether the server confirmed the send.
func (t *Transaction) IsDelivered() bool { return t.EventID != "" }

// Content builds the wire content for this transaction, including the
// reply relationship when present.
func (t *Transaction) Content() map[string]any {
	content := map[string]any{
		"msgtype": "m.text",
		"body":    t.Body,
	}
	if t.ReplyToID != "" {
		content["format"] = "org.matrix.custom.html"
		content["formatted_body"] = t.FormattedBody
		content["m.relates_to"] = map[string]any{
			"m.in_reply_to": map[string]any{"event_id": t.ReplyToID},
		}
	}
	return content
}

// roomOutbox holds one room's transactions in creation order.
type roomOutbox struct {
	order []string
	byID  map[string]*Transaction
}

// Manager groups pending transactions per room. All methods are safe
// for concurrent use.
type Manager struct {
	counter Counter

	mu    sync.Mutex
	rooms map[string]*roomOutbox
}

// NewManager creates a Manager drawing ids from counter.
func NewManager(counter Counter) *Manager {
	return &Manager{
		counter: counter,
		rooms:   make(map[string]*roomOutbox),
	}
}

// Create builds and registers a transaction for a message in roomID.
// When replyTo is non-nil the body is rewritten with a quoted fallback
// and a formatted rich-reply body.
func (m *Manager) Create(ctx context.Context, roomID, body string, replyTo *ReplyContext) (*Transaction, error) {
	n, err := m.counter.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate transaction id: %w", err)
	}

	txn := &Transaction{
		ID:        FormatTxnID(n),
		RoomID:    roomID,
		Body:      body,
		CreatedAt: time.Now(),
	}
	if replyTo != nil {
		txn.ReplyToID = replyTo.EventID
		txn.Body = replyTo.QuotedBody(body)
		txn.FormattedBody = replyTo.QuotedFormattedBody(body)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	room := m.rooms[roomID]
	if room == nil {
		room = &roomOutbox{byID: make(map[string]*Transaction)}
		m.rooms[roomID] = room
	}
	room.order = append(room.order, txn.ID)
	room.byID[txn.ID] = txn
	return txn, nil
}

// Get returns a transaction by room and id, or nil.
func (m *Manager) Get(roomID, txnID string) *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room := m.rooms[roomID]; room != nil {
		return room.byID[txnID]
	}
	return nil
}

// Pending lists a room's transactions in creation order.
func (m *Manager) Pending(roomID string) []*Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	room := m.rooms[roomID]
	if room == nil {
		return nil
	}
	result := make([]*Transaction, 0, len(room.order))
	for _, id := range room.order {
		result = append(result, room.byID[id])
	}
	return result
}

// MarkDelivered records the server-assigned event id for a send.
func (m *Manager) MarkDelivered(roomID, txnID, eventID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room := m.rooms[roomID]; room != nil {
		if txn := room.byID[txnID]; txn != nil {
			txn.EventID = eventID
			txn.Err = nil
		}
	}
}

// MarkFailed records a send failure. The transaction stays for retry.
func (m *Manager) MarkFailed(roomID, txnID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room := m.rooms[roomID]; room != nil {
		if txn := room.byID[txnID]; txn != nil {
			txn.Err = err
		}
	}
}

// Retry re-issues a failed send with the same transaction id and
// content, so the server can deduplicate. send receives the transaction
// and returns the confirmed event id.
func (m *Manager) Retry(ctx context.Context, roomID, txnID string, send func(context.Context, *Transaction) (string, error)) error {
	txn := m.Get(roomID, txnID)
	if txn == nil {
		return fmt.Errorf("no transaction %s in room %s", txnID, roomID)
	}

	eventID, err := send(ctx, txn)
	if err != nil {
		m.MarkFailed(roomID, txnID, err)
		return err
	}
	m.MarkDelivered(roomID, txnID, eventID)
	return nil
}

// Discard removes a transaction without retrying.
func (m *Manager) Discard(roomID, txnID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(roomID, txnID)
}

// MatchEcho removes and returns the transaction whose id was echoed back
// on a synced event, or nil when the echo belongs to another session.
func (m *Manager) MatchEcho(roomID, txnID string) *Transaction {
	if txnID == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	room := m.rooms[roomID]
	if room == nil {
		return nil
	}
	txn := room.byID[txnID]
	if txn == nil {
		return nil
	}
	m.removeLocked(roomID, txnID)
	return txn
}

func (m *Manager) removeLocked(roomID, txnID string) {
	room := m.rooms[roomID]
	if room == nil {
		return
	}
	if _, ok := room.byID[txnID]; !ok {
		return
	}
	delete(room.byID, txnID)
	for i, id := range room.order {
		if id == txnID {
			room.order = append(room.order[:i], room.order[i+1:]...)
			break
		}
	}
}
