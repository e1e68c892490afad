// Package chatsync drives the local entity store from the protocol
// event stream: a chained long-poll loop, gap detection, history
// backfill and new-room bootstrap, all applied through a reconciliation
// engine whose writes are idempotent and keyed by stable event ids.
package chatsync

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/watchtrix/watchtrix/chatstore"
	"github.com/watchtrix/watchtrix/outbox"
)

// State is the sync controller's lifecycle state.
type State int32

const (
	StateSignedOut State = iota
	StateInitialSync
	StateSyncing
	StateSyncError
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateSignedOut:
		return "signed_out"
	case StateInitialSync:
		return "initial_sync"
	case StateSyncing:
		return "syncing"
	case StateSyncError:
		return "sync_error"
	default:
		return "unknown"
	}
}

// Config holds tuning for the sync loop.
type Config struct {
	LongPollTimeout time.Duration // server-side wait for the sync long-poll
	BackoffMin      time.Duration
	BackoffMax      time.Duration
	BackfillLimit   int // events per history page
}

// DefaultConfig returns the standard sync tuning.
func DefaultConfig() *Config {
	return &Config{
		LongPollTimeout: 30 * time.Second,
		BackoffMin:      1 * time.Second,
		BackoffMax:      60 * time.Second,
		BackfillLimit:   20,
	}
}

// Client is the sync loop controller. It owns the only write path into
// the entity store: every mutation happens under writeMu, and the sync
// cursor is committed in the same save as the batch it belongs to, so a
// failed batch is simply retried from the previous cursor.
type Client struct {
	store     *chatstore.Store
	transport Transport
	engine    *Engine
	outbox    *outbox.Manager // optional; local echo removal
	logger    *slog.Logger
	config    *Config
	userID    string

	writeMu sync.Mutex // serializes store mutations across loop, backfill, bootstrap
	paused  int32
	state   int32

	bootstraps sync.WaitGroup
}

// NewClient creates a sync controller for userID.
func NewClient(store *chatstore.Store, transport Transport, userID string, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	logger := slog.Default()
	return &Client{
		store:     store,
		transport: transport,
		engine:    NewEngine(store, logger),
		logger:    logger,
		config:    config,
		userID:    userID,
	}
}

// SetLogger replaces the controller's logger.
func (c *Client) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
		c.engine.logger = logger
	}
}

// SetOutbox attaches an outbound transaction manager whose transactions
// are dropped when their echoes reconcile.
func (c *Client) SetOutbox(m *outbox.Manager) { c.outbox = m }

// Engine exposes the reconciliation engine for direct use.
func (c *Client) Engine() *Engine { return c.engine }

// State returns the controller's current lifecycle state.
func (c *Client) State() State { return State(atomic.LoadInt32(&c.state)) }

func (c *Client) setState(s State) { atomic.StoreInt32(&c.state, int32(s)) }

// Pause stops issuing new long-poll requests. A response already being
// reconciled completes; no state is lost because the cursor only
// advances after a batch commits.
func (c *Client) Pause() { atomic.StoreInt32(&c.paused, 1) }

// Resume allows the loop to long-poll again from the persisted cursor.
func (c *Client) Resume() { atomic.StoreInt32(&c.paused, 0) }

func (c *Client) isPaused() bool { return atomic.LoadInt32(&c.paused) == 1 }

// SignIn ensures the session record exists and returns its device id.
// The controller enters InitialSync when no cursor is persisted, else
// Syncing.
func (c *Client) SignIn(ctx context.Context) (string, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deviceID, err := c.store.EnsureSession(ctx, c.userID)
	if err != nil {
		return "", err
	}
	if err := c.store.Save(ctx); err != nil {
		return "", err
	}

	cursor, err := c.store.Cursor(ctx, c.userID)
	if err != nil {
		return "", err
	}
	if cursor == nil {
		c.setState(StateInitialSync)
	} else {
		c.setState(StateSyncing)
	}
	return deviceID, nil
}

// SignOut terminates the session: the cursor is cleared and, when the
// transport supports it, the server-side token is invalidated.
func (c *Client) SignOut(ctx context.Context) error {
	c.Pause()
	c.setState(StateSignedOut)

	c.writeMu.Lock()
	if err := c.store.ClearCursor(ctx, c.userID); err != nil {
		c.writeMu.Unlock()
		return err
	}
	err := c.store.Save(ctx)
	c.writeMu.Unlock()
	if err != nil {
		return err
	}

	if lo, ok := c.transport.(interface{ Logout(context.Context) error }); ok {
		if err := lo.Logout(ctx); err != nil {
			c.logger.Warn("Failed to invalidate token on sign-out", "error", err)
		}
	}
	return nil
}

// Start runs the sync loop until ctx is cancelled.
func (c *Client) Start(ctx context.Context) {
	go c.syncLoop(ctx)
}

// Wait blocks until in-flight room bootstraps finish. Mainly for tests
// and one-shot callers that need a settled store.
func (c *Client) Wait() { c.bootstraps.Wait() }
