// Package refresh coordinates access-token refreshes so that any number of
// requests failing with an expired token share a single refresh call.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskdesk/taskdesk/internal/client"
	"github.com/taskdesk/taskdesk/internal/session"
)

// DefaultPath is the refresh endpoint. It authenticates with an HTTP-only
// cookie held by the transport, not with anything this package stores.
const DefaultPath = "/auth/refresh"

// State of the coordinator
type State int

const (
	Idle State = iota
	Refreshing
)

func (s State) String() string {
	if s == Refreshing {
		return "refreshing"
	}
	return "idle"
}

// ErrRefreshFailed matches every RefreshError
var ErrRefreshFailed = errors.New("session refresh failed")

// ErrSessionCleared is the cause of a RefreshError when the session was
// cleared (usually by logout) while the refresh call was in flight. Its
// outcome is discarded.
var ErrSessionCleared = errors.New("session cleared during refresh")

// RefreshError is returned to the caller that triggered a failed refresh and
// to every waiter of that cycle. The session is no longer the one that was
// being refreshed: it was cleared by the failure or before it.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("%v: %v", ErrRefreshFailed, e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

func (e *RefreshError) Is(target error) bool {
	return target == ErrRefreshFailed
}

// SessionEnded marks the error as fatal for the session, so
// client.IsAuthExpired does not report it even when the cause was a 401.
func (e *RefreshError) SessionEnded() bool {
	return true
}

// Sender performs a call without refresh interception
type Sender interface {
	Send(ctx context.Context, req *client.Request) (*client.Response, error)
}

// Store is the part of the session store the coordinator writes. Outcomes
// are applied only if the session has not been cleared since the cycle began.
type Store interface {
	Current() session.Session
	Epoch() uint64
	SetAuthenticatedAt(epoch uint64, token string, user *session.User) bool
	ClearAt(epoch uint64) bool
}

type waiter struct {
	seq int
	ch  chan error
}

// Coordinator runs at most one refresh at a time. Callers arriving while a
// refresh is outstanding queue up and are released in arrival order with the
// outcome of that refresh.
type Coordinator struct {
	sender Sender
	store  Store
	path   string
	logger zerolog.Logger

	mu      sync.Mutex
	state   State
	waiters []waiter
	cycles  int

	// onRelease, if set, sees each waiter's arrival number as it is released
	onRelease func(seq int)
}

// New creates a coordinator that refreshes through sender (normally the
// client's Send, so the refresh call itself is never intercepted).
func New(sender Sender, store Store, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		sender: sender,
		store:  store,
		path:   DefaultPath,
		logger: logger.With().Str("component", "refresh").Logger(),
	}
}

// SetPath overrides the refresh endpoint
func (c *Coordinator) SetPath(path string) {
	c.path = path
}

// Await implements client.Refresher. It either starts a refresh or joins the
// one in flight, and returns its outcome.
func (c *Coordinator) Await(ctx context.Context) error {
	return c.join(ctx)
}

// Refresh is the entry used outside the request pipeline (the session guard).
// It shares the single-flight cycle with Await.
func (c *Coordinator) Refresh(ctx context.Context) error {
	return c.join(ctx)
}

// State reports whether a refresh is in flight
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Waiting returns the number of queued waiters
func (c *Coordinator) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Cycles returns how many refresh calls have been started
func (c *Coordinator) Cycles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycles
}

func (c *Coordinator) join(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Refreshing {
		w := waiter{seq: len(c.waiters) + 1, ch: make(chan error, 1)}
		c.waiters = append(c.waiters, w)
		c.mu.Unlock()

		c.logger.Debug().Int("position", w.seq).Msg("Joined in-flight refresh")

		select {
		case err := <-w.ch:
			return err
		case <-ctx.Done():
			// The buffered channel still receives the outcome; nobody leaks.
			return ctx.Err()
		}
	}

	// Flip to Refreshing before any I/O so concurrent callers queue up
	c.state = Refreshing
	c.cycles++
	onRelease := c.onRelease
	c.mu.Unlock()

	// A caller giving up must not abort a refresh other callers depend on
	err := c.refresh(context.WithoutCancel(ctx), c.store.Epoch())

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.state = Idle
	c.mu.Unlock()

	for _, w := range waiters {
		if onRelease != nil {
			onRelease(w.seq)
		}
		w.ch <- err
	}

	if len(waiters) > 0 {
		c.logger.Debug().Int("waiters", len(waiters)).Bool("ok", err == nil).Msg("Released refresh waiters")
	}
	return err
}

func (c *Coordinator) refresh(ctx context.Context, epoch uint64) error {
	start := time.Now()

	resp, err := c.sender.Send(ctx, &client.Request{Method: http.MethodPost, Path: c.path})
	if err != nil {
		return c.fail(err, epoch, start)
	}

	tr, err := client.ParseTokenResponse(resp.Body, client.RefreshTokenFields)
	if err != nil {
		return c.fail(err, epoch, start)
	}

	user := tr.User
	if user == nil {
		// The refresh response may omit the user; keep the one we had
		user = c.store.Current().User
	}
	if !c.store.SetAuthenticatedAt(epoch, tr.AccessToken, user) {
		c.logger.Info().Dur("took", time.Since(start)).Msg("Session cleared during refresh, new token discarded")
		return &RefreshError{Err: ErrSessionCleared}
	}

	c.logger.Info().
		Str("token_field", tr.Field).
		Dur("took", time.Since(start)).
		Msg("Access token refreshed")
	return nil
}

func (c *Coordinator) fail(err error, epoch uint64, start time.Time) error {
	// A session cleared meanwhile may already belong to a new login
	cleared := c.store.ClearAt(epoch)
	c.logger.Warn().Err(err).Bool("cleared", cleared).Dur("took", time.Since(start)).Msg("Refresh failed")
	return &RefreshError{Err: err}
}
