// Package guard decides whether a protected view may render. It waits for
// the session to be restored and, when no token is present, gives one
// refresh a bounded amount of time to produce one.
package guard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskdesk/taskdesk/internal/session"
)

const (
	DefaultTimeout   = 1500 * time.Millisecond
	DefaultLoginPath = "/login"
)

// State of a mount
type State int32

const (
	Checking State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "checking"
}

// Decision is the outcome of a mount. RedirectTo is set when the caller must
// re-authenticate before the protected content may render.
type Decision struct {
	Authenticated bool
	User          *session.User
	RedirectTo    string
	TimedOut      bool // the safety timer fired before the refresh settled
}

// Sessions is the part of the session store the guard reads
type Sessions interface {
	Current() session.Session
	Hydrate(ctx context.Context) error
	Hydrated() <-chan struct{}
}

// Refresher starts (or joins) a token refresh
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Options configures a Guard
type Options struct {
	Timeout   time.Duration
	LoginPath string
}

// Guard creates mounts sharing one store and refresher
type Guard struct {
	sessions  Sessions
	refresher Refresher
	opts      Options
	logger    zerolog.Logger
}

func New(sessions Sessions, refresher Refresher, opts Options, logger zerolog.Logger) *Guard {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.LoginPath == "" {
		opts.LoginPath = DefaultLoginPath
	}
	return &Guard{
		sessions:  sessions,
		refresher: refresher,
		opts:      opts,
		logger:    logger.With().Str("component", "guard").Logger(),
	}
}

// Mount starts a new check for one protected-view mount
func (g *Guard) Mount() *Mount {
	return &Mount{guard: g, ready: make(chan struct{})}
}

// Check mounts and resolves in one call
func (g *Guard) Check(ctx context.Context) (Decision, error) {
	return g.Mount().Resolve(ctx)
}

// Mount is a single CHECKING -> READY pass
type Mount struct {
	guard *Guard
	state atomic.Int32
	ready chan struct{}

	mu        sync.Mutex
	attempted bool
	decision  *Decision
}

// State reports Checking until Resolve has produced a decision
func (m *Mount) State() State {
	return State(m.state.Load())
}

// Ready is closed when the mount reaches Ready
func (m *Mount) Ready() <-chan struct{} {
	return m.ready
}

// Resolve runs the check and returns the decision. Later calls return the
// same decision. If ctx ends first the mount stays Checking and ctx.Err()
// is returned.
//
// When the safety timer wins, a refresh may still be running and may still
// change the session afterwards. Resolve does not wait for or cancel it.
func (m *Mount) Resolve(ctx context.Context) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.decision != nil {
		return *m.decision, nil
	}

	g := m.guard
	start := time.Now()

	select {
	case <-g.sessions.Hydrated():
	default:
		// Hydrate errors are logged by the store, which still marks itself hydrated
		_ = g.sessions.Hydrate(ctx)
		select {
		case <-g.sessions.Hydrated():
		case <-ctx.Done():
			return Decision{}, ctx.Err()
		}
	}

	timedOut := false
	if !g.sessions.Current().Authenticated() && !m.attempted {
		m.attempted = true

		settled := make(chan error, 1)
		go func() {
			settled <- g.refresher.Refresh(context.WithoutCancel(ctx))
		}()

		timer := time.NewTimer(g.opts.Timeout)
		defer timer.Stop()

		select {
		case err := <-settled:
			if err != nil {
				g.logger.Debug().Err(err).Msg("Mount refresh failed")
			}
		case <-timer.C:
			timedOut = true
			g.logger.Warn().Dur("timeout", g.opts.Timeout).Msg("Session check timed out, refresh continues in background")
		case <-ctx.Done():
			return Decision{}, ctx.Err()
		}
	}

	// Read fresh: another flow (an explicit login) may have won meanwhile
	cur := g.sessions.Current()
	d := Decision{
		Authenticated: cur.Authenticated(),
		User:          cur.User,
		TimedOut:      timedOut,
	}
	if !d.Authenticated {
		d.RedirectTo = g.opts.LoginPath
	}

	m.decision = &d
	m.state.Store(int32(Ready))
	close(m.ready)

	g.logger.Debug().
		Bool("authenticated", d.Authenticated).
		Bool("timed_out", timedOut).
		Dur("took", time.Since(start)).
		Msg("Session check ready")

	return d, nil
}
