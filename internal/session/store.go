package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Store owns the current session. All methods are safe for concurrent use.
//
// Mutations are applied under a write lock and then, still in mutation order,
// announced to subscribers and written to the repository. Readers never wait on
// persistence. Subscribers must not mutate the store.
type Store struct {
	mu    sync.RWMutex
	state Session
	// epoch counts Clear calls
	epoch uint64

	// mutateMu orders mutation, notification and persistence
	mutateMu  sync.Mutex
	listeners map[int]func(Session)
	nextID    int

	repo   Repository
	logger zerolog.Logger

	hydrateOnce sync.Once
	restoreOnce sync.Once
	hydrated    chan struct{}
}

// NewStore creates an empty, not yet hydrated store. repo may be nil, in which
// case nothing is persisted.
func NewStore(repo Repository, logger zerolog.Logger) *Store {
	return &Store{
		repo:      repo,
		logger:    logger.With().Str("component", "session").Logger(),
		listeners: make(map[int]func(Session)),
		hydrated:  make(chan struct{}),
	}
}

// Current returns a snapshot of the live session.
func (s *Store) Current() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.state
	snap.User = s.state.User.clone()
	return snap
}

// SetAuthenticated replaces the access token and user together.
func (s *Store) SetAuthenticated(token string, user *User) {
	s.mutate(func(st *Session) bool {
		st.AccessToken = token
		st.User = user.clone()
		return true
	}, true)

	s.logger.Debug().Bool("has_user", user != nil).Msg("Session authenticated")
}

// SetLoggedIn installs a fresh login: token, placeholder and user in one
// mutation. An empty placeholder drops the previous one.
func (s *Store) SetLoggedIn(token, placeholder string, user *User) {
	s.mutate(func(st *Session) bool {
		st.AccessToken = token
		st.RefreshToken = placeholder
		st.User = user.clone()
		return true
	}, true)

	s.logger.Debug().Bool("has_user", user != nil).Msg("Session logged in")
}

// Epoch changes every time the session is cleared. A caller that captured
// it before slow work can tell whether the session it worked for still exists.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// SetAuthenticatedAt is SetAuthenticated applied only if the store is still
// at epoch. It reports whether the update was applied.
func (s *Store) SetAuthenticatedAt(epoch uint64, token string, user *User) bool {
	applied := s.mutate(func(st *Session) bool {
		if s.epoch != epoch {
			return false
		}
		st.AccessToken = token
		st.User = user.clone()
		return true
	}, true)

	if !applied {
		s.logger.Debug().Msg("Session cleared meanwhile, token update dropped")
	}
	return applied
}

// Clear wipes the token, the placeholder and the user.
func (s *Store) Clear() {
	s.mutate(func(st *Session) bool {
		s.clearLocked(st)
		return true
	}, true)

	s.logger.Debug().Msg("Session cleared")
}

// ClearAt is Clear applied only if the store is still at epoch.
func (s *Store) ClearAt(epoch uint64) bool {
	return s.mutate(func(st *Session) bool {
		if s.epoch != epoch {
			return false
		}
		s.clearLocked(st)
		return true
	}, true)
}

func (s *Store) clearLocked(st *Session) {
	st.AccessToken = ""
	st.RefreshToken = ""
	st.User = nil
	s.epoch++
}

// Restore applies a persisted blob. It takes effect once; later calls are
// ignored. A session established before hydration (an early login) wins over
// the blob. Hydrated is set as the final step whether or not a token was found.
func (s *Store) Restore(blob *Blob) {
	s.restoreOnce.Do(func() {
		s.mutate(func(st *Session) bool {
			if !st.Authenticated() && !blob.Empty() {
				st.AccessToken = blob.AccessToken
				st.RefreshToken = blob.RefreshTokenPlaceholder
				st.User = blob.User.clone()
			}
			st.Hydrated = true
			return true
		}, false)
		close(s.hydrated)

		s.logger.Debug().Bool("authenticated", s.Current().Authenticated()).Msg("Session hydrated")
	})
}

// Hydrate loads the persisted blob and restores it, once per store. A load
// failure is logged and returned, and the store is still marked hydrated
// with an empty session.
func (s *Store) Hydrate(ctx context.Context) error {
	var loadErr error
	s.hydrateOnce.Do(func() {
		var blob *Blob
		if s.repo != nil {
			blob, loadErr = s.repo.Load(ctx)
			if loadErr != nil {
				s.logger.Warn().Err(loadErr).Msg("Failed to load persisted session")
				blob = nil
			}
		}
		s.Restore(blob)
	})
	return loadErr
}

// Hydrated is closed once Restore has run.
func (s *Store) Hydrated() <-chan struct{} {
	return s.hydrated
}

// IsHydrated reports whether Restore has run.
func (s *Store) IsHydrated() bool {
	select {
	case <-s.hydrated:
		return true
	default:
		return false
	}
}

// Subscribe registers fn to be called with the new snapshot after every
// mutation. The returned function removes the subscription.
func (s *Store) Subscribe(fn func(Session)) func() {
	s.mutateMu.Lock()
	defer s.mutateMu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.mutateMu.Lock()
		defer s.mutateMu.Unlock()
		delete(s.listeners, id)
	}
}

// mutate applies a change under the write lock. apply returns false to leave
// the session untouched, in which case nobody is notified.
func (s *Store) mutate(apply func(*Session) bool, persist bool) bool {
	s.mutateMu.Lock()
	defer s.mutateMu.Unlock()

	s.mu.Lock()
	if !apply(&s.state) {
		s.mu.Unlock()
		return false
	}
	snap := s.state
	snap.User = s.state.User.clone()
	s.mu.Unlock()

	for _, fn := range s.listeners {
		fn(snap)
	}

	if persist && s.repo != nil {
		blob := &Blob{
			AccessToken:             snap.AccessToken,
			RefreshTokenPlaceholder: snap.RefreshToken,
			User:                    snap.User,
		}
		if err := s.repo.Save(context.Background(), blob); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to persist session")
		}
	}
	return true
}
