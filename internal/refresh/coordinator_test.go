package refresh

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdesk/taskdesk/internal/client"
	"github.com/taskdesk/taskdesk/internal/session"
)

// harness is a fake API whose protected routes accept exactly one token
// and whose refresh endpoint is scripted per test
type harness struct {
	t       *testing.T
	store   *session.Store
	client  *client.Client
	coord   *Coordinator
	server  *httptest.Server
	refresh http.HandlerFunc

	mu         sync.Mutex
	valid      string
	authByPath map[string][]string
	refreshes  atomic.Int32
}

func newHarness(t *testing.T, valid string, refresh http.HandlerFunc) *harness {
	t.Helper()
	h := &harness{
		t:          t,
		valid:      valid,
		refresh:    refresh,
		authByPath: make(map[string][]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		h.refreshes.Add(1)
		h.refresh(w, r)
	})
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		h.mu.Lock()
		h.authByPath[r.URL.Path] = append(h.authByPath[r.URL.Path], auth)
		ok := auth == "Bearer "+h.valid
		h.mu.Unlock()

		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"token expired"}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	})
	h.server = httptest.NewServer(mux)
	t.Cleanup(h.server.Close)

	h.store = session.NewStore(nil, zerolog.Nop())
	h.client = client.New(h.server.URL, h.store, zerolog.Nop())
	h.coord = New(h.client, h.store, zerolog.Nop())
	h.client.SetRefresher(h.coord)
	return h
}

func (h *harness) auths(path string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.authByPath[path]...)
}

// waitForWaiters blocks the refresh handler until n callers are queued
func (h *harness) waitForWaiters(n int) {
	deadline := time.Now().Add(5 * time.Second)
	for h.coord.Waiting() < n {
		if time.Now().After(deadline) {
			h.t.Errorf("only %d of %d waiters queued", h.coord.Waiting(), n)
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// fireConcurrently issues n GETs to /api/items/<i> at once
func (h *harness) fireConcurrently(n int) []error {
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.client.Do(context.Background(), &client.Request{
				Method: http.MethodGet,
				Path:   fmt.Sprintf("/api/items/%d", i),
			})
		}(i)
	}
	wg.Wait()
	return errs
}

func TestCoordinator_ConcurrentFailuresShareOneRefresh(t *testing.T) {
	for _, n := range []int{1, 2, 8, 32} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			var h *harness
			h = newHarness(t, "T2", func(w http.ResponseWriter, r *http.Request) {
				h.waitForWaiters(n - 1)
				w.Write([]byte(`{"accessToken":"T2","user":{"id":"u1"}}`))
			})
			h.store.SetAuthenticated("T1", &session.User{ID: "u1"})

			errs := h.fireConcurrently(n)

			for i, err := range errs {
				require.NoError(t, err, "request %d", i)
				assert.Equal(t, []string{"Bearer T1", "Bearer T2"}, h.auths(fmt.Sprintf("/api/items/%d", i)),
					"request %d must be retried exactly once with the new token", i)
			}
			assert.EqualValues(t, 1, h.refreshes.Load())
			assert.Equal(t, 1, h.coord.Cycles())
			assert.Equal(t, Idle, h.coord.State())
			assert.Zero(t, h.coord.Waiting())
			assert.Equal(t, "T2", h.store.Current().AccessToken)
		})
	}
}

func TestCoordinator_TwoRequestsShareRefresh(t *testing.T) {
	var h *harness
	h = newHarness(t, "T2", func(w http.ResponseWriter, r *http.Request) {
		h.waitForWaiters(1)
		w.Write([]byte(`{"accessToken":"T2"}`))
	})
	h.store.SetAuthenticated("T1", &session.User{ID: "u1"})

	var wg sync.WaitGroup
	var errX, errY error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errX = h.client.Do(context.Background(), &client.Request{Method: http.MethodGet, Path: "/api/x"})
	}()
	go func() {
		defer wg.Done()
		_, errY = h.client.Do(context.Background(), &client.Request{Method: http.MethodGet, Path: "/api/y"})
	}()
	wg.Wait()

	require.NoError(t, errX)
	require.NoError(t, errY)
	assert.EqualValues(t, 1, h.refreshes.Load())
	assert.Equal(t, "Bearer T2", h.auths("/api/x")[1])
	assert.Equal(t, "Bearer T2", h.auths("/api/y")[1])

	// The refresh response had no user, so the previous one is kept
	require.NotNil(t, h.store.Current().User)
	assert.Equal(t, "u1", h.store.Current().User.ID)
}

func TestCoordinator_AccessTokenUnderscoreField(t *testing.T) {
	var h *harness
	h = newHarness(t, "T2", func(w http.ResponseWriter, r *http.Request) {
		h.waitForWaiters(1)
		w.Write([]byte(`{"access_token":"T2","user":{"id":"u2"}}`))
	})
	h.store.SetAuthenticated("T1", &session.User{ID: "u1"})

	errs := h.fireConcurrently(2)
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	assert.EqualValues(t, 1, h.refreshes.Load())
	assert.Equal(t, "T2", h.store.Current().AccessToken)
	assert.Equal(t, "u2", h.store.Current().User.ID)
	assert.Equal(t, "Bearer T2", h.client.DefaultHeader().Get("Authorization"))
}

func TestCoordinator_RefreshFailureClearsSessionAndRejectsWaiters(t *testing.T) {
	const n = 5
	var h *harness
	h = newHarness(t, "T2", func(w http.ResponseWriter, r *http.Request) {
		h.waitForWaiters(n - 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"refresh cookie expired"}`))
	})
	h.store.SetAuthenticated("T1", &session.User{ID: "u1"})

	errs := h.fireConcurrently(n)

	for i, err := range errs {
		require.Error(t, err, "request %d", i)
		assert.True(t, errors.Is(err, ErrRefreshFailed), "request %d: %v", i, err)
		assert.False(t, client.IsAuthExpired(err), "request %d: a failed refresh is not recoverable", i)

		var rerr *RefreshError
		require.True(t, errors.As(err, &rerr))
		var se *client.StatusError
		assert.True(t, errors.As(rerr.Err, &se))

		assert.Len(t, h.auths(fmt.Sprintf("/api/items/%d", i)), 1, "no retry after a failed refresh")
	}

	assert.EqualValues(t, 1, h.refreshes.Load())
	cur := h.store.Current()
	assert.Empty(t, cur.AccessToken)
	assert.Nil(t, cur.User)
	assert.Empty(t, h.client.DefaultHeader().Get("Authorization"))
	assert.Equal(t, Idle, h.coord.State())
}

func TestCoordinator_SchemaErrorIsRefreshFailure(t *testing.T) {
	h := newHarness(t, "T2", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jwt":"T2"}`))
	})
	h.store.SetAuthenticated("T1", nil)

	_, err := h.client.Do(context.Background(), &client.Request{Method: http.MethodGet, Path: "/api/x"})
	require.ErrorIs(t, err, ErrRefreshFailed)
	assert.ErrorIs(t, err, client.ErrNoToken)
	assert.False(t, h.store.Current().Authenticated())
}

func TestCoordinator_RetriedRequestsNeverStartSecondCycle(t *testing.T) {
	// Refresh hands out T2 but the API only accepts T3
	var h *harness
	h = newHarness(t, "T3", func(w http.ResponseWriter, r *http.Request) {
		h.waitForWaiters(2)
		w.Write([]byte(`{"token":"T2"}`))
	})
	h.store.SetAuthenticated("T1", nil)

	errs := h.fireConcurrently(3)
	for _, err := range errs {
		require.Error(t, err)
		assert.True(t, client.IsAuthExpired(err))
		assert.False(t, errors.Is(err, ErrRefreshFailed))
	}
	assert.EqualValues(t, 1, h.refreshes.Load())
	assert.Equal(t, 1, h.coord.Cycles())
}

func TestCoordinator_NetworkErrorIsNotIntercepted(t *testing.T) {
	h := newHarness(t, "T1", func(w http.ResponseWriter, r *http.Request) {
		t.Error("refresh must not be called")
	})
	h.store.SetAuthenticated("T1", nil)
	h.server.Close()

	_, err := h.client.Do(context.Background(), &client.Request{Method: http.MethodGet, Path: "/api/x"})
	var nerr *client.NetworkError
	require.True(t, errors.As(err, &nerr))
	assert.Zero(t, h.coord.Cycles())
	assert.Equal(t, "T1", h.store.Current().AccessToken)
}

func TestCoordinator_CancelledWaiterDoesNotAbortRefresh(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, "T2", func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`{"accessToken":"T2"}`))
	})
	h.store.SetAuthenticated("T1", nil)

	leaderDone := make(chan error, 1)
	go func() { leaderDone <- h.coord.Refresh(context.Background()) }()

	require.Eventually(t, func() bool { return h.coord.State() == Refreshing }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	waiterDone := make(chan error, 1)
	go func() { waiterDone <- h.coord.Await(ctx) }()
	require.Eventually(t, func() bool { return h.coord.Waiting() == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-waiterDone, context.Canceled)

	close(release)
	require.NoError(t, <-leaderDone)
	assert.Equal(t, "T2", h.store.Current().AccessToken)
	assert.Equal(t, Idle, h.coord.State())
}

func TestCoordinator_SequentialCyclesAfterIdle(t *testing.T) {
	var next atomic.Int32
	h := newHarness(t, "", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"accessToken":"T%d"}`, next.Add(1)+1)
	})

	require.NoError(t, h.coord.Refresh(context.Background()))
	assert.Equal(t, "T2", h.store.Current().AccessToken)
	require.NoError(t, h.coord.Refresh(context.Background()))
	assert.Equal(t, "T3", h.store.Current().AccessToken)
	assert.Equal(t, 2, h.coord.Cycles())
}

// blockingSender holds every refresh call until release is closed
type blockingSender struct {
	started chan struct{}
	release chan struct{}
	body    string
	err     error
}

func newBlockingSender(body string) *blockingSender {
	return &blockingSender{started: make(chan struct{}, 1), release: make(chan struct{}), body: body}
}

func (b *blockingSender) Send(ctx context.Context, req *client.Request) (*client.Response, error) {
	b.started <- struct{}{}
	<-b.release
	if b.err != nil {
		return nil, b.err
	}
	return &client.Response{StatusCode: http.StatusOK, Body: []byte(b.body)}, nil
}

func TestCoordinator_ReleasesWaitersInArrivalOrder(t *testing.T) {
	const k = 6
	sender := newBlockingSender(`{"accessToken":"T2"}`)
	store := session.NewStore(nil, zerolog.Nop())
	store.SetAuthenticated("T1", nil)
	coord := New(sender, store, zerolog.Nop())

	var mu sync.Mutex
	var released []int
	coord.onRelease = func(seq int) {
		mu.Lock()
		released = append(released, seq)
		mu.Unlock()
	}

	leaderDone := make(chan error, 1)
	go func() { leaderDone <- coord.Refresh(context.Background()) }()
	<-sender.started

	results := make([]chan error, k)
	for i := 0; i < k; i++ {
		results[i] = make(chan error, 1)
		go func(ch chan error) { ch <- coord.Refresh(context.Background()) }(results[i])
		require.Eventually(t, func() bool { return coord.Waiting() == i+1 }, time.Second, time.Millisecond)
	}

	close(sender.release)
	require.NoError(t, <-leaderDone)
	for i, ch := range results {
		assert.NoError(t, <-ch, "waiter %d", i+1)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, released)
	assert.Equal(t, 1, coord.Cycles())
}

func TestCoordinator_LogoutDuringRefreshDiscardsNewToken(t *testing.T) {
	sender := newBlockingSender(`{"accessToken":"T2","user":{"id":"u1"}}`)
	store := session.NewStore(nil, zerolog.Nop())
	store.SetAuthenticated("T1", &session.User{ID: "u1"})
	coord := New(sender, store, zerolog.Nop())

	leaderDone := make(chan error, 1)
	go func() { leaderDone <- coord.Refresh(context.Background()) }()
	<-sender.started

	waiterDone := make(chan error, 1)
	go func() { waiterDone <- coord.Await(context.Background()) }()
	require.Eventually(t, func() bool { return coord.Waiting() == 1 }, time.Second, time.Millisecond)

	store.Clear()
	close(sender.release)

	for _, err := range []error{<-leaderDone, <-waiterDone} {
		require.ErrorIs(t, err, ErrRefreshFailed)
		assert.ErrorIs(t, err, ErrSessionCleared)
	}
	cur := store.Current()
	assert.Empty(t, cur.AccessToken)
	assert.Nil(t, cur.User)
	assert.Equal(t, Idle, coord.State())
}

func TestCoordinator_StaleFailureKeepsNewLogin(t *testing.T) {
	sender := newBlockingSender("")
	sender.err = &client.StatusError{Status: http.StatusUnauthorized}
	store := session.NewStore(nil, zerolog.Nop())
	store.SetAuthenticated("T1", nil)
	coord := New(sender, store, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- coord.Refresh(context.Background()) }()
	<-sender.started

	store.Clear()
	store.SetLoggedIn("T9", "", &session.User{ID: "u9"})
	close(sender.release)

	err := <-done
	require.ErrorIs(t, err, ErrRefreshFailed)
	assert.False(t, client.IsAuthExpired(err))
	assert.Equal(t, "T9", store.Current().AccessToken)
}
