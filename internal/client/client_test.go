package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdesk/taskdesk/internal/session"
)

// fakeRefresher swaps in a new token (or fails) when awaited
type fakeRefresher struct {
	store *session.Store
	token string
	err   error
	calls atomic.Int32
}

func (f *fakeRefresher) Await(ctx context.Context) error {
	f.calls.Add(1)
	if f.err != nil {
		return f.err
	}
	f.store.SetAuthenticated(f.token, nil)
	return nil
}

// bearerServer accepts only the given token on every path
func bearerServer(t *testing.T, valid string, seen *[]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if seen != nil {
			*seen = append(*seen, auth)
		}
		if auth != "Bearer "+valid {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"token expired"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"ok": "yes"})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDo_AttachesBearerToken(t *testing.T) {
	var seen []string
	srv := bearerServer(t, "T1", &seen)

	store := session.NewStore(nil, zerolog.Nop())
	c := New(srv.URL, store, zerolog.Nop())

	// unauthenticated: no header at all
	_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/api/projects"})
	require.Error(t, err)

	store.SetAuthenticated("T1", &session.User{ID: "u1"})
	var out map[string]string
	require.NoError(t, c.GetJSON(context.Background(), "/api/projects", &out))
	assert.Equal(t, "yes", out["ok"])

	assert.Equal(t, []string{"", "Bearer T1"}, seen)
}

func TestDefaultHeader_FollowsStore(t *testing.T) {
	store := session.NewStore(nil, zerolog.Nop())
	store.SetAuthenticated("early", nil)

	c := New("http://example.invalid", store, zerolog.Nop())
	assert.Equal(t, "Bearer early", c.DefaultHeader().Get("Authorization"))

	store.SetAuthenticated("T2", nil)
	assert.Equal(t, "Bearer T2", c.DefaultHeader().Get("Authorization"))

	store.Clear()
	assert.Empty(t, c.DefaultHeader().Get("Authorization"))
	assert.Equal(t, "application/json", c.DefaultHeader().Get("Accept"))

	c.Close()
	store.SetAuthenticated("T3", nil)
	assert.Empty(t, c.DefaultHeader().Get("Authorization"), "closed client no longer follows the store")
}

func TestDo_RefreshesAndRetriesOnce(t *testing.T) {
	var seen []string
	srv := bearerServer(t, "T2", &seen)

	store := session.NewStore(nil, zerolog.Nop())
	store.SetAuthenticated("T1", nil)

	c := New(srv.URL, store, zerolog.Nop())
	r := &fakeRefresher{store: store, token: "T2"}
	c.SetRefresher(r)

	resp, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/api/tasks"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, r.calls.Load())
	assert.Equal(t, []string{"Bearer T1", "Bearer T2"}, seen)
}

func TestDo_RetriedRequestNeverRefreshesAgain(t *testing.T) {
	var seen []string
	// Server rejects every token
	srv := bearerServer(t, "never", &seen)

	store := session.NewStore(nil, zerolog.Nop())
	store.SetAuthenticated("T1", nil)

	c := New(srv.URL, store, zerolog.Nop())
	r := &fakeRefresher{store: store, token: "T2"}
	c.SetRefresher(r)

	_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/api/tasks"})
	require.Error(t, err)
	assert.True(t, IsAuthExpired(err))

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.Status)

	assert.EqualValues(t, 1, r.calls.Load(), "only the first failure may refresh")
	assert.Len(t, seen, 2)
}

func TestDo_RefreshFailurePropagates(t *testing.T) {
	srv := bearerServer(t, "T2", nil)

	store := session.NewStore(nil, zerolog.Nop())
	store.SetAuthenticated("T1", nil)

	c := New(srv.URL, store, zerolog.Nop())
	boom := errors.New("refresh rejected")
	c.SetRefresher(&fakeRefresher{store: store, err: boom})

	_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/api/tasks"})
	require.ErrorIs(t, err, boom)
}

func TestDo_SkipsRefreshWhenTokenAlreadyReplaced(t *testing.T) {
	store := session.NewStore(nil, zerolog.Nop())
	store.SetAuthenticated("T1", nil)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			// Someone else refreshed while this request was on the wire
			store.SetAuthenticated("T2", nil)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "Bearer T2", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, store, zerolog.Nop())
	r := &fakeRefresher{store: store, token: "T3"}
	c.SetRefresher(r)

	resp, err := c.Do(context.Background(), &Request{Method: http.MethodDelete, Path: "/api/tasks/1"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, r.calls.Load())
}

func TestDo_ReplaysBody(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		bodies = append(bodies, in["title"])
		if r.Header.Get("Authorization") != "Bearer T2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"p1"}`))
	}))
	defer srv.Close()

	store := session.NewStore(nil, zerolog.Nop())
	store.SetAuthenticated("T1", nil)
	c := New(srv.URL, store, zerolog.Nop())
	c.SetRefresher(&fakeRefresher{store: store, token: "T2"})

	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, c.PostJSON(context.Background(), "/api/projects", map[string]string{"title": "Thesis"}, &out))
	assert.Equal(t, "p1", out.ID)
	assert.Equal(t, []string{"Thesis", "Thesis"}, bodies)
}

func TestDo_ErrorClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/invalid":
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"error":"title is required","fields":{"title":"required"}}`))
		case "/forbidden":
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`not yours`))
		}
	}))

	store := session.NewStore(nil, zerolog.Nop())
	c := New(srv.URL, store, zerolog.Nop())
	r := &fakeRefresher{store: store, token: "T"}
	c.SetRefresher(r)
	ctx := context.Background()

	_, err := c.Do(ctx, &Request{Method: http.MethodPost, Path: "/invalid"})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "title is required", verr.Message)
	assert.Equal(t, "required", verr.Fields["title"])

	_, err = c.Do(ctx, &Request{Method: http.MethodGet, Path: "/forbidden"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.Status)
	assert.False(t, IsAuthExpired(err))

	srv.Close()
	_, err = c.Do(ctx, &Request{Method: http.MethodGet, Path: "/gone"})
	var nerr *NetworkError
	require.True(t, errors.As(err, &nerr))
	assert.False(t, IsAuthExpired(err))

	assert.Zero(t, r.calls.Load(), "only auth failures reach the refresher")
}
