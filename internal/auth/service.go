// Package auth implements the login and logout flows on top of the request
// pipeline and the session store.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/taskdesk/taskdesk/internal/client"
	"github.com/taskdesk/taskdesk/internal/session"
)

const (
	LoginPath  = "/auth/login"
	LogoutPath = "/auth/logout"
	MePath     = "/api/me"
)

// API is the part of the client the auth flows use
type API interface {
	Send(ctx context.Context, req *client.Request) (*client.Response, error)
	GetJSON(ctx context.Context, path string, out any) error
}

// Store is the part of the session store the auth flows write
type Store interface {
	SetLoggedIn(token, placeholder string, user *session.User)
	Clear()
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Service performs login and logout
type Service struct {
	api    API
	store  Store
	logger zerolog.Logger
}

func NewService(api API, store Store, logger zerolog.Logger) *Service {
	return &Service{
		api:    api,
		store:  store,
		logger: logger.With().Str("component", "auth").Logger(),
	}
}

// Login authenticates with email and password and populates the session.
// Bad credentials come back as a *client.ValidationError for the form to show.
func (s *Service) Login(ctx context.Context, email, password string) (*session.User, error) {
	body, err := json.Marshal(LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := s.api.Send(ctx, &client.Request{
		Method: http.MethodPost,
		Path:   LoginPath,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   body,
	})
	if err != nil {
		var se *client.StatusError
		if errors.As(err, &se) && se.Status == http.StatusUnauthorized {
			// A 401 here means wrong credentials, not an expired token
			verr := &client.ValidationError{Status: se.Status, Message: "invalid email or password"}
			if resp != nil {
				if parsed := messageOf(resp.Body); parsed != "" {
					verr.Message = parsed
				}
			}
			return nil, verr
		}
		return nil, err
	}

	tr, err := client.ParseTokenResponse(resp.Body, client.LoginTokenFields)
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	s.store.SetLoggedIn(tr.AccessToken, tr.RefreshToken, tr.User)

	s.logger.Info().Str("token_field", tr.Field).Msg("Logged in")
	return tr.User, nil
}

// Logout tells the server to drop the refresh credential and clears the
// session whatever the server says. The returned error is informational.
func (s *Service) Logout(ctx context.Context) error {
	_, err := s.api.Send(ctx, &client.Request{Method: http.MethodPost, Path: LogoutPath})
	s.store.Clear()

	if err != nil {
		s.logger.Warn().Err(err).Msg("Logout call failed, session cleared locally")
		return fmt.Errorf("logout request failed: %w", err)
	}
	s.logger.Info().Msg("Logged out")
	return nil
}

// Me fetches the current user through the refreshing pipeline
func (s *Service) Me(ctx context.Context) (*session.User, error) {
	var user session.User
	if err := s.api.GetJSON(ctx, MePath, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func messageOf(body []byte) string {
	var eb struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}
	if eb.Error != "" {
		return eb.Error
	}
	return eb.Message
}
