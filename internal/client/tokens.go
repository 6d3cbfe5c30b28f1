package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/taskdesk/taskdesk/internal/session"
)

// Token field names in priority order. The API is not uniform about them.
var (
	LoginTokenFields   = []string{"accessToken", "token", "access"}
	RefreshTokenFields = []string{"accessToken", "token", "access_token"}

	refreshPlaceholderFields = []string{"refreshToken", "refresh_token"}
)

// ErrNoToken matches a SchemaError
var ErrNoToken = errors.New("no access token in response")

// SchemaError is returned when none of the expected token fields is present
type SchemaError struct {
	Tried []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%v (tried %s)", ErrNoToken, strings.Join(e.Tried, ", "))
}

func (e *SchemaError) Is(target error) bool {
	return target == ErrNoToken
}

// TokenResponse is the parsed body of a login or refresh call
type TokenResponse struct {
	AccessToken  string
	Field        string // which field carried the token
	RefreshToken string
	User         *session.User
}

// ParseTokenResponse extracts the access token from body by trying fields in
// order. Fields that are missing, null, empty or not strings are skipped.
func ParseTokenResponse(body []byte, fields []string) (*TokenResponse, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	out := &TokenResponse{}
	for _, field := range fields {
		if tok := stringField(raw, field); tok != "" {
			out.AccessToken = tok
			out.Field = field
			break
		}
	}
	if out.AccessToken == "" {
		return nil, &SchemaError{Tried: fields}
	}

	for _, field := range refreshPlaceholderFields {
		if v := stringField(raw, field); v != "" {
			out.RefreshToken = v
			break
		}
	}

	if u, ok := raw["user"]; ok && string(u) != "null" {
		var user session.User
		if err := json.Unmarshal(u, &user); err != nil {
			return nil, fmt.Errorf("failed to decode user record: %w", err)
		}
		out.User = &user
	}

	return out, nil
}

func stringField(raw map[string]json.RawMessage, field string) string {
	v, ok := raw[field]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return s
}
