package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrAuthExpired matches any response that rejected the access token
var ErrAuthExpired = errors.New("access token expired or invalid")

// StatusError is a non-2xx response that is not a validation failure
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed (status %d): %s", e.Status, e.Body)
}

// Is reports a 401 as ErrAuthExpired
func (e *StatusError) Is(target error) bool {
	return target == ErrAuthExpired && e.Status == http.StatusUnauthorized
}

// NetworkError means no response was received at all
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ValidationError is a request the server refused as invalid, such as a
// malformed form or wrong login credentials
type ValidationError struct {
	Status  int
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("validation failed (status %d)", e.Status)
	}
	return e.Message
}

// sessionEnder is implemented by errors after which no refresh can help,
// even if they wrap a 401
type sessionEnder interface {
	SessionEnded() bool
}

// IsAuthExpired reports whether err is an authentication failure that the
// refresh path may recover from
func IsAuthExpired(err error) bool {
	var se sessionEnder
	if errors.As(err, &se) && se.SessionEnded() {
		return false
	}
	return errors.Is(err, ErrAuthExpired)
}

// errorBody covers the error shapes the API uses
type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields"`
}

func newValidationError(status int, body []byte) *ValidationError {
	verr := &ValidationError{Status: status}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		verr.Message = eb.Error
		if verr.Message == "" {
			verr.Message = eb.Message
		}
		verr.Fields = eb.Fields
	}
	if verr.Message == "" {
		verr.Message = strings.TrimSpace(string(body))
	}
	return verr
}
