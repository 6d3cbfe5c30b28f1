// Package client is the request pipeline: every API call goes through Client,
// which attaches the current access token and hands authentication failures
// to the refresh coordinator.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskdesk/taskdesk/internal/session"
)

const bearerPrefix = "Bearer "

// Request is a buffered API request so it can be dispatched more than once
type Request struct {
	Method string
	Path   string // relative to the base URL, e.g. "/api/projects"
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Response is a fully read API response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON decodes the response body into v
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Attempt tracks one logical request across dispatches. A retried attempt
// never enters the refresh path again.
type Attempt struct {
	Request *Request
	Retried bool

	token string // access token the last dispatch carried
}

// Refresher recovers from an expired access token. Await returns once a
// refresh covering the failure has settled; nil means the session now holds
// a fresh token.
type Refresher interface {
	Await(ctx context.Context) error
}

// Sessions is the part of the session store the pipeline reads
type Sessions interface {
	Current() session.Session
	Subscribe(fn func(session.Session)) func()
}

// Client represents an HTTP client for the taskdesk API
type Client struct {
	baseURL    string
	httpClient *http.Client
	sessions   Sessions
	logger     zerolog.Logger

	mu        sync.RWMutex
	refresher Refresher
	defaults  http.Header

	unsubscribe func()
}

// New creates a new API client bound to a session store. The default
// Authorization header follows the store from then on.
func New(baseURL string, sessions Sessions, logger zerolog.Logger) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: NewHTTPClient(30*time.Second, false),
		sessions:   sessions,
		logger:     logger.With().Str("component", "client").Logger(),
		defaults: http.Header{
			"Accept": []string{"application/json"},
		},
	}

	c.syncAuthorization(sessions.Current())
	c.unsubscribe = sessions.Subscribe(c.syncAuthorization)
	return c
}

// NewHTTPClient builds the transport used by New. It carries a cookie jar
// because the refresh credential is an HTTP-only cookie set by the server.
func NewHTTPClient(timeout time.Duration, insecureTLS bool) *http.Client {
	jar, _ := cookiejar.New(nil)

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecureTLS {
		// Skip TLS verification for self-signed certificates
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &http.Client{
		Timeout:   timeout,
		Jar:       jar,
		Transport: transport,
	}
}

// SetHTTPClient sets a custom HTTP client
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
}

// SetRefresher injects the coordinator that handles expired tokens
func (c *Client) SetRefresher(r Refresher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refresher = r
}

// Close detaches the client from the session store
func (c *Client) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}

// BaseURL returns the API address the client is configured against
func (c *Client) BaseURL() string {
	return c.baseURL
}

// DefaultHeader returns a copy of the headers sent with every request
func (c *Client) DefaultHeader() http.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaults.Clone()
}

func (c *Client) syncAuthorization(s session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.AccessToken != "" {
		c.defaults.Set("Authorization", bearerPrefix+s.AccessToken)
	} else {
		c.defaults.Del("Authorization")
	}
}

// Do dispatches req with the current token. An authentication failure on
// the first dispatch waits for the refresh coordinator and, if the refresh
// succeeded, re-dispatches exactly once with the new token. Any failure of
// the retry is returned as is.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	attempt := &Attempt{Request: req}

	resp, err := c.dispatch(ctx, attempt)
	if err == nil || !IsAuthExpired(err) || attempt.Retried {
		return resp, err
	}

	// Another caller refreshed while this one was in flight
	if current := c.sessions.Current().AccessToken; current != "" && current != attempt.token {
		attempt.Retried = true
		return c.dispatch(ctx, attempt)
	}

	c.mu.RLock()
	refresher := c.refresher
	c.mu.RUnlock()
	if refresher == nil {
		return resp, err
	}

	if err := refresher.Await(ctx); err != nil {
		return nil, err
	}

	attempt.Retried = true
	return c.dispatch(ctx, attempt)
}

// Send dispatches req once with whatever token is current and never enters
// the refresh path. Auth endpoints use it.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	return c.dispatch(ctx, &Attempt{Request: req})
}

// DoJSON marshals in (if non-nil), performs the call through Do and decodes
// the response into out (if non-nil)
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	req := &Request{Method: method, Path: path}
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		req.Body = body
		req.Header = http.Header{"Content-Type": []string{"application/json"}}
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	return resp.JSON(out)
}

// GetJSON performs an authenticated GET and decodes the result
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.DoJSON(ctx, http.MethodGet, path, nil, out)
}

// PostJSON performs an authenticated POST with a JSON body
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	return c.DoJSON(ctx, http.MethodPost, path, in, out)
}

func (c *Client) dispatch(ctx context.Context, attempt *Attempt) (*Response, error) {
	req := attempt.Request

	u := c.baseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, v := range c.DefaultHeader() {
		httpReq.Header[k] = v
	}
	for k, v := range req.Header {
		httpReq.Header[k] = append([]string(nil), v...)
	}

	// The store is authoritative for the token of this one call
	attempt.token = c.sessions.Current().AccessToken
	if attempt.token != "" {
		httpReq.Header.Set("Authorization", bearerPrefix+attempt.token)
	} else {
		httpReq.Header.Del("Authorization")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", req.Method).Str("path", req.Path).Msg("Request failed without response")
		return nil, &NetworkError{Op: req.Method, URL: u, Err: err}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &NetworkError{Op: req.Method, URL: u, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return resp, newValidationError(resp.StatusCode, data)
	default:
		c.logger.Debug().
			Int("status", resp.StatusCode).
			Str("method", req.Method).
			Str("path", req.Path).
			Bool("retried", attempt.Retried).
			Msg("Request rejected")
		return resp, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
}
