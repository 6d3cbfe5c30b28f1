// Package devapi is a small local implementation of the taskdesk auth API:
// short-lived JWT access tokens, a rotating refresh credential in an
// HTTP-only cookie, and a couple of protected routes. It exists for local
// development of clients and for end-to-end tests of the session layer.
package devapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/taskdesk/taskdesk/internal/config"
)

const refreshCookie = "taskdesk_refresh"

// Options tweaks the wire format, mainly so tests can exercise the client's
// token field fallbacks
type Options struct {
	LoginTokenField   string // default "accessToken"
	RefreshTokenField string // default "accessToken"
	RefreshUser       bool   // include the user in refresh responses
}

// Server represents the dev API HTTP server
type Server struct {
	router    *gin.Engine
	config    config.DevAPIConfig
	opts      Options
	logger    zerolog.Logger
	validator *validator.Validate
	secret    []byte

	mu         sync.Mutex
	users      map[string]*User // by email
	refreshes  map[string]*refreshSession
	projects   map[string][]Project // by user ID
	generation int64
	stats      Stats
}

// Stats counts calls to the auth endpoints
type Stats struct {
	Logins    int
	Refreshes int
	Logouts   int
}

// New creates a new server instance
func New(cfg config.DevAPIConfig, opts Options, zlog zerolog.Logger) (*Server, error) {
	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		// Generate JWT secret (64 hex characters = 32 bytes of randomness)
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		secret = []byte(hex.EncodeToString(b))
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 5 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if len(cfg.AllowedOrigins) == 0 {
		// cors refuses a config with every origin disabled
		cfg.AllowedOrigins = []string{"http://localhost:5173"}
	}
	if opts.LoginTokenField == "" {
		opts.LoginTokenField = "accessToken"
	}
	if opts.RefreshTokenField == "" {
		opts.RefreshTokenField = "accessToken"
	}

	s := &Server{
		config:    cfg,
		opts:      opts,
		logger:    zlog.With().Str("component", "devapi").Logger(),
		validator: validator.New(),
		secret:    secret,
		users:     make(map[string]*User),
		refreshes: make(map[string]*refreshSession),
		projects:  make(map[string][]Project),
	}
	s.setupRouter()
	return s, nil
}

// Handler exposes the router, e.g. for httptest
func (s *Server) Handler() http.Handler {
	return s.router
}

// Stats returns a copy of the endpoint counters
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// ExpireAccessTokens invalidates every access token issued so far without
// touching refresh sessions
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
}

// RevokeRefreshSessions drops every refresh session, so the next refresh fails
func (s *Server) RevokeRefreshSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes = make(map[string]*refreshSession)
}

// setupRouter configures the Gin router with routes and middleware
func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())

	// Credentials must be allowed for the refresh cookie to cross origins
	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s.router.GET("/health", s.healthCheck)

	a := s.router.Group("/auth")
	{
		a.POST("/login", s.login)
		a.POST("/refresh", s.refresh)
		a.POST("/logout", s.logout)
	}

	api := s.router.Group("/api")
	api.Use(s.jwtAuthMiddleware())
	{
		api.GET("/me", s.getCurrentUser)
		api.GET("/projects", s.listProjects)
		api.POST("/projects", s.createProject)
	}
}

// loggingMiddleware creates a custom logging middleware using zerolog
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "online",
		"timestamp": time.Now().UTC(),
		"service":   "taskdesk-devapi",
	})
}

// Start serves on the configured address until SIGINT/SIGTERM
func (s *Server) Start() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.config.Addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("http server: %w", err)
	case <-sigChan:
	}
	s.logger.Info().Msg("Received shutdown signal, shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
		return err
	}

	s.logger.Info().Msg("Server shutdown complete")
	return nil
}
