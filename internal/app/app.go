// Package app wires the session layer together. Every App owns its own
// store, client and coordinator; nothing is process-global.
package app

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"github.com/taskdesk/taskdesk/internal/auth"
	"github.com/taskdesk/taskdesk/internal/client"
	"github.com/taskdesk/taskdesk/internal/config"
	"github.com/taskdesk/taskdesk/internal/guard"
	"github.com/taskdesk/taskdesk/internal/refresh"
	"github.com/taskdesk/taskdesk/internal/session"
	"github.com/taskdesk/taskdesk/internal/storage"
)

// App is one configured session layer
type App struct {
	Store   *session.Store
	Client  *client.Client
	Refresh *refresh.Coordinator
	Guard   *guard.Guard
	Auth    *auth.Service

	repo   session.Repository
	logger zerolog.Logger
}

// New opens the configured session backend and builds the layer on top of it
func New(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	repo, err := storage.Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewWithRepository(cfg, repo, logger), nil
}

// NewWithRepository builds the layer on an explicit repository
func NewWithRepository(cfg *config.Config, repo session.Repository, logger zerolog.Logger) *App {
	store := session.NewStore(repo, logger)

	c := client.New(cfg.API.BaseURL, store, logger)
	c.SetHTTPClient(client.NewHTTPClient(cfg.API.Timeout, cfg.API.InsecureTLS))

	coord := refresh.New(c, store, logger)
	c.SetRefresher(coord)

	return &App{
		Store:   store,
		Client:  c,
		Refresh: coord,
		Guard: guard.New(store, coord, guard.Options{
			Timeout:   cfg.Guard.Timeout,
			LoginPath: cfg.Guard.LoginPath,
		}, logger),
		Auth:   auth.NewService(c, store, logger),
		repo:   repo,
		logger: logger,
	}
}

// Start restores the persisted session. Call once at process start.
func (a *App) Start(ctx context.Context) error {
	return a.Store.Hydrate(ctx)
}

// Close releases the client's store subscription and the backend, if it
// holds any resources
func (a *App) Close() {
	a.Client.Close()
	if c, ok := a.repo.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close session backend")
		}
	}
}
