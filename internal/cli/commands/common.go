package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/taskdesk/taskdesk/internal/app"
	cliconfig "github.com/taskdesk/taskdesk/internal/cli/config"
	"github.com/taskdesk/taskdesk/internal/cli/serverselect"
	"github.com/taskdesk/taskdesk/internal/config"
	"github.com/taskdesk/taskdesk/internal/logger"
	"github.com/taskdesk/taskdesk/internal/refresh"
)

// Runtime is what every command needs from its environment
type Runtime struct {
	Out io.Writer
	Err io.Writer

	// ServerAlias is the --server flag
	ServerAlias string

	// Prompt picks a server when several are configured and none is selected
	Prompt serverselect.Prompter

	// ReadPassword reads a password without echo; nil means stdin is not a terminal
	ReadPassword func() (string, error)
}

// NewRuntime returns a runtime bound to the process's stdio
func NewRuntime() *Runtime {
	rt := &Runtime{
		Out:    os.Stdout,
		Err:    os.Stderr,
		Prompt: serverselect.PromptServerSelection,
	}
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		rt.ReadPassword = func() (string, error) {
			b, err := term.ReadPassword(fd)
			return string(b), err
		}
	}
	return rt
}

// loadConfig reads the environment configuration and points it at the
// selected server from taskdesk.json, when there is one
func (rt *Runtime) loadConfig() (*config.Config, *cliconfig.Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	project, err := cliconfig.LoadFromCurrentDir()
	if err != nil {
		if rt.ServerAlias != "" {
			return nil, nil, fmt.Errorf("failed to load config: %w\nRun 'taskdesk init' to create a configuration file", err)
		}
		// No project config, talk to TASKDESK_API_URL
		return cfg, &cliconfig.Server{URL: cfg.API.BaseURL, Alias: "default"}, nil
	}

	server, err := serverselect.ResolveServer(project, rt.ServerAlias, rt.Prompt, rt.Err)
	if err != nil {
		return nil, nil, err
	}
	if err := server.Validate(); err != nil {
		return nil, nil, err
	}

	cfg.API.BaseURL = server.URL
	cfg.Session.Key = server.SessionKey(cfg.Session.Key)
	return cfg, server, nil
}

// openApp builds and hydrates the session layer for the selected server.
// The caller must Close the returned App.
func (rt *Runtime) openApp(ctx context.Context) (*app.App, *cliconfig.Server, error) {
	cfg, server, err := rt.loadConfig()
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Logging.Level
	if os.Getenv("LOG_LEVEL") == "" {
		// Keep command output readable unless asked otherwise
		level = "warn"
	}
	logger.Init(level, cfg.Logging.Format)

	a, err := app.New(cfg, logger.GetLogger())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open session storage: %w", err)
	}
	if err := a.Start(ctx); err != nil {
		// Still usable with an empty session
		fmt.Fprintf(rt.Err, "Warning: could not restore session: %v\n", err)
	}
	return a, server, nil
}

// explainSessionError turns a failed refresh into a hint to log in again
func explainSessionError(err error) error {
	if errors.Is(err, refresh.ErrRefreshFailed) {
		return fmt.Errorf("session expired, please run 'taskdesk login' again: %w", err)
	}
	return err
}
