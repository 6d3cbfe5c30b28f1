package main

import (
	"fmt"
	"os"

	"github.com/taskdesk/taskdesk/internal/config"
	"github.com/taskdesk/taskdesk/internal/devapi"
	"github.com/taskdesk/taskdesk/internal/logger"
)

var version = "dev" // Will be set during build with -ldflags

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.GetLogger()

	srv, err := devapi.New(cfg.DevAPI, devapi.Options{
		LoginTokenField:   os.Getenv("DEVAPI_LOGIN_TOKEN_FIELD"),
		RefreshTokenField: os.Getenv("DEVAPI_REFRESH_TOKEN_FIELD"),
		RefreshUser:       os.Getenv("DEVAPI_REFRESH_USER") == "true",
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create server")
	}

	if email := os.Getenv("DEVAPI_SEED_EMAIL"); email != "" {
		user, err := srv.AddUser(email, os.Getenv("DEVAPI_SEED_NAME"), "student", os.Getenv("DEVAPI_SEED_PASSWORD"))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to seed user")
		}
		log.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("Seeded user")
	}

	log.Info().Str("version", version).Msg("Starting taskdesk dev API...")

	// Start HTTP server (this blocks)
	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("Server failed to start")
	}
}
