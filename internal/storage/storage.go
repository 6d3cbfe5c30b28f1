// Package storage provides the persistence backends for the session blob.
// Every backend stores one JSON document under the configured key and knows
// nothing about what it contains.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/taskdesk/taskdesk/internal/config"
	"github.com/taskdesk/taskdesk/internal/session"
)

// Open returns the repository selected by cfg.Session.Backend
func Open(cfg *config.Config, log zerolog.Logger) (session.Repository, error) {
	key := cfg.Session.Key

	switch cfg.Session.Backend {
	case config.BackendFile, "":
		return NewFileRepository(cfg.Session.Dir, key)
	case config.BackendKeyring:
		return NewKeyringRepository(key), nil
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Address})
		repo := NewRedisRepository(client, key, cfg.Redis.TTL)
		repo.owned = true
		return repo, nil
	case config.BackendSQLite:
		return NewSQLiteRepository(cfg.Session.SQLitePath, key, log)
	case config.BackendMemory:
		return NewMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
}

func encode(blob *session.Blob) ([]byte, error) {
	data, err := json.Marshal(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*session.Blob, error) {
	var blob session.Blob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("failed to parse persisted session: %w", err)
	}
	return &blob, nil
}
