package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/taskdesk/taskdesk/internal/session"
)

const keyringService = "taskdesk"

// KeyringRepository persists the session in the OS keychain/credential manager
type KeyringRepository struct {
	service string
	key     string
}

func NewKeyringRepository(key string) *KeyringRepository {
	return &KeyringRepository{service: keyringService, key: key}
}

func (k *KeyringRepository) Load(ctx context.Context) (*session.Blob, error) {
	secret, err := keyring.Get(k.service, k.key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session from keyring: %w", err)
	}
	return decode([]byte(secret))
}

// Save stores the blob; an empty blob deletes the keyring entry instead.
func (k *KeyringRepository) Save(ctx context.Context, blob *session.Blob) error {
	if blob.Empty() {
		if err := keyring.Delete(k.service, k.key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("failed to delete session from keyring: %w", err)
		}
		return nil
	}

	data, err := encode(blob)
	if err != nil {
		return err
	}
	if err := keyring.Set(k.service, k.key, string(data)); err != nil {
		return fmt.Errorf("failed to save session to keyring: %w", err)
	}
	return nil
}
