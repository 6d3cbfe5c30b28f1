package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/taskdesk/taskdesk/internal/session"
)

const configDirName = "taskdesk"

// FileRepository stores the session as a JSON file, by default under
// ~/.config/taskdesk/<key>.json
type FileRepository struct {
	path string
}

// NewFileRepository creates a file repository in dir. An empty dir means the
// user's config directory.
func NewFileRepository(dir, key string) (*FileRepository, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".config", configDirName)
	}
	return &FileRepository{path: filepath.Join(dir, key+".json")}, nil
}

// Path returns the file backing the repository
func (f *FileRepository) Path() string {
	return f.path
}

// Load reads the session file. A missing file is not an error.
func (f *FileRepository) Load(ctx context.Context) (*session.Blob, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	return decode(data)
}

// Save writes the session file through a temp file and rename so a crash
// never leaves a half-written token behind.
func (f *FileRepository) Save(ctx context.Context, blob *session.Blob) error {
	data, err := encode(blob)
	if err != nil {
		return err
	}

	// Create config directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}
