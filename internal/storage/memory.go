package storage

import (
	"context"
	"sync"

	"github.com/taskdesk/taskdesk/internal/session"
)

// MemoryRepository keeps the encoded blob in process memory
type MemoryRepository struct {
	mu   sync.Mutex
	data []byte
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) Load(ctx context.Context) (*session.Blob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, nil
	}
	return decode(m.data)
}

func (m *MemoryRepository) Save(ctx context.Context, blob *session.Blob) error {
	data, err := encode(blob)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	return nil
}
