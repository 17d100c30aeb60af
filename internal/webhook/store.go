package webhook

import (
	"context"
	"sync"
	"time"
)

// ProcessedWebhookStore хранит ключи обработанных webhook-ов для дедупликации
type ProcessedWebhookStore interface {
	// IsProcessed возвращает true, если webhook с таким ключом уже обработан
	IsProcessed(ctx context.Context, key string) (bool, error)

	// MarkProcessed помечает ключ обработанным на ttl
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) error
}

// MemoryStore — in-memory реализация дедупликации с ленивой TTL-очисткой:
// просроченные записи удаляются при обращении и при периодической проверке
// размера, без фоновой горутины.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time // ключ -> момент истечения
}

// NewMemoryStore создаёт пустое in-memory хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
	}
}

func (s *MemoryStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, exists := s.entries[key]
	if !exists {
		return false, nil
	}
	if time.Now().After(expiresAt) {
		delete(s.entries, key)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Ленивая очистка на записи, чтобы map не рос бесконечно
	now := time.Now()
	for k, expiresAt := range s.entries {
		if now.After(expiresAt) {
			delete(s.entries, k)
		}
	}

	s.entries[key] = now.Add(ttl)
	return nil
}
