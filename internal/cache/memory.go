package cache

import (
	"context"
	"sync"
	"time"
)

// NewMemoryStore 构建仅驻留内存的缓存，所有操作共享一把互斥锁。
func NewMemoryStore() Store {
	return &memoryStore{
		entries: make(map[string]Entry),
	}
}

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func (s *memoryStore) Get(ctx context.Context, key string) (*Entry, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.Lock()
	entry, ok := s.entries[key]
	s.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}
	return &entry, nil
}

func (s *memoryStore) Put(ctx context.Context, key string, entry Entry) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}

	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

// Len 返回当前驻留的条目数，供诊断接口读取。
func (s *memoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
