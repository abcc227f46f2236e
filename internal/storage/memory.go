package storage

import (
	"context"
	"sync"
)

type memoryBackend struct {
	mu     sync.RWMutex
	values map[string]string
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{values: make(map[string]string)}
}

func (m *memoryBackend) load(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyValues(m.values), nil
}

func (m *memoryBackend) apply(ctx context.Context, fn func(map[string]string) (map[string]string, error)) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	changes, err := fn(copyValues(m.values))
	if err != nil {
		return nil, err
	}
	for k, v := range changes {
		m.values[k] = v
	}
	return copyValues(m.values), nil
}

func (m *memoryBackend) tryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	return func() {}, true, nil
}

func (m *memoryBackend) close() error {
	return nil
}

func copyValues(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
