package blob

import (
	"context"
	"errors"
	"sync"
)

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string]Object{}}
}

func (m *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("empty payload")
	}
	cp := append([]byte(nil), data...)
	m.mu.Lock()
	m.objects[key] = Object{Data: cp, ContentType: contentTypeFor(cp, contentType)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (Object, error) {
	key, err := cleanKey(key)
	if err != nil {
		return Object{}, err
	}
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return Object{}, ErrNotFound
	}
	return Object{Data: append([]byte(nil), obj.Data...), ContentType: obj.ContentType}, nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
