package lock

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps locks in process. It only serializes workers that share
// the process, which is enough for tests and single-instance deployments.
type MemoryStore struct {
	c *cache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{c: cache.New(cache.NoExpiration, time.Minute)}
}

func (m *MemoryStore) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := m.c.Add(key, value, ttl); err != nil {
		return false, nil
	}
	return true, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return "", false, nil
	}
	s, _ := v.(string)
	return s, true, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}
