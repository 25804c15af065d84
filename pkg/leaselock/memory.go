package leaselock

import (
	"context"
	"sync"
	"time"
)

type memoryBackend struct {
	mu     sync.Mutex
	leases map[string]memoryLease
	now    func() time.Time
}

type memoryLease struct {
	token   string
	expires time.Time
}

// NewMemory returns a Client for a single process.
func NewMemory() *Client {
	return &Client{b: &memoryBackend{leases: make(map[string]memoryLease), now: time.Now}}
}

func (m *memoryBackend) tryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if cur, ok := m.leases[key]; ok && cur.token != token && now.Before(cur.expires) {
		return false, nil
	}
	m.leases[key] = memoryLease{token: token, expires: now.Add(ttl)}
	return true, nil
}

func (m *memoryBackend) renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.leases[key]
	if !ok || cur.token != token {
		return false, nil
	}
	m.leases[key] = memoryLease{token: token, expires: m.now().Add(ttl)}
	return true, nil
}

func (m *memoryBackend) release(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.leases[key]; ok && cur.token == token {
		delete(m.leases, key)
	}
	return nil
}
