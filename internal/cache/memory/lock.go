package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/simledger/internal/domain"
)

type lease struct {
	token   string
	expires time.Time
}

// LockManager hands out expiring in-process locks.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]lease
	now   func() time.Time
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]lease), now: time.Now}
}

// Acquire returns domain.ErrLockHeld while another holder's lease is live.
// The returned unlock releases only this holder's lease and may be called
// more than once.
func (m *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if cur, ok := m.locks[key]; ok && now.Before(cur.expires) {
		return nil, domain.ErrLockHeld
	}
	token := uuid.NewString()
	m.locks[key] = lease{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if cur, ok := m.locks[key]; ok && cur.token == token {
				delete(m.locks, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
