package broadcast

import (
	"sync"

	"go.uber.org/zap"
)

// Manager supplies one independent Pool per worker, the explicit-context
// replacement for a hidden thread-local singleton. Pools are created
// lazily through the caller-supplied factory; the same worker id always
// maps to the same pool and no state is shared between pools, so the same
// routing key may broadcast independently on different workers.
//
// The read-biased lock is only on the pool acquisition path; workers cache
// the returned pool and never touch the Manager on the fan-out hot path.
type Manager[T any, R comparable] struct {
	factory func(worker int) *Pool[T, R]
	logger  *zap.Logger

	mu    sync.RWMutex
	pools map[int]*Pool[T, R]
}

// NewManager creates a manager over the given pool factory. The factory is
// called at most once per worker id.
func NewManager[T any, R comparable](logger *zap.Logger, factory func(worker int) *Pool[T, R]) *Manager[T, R] {
	return &Manager[T, R]{
		factory: factory,
		logger:  logger.With(zap.String("component", "pool_manager")),
		pools:   make(map[int]*Pool[T, R]),
	}
}

// PoolFor returns the pool bound to the given worker, constructing it on
// first use.
func (m *Manager[T, R]) PoolFor(worker int) *Pool[T, R] {
	m.mu.RLock()
	p, ok := m.pools[worker]
	m.mu.RUnlock()
	if ok {
		return p
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok = m.pools[worker]; ok {
		return p
	}
	p = m.factory(worker)
	m.pools[worker] = p
	m.logger.Debug("created worker pool", zap.Int("worker", worker))
	return p
}

// Close closes every pool the manager created.
func (m *Manager[T, R]) Close() {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[int]*Pool[T, R])
	m.mu.Unlock()

	for _, p := range pools {
		p.Close()
	}
}
