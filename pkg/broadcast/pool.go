package broadcast

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/relaymux/pkg/errors"
	"github.com/ajitpratap0/relaymux/pkg/metrics"
)

// Connector asynchronously produces a raw upstream transport. The pool
// invokes it once per new routing key, from its own goroutine; the context
// carries the pool's connect timeout.
type Connector interface {
	Connect(ctx context.Context) (io.ReadWriteCloser, error)
}

// StackBuilder turns a raw transport into a handler-terminated protocol
// stack and applies routing-specific configuration. Both operations may
// fail independently; the pool owns teardown of partial results.
type StackBuilder[T any, R comparable] interface {
	BuildStack(transport io.ReadWriteCloser) (Stack[T], error)
	Configure(stack Stack[T], key R) error
}

// Stack is a handler-terminated protocol stack over one upstream
// connection. Close releases the stack and its transport.
type Stack[T any] interface {
	Handler() *Handler[T]
	Close() error
}

// HandlerCallback receives the result of a GetHandler call: a live handler
// on success, or a connect/config error. Invoked exactly once per call.
type HandlerCallback[T any] func(h *Handler[T], err error)

// entryState tracks the per-key state machine.
type entryState int

const (
	entryConnecting entryState = iota
	entryActive
)

// entry is the per-key pool state: an ordered waiter queue while the
// connect attempt is in flight, then a non-owning handler reference.
type entry[T any] struct {
	state   entryState
	waiters []HandlerCallback[T]
	handler *Handler[T]
}

// PoolStats provides a snapshot of a pool's activity.
type PoolStats struct {
	ActiveBroadcasts int   `json:"active_broadcasts"`
	Connecting       int   `json:"connecting"`
	TotalConnects    int64 `json:"total_connects"`
	ConnectErrors    int64 `json:"connect_errors"`
	ConfigErrors     int64 `json:"config_errors"`
	WaitersCoalesced int64 `json:"waiters_coalesced"`
	Evictions        int64 `json:"evictions"`
}

// Pool is the deduplicating registry mapping routing key to at most one
// upstream connection. Concurrent GetHandler calls for the same key share
// one connect attempt and one handler. Each worker owns an independent
// Pool; see Manager.
//
// The pool holds only non-owning handles: a handler and its transport may
// outlive the pool, and termination notifications arriving after Close are
// safe no-ops.
type Pool[T any, R comparable] struct {
	connector Connector
	builder   StackBuilder[T, R]

	name           string
	logger         *zap.Logger
	connectTimeout time.Duration

	mu      sync.Mutex
	closed  bool
	entries map[R]*entry[T]

	totalConnects    int64
	connectErrors    int64
	configErrors     int64
	waitersCoalesced int64
	evictions        int64
}

// Option configures a Pool.
type Option func(*options)

type options struct {
	name           string
	logger         *zap.Logger
	connectTimeout time.Duration
}

// WithName sets the pool name used in logs and metric labels.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the pool logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithConnectTimeout bounds the upstream connect attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) { o.connectTimeout = d }
}

// NewPool creates a broadcast pool over the given collaborators.
func NewPool[T any, R comparable](connector Connector, builder StackBuilder[T, R], opts ...Option) *Pool[T, R] {
	o := options{
		name:           "default",
		logger:         zap.NewNop(),
		connectTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Pool[T, R]{
		connector:      connector,
		builder:        builder,
		name:           o.name,
		logger:         o.logger.With(zap.String("component", "broadcast_pool"), zap.String("pool", o.name)),
		connectTimeout: o.connectTimeout,
		entries:        make(map[R]*entry[T]),
	}
}

// GetHandler resolves the broadcast handler for key. If a broadcast is
// already active the callback runs synchronously with the existing handler;
// if a connect is in flight the callback is queued behind it; otherwise a
// new connect attempt starts. The callback is invoked exactly once.
//
// A caller that drops the result without subscribing does not cancel the
// attempt; the post-resolution zero-subscriber eviction reclaims it.
func (p *Pool[T, R]) GetHandler(key R, cb HandlerCallback[T]) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cb(nil, errors.New(errors.ErrorTypeClosed, "broadcast pool is closed"))
		return
	}

	if e, ok := p.entries[key]; ok {
		switch e.state {
		case entryConnecting:
			e.waiters = append(e.waiters, cb)
			atomic.AddInt64(&p.waitersCoalesced, 1)
			p.mu.Unlock()
			metrics.WaitersCoalesced.WithLabelValues(p.name).Inc()
			return
		case entryActive:
			h := e.handler
			p.mu.Unlock()
			cb(h, nil)
			return
		}
	}

	e := &entry[T]{state: entryConnecting, waiters: []HandlerCallback[T]{cb}}
	p.entries[key] = e
	p.mu.Unlock()

	metrics.BroadcastsActive.WithLabelValues(p.name).Inc()
	go p.connect(key)
}

// IsBroadcasting reports whether a broadcast exists for key: true while a
// connect attempt is in flight, and true for an active broadcast iff its
// handler currently has at least one subscriber. Pure query.
func (p *Pool[T, R]) IsBroadcasting(key R) bool {
	p.mu.Lock()
	e, ok := p.entries[key]
	if !ok {
		p.mu.Unlock()
		return false
	}
	if e.state == entryConnecting {
		p.mu.Unlock()
		return true
	}
	h := e.handler
	p.mu.Unlock()

	return h.SubscriberCount() > 0
}

// connect runs the once-per-key connect and configure sequence. Any
// failure fails every queued waiter and removes the entry; nothing is
// retried internally.
func (p *Pool[T, R]) connect(key R) {
	atomic.AddInt64(&p.totalConnects, 1)
	timer := metrics.NewTimer()

	ctx, cancel := context.WithTimeout(context.Background(), p.connectTimeout)
	defer cancel()

	transport, err := p.connector.Connect(ctx)
	if err != nil {
		atomic.AddInt64(&p.connectErrors, 1)
		metrics.ConnectAttempts.WithLabelValues(p.name, "connect_error").Inc()
		p.failAttempt(key, errors.Wrap(err, errors.ErrorTypeConnect, "upstream connect failed"))
		return
	}

	stack, err := p.builder.BuildStack(transport)
	if err != nil {
		if cerr := transport.Close(); cerr != nil {
			p.logger.Debug("transport close failed", zap.Error(cerr))
		}
		atomic.AddInt64(&p.configErrors, 1)
		metrics.ConnectAttempts.WithLabelValues(p.name, "config_error").Inc()
		p.failAttempt(key, errors.Wrap(err, errors.ErrorTypeConfig, "protocol stack build failed"))
		return
	}

	if err := p.builder.Configure(stack, key); err != nil {
		if cerr := stack.Close(); cerr != nil {
			p.logger.Debug("stack close failed", zap.Error(cerr))
		}
		atomic.AddInt64(&p.configErrors, 1)
		metrics.ConnectAttempts.WithLabelValues(p.name, "config_error").Inc()
		p.failAttempt(key, errors.Wrap(err, errors.ErrorTypeConfig, "routing configuration failed"))
		return
	}

	metrics.ConnectAttempts.WithLabelValues(p.name, "success").Inc()
	elapsed := timer.ObserveConnect(p.name)
	p.logger.Debug("upstream connected", zap.Duration("elapsed", elapsed))

	p.activate(key, stack.Handler())
}

// failAttempt removes the entry for key and fails its queued waiters in
// enqueue order. No entry created by a failed attempt survives.
func (p *Pool[T, R]) failAttempt(key R, err error) {
	p.mu.Lock()
	e, ok := p.entries[key]
	if ok {
		delete(p.entries, key)
	}
	p.mu.Unlock()

	if !ok {
		// Pool was closed mid-attempt; Close already failed the waiters.
		return
	}

	metrics.BroadcastsActive.WithLabelValues(p.name).Dec()
	p.logger.Warn("broadcast attempt failed",
		zap.Int("waiters", len(e.waiters)),
		zap.Error(err))

	for _, cb := range e.waiters {
		cb(nil, err)
	}
}

// activate transitions the entry to active, fulfills every queued waiter in
// enqueue order, then performs the single lazy zero-subscriber check that
// reclaims attempts whose callers all went away.
func (p *Pool[T, R]) activate(key R, h *Handler[T]) {
	bound := h.bind(func() { p.handlerTerminated(key, h) })

	p.mu.Lock()
	e, ok := p.entries[key]
	if !ok {
		// Pool was closed while the connect was in flight. Waiters were
		// already failed; tear the fresh stack down.
		p.mu.Unlock()
		h.evict()
		return
	}

	if bound {
		e.state = entryActive
		e.handler = h
	} else {
		// Handler terminated before we could register it. Deliver it
		// anyway (subscribing to a closed handler is a no-op) but keep
		// no entry.
		delete(p.entries, key)
	}
	waiters := e.waiters
	e.waiters = nil
	p.mu.Unlock()

	if !bound {
		metrics.BroadcastsActive.WithLabelValues(p.name).Dec()
	}

	for _, cb := range waiters {
		cb(h, nil)
	}

	// Lazy eviction: a single check at resolution time, never continuous
	// monitoring. Subscribers arriving after this instant on an evicted
	// handler must open a fresh attempt.
	if h.SubscriberCount() == 0 {
		p.mu.Lock()
		if cur, stillThere := p.entries[key]; stillThere && cur == e {
			delete(p.entries, key)
			p.mu.Unlock()
			atomic.AddInt64(&p.evictions, 1)
			metrics.BroadcastsActive.WithLabelValues(p.name).Dec()
			metrics.Evictions.WithLabelValues(p.name).Inc()
			p.logger.Debug("evicting broadcast with no subscribers")
			h.evict()
			return
		}
		p.mu.Unlock()
	}
}

// handlerTerminated is the notification path from handler back to pool. It
// degrades to a no-op once the pool is closed or the entry was already
// replaced.
func (p *Pool[T, R]) handlerTerminated(key R, h *Handler[T]) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	e, ok := p.entries[key]
	if !ok || e.state != entryActive || e.handler != h {
		p.mu.Unlock()
		return
	}
	delete(p.entries, key)
	p.mu.Unlock()

	metrics.BroadcastsActive.WithLabelValues(p.name).Dec()
	p.logger.Debug("broadcast removed after handler termination")
}

// Stats returns a snapshot of the pool's activity.
func (p *Pool[T, R]) Stats() PoolStats {
	p.mu.Lock()
	active, connecting := 0, 0
	for _, e := range p.entries {
		if e.state == entryConnecting {
			connecting++
		} else {
			active++
		}
	}
	p.mu.Unlock()

	return PoolStats{
		ActiveBroadcasts: active,
		Connecting:       connecting,
		TotalConnects:    atomic.LoadInt64(&p.totalConnects),
		ConnectErrors:    atomic.LoadInt64(&p.connectErrors),
		ConfigErrors:     atomic.LoadInt64(&p.configErrors),
		WaitersCoalesced: atomic.LoadInt64(&p.waitersCoalesced),
		Evictions:        atomic.LoadInt64(&p.evictions),
	}
}

// Close shuts the pool down. Pending waiters fail with a closed error.
// Active handlers are not force-closed: the pool drops its non-owning
// handles and their surrounding transports keep their own lifetime. Late
// termination notifications from such handlers are no-ops.
func (p *Pool[T, R]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	entries := p.entries
	p.entries = nil
	p.mu.Unlock()

	var pending []HandlerCallback[T]
	for _, e := range entries {
		if e.state == entryConnecting {
			pending = append(pending, e.waiters...)
		}
	}

	metrics.BroadcastsActive.WithLabelValues(p.name).Sub(float64(len(entries)))

	if len(pending) > 0 {
		err := errors.New(errors.ErrorTypeClosed, "broadcast pool is closed")
		for _, cb := range pending {
			cb(nil, err)
		}
	}

	p.logger.Info("broadcast pool closed",
		zap.Int("dropped_entries", len(entries)),
		zap.Int("failed_waiters", len(pending)))
}
