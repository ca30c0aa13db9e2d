package broadcast

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/relaymux/pkg/metrics"
)

// handlerState tracks the lifecycle of a Handler.
type handlerState int32

const (
	// stateUnconnected: constructed by the stack builder, not yet bound
	// to a pool entry.
	stateUnconnected handlerState = iota
	// stateActive: steady operating state with zero or more subscribers.
	// The pool, not the handler, decides whether zero subscribers is
	// terminal.
	stateActive
	// stateClosed: terminal. All further operations are no-ops.
	stateClosed
)

// Handler owns the fan-out of one upstream broadcast to its subscribers.
// It holds the underlying connection/stack for as long as it is alive and
// releases it on termination. Subscribers are kept in subscription order;
// the handler never controls subscriber lifetime.
//
// All methods are safe for concurrent use.
type Handler[T any] struct {
	logger *zap.Logger
	stream string

	mu          sync.Mutex
	state       handlerState
	subscribers []Subscriber[T]

	// closeTransport releases the underlying stack/transport. Invoked
	// exactly once, on termination.
	closeTransport func() error

	// notify is the liveness-guarded back-reference to the owning pool.
	// It stays nil until the pool binds the handler, and the pool's side
	// degrades to a no-op once the pool is closed.
	notify func()
}

// NewHandler creates a handler for a freshly built protocol stack. The
// closeTransport callback tears down the stack and its transport; stream
// labels the handler's metrics.
func NewHandler[T any](logger *zap.Logger, closeTransport func() error, stream string) *Handler[T] {
	return &Handler[T]{
		logger:         logger.With(zap.String("component", "broadcast_handler")),
		stream:         stream,
		closeTransport: closeTransport,
	}
}

// Subscribe adds a subscriber to the fan-out. Subscribing an already
// present subscriber is a no-op, as is subscribing to a closed handler.
func (h *Handler[T]) Subscribe(s Subscriber[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == stateClosed {
		return
	}
	for _, existing := range h.subscribers {
		if existing == s {
			return
		}
	}
	h.subscribers = append(h.subscribers, s)
	metrics.SubscribersActive.WithLabelValues(h.stream).Inc()
}

// Unsubscribe removes a subscriber. Unknown or already removed subscribers
// are ignored.
func (h *Handler[T]) Unsubscribe(s Subscriber[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == stateClosed {
		return
	}
	for i, existing := range h.subscribers {
		if existing == s {
			h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
			metrics.SubscribersActive.WithLabelValues(h.stream).Dec()
			return
		}
	}
}

// SubscriberCount returns the current number of subscribers. The pool uses
// it for the one-shot zero-subscriber eviction check after resolution.
func (h *Handler[T]) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Closed reports whether the handler has terminated.
func (h *Handler[T]) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == stateClosed
}

// OnNext delivers an inbound item to every current subscriber in
// subscription order. Invoked by the underlying stack's read loop.
func (h *Handler[T]) OnNext(item T) {
	h.mu.Lock()
	if h.state == stateClosed {
		h.mu.Unlock()
		return
	}
	subs := make([]Subscriber[T], len(h.subscribers))
	copy(subs, h.subscribers)
	h.mu.Unlock()

	for _, s := range subs {
		s.OnNext(item)
	}
	if len(subs) > 0 {
		metrics.ItemsBroadcast.WithLabelValues(h.stream).Add(float64(len(subs)))
	}
}

// Completed terminates the handler after a peer-initiated close. Current
// subscribers receive OnCompleted.
func (h *Handler[T]) Completed() {
	h.terminate(nil)
}

// Errored terminates the handler after a transport failure. Current
// subscribers receive OnError followed by OnCompleted. The error never
// resurrects or fails a previously resolved GetHandler result.
func (h *Handler[T]) Errored(err error) {
	h.terminate(err)
}

// Close terminates the broadcast regardless of transport state. Current
// subscribers receive OnCompleted. Embedding layers use it to release
// broadcasts whose last subscriber has gone away.
func (h *Handler[T]) Close() {
	h.terminate(nil)
}

// bind attaches the pool's termination notification and moves the handler
// to its active state. It reports false if the handler already terminated,
// in which case the pool must not register it.
func (h *Handler[T]) bind(notify func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == stateClosed {
		return false
	}
	h.notify = notify
	h.state = stateActive
	return true
}

// evict is the pool-initiated termination for the zero-subscriber case.
func (h *Handler[T]) evict() {
	h.terminate(nil)
}

// terminate is the single teardown path shared by peer close, transport
// error and pool eviction. It notifies the pool, releases the transport and
// completes current subscribers. Exactly-once: later calls are no-ops.
func (h *Handler[T]) terminate(err error) {
	h.mu.Lock()
	if h.state == stateClosed {
		h.mu.Unlock()
		return
	}
	h.state = stateClosed
	subs := h.subscribers
	h.subscribers = nil
	notify := h.notify
	h.notify = nil
	h.mu.Unlock()

	if notify != nil {
		notify()
	}
	if h.closeTransport != nil {
		if cerr := h.closeTransport(); cerr != nil {
			h.logger.Debug("transport close failed", zap.Error(cerr))
		}
	}

	for _, s := range subs {
		if err != nil {
			s.OnError(err)
		}
		s.OnCompleted()
	}
	if len(subs) > 0 {
		metrics.SubscribersActive.WithLabelValues(h.stream).Sub(float64(len(subs)))
	}

	if err != nil {
		h.logger.Debug("broadcast terminated",
			zap.String("stream", h.stream),
			zap.Int("subscribers", len(subs)),
			zap.Error(err))
	} else {
		h.logger.Debug("broadcast completed",
			zap.String("stream", h.stream),
			zap.Int("subscribers", len(subs)))
	}
}
