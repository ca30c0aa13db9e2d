package server

import (
	"io"
	"net"

	"go.uber.org/zap"

	"github.com/ajitpratap0/relaymux/pkg/broadcast"
	"github.com/ajitpratap0/relaymux/pkg/upstream"
)

// task is one routed downstream connection awaiting attachment.
type task struct {
	key  string
	conn net.Conn
}

// Worker owns one broadcast pool and serves the downstream connections
// the acceptor routes to it. All pool mutations for its keys happen
// through this worker, so the same routing key never opens more than one
// upstream connection.
type Worker struct {
	id     int
	pool   *broadcast.Pool[upstream.Message, string]
	logger *zap.Logger
	tasks  chan task
	quit   chan struct{}
	done   chan struct{}
}

func newWorker(id int, pool *broadcast.Pool[upstream.Message, string], logger *zap.Logger) *Worker {
	return &Worker{
		id:     id,
		pool:   pool,
		logger: logger.With(zap.String("component", "worker"), zap.Int("worker", id)),
		tasks:  make(chan task, 64),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (w *Worker) start() {
	go w.run()
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		select {
		case t := <-w.tasks:
			w.attach(t.key, t.conn)
		case <-w.quit:
			// Drain connections routed before shutdown began.
			for {
				select {
				case t := <-w.tasks:
					_ = t.conn.Close()
				default:
					return
				}
			}
		}
	}
}

// dispatch hands a routed connection to the worker. It reports false when
// the worker is shutting down or saturated; the caller owns the
// connection in that case.
func (w *Worker) dispatch(key string, conn net.Conn) bool {
	select {
	case <-w.quit:
		return false
	default:
	}
	select {
	case w.tasks <- task{key: key, conn: conn}:
		return true
	case <-w.quit:
		return false
	default:
		return false
	}
}

// attach resolves the broadcast for key and subscribes the connection.
// Subscription happens inside the callback, before the pool's
// zero-subscriber check, so a connected consumer always keeps the
// broadcast alive.
func (w *Worker) attach(key string, conn net.Conn) {
	w.pool.GetHandler(key, func(h *broadcast.Handler[upstream.Message], err error) {
		if err != nil {
			w.logger.Warn("broadcast unavailable",
				zap.String("stream", key),
				zap.Error(err))
			_ = conn.Close()
			return
		}
		w.subscribe(key, conn, h)
	})
}

// subscribe joins the consumer to a resolved broadcast. The upstream read
// loop may terminate the handler concurrently, and Subscribe on a closed
// handler is a no-op, so the consumer is closed rather than left attached
// to nothing; it reconnects for a fresh broadcast.
func (w *Worker) subscribe(key string, conn net.Conn, h *broadcast.Handler[upstream.Message]) {
	obs := newObserver(key, conn, w.logger)
	h.Subscribe(obs)
	if h.Closed() {
		w.logger.Debug("broadcast ended during attach",
			zap.String("stream", key),
			zap.String("remote_addr", conn.RemoteAddr().String()))
		obs.close()
		return
	}

	w.logger.Debug("consumer subscribed",
		zap.String("stream", key),
		zap.String("remote_addr", conn.RemoteAddr().String()),
		zap.Int("subscribers", h.SubscriberCount()))

	go w.watch(conn, h, obs)
}

// watch blocks until the downstream consumer goes away, then detaches it
// from the broadcast. Consumers send nothing after the routing preamble,
// so any read result means the connection is done.
func (w *Worker) watch(conn net.Conn, h *broadcast.Handler[upstream.Message], obs *Observer) {
	_, _ = io.Copy(io.Discard, conn)
	h.Unsubscribe(obs)
	obs.close()
	w.logger.Debug("consumer detached", zap.String("stream", obs.key))

	// The last consumer leaving releases the upstream connection; the
	// next request for the key opens a fresh one.
	if h.SubscriberCount() == 0 {
		h.Close()
	}
}

// stop signals the worker to exit and waits for its loop to finish. The
// worker's pool is closed by the Manager, not here.
func (w *Worker) stop() {
	close(w.quit)
	<-w.done
}

// Stats exposes the worker's pool statistics.
func (w *Worker) Stats() broadcast.PoolStats {
	return w.pool.Stats()
}
