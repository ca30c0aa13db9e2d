package server

import (
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/relaymux/pkg/bufpool"
	"github.com/ajitpratap0/relaymux/pkg/upstream"
)

// writeTimeout bounds each downstream frame write. OnNext runs on the
// upstream read goroutine, so a consumer that cannot drain a frame within
// the deadline is dropped instead of stalling fan-out for the whole
// broadcast.
const writeTimeout = 10 * time.Second

// Observer bridges one downstream consumer connection onto a broadcast:
// every fanned-out frame is written to the consumer, and broadcast
// termination closes the consumer connection. It implements
// broadcast.Subscriber[upstream.Message].
type Observer struct {
	key          string
	conn         net.Conn
	logger       *zap.Logger
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func newObserver(key string, conn net.Conn, logger *zap.Logger) *Observer {
	return &Observer{
		key:          key,
		conn:         conn,
		writeTimeout: writeTimeout,
		logger: logger.With(
			zap.String("component", "observer"),
			zap.String("stream", key),
			zap.String("remote_addr", conn.RemoteAddr().String())),
	}
}

// OnNext forwards one frame to the downstream consumer. A failed or
// timed-out write closes the connection; the worker's watch goroutine
// then unsubscribes.
func (o *Observer) OnNext(item upstream.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}

	// One write per frame; the frame buffer may be shared across
	// observers, so the newline goes into a private pooled copy.
	buf := bufpool.GetFrame(len(item) + 1)
	defer bufpool.PutFrame(buf)
	copy(*buf, item)
	(*buf)[len(item)] = '\n'

	if err := o.conn.SetWriteDeadline(time.Now().Add(o.writeTimeout)); err != nil {
		o.shutdownLocked()
		return
	}
	if _, err := o.conn.Write(*buf); err != nil {
		o.logger.Debug("downstream write failed", zap.Error(err))
		o.shutdownLocked()
	}
}

// OnError logs the transport failure; the closure that follows tears the
// connection down.
func (o *Observer) OnError(err error) {
	o.logger.Debug("broadcast failed", zap.Error(err))
}

// OnCompleted closes the downstream connection: the consumer observes EOF
// when the broadcast ends.
func (o *Observer) OnCompleted() {
	o.close()
}

func (o *Observer) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.shutdownLocked()
}

func (o *Observer) shutdownLocked() {
	if o.closed {
		return
	}
	o.closed = true
	if err := o.conn.Close(); err != nil {
		o.logger.Debug("downstream close failed", zap.Error(err))
	}
}
