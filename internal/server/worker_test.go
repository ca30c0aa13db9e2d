package server

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/relaymux/pkg/broadcast"
	"github.com/ajitpratap0/relaymux/pkg/upstream"
)

func TestWorkerSubscribeClosedBroadcastClosesConsumer(t *testing.T) {
	w := newBareWorker(t, 0)

	// The broadcast terminates between resolution and Subscribe; the
	// consumer must be closed, not left hanging on a dead handler.
	h := broadcast.NewHandler[upstream.Message](zaptest.NewLogger(t), nil, "json")
	h.Close()

	down, consumer := net.Pipe()
	w.subscribe("ticker.AAPL", down, h)

	require.NoError(t, consumer.SetReadDeadline(time.Now().Add(time.Second)))
	_, err := consumer.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF, "consumer connection must be closed")
}

func TestWorkerSubscribeLiveBroadcastDelivers(t *testing.T) {
	w := newBareWorker(t, 0)
	h := broadcast.NewHandler[upstream.Message](zaptest.NewLogger(t), nil, "json")

	down, consumer := net.Pipe()
	t.Cleanup(func() { _ = consumer.Close() })
	w.subscribe("ticker.AAPL", down, h)
	require.Equal(t, 1, h.SubscriberCount())

	go h.OnNext(upstream.Message(`{"px":1}`))

	require.NoError(t, consumer.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 64)
	n, err := consumer.Read(buf)
	require.NoError(t, err)
	assert.JSONEq(t, `{"px":1}`, string(buf[:n]))

	h.Close()
}

func TestWorkerDispatchSaturated(t *testing.T) {
	w := newBareWorker(t, 0)
	w.tasks = make(chan task, 1)
	w.quit = make(chan struct{})

	require.True(t, w.dispatch("a", nil))
	assert.False(t, w.dispatch("b", nil), "full queue must not block the acceptor")
}

func TestWorkerDispatchAfterStop(t *testing.T) {
	w := newBareWorker(t, 0)
	w.tasks = make(chan task, 1)
	w.quit = make(chan struct{})
	w.done = make(chan struct{})

	w.start()
	w.stop()
	assert.False(t, w.dispatch("a", nil))
}
