package broadcast

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// orderedSubscriber appends its tag to a shared log on every delivery so
// tests can assert fan-out order across subscribers.
type orderedSubscriber struct {
	tag string
	mu  *sync.Mutex
	log *[]string
}

func (s *orderedSubscriber) OnNext(int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.log = append(*s.log, s.tag)
}

func (s *orderedSubscriber) OnError(error) {}
func (s *orderedSubscriber) OnCompleted()  {}

func newTestHandler(t *testing.T) (*Handler[int], *fakeTransport) {
	t.Helper()
	transport := &fakeTransport{}
	return NewHandler[int](zaptest.NewLogger(t), transport.Close, "test"), transport
}

func TestHandlerFanOutOrder(t *testing.T) {
	h, _ := newTestHandler(t)

	var mu sync.Mutex
	var log []string
	first := &orderedSubscriber{tag: "first", mu: &mu, log: &log}
	second := &orderedSubscriber{tag: "second", mu: &mu, log: &log}

	h.Subscribe(first)
	h.Subscribe(second)
	h.OnNext(1)
	h.OnNext(2)

	assert.Equal(t, []string{"first", "second", "first", "second"}, log)
}

func TestHandlerSubscribeIdempotent(t *testing.T) {
	h, _ := newTestHandler(t)
	sub := &recordingSubscriber{}

	h.Subscribe(sub)
	h.Subscribe(sub)
	assert.Equal(t, 1, h.SubscriberCount())

	h.OnNext(42)
	items, _, _ := sub.snapshot()
	assert.Equal(t, []int{42}, items)
}

func TestHandlerUnsubscribeIdempotent(t *testing.T) {
	h, _ := newTestHandler(t)
	sub := &recordingSubscriber{}

	h.Subscribe(sub)
	h.Unsubscribe(sub)
	h.Unsubscribe(sub)
	assert.Zero(t, h.SubscriberCount())

	// Unknown subscriber is ignored too.
	h.Unsubscribe(&recordingSubscriber{})
	assert.Zero(t, h.SubscriberCount())
}

func TestHandlerCompletedDelivery(t *testing.T) {
	h, transport := newTestHandler(t)
	sub := &recordingSubscriber{}
	h.Subscribe(sub)

	h.Completed()

	_, errs, completed := sub.snapshot()
	assert.Empty(t, errs)
	assert.Equal(t, 1, completed)
	assert.True(t, h.Closed())
	assert.True(t, transport.isClosed())
}

func TestHandlerErrorThenCompletion(t *testing.T) {
	h, transport := newTestHandler(t)
	sub := &recordingSubscriber{}
	h.Subscribe(sub)

	cause := errors.New("broken pipe")
	h.Errored(cause)

	_, errs, completed := sub.snapshot()
	require.Len(t, errs, 1)
	assert.Equal(t, cause, errs[0])
	assert.Equal(t, 1, completed)
	assert.True(t, transport.isClosed())
}

func TestHandlerClosedOperationsAreNoOps(t *testing.T) {
	h, _ := newTestHandler(t)
	sub := &recordingSubscriber{}
	h.Subscribe(sub)
	h.Completed()

	// Everything after termination is a no-op, not an error.
	h.Completed()
	h.Errored(errors.New("late"))
	h.OnNext(1)
	h.Subscribe(&recordingSubscriber{})
	h.Unsubscribe(sub)

	items, errs, completed := sub.snapshot()
	assert.Empty(t, items)
	assert.Empty(t, errs)
	assert.Equal(t, 1, completed, "termination delivery is exactly-once")
	assert.Zero(t, h.SubscriberCount())
}

func TestHandlerCloseReleasesTransport(t *testing.T) {
	h, transport := newTestHandler(t)
	sub := &recordingSubscriber{}
	h.Subscribe(sub)

	h.Close()

	_, errs, completed := sub.snapshot()
	assert.Empty(t, errs)
	assert.Equal(t, 1, completed)
	assert.True(t, transport.isClosed())
	assert.True(t, h.Closed())
}

func TestHandlerTerminateWithoutTransportClose(t *testing.T) {
	h := NewHandler[int](zaptest.NewLogger(t), nil, "test")
	h.Subscribe(&recordingSubscriber{})

	// Must not panic with no transport attached.
	h.Completed()
	assert.True(t, h.Closed())
}
