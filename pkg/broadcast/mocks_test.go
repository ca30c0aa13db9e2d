package broadcast

import (
	"context"
	"io"
	"sync"

	"go.uber.org/zap"
)

// fakeTransport is an inert upstream connection that records whether it
// was closed.
type fakeTransport struct {
	mu     sync.Mutex
	closed bool
}

func (t *fakeTransport) Read(p []byte) (int, error)  { return 0, io.EOF }
func (t *fakeTransport) Write(p []byte) (int, error) { return len(p), nil }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// stubConnector produces fakeTransports. When gated, each Connect blocks
// until release is called once, standing in for the event-loop turn that
// completes the async connect in the embedding system.
type stubConnector struct {
	mu         sync.Mutex
	gate       chan struct{}
	err        error
	transports []*fakeTransport
}

func newGatedConnector() *stubConnector {
	return &stubConnector{gate: make(chan struct{})}
}

// release lets exactly one pending or future Connect proceed.
func (c *stubConnector) release() {
	c.gate <- struct{}{}
}

func (c *stubConnector) failWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *stubConnector) lastTransport() *fakeTransport {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.transports) == 0 {
		return nil
	}
	return c.transports[len(c.transports)-1]
}

func (c *stubConnector) Connect(ctx context.Context) (io.ReadWriteCloser, error) {
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	t := &fakeTransport{}
	c.transports = append(c.transports, t)
	return t, nil
}

// stubStack is a minimal handler-terminated stack over a fakeTransport.
type stubStack struct {
	transport io.ReadWriteCloser
	handler   *Handler[int]
}

func (s *stubStack) Handler() *Handler[int] { return s.handler }
func (s *stubStack) Close() error           { return s.transport.Close() }

// stubBuilder records configure invocations per routing key and can be
// made to fail either operation.
type stubBuilder struct {
	mu             sync.Mutex
	buildErr       error
	configureErr   error
	configureCalls []string
}

func (b *stubBuilder) BuildStack(transport io.ReadWriteCloser) (Stack[int], error) {
	b.mu.Lock()
	err := b.buildErr
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s := &stubStack{transport: transport}
	s.handler = NewHandler[int](zap.NewNop(), s.Close, "test")
	return s, nil
}

func (b *stubBuilder) Configure(stack Stack[int], key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.configureErr != nil {
		return b.configureErr
	}
	b.configureCalls = append(b.configureCalls, key)
	return nil
}

func (b *stubBuilder) failBuild(err error)     { b.mu.Lock(); b.buildErr = err; b.mu.Unlock() }
func (b *stubBuilder) failConfigure(err error) { b.mu.Lock(); b.configureErr = err; b.mu.Unlock() }

func (b *stubBuilder) calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.configureCalls))
	copy(out, b.configureCalls)
	return out
}

// recordingSubscriber captures everything delivered to it.
type recordingSubscriber struct {
	mu        sync.Mutex
	items     []int
	errs      []error
	completed int
}

func (s *recordingSubscriber) OnNext(item int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
}

func (s *recordingSubscriber) OnError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *recordingSubscriber) OnCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed++
}

func (s *recordingSubscriber) snapshot() ([]int, []error, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]int, len(s.items))
	copy(items, s.items)
	errs := make([]error, len(s.errs))
	copy(errs, s.errs)
	return items, errs, s.completed
}

// handlerResult is what a waiter callback observed.
type handlerResult struct {
	handler *Handler[int]
	err     error
}
