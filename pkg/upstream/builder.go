package upstream

import (
	"io"
	"sync"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/relaymux/pkg/broadcast"
	"github.com/ajitpratap0/relaymux/pkg/errors"
)

// Message is one broadcast item: a raw JSON frame, passed through to
// subscribers without re-encoding.
type Message = gojson.RawMessage

// subscribeRequest is the routing configuration frame sent upstream once
// per connection.
type subscribeRequest struct {
	Subscribe string `json:"subscribe"`
}

// StreamBuilder builds handler-terminated JSON stream stacks over raw
// transports. It implements broadcast.StackBuilder[Message, string].
type StreamBuilder struct {
	logger *zap.Logger
}

// NewStreamBuilder creates a builder.
func NewStreamBuilder(logger *zap.Logger) *StreamBuilder {
	return &StreamBuilder{
		logger: logger.With(zap.String("component", "stream_builder")),
	}
}

// BuildStack wraps the transport with the JSON codec and a fresh handler.
// The stack stays quiescent until Configure succeeds.
func (b *StreamBuilder) BuildStack(transport io.ReadWriteCloser) (broadcast.Stack[Message], error) {
	if transport == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "nil transport")
	}

	s := &jsonStream{
		transport: transport,
		enc:       gojson.NewEncoder(transport),
		dec:       gojson.NewDecoder(transport),
		logger:    b.logger,
	}
	s.handler = broadcast.NewHandler[Message](b.logger, s.Close, "json")
	return s, nil
}

// Configure sends the subscribe request for key and starts the read loop.
// A rejected write leaves the stack quiescent; the pool tears it down.
func (b *StreamBuilder) Configure(stack broadcast.Stack[Message], key string) error {
	s, ok := stack.(*jsonStream)
	if !ok {
		return errors.New(errors.ErrorTypeValidation, "stack was not built by this builder")
	}
	if key == "" {
		return errors.New(errors.ErrorTypeValidation, "empty routing key")
	}

	if err := s.enc.Encode(subscribeRequest{Subscribe: key}); err != nil {
		return err
	}

	s.key = key
	go s.readLoop()
	return nil
}

// jsonStream is a handler-terminated stack over one upstream connection.
type jsonStream struct {
	transport io.ReadWriteCloser
	enc       *gojson.Encoder
	dec       *gojson.Decoder
	handler   *broadcast.Handler[Message]
	logger    *zap.Logger
	key       string

	closeOnce sync.Once
	closeErr  error
}

// Handler returns the broadcast handler terminating this stack.
func (s *jsonStream) Handler() *broadcast.Handler[Message] {
	return s.handler
}

// Close releases the underlying transport. Safe to call multiple times;
// the read loop observes the closed transport and winds down.
func (s *jsonStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.transport.Close()
	})
	return s.closeErr
}

// readLoop pumps decoded frames into the handler until the upstream peer
// closes or the transport fails. The handler's terminal state makes both
// notifications no-ops when the stack was already torn down locally.
func (s *jsonStream) readLoop() {
	for {
		var frame Message
		if err := s.dec.Decode(&frame); err != nil {
			if err == io.EOF {
				s.logger.Debug("upstream closed", zap.String("stream", s.key))
				s.handler.Completed()
				return
			}
			s.logger.Debug("upstream read failed",
				zap.String("stream", s.key),
				zap.Error(err))
			s.handler.Errored(errors.Wrap(err, errors.ErrorTypeTransport, "upstream read failed"))
			return
		}
		s.handler.OnNext(frame)
	}
}
