package upstream

import (
	"context"
	"io"
	"net"

	"go.uber.org/zap"
)

// TCPConnector dials one upstream address. The pool bounds each attempt
// through the context it passes to Connect.
type TCPConnector struct {
	addr   string
	dialer net.Dialer
	logger *zap.Logger
}

// NewTCPConnector creates a connector for the given upstream address.
func NewTCPConnector(addr string, logger *zap.Logger) *TCPConnector {
	return &TCPConnector{
		addr:   addr,
		logger: logger.With(zap.String("component", "tcp_connector"), zap.String("addr", addr)),
	}
}

// Connect dials the upstream address.
func (c *TCPConnector) Connect(ctx context.Context) (io.ReadWriteCloser, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		c.logger.Debug("dial failed", zap.Error(err))
		return nil, err
	}
	c.logger.Debug("dial succeeded", zap.String("local_addr", conn.LocalAddr().String()))
	return conn, nil
}
