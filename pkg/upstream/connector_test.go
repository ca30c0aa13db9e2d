package upstream

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/relaymux/pkg/testutil"
)

func TestTCPConnectorDials(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	c := NewTCPConnector(ln.Addr().String(), zaptest.NewLogger(t))
	conn, err := c.Connect(ctx)
	require.NoError(t, err)
	assert.NoError(t, conn.Close())
}

func TestTCPConnectorCancelledContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewTCPConnector(ln.Addr().String(), zaptest.NewLogger(t))
	_, err = c.Connect(ctx)
	assert.Error(t, err)
}
