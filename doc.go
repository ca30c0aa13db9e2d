// Package relaymux provides a deduplicating broadcast relay: many
// downstream consumers interested in the same routing key share a single
// upstream connection, and every frame the upstream emits is fanned out
// to all of them.
//
// Without deduplication, N consumers of the same feed mean N identical
// upstream connections carrying N identical byte streams. Relaymux
// collapses them: the first consumer for a key triggers one upstream
// connect, later consumers for the same key attach to the broadcast
// already in flight, and the upstream connection is torn down as soon as
// the last consumer leaves.
//
// # Architecture
//
// Relaymux is built around three layers:
//
// 1. Broadcast pools (pkg/broadcast): the core deduplication primitive.
// A pool maps routing keys to at most one live broadcast each, coalesces
// concurrent requests for the same key onto a single connect attempt,
// and evicts broadcasts the moment their subscriber count drops to zero.
//
// 2. Upstream stacks (pkg/upstream): the wire layer. A connector dials
// the upstream endpoint and a stack builder layers newline-delimited
// JSON framing plus the subscribe handshake on top of the raw
// connection.
//
// 3. Worker shards (internal/server): downstream connections are hashed
// by routing key onto worker goroutines, each owning an independent
// broadcast pool. Sharding keeps pool state single-owner without a
// process-wide lock.
//
// # Quick Start
//
// Share one upstream connection between two subscribers:
//
//	import (
//	    "github.com/ajitpratap0/relaymux/pkg/broadcast"
//	    "github.com/ajitpratap0/relaymux/pkg/upstream"
//	)
//
//	connector := upstream.NewTCPConnector("feed.example.com:4000")
//	builder := upstream.NewStreamBuilder()
//	pool := broadcast.NewPool[upstream.Message](connector, builder)
//
//	pool.GetHandler("ticker.AAPL", func(h *broadcast.Handler[upstream.Message], err error) {
//	    if err != nil {
//	        return
//	    }
//	    h.Subscribe(firstConsumer)
//	})
//
//	// A second request for the same key reuses the live broadcast.
//	pool.GetHandler("ticker.AAPL", func(h *broadcast.Handler[upstream.Message], err error) {
//	    if err != nil {
//	        return
//	    }
//	    h.Subscribe(secondConsumer)
//	})
//
// # Key Packages
//
//	pkg/broadcast  - Broadcast pools, handlers and the subscriber contract
//	pkg/upstream   - Upstream connector and JSON stream stack builder
//	pkg/config     - YAML configuration with environment substitution
//	pkg/errors     - Structured error handling
//	pkg/logger     - Structured logging
//	pkg/metrics    - Prometheus metrics
//	pkg/bufpool    - Frame buffer pooling for fan-out writes
//
// # Semantics
//
// The pool guarantees:
//   - At most one live broadcast per routing key per pool.
//   - Requests arriving while a connect is in flight are queued and all
//     resolved by that single attempt, success or failure.
//   - A failed connect fails every queued request and removes the key;
//     the next request starts a fresh attempt. There is no automatic
//     retry.
//   - A broadcast whose subscriber count reaches zero is evicted and
//     never reused; finished broadcasts are not revived.
//
// # Configuration
//
// Relaymux uses a single YAML document:
//
//	listen: ":9230"
//	workers: 8
//	upstream:
//	  address: "feed.example.com:4000"
//	  connect_timeout: 30s
//	metrics:
//	  enabled: true
//	  listen: ":9231"
//	logging:
//	  level: info
//	  encoding: json
//
// Environment variables are supported with ${VAR_NAME} syntax.
package relaymux
