// Package broadcast multiplexes many downstream consumers onto shared
// upstream connections, keyed by an application-level routing key.
//
// The central type is Pool: a deduplicating registry mapping routing key to
// at most one physical upstream connection. Concurrent GetHandler calls for
// the same key share a single connect attempt and resolve to the same
// Handler, which fans inbound items out to its subscribers.
//
// The package provides:
//   - Pool[T, R]: the per-worker deduplicating connection registry
//   - Handler[T]: fan-out of one upstream stream to ordered subscribers
//   - Manager[T, R]: one independent Pool per worker, no cross-worker state
//   - Connector, StackBuilder, Stack: collaborator capability interfaces
//
// Example usage:
//
//	pool := broadcast.NewPool[upstream.Message, string](connector, builder,
//	    broadcast.WithName("worker-0"))
//
//	pool.GetHandler("url1", func(h *broadcast.Handler[upstream.Message], err error) {
//	    if err != nil {
//	        return
//	    }
//	    h.Subscribe(subscriber)
//	})
//
// A Pool never retries a failed attempt on its own: callers issue a fresh
// GetHandler call, which starts a wholly new connect. A newly activated
// broadcast with no subscribers is evicted once, immediately after
// resolution; there is no revival of an evicted handler.
package broadcast
