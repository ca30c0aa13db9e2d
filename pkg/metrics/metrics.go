// Package metrics provides Prometheus metrics for relaymux. It exposes
// pre-registered collectors for the broadcast pool hot paths: connect
// attempts, waiter coalescing, fan-out throughput and subscriber counts.
//
// All collectors are registered with the default registry via promauto, so
// embedding applications only need to serve promhttp.Handler().
//
// Labels follow a small, fixed scheme:
//   - pool: the per-worker pool name (e.g. "worker-3")
//   - status: connect attempt outcome (success, connect_error, config_error)
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BroadcastsActive tracks the number of live pool entries (connecting
	// or active) per pool.
	BroadcastsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relaymux_broadcasts_active",
			Help: "Number of live broadcast entries per pool",
		},
		[]string{"pool"},
	)

	// ConnectAttempts counts upstream connect attempts by outcome.
	ConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaymux_connect_attempts_total",
			Help: "Total upstream connect attempts by outcome",
		},
		[]string{"pool", "status"},
	)

	// ConnectLatency tracks the duration of the full connect+configure
	// sequence. Buckets cover local loopback dials up to slow WAN paths.
	ConnectLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "relaymux_connect_duration_seconds",
			Help: "Duration of the upstream connect and configure sequence",
			Buckets: []float64{
				0.0005, // 500μs - loopback
				0.001,  // 1ms
				0.005,  // 5ms - same datacenter
				0.01,   // 10ms
				0.05,   // 50ms - cross region
				0.1,    // 100ms
				0.5,    // 500ms
				1,      // 1s - slow WAN / retrying TCP
				5,      // 5s
			},
		},
		[]string{"pool"},
	)

	// WaitersCoalesced counts getHandler calls that piggybacked on an
	// in-flight connect instead of opening a new upstream connection.
	WaitersCoalesced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaymux_waiters_coalesced_total",
			Help: "Requests deduplicated onto an in-flight connect",
		},
		[]string{"pool"},
	)

	// Evictions counts zero-subscriber evictions performed immediately
	// after connect resolution.
	Evictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaymux_evictions_total",
			Help: "Broadcasts evicted for having no subscribers at resolution",
		},
		[]string{"pool"},
	)

	// SubscribersActive tracks the current number of subscribers across
	// all handlers of a stream type.
	SubscribersActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relaymux_subscribers_active",
			Help: "Current number of broadcast subscribers",
		},
		[]string{"stream"},
	)

	// ItemsBroadcast counts inbound items fanned out to subscribers. The
	// counter is incremented once per item per subscriber delivery.
	ItemsBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaymux_items_broadcast_total",
			Help: "Items delivered to subscribers via fan-out",
		},
		[]string{"stream"},
	)
)

// Timer measures the duration of an operation for histogram observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveConnect records the elapsed time on the connect latency histogram
// for the given pool and returns the duration.
func (t *Timer) ObserveConnect(pool string) time.Duration {
	elapsed := time.Since(t.start)
	ConnectLatency.WithLabelValues(pool).Observe(elapsed.Seconds())
	return elapsed
}
