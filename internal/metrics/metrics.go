package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatsync_connection_state",
			Help: "Connection state per domain (1 for the current state)",
		},
		[]string{"domain", "state"},
	)

	Reconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_reconnects_total",
			Help: "Transport reconnect cycles started",
		},
		[]string{"domain"},
	)

	PushEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_push_events_total",
			Help: "Server push events handled",
		},
		[]string{"domain", "event", "result"}, // result: "ok" or "malformed"
	)

	RemoteCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_remote_calls_total",
			Help: "Remote invocations issued",
		},
		[]string{"domain", "target", "result"},
	)

	RemoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_remote_call_duration_seconds",
			Help:    "Remote invocation latency",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"domain", "target"},
	)

	// Store metrics
	StoredChats = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatsync_store_chats",
			Help: "Chats held in memory",
		},
		[]string{"domain"},
	)

	StoredMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatsync_store_messages",
			Help: "Messages held in memory",
		},
		[]string{"domain"},
	)

	// Attachment cache metrics
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_attach_cache_lookups_total",
			Help: "Attachment url cache lookups",
		},
		[]string{"result"}, // "hit", "miss", "coalesced", "timeout"
	)

	ResolveBatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_attach_resolve_batches_total",
			Help: "Batch url resolution round trips",
		},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_attach_cache_evictions_total",
			Help: "Entries evicted by the LRU bound",
		},
	)

	// Outbox metrics
	OutboxSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_outbox_sent_total",
			Help: "Outbox commands delivered or abandoned",
		},
		[]string{"domain", "result"}, // "ack" or "failed"
	)

	OutboxPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatsync_outbox_pending",
			Help: "Outbox commands waiting for delivery",
		},
		[]string{"domain"},
	)
)
