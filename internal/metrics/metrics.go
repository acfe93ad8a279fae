package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatpulse_cycles_total",
			Help: "Completed aggregation cycles",
		},
		[]string{"trigger", "result"},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "threatpulse_cycle_duration_seconds",
			Help:    "Duration of aggregation cycles",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 90, 120},
		},
	)

	SourceFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatpulse_source_fetch_total",
			Help: "Feed fetches by outcome",
		},
		[]string{"source", "status"},
	)

	SnapshotThreats = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "threatpulse_snapshot_threats",
			Help: "Threats in the current snapshot",
		},
	)

	DroppedRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threatpulse_dropped_records_total",
			Help: "Feed records dropped by validation",
		},
	)

	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "threatpulse_subscribers",
			Help: "Live snapshot subscribers",
		},
	)

	BroadcastDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threatpulse_broadcast_dropped_total",
			Help: "Subscribers removed during broadcast",
		},
	)

	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatpulse_sink_errors_total",
			Help: "Snapshot sink publish failures",
		},
		[]string{"sink"},
	)

	RefreshTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threatpulse_refresh_timeouts_total",
			Help: "On-demand refreshes that hit their deadline",
		},
	)

	ListMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatpulse_list_mutations_total",
			Help: "Whitelist and blacklist mutations",
		},
		[]string{"list", "op"},
	)

	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatpulse_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"scope"},
	)
)
