package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Schema metrics
	SpacesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "atv_spaces_total",
			Help: "Total number of spaces",
		},
	)

	VersionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "atv_versions_total",
			Help: "Total number of versions by space",
		},
		[]string{"space"},
	)

	SnapshotArchivesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "atv_snapshot_archives_total",
			Help: "Total number of data-snapshot archives recorded",
		},
	)

	RBACTokensTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "atv_rbac_tokens_total",
			Help: "Total number of live RBAC tokens",
		},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "atv_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "atv_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "atv_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "atv_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	// Liveness probes, fed by the collector's health checks
	PeerUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "atv_raft_peer_up",
			Help: "Whether a configured Raft peer's bind address is reachable (1 = up)",
		},
		[]string{"peer"},
	)

	HTTPUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "atv_http_up",
			Help: "Whether this node's own HTTP surface answers its liveness probe (1 = up)",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atv_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atv_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Command pipeline metrics
	RaftApplyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atv_raft_apply_duration_seconds",
			Help:    "Time taken to apply a committed Raft log entry, by command",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	RaftApplyErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atv_raft_apply_errors_total",
			Help: "Total number of post-commit dispatch errors, by command",
		},
		[]string{"command"},
	)

	// Search/rerank latency
	SearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "atv_search_duration_seconds",
			Help:    "Time taken to perform a k-NN search",
			Buckets: prometheus.DefBuckets,
		},
	)

	RerankDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "atv_rerank_duration_seconds",
			Help:    "Time taken to perform a search followed by BM25 rerank",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Snapshot coordinator metrics
	SnapshotCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "atv_snapshot_create_duration_seconds",
			Help:    "Time taken to create a data-snapshot archive",
			Buckets: prometheus.DefBuckets,
		},
	)

	SnapshotRestoreDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "atv_snapshot_restore_duration_seconds",
			Help:    "Time taken to restore a data-snapshot archive",
			Buckets: prometheus.DefBuckets,
		},
	)

	SnapshotSyncFetchFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "atv_snapshot_sync_fetch_failures_total",
			Help: "Total number of follower fetch-from-leader failures during snapshot_sync apply",
		},
	)
)

func init() {
	prometheus.MustRegister(SpacesTotal)
	prometheus.MustRegister(VersionsTotal)
	prometheus.MustRegister(SnapshotArchivesTotal)
	prometheus.MustRegister(RBACTokensTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(PeerUp)
	prometheus.MustRegister(HTTPUp)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(RaftApplyErrorsTotal)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(RerankDuration)
	prometheus.MustRegister(SnapshotCreateDuration)
	prometheus.MustRegister(SnapshotRestoreDuration)
	prometheus.MustRegister(SnapshotSyncFetchFailuresTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
