package metrics

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// StoreLatency can be used by store implementations to record operation latency.
	StoreLatency *prometheus.HistogramVec

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// DBPoolOpenConnections tracks the number of currently open database connections.
	DBPoolOpenConnections prometheus.Gauge

	// DBPoolMaxConnections tracks the configured maximum database connections.
	DBPoolMaxConnections prometheus.Gauge

	// CleanupRunsTotal counts cleanup triggers by decision (run, joined, throttled).
	CleanupRunsTotal *prometheus.CounterVec

	// StageDuration records how long each cleanup stage took and whether it failed.
	StageDuration *prometheus.HistogramVec

	MediaDownloadsTotal  *prometheus.CounterVec
	MediaQueueOverflow   prometheus.Counter
	RetentionDeleted     *prometheus.CounterVec
	CompanionSyncsTotal  *prometheus.CounterVec
	LastCleanupTimestamp prometheus.Gauge
)

type idleCounters struct {
	overflows func() int64
	fallbacks func() int64
}

var idleSource atomic.Pointer[idleCounters]

// RegisterIdleScheduler makes the idle scheduler counters report through the
// idle collectors. The latest registration wins.
func RegisterIdleScheduler(overflows, fallbacks func() int64) {
	idleSource.Store(&idleCounters{overflows: overflows, fallbacks: fallbacks})
}

func idleOverflows() float64 {
	if c := idleSource.Load(); c != nil {
		return float64(c.overflows())
	}
	return 0
}

func idleFallbacks() float64 {
	if c := idleSource.Load(); c != nil {
		return float64(c.fallbacks())
	}
	return 0
}

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus metrics with the given constant labels.
// Safe to call multiple times; only the first call registers. Until it is
// called every helper below is a no-op.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initMetricsInner(constLabels)
	})
}

func initMetricsInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_cache_requests_total",
			Help: "Total number of management HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_cache_request_duration_seconds",
			Help:    "Management HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	StoreLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_cache_store_latency_seconds",
			Help:    "Local store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CacheHitsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "notification_cache_cache_hits_total",
		Help: "Total normalized cache hits",
	})

	CacheMissesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "notification_cache_cache_misses_total",
		Help: "Total normalized cache misses",
	})

	DBPoolOpenConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "notification_cache_db_pool_open_connections",
		Help: "Number of open database connections",
	})

	DBPoolMaxConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "notification_cache_db_pool_max_connections",
		Help: "Maximum number of database connections",
	})

	CleanupRunsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_cache_cleanup_runs_total",
		Help: "Cleanup triggers by gate decision",
	}, []string{"gate", "decision"})

	StageDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notification_cache_stage_duration_seconds",
		Help:    "Cleanup stage duration in seconds",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"stage", "outcome"})

	MediaDownloadsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_cache_media_downloads_total",
		Help: "Media downloads by outcome",
	}, []string{"outcome"})

	MediaQueueOverflow = f.NewCounter(prometheus.CounterOpts{
		Name: "notification_cache_media_queue_overflow_total",
		Help: "Download requests dropped because the queue was full",
	})

	RetentionDeleted = f.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_cache_retention_deleted_total",
		Help: "Rows removed by retention pruning",
	}, []string{"kind"})

	CompanionSyncsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_cache_companion_syncs_total",
		Help: "Companion sync attempts by mode and outcome",
	}, []string{"mode", "outcome"})

	LastCleanupTimestamp = f.NewGauge(prometheus.GaugeOpts{
		Name: "notification_cache_last_cleanup_timestamp_seconds",
		Help: "Unix time of the last completed cleanup",
	})

	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "notification_cache_idle_overflows_total",
		Help: "Idle tasks that found the scheduler queue full",
	}, idleOverflows)

	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "notification_cache_idle_fallbacks_total",
		Help: "Idle tasks run outside the scheduler worker",
	}, idleFallbacks)
}

// ObserveStore records the latency of a store operation started at start.
func ObserveStore(op string, start time.Time) {
	if StoreLatency == nil {
		return
	}
	StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// ObserveStage records a finished cleanup stage.
func ObserveStage(stage string, start time.Time, err error) {
	if StageDuration == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	StageDuration.WithLabelValues(stage, outcome).Observe(time.Since(start).Seconds())
}

// CountGate increments the trigger counter for a gate decision.
func CountGate(gate, decision string) {
	if CleanupRunsTotal == nil {
		return
	}
	CleanupRunsTotal.WithLabelValues(gate, decision).Inc()
}

// CountCacheLookup records a normalized cache hit or miss.
func CountCacheLookup(hit bool) {
	if hit {
		if CacheHitsTotal != nil {
			CacheHitsTotal.Inc()
		}
		return
	}
	if CacheMissesTotal != nil {
		CacheMissesTotal.Inc()
	}
}

func CountDownload(outcome string) {
	if MediaDownloadsTotal != nil {
		MediaDownloadsTotal.WithLabelValues(outcome).Inc()
	}
}

func CountQueueOverflow() {
	if MediaQueueOverflow != nil {
		MediaQueueOverflow.Inc()
	}
}

func CountRetention(kind string, n int) {
	if RetentionDeleted != nil && n > 0 {
		RetentionDeleted.WithLabelValues(kind).Add(float64(n))
	}
}

func CountCompanionSync(mode, outcome string) {
	if CompanionSyncsTotal != nil {
		CompanionSyncsTotal.WithLabelValues(mode, outcome).Inc()
	}
}

func MarkCleanupCompleted(at time.Time) {
	if LastCleanupTimestamp != nil {
		LastCleanupTimestamp.Set(float64(at.Unix()))
	}
}

// MetricsMiddleware records HTTP request metrics for Prometheus.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		httpRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method).Observe(duration.Seconds())
	}
}
