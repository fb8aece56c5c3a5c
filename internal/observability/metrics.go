package observability

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/usd-asset-library/backend/internal/pkg/logger"
)

// Metrics owns a private prometheus registry. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	checkoutOutcomes *prometheus.CounterVec
	commitsRecorded  prometheus.Counter
	versionRecords   prometheus.Counter
	storeOps         *prometheus.CounterVec
	storeLatency     *prometheus.HistogramVec
	uploadBytes      prometheus.Counter
	projectionSkips  *prometheus.CounterVec
	urlCache         *prometheus.CounterVec

	redisUp   prometheus.Gauge
	redisPing prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assetlib_api_requests_total",
			Help: "Total API requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assetlib_api_request_duration_seconds",
			Help:    "API request latency in seconds by method/route/status.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method", "route", "status"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "assetlib_api_inflight_requests",
			Help: "In-flight API requests.",
		}),
		checkoutOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assetlib_checkout_operations_total",
			Help: "Checkout/release attempts by operation and outcome.",
		}, []string{"operation", "outcome"}),
		commitsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assetlib_commits_recorded_total",
			Help: "Commits appended to asset histories.",
		}),
		versionRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assetlib_version_records_total",
			Help: "Version records (sublayers) appended.",
		}),
		storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assetlib_content_store_operations_total",
			Help: "Content store operations by backend/operation/status.",
		}, []string{"backend", "operation", "status"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assetlib_content_store_duration_seconds",
			Help:    "Content store latency in seconds by backend/operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"backend", "operation"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assetlib_upload_bytes_total",
			Help: "Bytes accepted from clients for upload.",
		}),
		projectionSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assetlib_projection_skipped_items_total",
			Help: "Items skipped while building read views, by view.",
		}, []string{"view"}),
		urlCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assetlib_presign_cache_total",
			Help: "Presigned URL cache lookups by result.",
		}, []string{"result"}),
		redisUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "assetlib_redis_up",
			Help: "1 when the last redis ping succeeded.",
		}),
		redisPing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "assetlib_redis_ping_seconds",
			Help: "Latency of the last redis ping.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.checkoutOutcomes, m.commitsRecorded, m.versionRecords,
		m.storeOps, m.storeLatency, m.uploadBytes,
		m.projectionSkips, m.urlCache,
		m.redisUp, m.redisPing,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route, status).Observe(dur.Seconds())
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

// IncCheckout records one checkout-family call; outcome is success, conflict,
// not_found, invalid or error.
func (m *Metrics) IncCheckout(operation, outcome string) {
	if m == nil {
		return
	}
	m.checkoutOutcomes.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) ObserveCommit(versionRecords int) {
	if m == nil {
		return
	}
	m.commitsRecorded.Inc()
	m.versionRecords.Add(float64(versionRecords))
}

func (m *Metrics) ObserveStoreOperation(backend, operation, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.storeOps.WithLabelValues(backend, operation, status).Inc()
	m.storeLatency.WithLabelValues(backend, operation).Observe(dur.Seconds())
}

func (m *Metrics) AddUploadBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.uploadBytes.Add(float64(n))
}

func (m *Metrics) IncProjectionSkip(view string) {
	if m == nil {
		return
	}
	m.projectionSkips.WithLabelValues(view).Inc()
}

func (m *Metrics) IncURLCache(result string) {
	if m == nil {
		return
	}
	m.urlCache.WithLabelValues(result).Inc()
}

// RegisterDBStats exports database/sql pool stats.
func (m *Metrics) RegisterDBStats(db *sql.DB, name string) {
	if m == nil || db == nil {
		return
	}
	m.registry.MustRegister(collectors.NewDBStatsCollector(db, name))
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb *goredis.Client, interval time.Duration) {
	if m == nil || rdb == nil {
		return
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}
