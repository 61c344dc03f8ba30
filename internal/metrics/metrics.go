// Package metrics provides Prometheus instrumentation for Lumenguard.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lumenguard",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lumenguard",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AssessmentsTotal counts completed risk assessments by subject type and level.
	AssessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lumenguard",
			Name:      "assessments_total",
			Help:      "Total risk assessments by subject type and resulting level.",
		},
		[]string{"subject_type", "level"},
	)

	// AnalysisDuration observes assessment wall-clock time by subject type.
	AnalysisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lumenguard",
			Name:      "analysis_duration_seconds",
			Help:      "Risk analysis duration in seconds by subject type.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"subject_type"},
	)

	// SignalFetchFailures counts signal provider failures by signal name.
	SignalFetchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lumenguard",
			Name:      "signal_fetch_failures_total",
			Help:      "Total signal provider failures that degraded an assessment.",
		},
		[]string{"signal"},
	)

	// PartialAssessmentsTotal counts assessments completed after deadline expiry.
	PartialAssessmentsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "lumenguard",
		Name:      "partial_assessments_total",
		Help:      "Assessments produced best-effort after the analysis deadline expired.",
	})

	// CommunityReportsTotal counts report submissions by outcome.
	CommunityReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lumenguard",
			Name:      "community_reports_total",
			Help:      "Community report submissions by outcome (accepted, rate_limited, duplicate, spam_flagged).",
		},
		[]string{"outcome"},
	)

	// ReportModerationsTotal counts moderation verdicts.
	ReportModerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lumenguard",
			Name:      "report_moderations_total",
			Help:      "Report moderation verdicts (verified, rejected, spam).",
		},
		[]string{"verdict"},
	)

	// PortfolioScansTotal counts portfolio scans.
	PortfolioScansTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "lumenguard",
		Name:      "portfolio_scans_total",
		Help:      "Total portfolio scans performed.",
	})

	// ActiveWebSocketClients tracks connected threat-feed clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lumenguard",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "lumenguard", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "lumenguard", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "lumenguard", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AssessmentsTotal,
		AnalysisDuration,
		SignalFetchFailures,
		PartialAssessmentsTotal,
		CommunityReportsTotal,
		ReportModerationsTotal,
		PortfolioScansTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
