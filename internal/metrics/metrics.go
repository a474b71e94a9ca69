package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "files_http_requests_total",
		Help: "HTTP requests handled, by method, route and status.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "files_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"method", "route"})

	fileOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "files_operations_total",
		Help: "File orchestrator operations, by operation and result.",
	}, []string{"operation", "result"})

	fileRollbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "files_rollbacks_total",
		Help: "Update rollbacks, by outcome.",
	}, []string{"outcome"})

	orphanObjectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "files_orphan_objects_total",
		Help: "Backend objects whose cleanup could not be confirmed.",
	})

	sweptFilesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "files_swept_total",
		Help: "Stale temp and backup files removed by the sweeper.",
	})

	metadataCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "files_metadata_cache_lookups_total",
		Help: "Metadata cache lookups, by result (hit or miss).",
	}, []string{"result"})

	initOnce sync.Once
)

// InitMetrics registers the collectors with the default registry. Safe to call
// more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			fileOperationsTotal,
			fileRollbacksTotal,
			orphanObjectsTotal,
			sweptFilesTotal,
			metadataCacheLookups,
		)
	})
}

// Register attaches the Prometheus metrics endpoint to the router.
func Register(router *gin.Engine, path string) {
	router.GET(path, gin.WrapH(promhttp.Handler()))
}

// Middleware records request counts and latency per matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// ObserveFileOperation counts one save, update or delete by result.
func ObserveFileOperation(operation, result string) {
	fileOperationsTotal.WithLabelValues(operation, result).Inc()
}

// ObserveRollback counts one update rollback by outcome.
func ObserveRollback(outcome string) {
	fileRollbacksTotal.WithLabelValues(outcome).Inc()
}

// ObserveOrphans adds n unconfirmed cleanups.
func ObserveOrphans(n int) {
	orphanObjectsTotal.Add(float64(n))
}

// ObserveSwept adds n files removed by the sweeper.
func ObserveSwept(n int) {
	sweptFilesTotal.Add(float64(n))
}

// ObserveCacheLookup counts one metadata cache hit or miss.
func ObserveCacheLookup(hit bool) {
	if hit {
		metadataCacheLookups.WithLabelValues("hit").Inc()
		return
	}
	metadataCacheLookups.WithLabelValues("miss").Inc()
}
