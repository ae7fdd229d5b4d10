package security

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// VaultRequestsTotal counts every vault_service operation, labeled by
	// {method, transport, status}: status is "success", "error" (soft error
	// responses), or a thrown error kind ("unauthenticated", "rate_limited").
	VaultRequestsTotal *prometheus.CounterVec

	// VaultRequestDuration records per-operation latency, labeled by
	// {method, transport}.
	VaultRequestDuration *prometheus.HistogramVec

	// VaultDecryptionOperations counts decrypt_scores/decrypt_metadata calls
	// by outcome, labeled by {operation, status}.
	VaultDecryptionOperations *prometheus.CounterVec

	// VaultKeyAccess counts key-store reads, labeled by {key}.
	VaultKeyAccess *prometheus.CounterVec

	// VaultHealthStatus is 1 when the aggregated health check is healthy, 0 otherwise.
	VaultHealthStatus prometheus.Gauge

	// VaultCPUUsage and VaultMemoryUsage report the last sampled resource percentages.
	VaultCPUUsage    prometheus.Gauge
	VaultMemoryUsage prometheus.Gauge

	// VaultUptimeSeconds reports process uptime.
	VaultUptimeSeconds prometheus.Gauge
)

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
// Must be called before starting any transport. Safe to call multiple times;
// only the first call registers.
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
			Name: "vault_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vault_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	VaultRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_requests_total",
			Help: "Total number of vault service operations",
		},
		[]string{"method", "transport", "status"},
	)

	VaultRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vault_request_duration_seconds",
			Help:    "Vault service operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "transport"},
	)

	VaultDecryptionOperations = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_decryption_operations_total",
			Help: "Total number of decryption operations",
		},
		[]string{"operation", "status"},
	)

	VaultKeyAccess = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_key_access_total",
			Help: "Total number of key store reads",
		},
		[]string{"key"},
	)

	VaultHealthStatus = f.NewGauge(prometheus.GaugeOpts{
		Name: "vault_health_status",
		Help: "1 if the vault is healthy, 0 otherwise",
	})

	VaultCPUUsage = f.NewGauge(prometheus.GaugeOpts{
		Name: "vault_cpu_usage_percent",
		Help: "Last sampled CPU usage percentage",
	})

	VaultMemoryUsage = f.NewGauge(prometheus.GaugeOpts{
		Name: "vault_memory_usage_percent",
		Help: "Last sampled memory usage percentage",
	})

	VaultUptimeSeconds = f.NewGauge(prometheus.GaugeOpts{
		Name: "vault_uptime_seconds",
		Help: "Process uptime in seconds",
	})
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
