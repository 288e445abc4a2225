package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spawnctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "spawnctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)
	stageRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spawnctl",
			Subsystem: "provision",
			Name:      "stage_total",
			Help:      "Provisioning stage outcomes.",
		},
		[]string{"stage", "success", "code"},
	)
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "spawnctl",
			Subsystem: "provision",
			Name:      "stage_duration_seconds",
			Help:      "Provisioning stage duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage", "success"},
	)
	registrySize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "spawnctl",
			Subsystem: "registry",
			Name:      "units",
			Help:      "Units recorded in the provisioning registry.",
		},
	)
	walletBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "spawnctl",
			Subsystem: "wallet",
			Name:      "balance_cycles",
			Help:      "Last observed wallet balance; precision above 2^53 is lost.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, stageRequests, stageDuration, registrySize, walletBalance)
	})
}

func RecordHTTPRequest(service, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(service, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordStage counts one provisioning stage; code is 0 on success.
func RecordStage(stage string, code int, duration time.Duration) {
	RegisterMetrics()
	success := code == 0
	successLabel := strconv.FormatBool(success)
	stageRequests.WithLabelValues(stage, successLabel, strconv.Itoa(code)).Inc()
	stageDuration.WithLabelValues(stage, successLabel).Observe(duration.Seconds())
}

func SetRegistrySize(n int) {
	RegisterMetrics()
	registrySize.Set(float64(n))
}

func SetWalletBalance(cycles float64) {
	RegisterMetrics()
	walletBalance.Set(cycles)
}
