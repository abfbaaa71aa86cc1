package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Request metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vmdkops_requests_total",
			Help: "Total number of volume requests by command and status",
		},
		[]string{"command", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vmdkops_request_duration_seconds",
			Help:    "Volume request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	// Volume metrics
	VolumesAttached = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vmdkops_volumes_attached",
			Help: "Number of volumes currently attached to VMs",
		},
	)

	VolumesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vmdkops_volumes_created_total",
			Help: "Total number of volumes created",
		},
	)

	VolumesRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vmdkops_volumes_removed_total",
			Help: "Total number of volumes removed",
		},
	)

	// Transport metrics
	ReceiveErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vmdkops_receive_errors_total",
			Help: "Total number of transport receive errors",
		},
	)

	MalformedRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vmdkops_malformed_requests_total",
			Help: "Total number of requests that failed to parse",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(VolumesAttached)
	prometheus.MustRegister(VolumesCreated)
	prometheus.MustRegister(VolumesRemoved)
	prometheus.MustRegister(ReceiveErrors)
	prometheus.MustRegister(MalformedRequests)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in the given histogram
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}
