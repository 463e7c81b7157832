package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics captures catalog engine counters.
type Metrics interface {
	IncOperation(operation, status string)
	IncInconsistency(scope string)
	IncFileMove(status string)
	ObserveInspection(status string, durationSeconds float64)
	IncBackgroundTask(status string)
}

// HTTPMetrics captures request metrics for the API.
type HTTPMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements Metrics and HTTPMetrics without emitting anything.
type Noop struct{}

func (Noop) IncOperation(string, string)                    {}
func (Noop) IncInconsistency(string)                        {}
func (Noop) IncFileMove(string)                             {}
func (Noop) ObserveInspection(string, float64)              {}
func (Noop) IncBackgroundTask(string)                       {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// Prom implements Metrics and HTTPMetrics backed by Prometheus collectors.
type Prom struct {
	operations      *prometheus.CounterVec
	inconsistencies *prometheus.CounterVec
	fileMoves       *prometheus.CounterVec
	inspections     *prometheus.HistogramVec
	tasks           *prometheus.CounterVec
	requests        *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	once            sync.Once
}

// NewProm creates the collectors and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewProm(namespace string, reg prometheus.Registerer) *Prom {
	p := &Prom{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_operations_total",
			Help:      "Catalog operations by name and outcome",
		}, []string{"operation", "status"}),
		inconsistencies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_inconsistencies_total",
			Help:      "Packages found with more than one application in a visibility scope",
		}, []string{"scope"}),
		fileMoves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_file_moves_total",
			Help:      "Artifact relocations after promotion by outcome",
		}, []string{"status"}),
		inspections: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "package_inspection_duration_seconds",
			Help:      "Duration of external package inspection",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "background_tasks_total",
			Help:      "Background tasks by outcome",
		}, []string{"status"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p.register(reg)
	return p
}

func (p *Prom) register(reg prometheus.Registerer) {
	p.once.Do(func() {
		reg.MustRegister(p.operations, p.inconsistencies, p.fileMoves, p.inspections, p.tasks, p.requests, p.latency)
	})
}

func (p *Prom) IncOperation(operation, status string) {
	p.operations.WithLabelValues(operation, status).Inc()
}

func (p *Prom) IncInconsistency(scope string) {
	p.inconsistencies.WithLabelValues(scope).Inc()
}

func (p *Prom) IncFileMove(status string) {
	p.fileMoves.WithLabelValues(status).Inc()
}

func (p *Prom) ObserveInspection(status string, durationSeconds float64) {
	p.inspections.WithLabelValues(status).Observe(durationSeconds)
}

func (p *Prom) IncBackgroundTask(status string) {
	p.tasks.WithLabelValues(status).Inc()
}

func (p *Prom) ObserveRequest(method, route, status string, durationSeconds float64) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

// Handler returns an HTTP handler for /metrics serving g, or the default
// registry when g is nil.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
