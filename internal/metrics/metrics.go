// Package metrics defines the Prometheus collectors for import runs and the
// daemon's HTTP surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "iatisync"

// Metrics holds the collectors registered on one registry
type Metrics struct {
	runsTotal            *prometheus.CounterVec
	runDuration          prometheus.Histogram
	groupFailuresTotal   *prometheus.CounterVec
	warningsTotal        *prometheus.CounterVec
	organizationsCreated prometheus.Counter
	rowsTotal            *prometheus.CounterVec

	httpRequestsTotal *prometheus.CounterVec
}

// New registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_runs_total",
			Help:      "Import runs by final status.",
		}, []string{"status"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_run_duration_seconds",
			Help:      "Wall time of import runs, lock wait included.",
			Buckets: []float64{
				0.005, 0.01, 0.025,
				0.05, 0.1, 0.25,
				0.5, 1, 2.5, 5, 10,
			},
		}),
		groupFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "group_write_failures_total",
			Help:      "Field groups that failed to write.",
		}, []string{"group"}),
		warningsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_warnings_total",
			Help:      "Warnings attached to import runs by type.",
		}, []string{"type"}),
		organizationsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "organizations_created_total",
			Help:      "Organizations created while resolving references.",
		}),
		rowsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_rows_total",
			Help:      "Incoming child rows by result.",
		}, []string{"result"}),
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Daemon HTTP requests by route and status class.",
		}, []string{"route", "result"}),
	}
}

// RunObservation is what one finished run reports
type RunObservation struct {
	Status               string
	Duration             time.Duration
	FailedGroups         []string
	WarningTypes         []string
	OrganizationsCreated int
	SuccessfulRows       int
	FailedRows           int
}

// ObserveRun records a finished run. A nil receiver is a no-op.
func (m *Metrics) ObserveRun(o RunObservation) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(o.Status).Inc()
	m.runDuration.Observe(o.Duration.Seconds())
	for _, g := range o.FailedGroups {
		m.groupFailuresTotal.WithLabelValues(g).Inc()
	}
	for _, w := range o.WarningTypes {
		m.warningsTotal.WithLabelValues(w).Inc()
	}
	m.organizationsCreated.Add(float64(o.OrganizationsCreated))
	m.rowsTotal.WithLabelValues("ok").Add(float64(o.SuccessfulRows))
	m.rowsTotal.WithLabelValues("skipped").Add(float64(o.FailedRows))
}

// ObserveHTTP records one daemon request
func (m *Metrics) ObserveHTTP(route string, status int) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(route, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
