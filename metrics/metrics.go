package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	EventSubmitted = "submitted"
	EventCancelled = "cancelled"
	EventRejected  = "rejected"

	OutcomeCreated = "created"
	OutcomeFailed  = "failed"

	ImportDiagnostics = "diagnostics"
	ImportPurchases   = "purchases"
)

var (
	registry = prometheus.NewRegistry()

	teledeclarations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "teledeclarations_total",
		Help: "Teledeclaration lifecycle events.",
	}, []string{"event"})

	importRows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "import_rows_total",
		Help: "Rows processed by file imports, by import and outcome.",
	}, []string{"import", "outcome"})

	importDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "import_seconds",
		Help:    "Duration of file imports.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"import"})
)

func init() {
	registry.MustRegister(
		teledeclarations,
		importRows,
		importDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func TeledeclarationEvent(event string) {
	teledeclarations.WithLabelValues(event).Inc()
}

func ImportRows(kind string, outcome string, n int) {
	if n <= 0 {
		return
	}
	importRows.WithLabelValues(kind, outcome).Add(float64(n))
}

func ObserveImport(kind string, seconds float64) {
	importDuration.WithLabelValues(kind).Observe(seconds)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
