package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process-level metrics of the issuesink command: ingested
// lines and the ops endpoints. Reporting metrics live in the sink.
type Metrics struct {
	IngestLines     *prometheus.CounterVec
	EndpointLatency *prometheus.HistogramVec
}

// Ingest outcomes.
const (
	LineAccepted = "accepted"
	LineFiltered = "filtered"
	LineRejected = "rejected"
)

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IngestLines: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "issuesink_ingest_lines_total",
			Help: "Log lines read by ingest, by outcome",
		}, []string{"result"}),
		EndpointLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "issuesink_endpoint_latency_seconds",
			Help:    "Latency of ops endpoints in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint", "status"}),
	}
}

func (m *Metrics) IncIngestLine(result string) {
	m.IngestLines.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveEndpointLatency(endpoint, status string, durationSeconds float64) {
	m.EndpointLatency.WithLabelValues(endpoint, status).Observe(durationSeconds)
}
