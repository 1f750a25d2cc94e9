package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the issue sink.
type Metrics struct {
	// Workflow outcomes
	IssuesCreated    prometheus.Counter
	CreationFailures prometheus.Counter
	CommandsExecuted prometheus.Counter
	CommandFailures  *prometheus.CounterVec

	// Batch health
	BatchSize     prometheus.Histogram
	FlushDuration prometheus.Histogram
	FlushFailures prometheus.Counter
	EventsDropped prometheus.Counter
}

// New creates the sink metrics and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IssuesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "issuesink_issues_created_total",
			Help: "Total number of issues created in the tracker",
		}),
		CreationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "issuesink_issue_creation_failures_total",
			Help: "Total number of failed issue creations, including authentication failures",
		}),
		CommandsExecuted: factory.NewCounter(prometheus.CounterOpts{
			Name: "issuesink_commands_executed_total",
			Help: "Total number of post-creation commands executed successfully",
		}),
		CommandFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "issuesink_command_failures_total",
			Help: "Total number of failed post-creation commands by failure policy",
		}, []string{"policy"}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "issuesink_batch_size",
			Help:    "Number of events per flushed batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),
		FlushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "issuesink_flush_duration_seconds",
			Help:    "Time taken to flush a batch to the tracker",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		FlushFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "issuesink_flush_failures_total",
			Help: "Total number of batch flushes that returned an error",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "issuesink_events_dropped_total",
			Help: "Total number of events dropped by a full queue or an abandoned batch",
		}),
	}
}

// IncIssuesCreated increments the created issues counter.
func (m *Metrics) IncIssuesCreated() {
	m.IssuesCreated.Inc()
}

// IncCreationFailures increments the creation failures counter.
func (m *Metrics) IncCreationFailures() {
	m.CreationFailures.Inc()
}

// IncCommandsExecuted increments the executed commands counter.
func (m *Metrics) IncCommandsExecuted() {
	m.CommandsExecuted.Inc()
}

// IncCommandFailures increments the command failures counter for the
// provider's policy.
func (m *Metrics) IncCommandFailures(failSilently bool) {
	policy := "strict"
	if failSilently {
		policy = "silent"
	}
	m.CommandFailures.WithLabelValues(policy).Inc()
}

// ObserveBatchSize records the size of a flushed batch.
func (m *Metrics) ObserveBatchSize(size int) {
	m.BatchSize.Observe(float64(size))
}

// ObserveFlushDuration records how long a flush took.
func (m *Metrics) ObserveFlushDuration(seconds float64) {
	m.FlushDuration.Observe(seconds)
}

// IncFlushFailures increments the flush failures counter.
func (m *Metrics) IncFlushFailures() {
	m.FlushFailures.Inc()
}

// AddDropped adds n dropped events.
func (m *Metrics) AddDropped(n int) {
	m.EventsDropped.Add(float64(n))
}
