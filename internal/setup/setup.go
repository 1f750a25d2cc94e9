// Package setup wires a reporting handler from plain options: tracker
// client, reporting configuration, sink, batcher and metrics.
package setup

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"issuesink/internal/reporting"
	"issuesink/internal/sink"
	"issuesink/internal/sink/metrics"
	"issuesink/internal/tracer"
	"issuesink/internal/youtrack"
	dErrors "issuesink/pkg/domain-errors"
	"issuesink/pkg/platform/batching"
	"issuesink/pkg/platform/circuit"
	"issuesink/pkg/secrets"
)

// Defaults for the batching trigger.
const (
	DefaultBatchSize = 10
	DefaultPeriod    = time.Second
)

// Options configure NewHandler. Either Reporter or the tracker credentials
// (Endpoint, Username, Password) must be set, and either Configure or
// Configuration.
type Options struct {
	Endpoint string
	Username string
	Password string

	// Configure customizes the reporting policy. Ignored when Configuration
	// is set.
	Configure     func(*reporting.Builder)
	Configuration *reporting.Configuration

	// Reporter replaces the tracker client built from the credentials.
	Reporter youtrack.Reporter

	BatchSize  int
	Period     time.Duration
	QueueLimit int
	MinLevel   slog.Leveler

	// AuthImmediately logs in before NewHandler returns.
	AuthImmediately bool
	HTTPClient      youtrack.HTTPDoer
	Timeout         time.Duration

	// Logger receives tracker client diagnostics; SelfLog receives sink
	// operability traces. Both default to discarding.
	Logger     *slog.Logger
	SelfLog    *slog.Logger
	Registerer prometheus.Registerer
	Tracer     tracer.Tracer
}

// NewHandler builds the reporting configuration first, so configuration
// errors surface before any network call, then the reporter, sink and
// handler. ctx bounds the immediate login only.
func NewHandler(ctx context.Context, opts Options) (*sink.Handler, error) {
	cfg, err := configuration(opts)
	if err != nil {
		return nil, err
	}

	reporter := opts.Reporter
	if reporter == nil {
		client, err := newClient(ctx, opts)
		if err != nil {
			return nil, err
		}
		reporter = client
	}

	sinkOpts := []sink.Option{sink.WithSelfLog(opts.SelfLog), sink.WithTracer(opts.Tracer)}
	if opts.Registerer != nil {
		sinkOpts = append(sinkOpts, sink.WithMetrics(metrics.New(opts.Registerer)))
	}
	s, err := sink.NewWithConfiguration(reporter, cfg, sinkOpts...)
	if err != nil {
		return nil, err
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	period := opts.Period
	if period <= 0 {
		period = DefaultPeriod
	}

	return sink.NewHandler(s,
		sink.WithMinLevel(opts.MinLevel),
		sink.WithBatching(
			batching.WithBatchSize(batchSize),
			batching.WithPeriod(period),
			batching.WithQueueLimit(opts.QueueLimit),
			batching.WithBreaker(circuit.New("tracker")),
		),
	), nil
}

// ForProject returns a handler reporting every record to project with the
// default templates, batch size and period.
func ForProject(endpoint, username, password, project string) (*sink.Handler, error) {
	return NewHandler(context.Background(), Options{
		Endpoint: endpoint,
		Username: username,
		Password: password,
		Configure: func(b *reporting.Builder) {
			b.UseProject(project)
		},
	})
}

func configuration(opts Options) (*reporting.Configuration, error) {
	if opts.Configuration != nil {
		return opts.Configuration, nil
	}
	if opts.Configure == nil {
		return nil, dErrors.New(dErrors.CodeConfiguration, "either Configure or Configuration is required")
	}
	b := reporting.NewBuilder()
	opts.Configure(b)
	return b.Build()
}

func newClient(ctx context.Context, opts Options) (*youtrack.Client, error) {
	if opts.Endpoint == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "endpoint is required")
	}
	endpoint, err := url.Parse(opts.Endpoint)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "parse endpoint")
	}

	secret := secrets.FromString(opts.Password)
	clientOpts := []youtrack.Option{youtrack.WithTimeout(opts.Timeout)}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, youtrack.WithHTTPClient(opts.HTTPClient))
	}
	if opts.Logger != nil {
		clientOpts = append(clientOpts, youtrack.WithLogger(opts.Logger))
	}
	if opts.Tracer != nil {
		clientOpts = append(clientOpts, youtrack.WithTracer(opts.Tracer))
	}

	client, err := youtrack.New(opts.Username, secret, endpoint, clientOpts...)
	if err != nil {
		secret.Destroy()
		return nil, err
	}
	if opts.AuthImmediately {
		if err := client.Authenticate(ctx); err != nil {
			return nil, errors.Join(err, client.Close())
		}
	}
	return client, nil
}
