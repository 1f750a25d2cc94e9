package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"issuesink/internal/ingest"
	"issuesink/internal/platform/config"
	"issuesink/internal/platform/health"
	"issuesink/internal/platform/logger"
	"issuesink/internal/platform/metrics"
	"issuesink/internal/reporting"
	"issuesink/internal/setup"
	"issuesink/internal/sink"
	"issuesink/internal/tracer"
)

const shutdownTimeout = 15 * time.Second

// rootFlags mirror config.Config; a flag overrides the environment only when
// it is set on the command line.
type rootFlags struct {
	endpoint    string
	username    string
	project     string
	policyFile  string
	batchSize   int
	period      time.Duration
	minLevel    string
	metricsAddr string
	logLevel    string
	input       string
	authNow     bool
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "issuesink",
		Short: "Report log records as tracker issues",
		Long: `issuesink reads newline-delimited JSON log records, as written by
slog.JSONHandler, and reports every record at or above the minimum level as
an issue in a YouTrack-style tracker.

Settings come from ISSUESINK_* environment variables; flags override them.
The password is only read from ISSUESINK_PASSWORD.`,
		Version:       health.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			if err := flags.apply(cmd, &cfg); err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if flags.input != "" && flags.input != "-" {
				f, err := os.Open(flags.input)
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer f.Close()
				in = f
			}

			err = run(cmd.Context(), cfg, runOptions{
				in:      in,
				stderr:  cmd.ErrOrStderr(),
				authNow: flags.authNow,
			})
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "issuesink:", err)
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.endpoint, "endpoint", "", "tracker base URL ("+config.EnvEndpoint+")")
	f.StringVar(&flags.username, "username", "", "tracker login ("+config.EnvUsername+")")
	f.StringVarP(&flags.project, "project", "p", "", "project key ("+config.EnvProject+")")
	f.StringVar(&flags.policyFile, "policy", "", "YAML reporting policy ("+config.EnvPolicyFile+")")
	f.IntVar(&flags.batchSize, "batch-size", 0, "records per flush ("+config.EnvBatchSize+")")
	f.DurationVar(&flags.period, "period", 0, "interval between flushes ("+config.EnvPeriod+")")
	f.StringVar(&flags.minLevel, "min-level", "", "lowest level reported ("+config.EnvMinLevel+")")
	f.StringVar(&flags.metricsAddr, "metrics-addr", "", "listen address for /metrics, /health and /records ("+config.EnvMetricsAddr+")")
	f.StringVar(&flags.logLevel, "log-level", "", "level of the command's own logs ("+config.EnvLogLevel+")")
	f.StringVarP(&flags.input, "input", "i", "-", "file to read records from, - for stdin")
	f.BoolVar(&flags.authNow, "auth-immediately", false, "log in to the tracker before reading input")

	return cmd
}

func (fl *rootFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	if changed("endpoint") {
		cfg.Endpoint = fl.endpoint
	}
	if changed("username") {
		cfg.Username = fl.username
	}
	if changed("project") {
		cfg.Project = fl.project
	}
	if changed("policy") {
		cfg.PolicyFile = fl.policyFile
	}
	if changed("batch-size") {
		cfg.BatchSize = fl.batchSize
	}
	if changed("period") {
		cfg.Period = fl.period
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = fl.metricsAddr
	}
	var errs []error
	if changed("min-level") {
		if err := cfg.MinLevel.UnmarshalText([]byte(fl.minLevel)); err != nil {
			errs = append(errs, fmt.Errorf("--min-level: %w", err))
		}
	}
	if changed("log-level") {
		if err := cfg.LogLevel.UnmarshalText([]byte(fl.logLevel)); err != nil {
			errs = append(errs, fmt.Errorf("--log-level: %w", err))
		}
	}
	return errors.Join(errs...)
}

type runOptions struct {
	in      io.Reader
	stderr  io.Writer
	authNow bool
	// ready, when set, receives the ops listener address once it accepts
	// connections.
	ready func(addr string)
}

// run reports the records read from opts.in until EOF or ctx is done, then
// drains the reporting queue.
func run(ctx context.Context, cfg config.Config, opts runOptions) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.NewWithWriter(opts.stderr, cfg.LogLevel)
	selfLog := logger.NewSelfLog(opts.stderr, cfg.LogLevel)
	log.Info("starting issuesink", "config", cfg)

	var policy *reporting.Policy
	if cfg.PolicyFile != "" {
		p, err := reporting.LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return err
		}
		policy = p
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	opsMetrics := metrics.New(reg)

	handler, err := setup.NewHandler(ctx, setup.Options{
		Endpoint: cfg.Endpoint,
		Username: cfg.Username,
		Password: cfg.Password,
		Configure: func(b *reporting.Builder) {
			if policy != nil {
				policy.Apply(b)
			}
			if cfg.Project != "" {
				b.UseProject(cfg.Project)
			}
		},
		BatchSize:       cfg.BatchSize,
		Period:          cfg.Period,
		MinLevel:        cfg.MinLevel,
		AuthImmediately: opts.authNow,
		Logger:          log,
		SelfLog:         selfLog,
		Registerer:      reg,
		Tracer:          tracer.NewOTel(),
	})
	if err != nil {
		return err
	}

	runErr := serve(ctx, cfg, handler, reg, opsMetrics, log, opts)

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	closeErr := handler.Close(drainCtx)

	stats := handler.Stats()
	log.Info("issuesink stopped", "pending", stats.Pending, "dropped", stats.Dropped)
	return errors.Join(runErr, closeErr)
}

// serve runs ingestion and, when configured, the ops listener. It returns
// when the input is exhausted or ctx is done.
func serve(
	ctx context.Context,
	cfg config.Config,
	handler *sink.Handler,
	reg *prometheus.Registry,
	m *metrics.Metrics,
	log *slog.Logger,
	opts runOptions,
) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	runner := ingest.New(handler, ingest.WithLogger(log), ingest.WithMetrics(m))
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		// End of input ends the process.
		defer stop()
		res, err := runner.Run(gctx, unblockOnDone(gctx, opts.in))
		log.Info("input finished", "accepted", res.Accepted, "filtered", res.Filtered, "rejected", res.Rejected)
		if gctx.Err() != nil {
			return nil
		}
		return err
	})

	if cfg.MetricsAddr != "" {
		ops := newOpsServer(cfg.MetricsAddr, handler, runner, reg, m, log)
		g.Go(func() error {
			return ops.run(gctx, opts.ready)
		})
	}

	return g.Wait()
}

// unblockOnDone closes r when ctx ends so a read blocked on a pipe returns.
func unblockOnDone(ctx context.Context, r io.Reader) io.Reader {
	c, ok := r.(io.Closer)
	if !ok {
		return r
	}
	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()
	return r
}
