package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"issuesink/internal/ingest"
	"issuesink/internal/platform/health"
	"issuesink/internal/platform/metrics"
	"issuesink/internal/platform/middleware"
	"issuesink/internal/sink"
)

const maxRecordsBody = 8 << 20

type opsServer struct {
	srv *http.Server
	log *slog.Logger
}

// newOpsServer serves /metrics, the health probes and POST /records, which
// feeds the same handler as the main input.
func newOpsServer(
	addr string,
	handler *sink.Handler,
	runner *ingest.Runner,
	reg *prometheus.Registry,
	m *metrics.Metrics,
	log *slog.Logger,
) *opsServer {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Latency(m))

	health.New(handler.Stats).Register(r)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.With(middleware.BodyLimit(maxRecordsBody)).Post("/records", runner.ServeHTTP)

	return &opsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		log: log,
	}
}

// run listens until ctx is done, then shuts down gracefully.
func (o *opsServer) run(ctx context.Context, ready func(addr string)) error {
	ln, err := net.Listen("tcp", o.srv.Addr)
	if err != nil {
		return err
	}
	o.log.Info("ops listener started", "addr", ln.Addr().String())
	if ready != nil {
		ready(ln.Addr().String())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- o.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.srv.Shutdown(shutdownCtx); err != nil {
		o.log.Error("ops listener shutdown failed", "error", err)
		return err
	}
	o.log.Info("ops listener stopped")
	return nil
}
