package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"validity/internal/platform/config"
	"validity/internal/platform/httpserver"
	"validity/internal/platform/logger"
	platformmetrics "validity/internal/platform/metrics"
	temporalconfig "validity/internal/temporal/config"
	"validity/internal/temporal/handler"
	"validity/internal/temporal/metrics"
	"validity/internal/temporal/segment"
	"validity/internal/temporal/service"
	"validity/pkg/platform/httputil"
	"validity/pkg/platform/middleware/admin"
	"validity/pkg/platform/middleware/request"
	"validity/pkg/platform/middleware/requesttime"
)

// main wires the engine to its configured backends and serves the API until
// SIGINT or SIGTERM.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "validity:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policies, err := temporalconfig.LoadFile(cfg.PolicyFile)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.close()

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(metrics.New(reg)),
		service.WithTracer(otel.Tracer("validity/temporal")),
		service.WithTxRunner(deps.tx),
	}
	if deps.locker != nil {
		opts = append(opts, service.WithScopeLocker(deps.locker))
	}
	if deps.auditor != nil {
		opts = append(opts, service.WithAuditPublisher(deps.auditor))
	}
	engine, err := service.New(deps.store, opts...)
	if err != nil {
		return err
	}
	for _, p := range policies.Policies {
		if _, err := engine.Register(p); err != nil {
			return err
		}
	}
	segments := make([]*segment.Service, 0, len(policies.Segmented))
	for _, s := range policies.Segmented {
		svc, err := segment.New(engine, s, segment.WithLogger(log))
		if err != nil {
			return err
		}
		segments = append(segments, svc)
	}
	log.InfoContext(ctx, "policies loaded",
		"kinds", engine.Kinds(),
		"segmented", len(segments),
		"store", cfg.Store.Driver,
		"locker", cfg.Locker.Driver,
		"audit", cfg.Audit.Sink,
	)

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(platformmetrics.NewHTTP(reg).Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := deps.health(r.Context()); err != nil {
			log.WarnContext(r.Context(), "health check failed", "error", err)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	handler.New(engine, segments, log).Register(r, admin.RequireToken(cfg.AdminToken, log))

	srv := httpserver.New(cfg.Addr, r)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(gctx, "starting validity", "addr", cfg.Addr)
		return httpserver.Serve(gctx, srv, cfg.ShutdownTimeout)
	})
	if deps.relay != nil {
		g.Go(func() error {
			if err := deps.relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	err = g.Wait()
	log.Info("validity stopped", "error", err)
	return err
}
