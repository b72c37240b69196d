package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/parcelmap/server/internal/api"
	"github.com/parcelmap/server/internal/config"
	"github.com/parcelmap/server/internal/gateway"
	"github.com/parcelmap/server/internal/logger"
	"github.com/parcelmap/server/internal/performance"
)

const shutdownTimeout = 15 * time.Second

// main starts the parcel editing server: the /ws edit channel, the geometry
// API, health and metrics.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	base, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = base.Sync() }()
	log := base.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Errorw("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	profiler := performance.NewProfiler(!cfg.Server.IsProduction())
	backend := gateway.NewClient(cfg, log.Named(logger.ComponentGateway))
	routes := api.SetupRoutes(cfg, backend, profiler, log.Named(logger.ComponentAPI))

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      routes.Handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infow("parcelmap server starting",
			"addr", srv.Addr,
			"environment", cfg.Server.Environment,
			"gateway", cfg.Gateway.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Hijacked websocket connections are not covered by Shutdown.
		routes.WebSocket.Hub().CloseAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		profiler.LogReport(log.Named(logger.ComponentServer))
		return nil
	})

	return g.Wait()
}
