// Package main runs the servicegraph orchestration daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/servicegraph/internal/config"
	"github.com/JakeFAU/servicegraph/internal/events"
	"github.com/JakeFAU/servicegraph/internal/events/sinks"
	"github.com/JakeFAU/servicegraph/internal/factory"
	"github.com/JakeFAU/servicegraph/internal/lifecycle"
	"github.com/JakeFAU/servicegraph/internal/logging"
	"github.com/JakeFAU/servicegraph/internal/registrar"
	"github.com/JakeFAU/servicegraph/internal/registry"
	"github.com/JakeFAU/servicegraph/internal/resolver"
	"github.com/JakeFAU/servicegraph/internal/server"
)

const trailCapacity = 512

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracker := lifecycle.NewTracker()
	reg := registry.New(logger.Named("registry"), tracker, nil)
	fac := factory.New(logger.Named("factory"), tracker, nil)
	res := resolver.New(logger.Named("resolver"))

	promReg := prometheus.NewRegistry()
	metricsSink, err := sinks.NewPrometheusSink(promReg)
	if err != nil {
		logger.Fatal("metrics sink init failed", zap.Error(err))
	}
	trail := sinks.NewMemorySink(trailCapacity)
	hub := events.NewHub(events.Config{
		BufferSize:     cfg.Events.BufferSize,
		MaxBatchEvents: cfg.Events.MaxBatchEvents,
		FlushInterval:  cfg.Events.FlushInterval,
		SinkTimeout:    cfg.Events.SinkTimeout,
		Logger:         logger.Named("events"),
	}, sinks.NewLogSink(logger.Named("lifecycle")), metricsSink, trail)

	rgr := registrar.New(reg, fac, res, hub, logger.Named("registrar"), nil, cfg.Options())

	report, err := rgr.Run(ctx, builtinDefinitions(logger))
	if err != nil {
		logger.Error("registration run failed", zap.Error(err))
		if !cfg.Server.Enabled {
			shutdown(logger, nil, reg, hub)
			os.Exit(1)
		}
		// Keep serving so the failure report stays inspectable.
	} else {
		logger.Info("services ready",
			zap.Int("registered", report.Summary.Succeeded),
			zap.Duration("took", report.Summary.Duration),
		)
	}

	var srv *http.Server
	if cfg.Server.Enabled {
		apiServer := server.New(reg, rgr, trail, promReg, logger.Named("api"))
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("http server started", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown initiated")
	shutdown(logger, srv, reg, hub)
	logger.Info("shutdown complete")
}

// shutdown stops the HTTP listener, tears services down in reverse creation
// order, and drains the event hub.
func shutdown(logger *zap.Logger, srv *http.Server, reg *registry.Registry, hub *events.Hub) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}
	reg.Dispose(shutdownCtx)
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("event hub close error", zap.Error(err))
	}
}
