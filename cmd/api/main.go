package main

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/botfleet/internal/client"
	"github.com/wenwu/saas-platform/botfleet/internal/config"
	"github.com/wenwu/saas-platform/botfleet/internal/db"
	"github.com/wenwu/saas-platform/botfleet/internal/http"
	"github.com/wenwu/saas-platform/botfleet/internal/keepalive"
	"github.com/wenwu/saas-platform/botfleet/internal/logging"
	"github.com/wenwu/saas-platform/botfleet/internal/metrics"
	"github.com/wenwu/saas-platform/botfleet/internal/repository"
	"github.com/wenwu/saas-platform/botfleet/internal/service"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log, err := logging.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting botfleet",
		zap.String("port", cfg.Server.Port),
		zap.String("koyeb_api", cfg.Koyeb.APIBase),
		zap.String("region", cfg.Koyeb.Region),
		zap.Bool("keepalive", cfg.KeepAlive.Enabled),
		zap.Duration("keepalive_interval", cfg.KeepAlive.Interval),
	)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	// Database
	if err := db.RunMigrations(cfg.Database.DSN()); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.NewPool(ctx, cfg.Database)
	cancel()
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	metrics.RegisterPgxPoolMetrics(reg, pool)

	var metricsServer *nethttp.Server
	if cfg.Metrics.Addr != "" {
		metricsServer = metrics.NewServer(cfg.Metrics.Addr, reg)
		go func() {
			log.Info("metrics server starting", zap.String("addr", cfg.Metrics.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	// Initialize repositories
	accountRepo := repository.NewAccountRepository(pool)
	deploymentRepo := repository.NewDeploymentRepository(pool)
	eventRepo := repository.NewEventRepository(pool)

	// Initialize clients
	koyebClient := client.NewKoyebClient(cfg.Koyeb, m, log)

	// Initialize services
	accountPool := service.NewAccountPool(accountRepo, deploymentRepo, koyebClient, log)
	deploymentService := service.NewDeploymentService(
		accountPool,
		accountRepo,
		deploymentRepo,
		eventRepo,
		koyebClient,
		cfg.Koyeb.PublicURLTemplate,
		log,
	)

	poller := keepalive.New(deploymentRepo, cfg.KeepAlive, m, log)
	if cfg.KeepAlive.Enabled {
		poller.Start()
	}

	// Initialize HTTP server
	server := http.NewServer(cfg, log, deploymentService, accountPool, poller)
	httpServer := &nethttp.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
	poller.Stop()
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	log.Info("server exited")
}
