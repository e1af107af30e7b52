package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mr1hm/city-alerts/internal/api"
	"github.com/mr1hm/city-alerts/internal/config"
	"github.com/mr1hm/city-alerts/internal/events"
	"github.com/mr1hm/city-alerts/internal/feed"
	internalgrpc "github.com/mr1hm/city-alerts/internal/grpc"
	"github.com/mr1hm/city-alerts/internal/ingestion"
	"github.com/mr1hm/city-alerts/internal/logging"
	"github.com/mr1hm/city-alerts/internal/metrics"
	"github.com/mr1hm/city-alerts/internal/repository"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	opts := feed.Options{
		SnapshotLimit: cfg.Feed.SnapshotLimit,
		RetryInterval: cfg.Feed.RetryInterval,
		Metrics:       m,
	}

	// Lifecycle export is optional
	var publisher *events.KafkaPublisher
	if cfg.Kafka.Brokers != "" {
		publisher, err = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Worker.Count, cfg.Worker.BufferSize, m)
		if err != nil {
			logging.Fatalf("Failed to initialize Kafka publisher: %v", err)
		}
		// Not tied to ctx so Close can drain queued events
		publisher.Start(context.Background())
		opts.Publisher = publisher
	}

	gateway := feed.NewGateway(db, opts)
	metrics.RegisterSubscriberGauge(reg, gateway.SubscriberCount)

	sweeper := feed.NewSweeper(gateway, cfg.Feed.SweepInterval)
	sweeper.Start(ctx)

	mgr := ingestion.NewManager(cfg, db, gateway)
	mgr.Start(ctx)

	grpcServer := internalgrpc.NewServer(gateway)
	go func() {
		if err := grpcServer.Start(cfg.GRPCAddr()); err != nil {
			logging.Fatalf("gRPC server error: %v", err)
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	router, err := api.NewEngine(cfg.Server.TrustedProxies)
	if err != nil {
		logging.Fatalf("Failed to configure HTTP engine: %v", err)
	}

	handler := api.NewHandler(gateway, cfg.Server.RateLimitRPS)
	handler.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	cancel()
	mgr.Stop()
	sweeper.Stop()

	// End streams before the servers wait on them
	handler.Close()
	grpcServer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	gateway.Close()
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			slog.Error("kafka publisher close error", "error", err)
		}
	}

	slog.Info("shutdown complete")
}
