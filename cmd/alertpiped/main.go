package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/trucktrack/alert-pipeline/internal/classify"
	"github.com/trucktrack/alert-pipeline/internal/cooldown"
	corecfg "github.com/trucktrack/alert-pipeline/internal/core/config"
	"github.com/trucktrack/alert-pipeline/internal/dispatch"
	"github.com/trucktrack/alert-pipeline/internal/geofence"
	"github.com/trucktrack/alert-pipeline/internal/migrations"
	"github.com/trucktrack/alert-pipeline/internal/pipeline"
	"github.com/trucktrack/alert-pipeline/internal/poscache"
	"github.com/trucktrack/alert-pipeline/internal/rules"
	"github.com/trucktrack/alert-pipeline/internal/server"
	"github.com/trucktrack/alert-pipeline/internal/storage/postgres"
	"github.com/trucktrack/alert-pipeline/internal/template"
	mqtttransport "github.com/trucktrack/alert-pipeline/internal/transport/mqtt"
	"github.com/trucktrack/alert-pipeline/internal/transport/rabbitmq"
	"github.com/trucktrack/alert-pipeline/internal/ws"
)

func main() {
	configPath := flag.String("config", "alert-pipeline.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "config", cfg)

	// 2. Initialize Storage (PostgreSQL)
	db, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// 2.1. Run Database Migrations
	if err := migrations.Run(db, cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	rulesAdapter, err := postgres.NewRulesAdapter(db)
	if err != nil {
		slog.Error("Failed to initialize rules adapter", "error", err)
		os.Exit(1)
	}
	defer rulesAdapter.Close()

	attemptsAdapter, err := postgres.NewAttemptsAdapter(db)
	if err != nil {
		slog.Error("Failed to initialize attempts adapter", "error", err)
		os.Exit(1)
	}
	defer attemptsAdapter.Close()

	registry := postgres.NewRegistryAdapter(db)

	// 3. Initialize Position Cache (Redis)
	cache := poscache.NewRedisStore(redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := cache.Ping(ctx); err != nil {
		// The cache is an optimization: start anyway and log loudly.
		slog.Warn("Position cache unreachable at startup, continuing", "addr", cfg.Redis.Addr, "error", err)
	}

	// 4. Initialize Geofences and Templates
	zones, err := geofence.LoadZones(cfg.Geofences.Path)
	if err != nil {
		slog.Error("Failed to load geofence zones", "path", cfg.Geofences.Path, "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded geofence zones", "count", len(zones))

	templates, err := template.Load(cfg.Templates.Path, cfg.Dispatch.DefaultLocale)
	if err != nil {
		slog.Error("Failed to load notification templates", "path", cfg.Templates.Path, "error", err)
		os.Exit(1)
	}

	// 5. Initialize Alerting Core
	suppressor := cooldown.NewSuppressor(cfg.Alerts.CooldownWindow)
	sweeper := cooldown.NewSweeper(suppressor, cfg.Alerts.SweepInterval)
	engine := rules.NewEngine(rulesAdapter, suppressor, cfg.Alerts.DefaultSpeedLimitKmh)

	// 6. Initialize Outbound Transports and Dispatch
	publisher, err := rabbitmq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
	if err != nil {
		slog.Error("Failed to initialize alert publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	hub := ws.NewHub()

	dispatcher := dispatch.NewDispatcher(dispatch.Options{
		Workers:   cfg.Dispatch.Workers,
		QueueSize: cfg.Dispatch.QueueSize,
		Retry: dispatch.RetryPolicy{
			InitialInterval: cfg.Dispatch.RetryInitialInterval,
			MaxInterval:     cfg.Dispatch.RetryMaxInterval,
			MaxTries:        uint(cfg.Dispatch.MaxRetries),
		},
		DefaultLocale: cfg.Dispatch.DefaultLocale,
	}, templates, registry, registry, attemptsAdapter,
		dispatch.LogPushProvider{}, dispatch.LogEmailProvider{})

	// 7. Initialize the Pipeline
	processor := pipeline.NewProcessor(pipeline.Options{
		Thresholds: classify.Thresholds{
			MovingSpeedKmh: cfg.Alerts.MovingSpeedKmh,
			OfflineAfter:   cfg.Alerts.OfflineAfter,
		},
		CacheTTL:       cfg.Cache.TTL,
		RecentEventIDs: cfg.Alerts.RecentEventIDs,
	}, cache, geofence.NewCircleChecker(zones), geofence.NewTracker(), engine,
		publisher, dispatcher, hub)

	watcher := pipeline.NewOfflineWatcher(processor, cfg.Alerts.OfflineCheckInterval)

	subscriber := mqtttransport.NewSubscriber(mqtttransport.Options{
		BrokerURL: cfg.MQTT.Broker,
		ClientID:  cfg.MQTT.ClientID,
		Topic:     cfg.MQTT.Topic,
		QoS:       1,
	}, processor)

	// 8. Initialize Server
	srv := server.New(
		fmtAddr(cfg.Server.Host, cfg.Server.Port),
		cfg.Server.Mode,
		db, cache, cache, processor.Fleet(), attemptsAdapter, hub,
	)

	// 9. Start Services
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error { return subscriber.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })

	// Signal handler → triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	if err := g.Wait(); err != nil {
		slog.Error("Service stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
