// Package main runs the sync core daemon: the reconciliation and
// fulfillment coordinator that sits between operator tooling and the
// Supabase-backed store.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redisdriver "github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	app "github.com/wagerline/sync_core/internal/app"
	"github.com/wagerline/sync_core/internal/config"
	"github.com/wagerline/sync_core/internal/httpapi"
	"github.com/wagerline/sync_core/internal/metrics"
	"github.com/wagerline/sync_core/internal/notify"
	"github.com/wagerline/sync_core/internal/remote/supabase"
	"github.com/wagerline/sync_core/internal/storage"
	pgstore "github.com/wagerline/sync_core/internal/storage/postgres"
	redisstore "github.com/wagerline/sync_core/internal/storage/redis"
	"github.com/wagerline/sync_core/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	appLog := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}).WithField("component", "syncd")

	client, err := supabase.New(supabase.Config{
		URL:    cfg.Supabase.URL,
		APIKey: cfg.Supabase.APIKey,
	}, appLog.WithField("component", "supabase"))
	if err != nil {
		log.Fatalf("Failed to build supabase client: %v", err)
	}
	remoteSvc := supabase.NewService(client)

	stream := supabase.NewStream(supabase.StreamConfig{
		URL:    cfg.Supabase.URL,
		APIKey: cfg.Supabase.APIKey,
	}, appLog.WithField("component", "realtime"))

	commands, cleanup, err := buildCommandStore(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to build command store: %v", err)
	}
	defer cleanup()

	var notifier notify.Notifier
	if cfg.Notify.Endpoint != "" {
		notifier = notify.NewHTTPNotifier(cfg.Notify.Endpoint, cfg.Notify.APIKey, nil)
	} else {
		appLog.Warn("no notify endpoint configured; order notifications disabled")
	}

	application, err := app.New(app.Options{
		Remote:           remoteSvc,
		Stream:           stream,
		Commands:         commands,
		Notifier:         notifier,
		EvidenceBucket:   cfg.Workflow.EvidenceBucket,
		PollInterval:     cfg.Workflow.PollInterval,
		PollMaxAttempts:  cfg.Workflow.PollMaxAttempts,
		InvalidationLag:  cfg.Workflow.InvalidationLag,
		SweepSchedule:    cfg.Workflow.SweepSchedule,
		SweepGracePeriod: cfg.Workflow.SweepGracePeriod,
		QuotaActions:     cfg.Workflow.QuotaActions,
	}, appLog)
	if err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
	appLog.Info("application started")

	mux := http.NewServeMux()
	mux.Handle("/", httpapi.NewHandler(application))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		appLog.Infof("HTTP API listening on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	appLog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.WithError(err).Warn("server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		appLog.WithError(err).Warn("application stop")
	}
	appLog.Info("stopped")
}

// buildCommandStore wires the pending-command backend named by the config.
// The returned cleanup closes any underlying connection.
func buildCommandStore(cfg config.StorageConfig) (storage.PendingCommandStore, func(), error) {
	switch cfg.Backend {
	case "postgres":
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := pgstore.Apply(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return pgstore.New(db), func() { db.Close() }, nil
	case "redis":
		client := redisdriver.NewClient(&redisdriver.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		return redisstore.New(client), func() { client.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}
