package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/cleanframe/internal/cleanup"
	"github.com/dunamismax/cleanframe/internal/compose"
	"github.com/dunamismax/cleanframe/internal/config"
	"github.com/dunamismax/cleanframe/internal/storage"
	"github.com/dunamismax/cleanframe/internal/store"
	"github.com/dunamismax/cleanframe/internal/telemetry"
	"github.com/dunamismax/cleanframe/internal/webhook"
	"github.com/dunamismax/cleanframe/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "cleanframe-worker",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Printf("tracing shutdown failed: %v", err)
		}
	}()

	if err := compose.Startup(); err != nil {
		logger.Fatalf("compositor startup failed: %v", err)
	}
	defer compose.Shutdown()

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatalf("storage client init failed: %v", err)
	}
	if err := storageClient.EnsureBucket(ctx); err != nil {
		logger.Fatalf("bucket check failed: %v", err)
	}

	jobStore, closeStore, err := openJobStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("job store init failed: %v", err)
	}
	defer closeStore()

	cleaner := cleanup.NewClient(cleanup.Config{
		Endpoint: cfg.Cleanup.Endpoint,
		APIKey:   cfg.Cleanup.APIKey,
		Timeout:  cfg.Cleanup.Timeout,
	}, logger)

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret: cfg.Webhook.SigningSecret,
		Timeout:       cfg.Webhook.Timeout,
		MaxAttempts:   cfg.Webhook.MaxAttempts,
	})

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s accelerated=%v",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		compose.Accelerated(),
	)

	srv, err := worker.NewServer(
		logger,
		cfg.Queue,
		cfg.Worker,
		storageClient,
		cleaner,
		jobStore,
		webhookClient,
		cfg.Webhook.Endpoint,
	)
	if err != nil {
		logger.Fatalf("worker init failed: %v", err)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", srv.MetricsHandler())
		mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := http.ListenAndServe(cfg.Worker.MetricsAddr, mux); err != nil {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}

func openJobStore(ctx context.Context, cfg config.Config, logger *log.Logger) (store.JobStore, func(), error) {
	if cfg.Database.DSN == "" {
		logger.Printf("using in-memory job store; jobs created by other processes are not visible")
		return store.NewMemoryJobStore(), func() {}, nil
	}

	pg, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	logger.Printf("using postgres job store")
	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.Printf("job store close error: %v", err)
		}
	}, nil
}
