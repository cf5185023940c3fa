package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/cleanframe/internal/api"
	"github.com/dunamismax/cleanframe/internal/cleanup"
	"github.com/dunamismax/cleanframe/internal/compose"
	"github.com/dunamismax/cleanframe/internal/config"
	"github.com/dunamismax/cleanframe/internal/pipeline"
	"github.com/dunamismax/cleanframe/internal/queue"
	"github.com/dunamismax/cleanframe/internal/ratelimit"
	"github.com/dunamismax/cleanframe/internal/storage"
	"github.com/dunamismax/cleanframe/internal/store"
	"github.com/dunamismax/cleanframe/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "cleanframe-api",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}

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

	serverCfg := api.Config{
		Logger:            logger,
		Jobs:              jobStore,
		Storage:           storageClient,
		UserIDHeader:      cfg.API.UserIDHeader,
		CleanupConfigured: cfg.Cleanup.Endpoint != "",
	}

	if cfg.API.InlineProcessing() {
		if err := compose.Startup(); err != nil {
			logger.Fatalf("compositor startup failed: %v", err)
		}
		defer compose.Shutdown()

		compositor, err := compose.New()
		if err != nil {
			logger.Fatalf("compositor init failed: %v", err)
		}

		serverCfg.Processor = &pipeline.JobProcessor{
			Jobs:       jobStore,
			Blobs:      storageClient,
			Compositor: compositor,
			Cleaner: cleanup.NewClient(cleanup.Config{
				Endpoint: cfg.Cleanup.Endpoint,
				APIKey:   cfg.Cleanup.APIKey,
				Timeout:  cfg.Cleanup.Timeout,
			}, logger),
			Logger: logger,
		}
		logger.Printf("inline processing enabled")
	} else {
		queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
		defer func() {
			if err := queueClient.Close(); err != nil {
				logger.Printf("queue client close error: %v", err)
			}
		}()
		serverCfg.Queue = queueClient

		if cfg.API.RateLimitCapacity > 0 {
			redisClient := redis.NewClient(&redis.Options{
				Addr:     cfg.Queue.RedisAddr,
				Password: cfg.Queue.RedisPassword,
				DB:       cfg.Queue.RedisDB,
			})
			limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.API.RateLimitCapacity, cfg.API.RateLimitWindow, "")
			if err != nil {
				logger.Fatalf("rate limiter init failed: %v", err)
			}
			serverCfg.RateLimiter = limiter
		}
	}

	app := api.NewServer(serverCfg)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Printf("tracing shutdown failed: %v", err)
	}
}

func openJobStore(ctx context.Context, cfg config.Config, logger *log.Logger) (store.JobStore, func(), error) {
	if cfg.Database.DSN == "" {
		if cfg.API.InlineProcessing() {
			logger.Printf("using in-memory job store")
		} else {
			logger.Printf("using in-memory job store; queued workers cannot see these jobs, set POSTGRES_DSN for queue mode")
		}
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
