package config

import (
	"runtime"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

type Config struct {
	API       APIConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Cleanup   CleanupConfig
	Webhook   WebhookConfig
	Telemetry TelemetryConfig
}

type APIConfig struct {
	Addr              string
	ProcessMode       string
	RateLimitCapacity int
	RateLimitWindow   time.Duration
	UserIDHeader      string
}

// InlineProcessing reports whether POST /process runs the batch in the API
// process itself instead of enqueueing it for a worker. Inline mode mirrors
// the single-box deployment of the original service.
func (a APIConfig) InlineProcessing() bool {
	return strings.EqualFold(strings.TrimSpace(a.ProcessMode), "inline")
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int
	MaxActiveJobs int
	MetricsAddr   string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// DatabaseConfig selects job persistence. An empty DSN keeps jobs in memory,
// which is how the original single-process service behaved.
type DatabaseConfig struct {
	DSN string
}

type CleanupConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

type WebhookConfig struct {
	Endpoint      string
	SigningSecret string
	Timeout       time.Duration
	MaxAttempts   int
}

type TelemetryConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

func Load() Config {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		API: APIConfig{
			Addr:              env("CLEANFRAME_API_ADDR", ":8000"),
			ProcessMode:       env("CLEANFRAME_PROCESS_MODE", "queue"),
			RateLimitCapacity: envInt("CLEANFRAME_RATE_LIMIT", 60),
			RateLimitWindow:   time.Duration(envInt("CLEANFRAME_RATE_WINDOW_SECONDS", 60)) * time.Second,
			UserIDHeader:      env("CLEANFRAME_USER_ID_HEADER", "X-User-ID"),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:   envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs: envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			MetricsAddr:   env("WORKER_METRICS_ADDR", ":9090"),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "cleanframe-batches"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Cleanup: CleanupConfig{
			Endpoint: env("CLEANFRAME_CLEANUP_URL", ""),
			APIKey:   env("CLEANFRAME_CLEANUP_API_KEY", ""),
			Timeout:  time.Duration(envInt("CLEANFRAME_CLEANUP_TIMEOUT_SECONDS", 300)) * time.Second,
		},
		Webhook: WebhookConfig{
			Endpoint:      env("CLEANFRAME_WEBHOOK_URL", ""),
			SigningSecret: env("CLEANFRAME_WEBHOOK_SECRET", ""),
			Timeout:       time.Duration(envInt("CLEANFRAME_WEBHOOK_TIMEOUT_SECONDS", 10)) * time.Second,
			MaxAttempts:   envInt("CLEANFRAME_WEBHOOK_MAX_ATTEMPTS", 3),
		},
		Telemetry: TelemetryConfig{
			Exporter:     env("CLEANFRAME_TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("CLEANFRAME_TRACE_INSECURE", false),
		},
	}
}
