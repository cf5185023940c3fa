// Package worker consumes batch processing tasks from the queue and runs
// them through the pipeline, bounded by a job semaphore on top of asynq's
// own concurrency so image decoding cannot exhaust memory.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dunamismax/cleanframe/internal/cleanup"
	"github.com/dunamismax/cleanframe/internal/compose"
	"github.com/dunamismax/cleanframe/internal/config"
	"github.com/dunamismax/cleanframe/internal/domain"
	"github.com/dunamismax/cleanframe/internal/pipeline"
	"github.com/dunamismax/cleanframe/internal/queue"
	"github.com/dunamismax/cleanframe/internal/storage"
	"github.com/dunamismax/cleanframe/internal/store"
	"github.com/dunamismax/cleanframe/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	processor     batchProcessor
	webhookClient webhookSender
	webhookURL    string
	metrics       *metrics
	tracer        trace.Tracer
}

type batchProcessor interface {
	Process(ctx context.Context, jobID string, opts domain.ProcessingOptions) (pipeline.Summary, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	storageClient *storage.Client,
	cleaner pipeline.Cleaner,
	jobStore store.JobStore,
	webhookClient *webhook.Client,
	webhookEndpoint string,
) (*Server, error) {
	if storageClient == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if jobStore == nil {
		return nil, fmt.Errorf("job store is required")
	}

	compositor, err := compose.New()
	if err != nil {
		return nil, fmt.Errorf("initialize compositor: %w", err)
	}

	processor := &pipeline.JobProcessor{
		Jobs:       jobStore,
		Blobs:      storageClient,
		Compositor: compositor,
		Cleaner:    cleaner,
		Logger:     logger,
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:           make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		processor:     processor,
		webhookClient: webhookClient,
		webhookURL:    webhookEndpoint,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("cleanframe/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessBatch, s.handleProcessBatch)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleProcessBatch(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := string(domain.StatusFailed)

	payload, err := queue.ParseProcessBatchPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.process_batch", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.Bool("job.export", payload.Options.Transform != nil),
		attribute.Int("job.manual_regions", len(payload.Options.ManualRegions)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"Working... job_id=%s export=%v regions=%d",
		payload.JobID,
		payload.Options.Transform != nil,
		len(payload.Options.ManualRegions),
	)

	summary, err := s.processor.Process(ctx, payload.JobID, payload.Options)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch run failed")
		s.dispatchWebhook(ctx, webhook.EventBatchFailed, webhook.BatchEvent{
			JobID:      payload.JobID,
			Status:     string(domain.StatusFailed),
			Total:      summary.Total,
			Completed:  summary.Completed,
			Failed:     summary.Failed,
			Error:      err.Error(),
			OccurredAt: time.Now().UTC(),
		})
		if permanent(err) {
			return fmt.Errorf("process batch: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("process batch: %w", err)
	}

	status := domain.StatusCompleted
	event := webhook.EventBatchCompleted
	if summary.Total > 0 && summary.Failed == summary.Total {
		status = domain.StatusFailed
		event = webhook.EventBatchFailed
	}

	s.logger.Printf(
		"Processed job_id=%s total=%d completed=%d failed=%d",
		payload.JobID,
		summary.Total,
		summary.Completed,
		summary.Failed,
	)
	s.metrics.imagesProcessedTotal.Add(float64(summary.Completed))
	s.metrics.pixelsProcessedTotal.Add(float64(summary.PixelsProcessed))
	s.metrics.outputBytesTotal.Add(float64(summary.OutputBytes))
	s.metrics.computeTimeMSTotal.Add(float64(summary.ComputeTimeMS))

	s.dispatchWebhook(ctx, event, webhook.BatchEvent{
		JobID:       payload.JobID,
		Status:      string(status),
		Total:       summary.Total,
		Completed:   summary.Completed,
		Failed:      summary.Failed,
		OutputBytes: summary.OutputBytes,
		OccurredAt:  time.Now().UTC(),
	})

	outcome = string(status)
	span.SetStatus(codes.Ok, "processed")
	return nil
}

// permanent reports whether retrying the task can change the outcome. A
// missing job or an unconfigured cleanup capability stays broken no matter
// how many times the task requeues.
func permanent(err error) bool {
	return errors.Is(err, store.ErrJobNotFound) || errors.Is(err, cleanup.ErrNotConfigured)
}

// dispatchWebhook never fails the task. The client retries internally;
// exhausted deliveries are logged and counted.
func (s *Server) dispatchWebhook(ctx context.Context, event string, body webhook.BatchEvent) {
	if s.webhookClient == nil || s.webhookURL == "" {
		return
	}

	if err := s.webhookClient.Send(ctx, s.webhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", body.JobID, event, err)
		s.metrics.webhookFailuresTotal.Inc()
	}
}
