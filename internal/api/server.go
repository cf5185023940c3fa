// Package api serves the legacy batch protocol: upload a batch, start
// processing, poll status, download results. Response shapes and error
// details match the original service so existing clients work unchanged.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/cleanframe/internal/archive"
	"github.com/dunamismax/cleanframe/internal/compose"
	"github.com/dunamismax/cleanframe/internal/domain"
	"github.com/dunamismax/cleanframe/internal/id"
	"github.com/dunamismax/cleanframe/internal/pipeline"
	"github.com/dunamismax/cleanframe/internal/queue"
	"github.com/dunamismax/cleanframe/internal/storage"
	"github.com/dunamismax/cleanframe/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName    = "Cleanframe API"
	serviceVersion = "2.0.0"

	maxUploadBytes = 50 << 20
)

var allowedExtensions = map[string]struct{}{
	"jpg": {}, "jpeg": {}, "png": {}, "webp": {}, "bmp": {}, "tiff": {},
}

// QueueEnqueuer dispatches a job to the worker pool.
type QueueEnqueuer interface {
	EnqueueProcessBatch(ctx context.Context, payload queue.ProcessBatchPayload) (*asynq.TaskInfo, error)
}

// Processor runs a job in this process, used when no queue is configured.
type Processor interface {
	Process(ctx context.Context, jobID string, opts domain.ProcessingOptions) (pipeline.Summary, error)
}

// ObjectStorage is the slice of the storage client the API needs.
type ObjectStorage interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	RemovePrefix(ctx context.Context, prefix string) error
}

type Config struct {
	Logger            *log.Logger
	Jobs              store.JobStore
	Storage           ObjectStorage
	Queue             QueueEnqueuer
	Processor         Processor
	RateLimiter       RateLimiter
	UserIDHeader      string
	CleanupConfigured bool
}

type Server struct {
	logger       *log.Logger
	jobs         store.JobStore
	storage      ObjectStorage
	queueClient  QueueEnqueuer
	processor    Processor
	rateLimiter  RateLimiter
	userIDHeader string
	cleanupSet   bool
	metrics      *metrics
	tracer       trace.Tracer
	mux          *http.ServeMux
}

// NewServer wires the route table. Exactly one of cfg.Queue and
// cfg.Processor should be set; jobs are dispatched through whichever is
// present, preferring the queue.
func NewServer(cfg Config) *Server {
	userIDHeader := strings.TrimSpace(cfg.UserIDHeader)
	if userIDHeader == "" {
		userIDHeader = "X-User-ID"
	}

	s := &Server{
		logger:       cfg.Logger,
		jobs:         cfg.Jobs,
		storage:      cfg.Storage,
		queueClient:  cfg.Queue,
		processor:    cfg.Processor,
		rateLimiter:  cfg.RateLimiter,
		userIDHeader: userIDHeader,
		cleanupSet:   cfg.CleanupConfigured,
		metrics:      newMetrics(),
		tracer:       otel.Tracer("cleanframe/api"),
		mux:          http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler returns the route table wrapped in the metrics, tracing and rate
// limit middleware.
func (s *Server) Handler() http.Handler {
	return s.metrics.withHTTPMetrics(s.withTracing(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("POST /upload", s.handleUpload)
	s.mux.HandleFunc("POST /process/{job_id}", s.handleProcess)
	s.mux.HandleFunc("GET /status/{job_id}", s.handleStatus)
	s.mux.HandleFunc("GET /download/{job_id}/{task_id}", s.handleDownload)
	s.mux.HandleFunc("GET /download-all/{job_id}", s.handleDownloadAll)
	s.mux.HandleFunc("DELETE /job/{job_id}", s.handleDelete)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        serviceName,
		"version":     serviceVersion,
		"description": "Bulk watermark cleanup and export API",
		"endpoints": map[string]string{
			"health":          "/health",
			"upload":          "/upload",
			"process":         "/process/{job_id}",
			"status":          "/status/{job_id}",
			"download_single": "/download/{job_id}/{task_id}",
			"download_all":    "/download-all/{job_id}",
			"delete_job":      "/job/{job_id}",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "healthy",
		"version":            serviceVersion,
		"accelerated":        compose.Accelerated(),
		"cleanup_configured": s.cleanupSet,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeDetail(w, http.StatusBadRequest, "No files provided")
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) > domain.MaxBatchSize {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Maximum %d images per batch", domain.MaxBatchSize))
		return
	}
	if len(files) == 0 {
		writeDetail(w, http.StatusBadRequest, "No files provided")
		return
	}

	type upload struct {
		filename string
		data     []byte
	}
	var valid []upload

	for _, fh := range files {
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fh.Filename), "."))
		if _, ok := allowedExtensions[ext]; !ok {
			s.logger.Printf("skipping invalid file type: %s", fh.Filename)
			continue
		}
		if fh.Size > maxUploadBytes {
			s.logger.Printf("skipping oversized file: %s", fh.Filename)
			continue
		}

		f, err := fh.Open()
		if err != nil {
			s.logger.Printf("skipping unreadable file %s: %v", fh.Filename, err)
			continue
		}
		data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
		f.Close()
		if err != nil {
			s.logger.Printf("skipping unreadable file %s: %v", fh.Filename, err)
			continue
		}
		if int64(len(data)) > maxUploadBytes {
			s.logger.Printf("skipping oversized file: %s", fh.Filename)
			continue
		}

		valid = append(valid, upload{filename: filepath.Base(fh.Filename), data: data})
	}

	if len(valid) == 0 {
		writeDetail(w, http.StatusBadRequest, "No valid image files provided")
		return
	}

	now := time.Now().UTC()
	jobID := id.New()
	items := make([]domain.ItemRecord, 0, len(valid))

	for _, u := range valid {
		itemID := id.New()
		key := storage.OriginalKey(jobID, itemID, u.filename)
		if err := s.storage.WriteObject(r.Context(), key, u.data, storage.ContentTypeForName(u.filename)); err != nil {
			s.logger.Printf("store upload failed for job %s file %s: %v", jobID, u.filename, err)
			writeDetail(w, http.StatusInternalServerError, "Failed to store uploads")
			return
		}
		items = append(items, domain.ItemRecord{
			ID:           itemID,
			Filename:     u.filename,
			OriginalPath: key,
			Status:       domain.StatusPending,
			CreatedAt:    now,
		})
	}

	job := domain.JobRecord{
		ID:          jobID,
		Status:      domain.StatusPending,
		Items:       items,
		TotalImages: len(items),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.jobs.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job %s failed: %v", jobID, err)
		writeDetail(w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	s.metrics.uploadedImages.Add(float64(len(items)))
	s.logger.Printf("uploaded %d files for job %s", len(items), jobID)

	writeJSON(w, http.StatusOK, domain.UploadResponse{
		JobID:       jobID,
		TotalImages: len(items),
		Message:     fmt.Sprintf("Successfully uploaded %d images", len(items)),
	})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")

	opts, err := decodeOptions(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := opts.Validate(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	job, ok, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job %s failed: %v", jobID, err)
		writeDetail(w, http.StatusInternalServerError, "Failed to load job")
		return
	}
	if !ok {
		writeDetail(w, http.StatusNotFound, "Job not found")
		return
	}
	if job.Status != domain.StatusPending {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Job already %s", job.Status))
		return
	}

	// Claim the job before dispatching; a duplicate POST now fails the
	// pending check instead of racing a second run in.
	if _, err := s.jobs.UpdateStatus(r.Context(), jobID, domain.StatusDetecting); err != nil {
		s.logger.Printf("claim job %s failed: %v", jobID, err)
		writeDetail(w, http.StatusInternalServerError, "Failed to start processing")
		return
	}

	if err := s.dispatch(r.Context(), jobID, opts); err != nil {
		s.logger.Printf("dispatch job %s failed: %v", jobID, err)
		if _, resetErr := s.jobs.UpdateStatus(r.Context(), jobID, domain.StatusPending); resetErr != nil {
			s.logger.Printf("release job %s after failed dispatch: %v", jobID, resetErr)
		}
		writeDetail(w, http.StatusInternalServerError, "Failed to start processing")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"job_id":  jobID,
		"status":  "processing",
		"message": "Processing started",
	})
}

func (s *Server) dispatch(ctx context.Context, jobID string, opts domain.ProcessingOptions) error {
	if s.queueClient != nil {
		taskInfo, err := s.queueClient.EnqueueProcessBatch(ctx, queue.ProcessBatchPayload{
			JobID:       jobID,
			Options:     opts,
			RequestedAt: time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}
		s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()
		return nil
	}

	if s.processor == nil {
		return fmt.Errorf("no queue or processor configured")
	}

	// Inline mode detaches from the request context, matching the original
	// service's background task behavior.
	go func() {
		if _, err := s.processor.Process(context.Background(), jobID, opts); err != nil {
			s.logger.Printf("inline processing failed for job %s: %v", jobID, err)
		}
	}()
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")

	job, ok, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job %s failed: %v", jobID, err)
		writeDetail(w, http.StatusInternalServerError, "Failed to load job")
		return
	}
	if !ok {
		writeDetail(w, http.StatusNotFound, "Job not found")
		return
	}

	writeJSON(w, http.StatusOK, job.StatusResponse())
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	taskID := r.PathValue("task_id")

	job, ok, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job %s failed: %v", jobID, err)
		writeDetail(w, http.StatusInternalServerError, "Failed to load job")
		return
	}
	if !ok {
		writeDetail(w, http.StatusNotFound, "Job not found")
		return
	}

	item, ok := job.Item(taskID)
	if !ok || item.Status != domain.StatusCompleted || item.OutputPath == "" {
		writeDetail(w, http.StatusNotFound, "Processed image not found")
		return
	}

	data, err := s.storage.ReadObject(r.Context(), item.OutputPath)
	if err != nil {
		s.logger.Printf("read output %s failed: %v", item.OutputPath, err)
		writeDetail(w, http.StatusNotFound, "Processed image not found")
		return
	}

	name := item.OutputName
	if name == "" {
		name = domain.CleanedFileName(item.Filename)
	}
	w.Header().Set("Content-Type", storage.ContentTypeForName(name))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
	_, _ = w.Write(data)
}

func (s *Server) handleDownloadAll(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")

	job, ok, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job %s failed: %v", jobID, err)
		writeDetail(w, http.StatusInternalServerError, "Failed to load job")
		return
	}
	if !ok {
		writeDetail(w, http.StatusNotFound, "Job not found")
		return
	}
	if job.Status != domain.StatusCompleted {
		writeDetail(w, http.StatusBadRequest, "Job not yet completed")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", archive.DownloadName(time.Now())))

	builder := archive.NewBuilder(w)
	for _, item := range job.Items {
		if item.Status != domain.StatusCompleted || item.OutputPath == "" {
			continue
		}
		data, err := s.storage.ReadObject(r.Context(), item.OutputPath)
		if err != nil {
			s.logger.Printf("skipping missing output %s: %v", item.OutputPath, err)
			continue
		}
		name := item.OutputName
		if name == "" {
			name = domain.CleanedFileName(item.Filename)
		}
		if err := builder.Add(name, data); err != nil {
			s.logger.Printf("archive write failed for job %s: %v", jobID, err)
			return
		}
	}
	if err := builder.Close(); err != nil {
		s.logger.Printf("archive finalize failed for job %s: %v", jobID, err)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")

	_, ok, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job %s failed: %v", jobID, err)
		writeDetail(w, http.StatusInternalServerError, "Failed to load job")
		return
	}
	if !ok {
		writeDetail(w, http.StatusNotFound, "Job not found")
		return
	}

	if err := s.storage.RemovePrefix(r.Context(), storage.JobPrefix(jobID)); err != nil {
		// The record still goes away; orphaned objects age out with the
		// bucket's lifecycle policy.
		s.logger.Printf("remove objects for job %s failed: %v", jobID, err)
	}
	if err := s.jobs.Delete(r.Context(), jobID); err != nil {
		s.logger.Printf("delete job %s failed: %v", jobID, err)
		writeDetail(w, http.StatusInternalServerError, "Failed to delete job")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Job %s deleted successfully", jobID),
	})
}

// decodeOptions reads an optional ProcessingOptions body. Absent fields keep
// their defaults, the way the original service's model layer filled them.
func decodeOptions(r *http.Request) (domain.ProcessingOptions, error) {
	opts := domain.DefaultProcessingOptions()

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return opts, fmt.Errorf("read request body: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return opts, nil
	}
	if err := json.Unmarshal(body, &opts); err != nil {
		return opts, fmt.Errorf("invalid JSON body: %w", err)
	}
	return opts, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeDetail writes the legacy error shape. The original service surfaced
// errors as {"detail": ...} and clients parse that field.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
