package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/cleanframe/internal/domain"
	_ "github.com/lib/pq"
)

const jobSchemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	options JSONB NOT NULL,
	items JSONB NOT NULL,
	total_images INTEGER NOT NULL,
	completed_images INTEGER NOT NULL DEFAULT 0,
	failed_images INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS run_stats (
	id BIGSERIAL PRIMARY KEY,
	job_id TEXT NOT NULL,
	images_processed BIGINT NOT NULL,
	pixels_processed BIGINT NOT NULL,
	output_bytes BIGINT NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

// PostgresJobStore persists jobs for deployments where records must survive
// process restarts. Items ride as a JSONB document per job.
type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, jobSchemaSQL); err != nil {
		return fmt.Errorf("ensure jobs schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.JobRecord) error {
	optionsJSON, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("marshal job options: %w", err)
	}
	itemsJSON, err := json.Marshal(job.Items)
	if err != nil {
		return fmt.Errorf("marshal job items: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (id, status, options, items, total_images, completed_images, failed_images, created_at, updated_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID,
		job.Status,
		optionsJSON,
		itemsJSON,
		job.TotalImages,
		job.CompletedImages,
		job.FailedImages,
		job.CreatedAt,
		job.UpdatedAt,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.JobRecord, bool, error) {
	return scanJob(s.db.QueryRowContext(
		ctx,
		`SELECT id, status, options, items, total_images, completed_images, failed_images, created_at, updated_at, completed_at
		 FROM jobs
		 WHERE id = $1`,
		id,
	))
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id string, status domain.Status) (domain.JobRecord, error) {
	now := time.Now().UTC()
	var completedAt any
	if status.Terminal() {
		completedAt = now
	}

	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
		 SET status = $1, updated_at = $2, completed_at = COALESCE(completed_at, $3)
		 WHERE id = $4`,
		status,
		now,
		completedAt,
		id,
	)
	if err != nil {
		return domain.JobRecord{}, fmt.Errorf("update job status: %w", err)
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.JobRecord{}, err
	}
	if !ok {
		return domain.JobRecord{}, ErrJobNotFound
	}

	return job, nil
}

func (s *PostgresJobStore) UpdateItem(ctx context.Context, jobID string, item domain.ItemRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update item: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var itemsJSON []byte
	err = tx.QueryRowContext(ctx, `SELECT items FROM jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&itemsJSON)
	if err == sql.ErrNoRows {
		return ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("lock job items: %w", err)
	}

	var items []domain.ItemRecord
	if err := json.Unmarshal(itemsJSON, &items); err != nil {
		return fmt.Errorf("unmarshal job items: %w", err)
	}

	found := false
	completed, failed := 0, 0
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = item
			found = true
		}
		switch items[i].Status {
		case domain.StatusCompleted:
			completed++
		case domain.StatusFailed:
			failed++
		}
	}
	if !found {
		return ErrItemNotFound
	}

	updatedJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal job items: %w", err)
	}

	_, err = tx.ExecContext(
		ctx,
		`UPDATE jobs
		 SET items = $1, completed_images = $2, failed_images = $3, updated_at = $4
		 WHERE id = $5`,
		updatedJSON,
		completed,
		failed,
		time.Now().UTC(),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("update job items: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update item: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) RecordRun(ctx context.Context, stats domain.RunStats) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO run_stats (job_id, images_processed, pixels_processed, output_bytes, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		stats.JobID,
		stats.ImagesProcessed,
		stats.PixelsProcessed,
		stats.OutputBytes,
		stats.ComputeTimeMS,
		stats.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run stats: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete job rows affected: %w", err)
	}
	if affected == 0 {
		return ErrJobNotFound
	}
	return nil
}

func scanJob(row *sql.Row) (domain.JobRecord, bool, error) {
	var (
		job         domain.JobRecord
		optionsJSON []byte
		itemsJSON   []byte
		completedAt sql.NullTime
	)
	if err := row.Scan(
		&job.ID,
		&job.Status,
		&optionsJSON,
		&itemsJSON,
		&job.TotalImages,
		&job.CompletedImages,
		&job.FailedImages,
		&job.CreatedAt,
		&job.UpdatedAt,
		&completedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return domain.JobRecord{}, false, nil
		}
		return domain.JobRecord{}, false, fmt.Errorf("query job: %w", err)
	}

	if err := json.Unmarshal(optionsJSON, &job.Options); err != nil {
		return domain.JobRecord{}, false, fmt.Errorf("unmarshal job options: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &job.Items); err != nil {
		return domain.JobRecord{}, false, fmt.Errorf("unmarshal job items: %w", err)
	}
	if completedAt.Valid {
		at := completedAt.Time
		job.CompletedAt = &at
	}

	return job, true, nil
}
