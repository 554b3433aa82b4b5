package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/linework/internal/domain"
	"github.com/lib/pq"
)

const jobSchemaSQL = `
CREATE TABLE IF NOT EXISTS conversion_jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	color_mode TEXT NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	items JSONB NOT NULL,
	outputs JSONB NOT NULL DEFAULT '[]'::jsonb,
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

const uniqueViolation = "23505"

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

func (s *PostgresJobStore) Create(ctx context.Context, job domain.Job) error {
	itemsJSON, err := json.Marshal(job.Items)
	if err != nil {
		return fmt.Errorf("marshal job items: %w", err)
	}
	outputsJSON, err := marshalOutputs(job.Outputs)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO conversion_jobs (id, status, color_mode, webhook_url, items, outputs, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID,
		job.Status,
		string(job.ColorMode),
		job.WebhookURL,
		itemsJSON,
		outputsJSON,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrJobExists
		}
		return fmt.Errorf("insert job: %w", err)
	}

	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, status, color_mode, webhook_url, items, outputs, error, created_at, updated_at
		 FROM conversion_jobs
		 WHERE id = $1`,
		id,
	)

	var (
		job         domain.Job
		colorMode   string
		itemsJSON   []byte
		outputsJSON []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.Status,
		&colorMode,
		&job.WebhookURL,
		&itemsJSON,
		&outputsJSON,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("query job: %w", err)
	}
	job.ColorMode = domain.ColorMode(colorMode)

	if err := json.Unmarshal(itemsJSON, &job.Items); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job items: %w", err)
	}
	if err := json.Unmarshal(outputsJSON, &job.Outputs); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job outputs: %w", err)
	}

	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE conversion_jobs
		 SET status = $1, updated_at = $2
		 WHERE id = $3`,
		status,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("update job status: %w", err)
	}
	return s.reload(ctx, id, res)
}

func (s *PostgresJobStore) Finish(ctx context.Context, id, status string, outputs []domain.JobOutput, errMsg string) (domain.Job, error) {
	outputsJSON, err := marshalOutputs(outputs)
	if err != nil {
		return domain.Job{}, err
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE conversion_jobs
		 SET status = $1, outputs = $2, error = $3, updated_at = $4
		 WHERE id = $5`,
		status,
		outputsJSON,
		errMsg,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("finish job: %w", err)
	}
	return s.reload(ctx, id, res)
}

func (s *PostgresJobStore) reload(ctx context.Context, id string, res sql.Result) (domain.Job, error) {
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Job{}, ErrJobNotFound
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return job, nil
}

func marshalOutputs(outputs []domain.JobOutput) ([]byte, error) {
	if outputs == nil {
		outputs = []domain.JobOutput{}
	}
	body, err := json.Marshal(outputs)
	if err != nil {
		return nil, fmt.Errorf("marshal job outputs: %w", err)
	}
	return body, nil
}
