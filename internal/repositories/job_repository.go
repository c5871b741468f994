// Package repositories persists the render job ledger in PostgreSQL.
package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"templater/internal/models"
)

var ErrJobNotFound = errors.New("job not found")
var ErrJobExists = errors.New("job already recorded")
var ErrLedgerSchemaMissing = errors.New("render_jobs table does not exist")

// maxErrorText bounds the stored failure message.
const maxErrorText = 2000

// DB is the subset of *pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

const schema = `
CREATE TABLE IF NOT EXISTS render_jobs (
	id          TEXT PRIMARY KEY,
	template    TEXT NOT NULL,
	output      TEXT NOT NULL,
	status      TEXT NOT NULL,
	error_text  TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	finished_at TIMESTAMPTZ
)`

type JobRepository struct {
	db DB
}

func NewJobRepository(db DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, schema)
	return err
}

func (r *JobRepository) Start(ctx context.Context, id string, job models.RenderJob) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO render_jobs (id, template, output, status)
		VALUES ($1,$2,$3,$4)
	`, id, job.Template.String(), outputLabel(job.Output), string(models.StateCreated))
	if err != nil {
		if IsUniqueViolation(err) {
			return ErrJobExists
		}
		return err
	}
	return nil
}

func (r *JobRepository) Transition(ctx context.Context, id string, state models.JobState) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE render_jobs SET status=$2, updated_at=NOW() WHERE id=$1
	`, id, string(state))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *JobRepository) Finish(ctx context.Context, id string, state models.JobState, cause error) error {
	var errorText *string
	if cause != nil {
		msg := cause.Error()
		if len(msg) > maxErrorText {
			msg = msg[:maxErrorText]
		}
		errorText = &msg
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE render_jobs
		SET status=$2, error_text=$3, updated_at=NOW(), finished_at=NOW()
		WHERE id=$1
	`, id, string(state), errorText)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (*models.JobRecord, error) {
	var rec models.JobRecord
	var status string
	err := r.db.QueryRow(ctx, `
		SELECT id, template, output, status, error_text, created_at, updated_at, finished_at
		FROM render_jobs
		WHERE id=$1
	`, id).Scan(
		&rec.ID,
		&rec.Template,
		&rec.Output,
		&status,
		&rec.ErrorText,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	rec.Status = models.JobState(status)
	return &rec, nil
}

// Ping checks connectivity and that the ledger table exists.
func (r *JobRepository) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return err
	}
	var one int
	err := r.db.QueryRow(ctx, `SELECT 1 FROM render_jobs LIMIT 1`).Scan(&one)
	switch {
	case err == nil, errors.Is(err, pgx.ErrNoRows):
		return nil
	case IsUndefinedTable(err):
		return ErrLedgerSchemaMissing
	default:
		return fmt.Errorf("ledger query: %w", err)
	}
}

// outputLabel names a destination without leaking URL credentials or
// query strings into the ledger.
func outputLabel(o models.OutputRef) string {
	if o.Kind != models.OutputToURL || o.URL == nil {
		return o.String()
	}
	u := *o.URL
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
