package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/mirage/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ErrNotFound is returned when a job ID has no row.
var ErrNotFound = errors.New("job not found")

// Store keeps job history and tracked face references in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// Job is one row of the jobs table.
type Job struct {
	ID                uuid.UUID
	SourcePath        string
	TargetPath        string
	OutputPath        string
	Kind              string
	State             string
	TotalFrames       int
	ProcessedFrames   int
	FramesWithoutFace int
	Error             string
	StartedAt         time.Time
	FinishedAt        *time.Time
}

// Reference is one row of the face_references table.
type Reference struct {
	JobID      uuid.UUID
	FrameIndex int
	Embedding  []float32
	Box        types.BoundingBox
	CreatedAt  time.Time
}

// New establishes a connection pool and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS jobs (
			id UUID PRIMARY KEY,
			source_path TEXT NOT NULL,
			target_path TEXT NOT NULL,
			output_path TEXT NOT NULL,
			kind TEXT NOT NULL,
			state TEXT NOT NULL,
			total_frames INT NOT NULL DEFAULT 0,
			processed_frames INT NOT NULL DEFAULT 0,
			frames_without_face INT NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			finished_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS face_references (
			id BIGSERIAL PRIMARY KEY,
			job_id UUID NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			frame_index INT NOT NULL,
			embedding VECTOR NOT NULL,
			box DOUBLE PRECISION[] NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS face_references_job_id_idx ON face_references (job_id);
		CREATE INDEX IF NOT EXISTS jobs_started_at_idx ON jobs (started_at DESC);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// CreateJob inserts a job row when it enters validation.
func (s *Store) CreateJob(ctx context.Context, j Job) error {
	started := j.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, source_path, target_path, output_path, kind, state, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, j.ID, j.SourcePath, j.TargetPath, j.OutputPath, j.Kind, j.State, started)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// FinishJob stores the terminal state and counters of a job.
func (s *Store) FinishJob(ctx context.Context, j Job) error {
	finished := time.Now()
	if j.FinishedAt != nil {
		finished = *j.FinishedAt
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			output_path = $2, kind = $3, state = $4,
			total_frames = $5, processed_frames = $6, frames_without_face = $7,
			error = $8, finished_at = $9
		WHERE id = $1
	`, j.ID, j.OutputPath, j.Kind, j.State, j.TotalFrames, j.ProcessedFrames, j.FramesWithoutFace, j.Error, finished)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveReference records the identity a job started tracking.
func (s *Store) SaveReference(ctx context.Context, jobID uuid.UUID, ref types.FaceReference) error {
	box := []float64{ref.Box.X1, ref.Box.Y1, ref.Box.X2, ref.Box.Y2}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO face_references (job_id, frame_index, embedding, box)
		VALUES ($1, $2, $3, $4)
	`, jobID, ref.FrameIndex, pgvector.NewVector(ref.Embedding), box)
	if err != nil {
		return fmt.Errorf("insert reference: %w", err)
	}
	return nil
}

// References lists the references saved for a job in frame order.
func (s *Store) References(ctx context.Context, jobID uuid.UUID) ([]Reference, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, frame_index, embedding, box, created_at
		FROM face_references WHERE job_id = $1 ORDER BY frame_index, id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query references: %w", err)
	}
	defer rows.Close()

	var refs []Reference
	for rows.Next() {
		var r Reference
		var vec pgvector.Vector
		var box []float64
		if err := rows.Scan(&r.JobID, &r.FrameIndex, &vec, &box, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		r.Embedding = vec.Slice()
		if len(box) == 4 {
			r.Box = types.BoundingBox{X1: box[0], Y1: box[1], X2: box[2], Y2: box[3]}
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

const jobColumns = `id, source_path, target_path, output_path, kind, state,
	total_frames, processed_frames, frames_without_face, error, started_at, finished_at`

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.SourcePath, &j.TargetPath, &j.OutputPath, &j.Kind, &j.State,
		&j.TotalFrames, &j.ProcessedFrames, &j.FramesWithoutFace, &j.Error, &j.StartedAt, &j.FinishedAt)
	return j, err
}

// GetJob fetches a single job.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}

// ListJobs returns the most recent jobs first. limit <= 0 means no limit.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs ORDER BY started_at DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS face_references CASCADE;
		DROP TABLE IF EXISTS jobs CASCADE;
	`)
	return err
}
