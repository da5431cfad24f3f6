package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/limiquantix/vmmigrate/internal/domain"
)

const jobColumns = `
	id, type, state, vm_id, source_node_id, destination_node_id, cause, created_at, updated_at`

// JobRepository reads and writes jobs.
type JobRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewJobRepository creates a new PostgreSQL job repository.
func NewJobRepository(db *DB, logger *zap.Logger) *JobRepository {
	return &JobRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "job")),
	}
}

// Create inserts a job inside tx, assigning an ID when it has none.
func (r *JobRepository) Create(ctx context.Context, tx pgx.Tx, job *domain.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	query := `
		INSERT INTO jobs (id, type, state, vm_id, source_node_id, destination_node_id, cause)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := tx.QueryRow(ctx, query,
		job.ID,
		string(job.Type),
		string(job.State),
		nullString(job.VMID),
		nullString(job.SourceNodeID),
		nullString(job.DestinationNodeID),
		nullString(job.Cause),
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("job references unknown node: %w", domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// Upsert stores a job inside tx, replacing the row with the same ID.
func (r *JobRepository) Upsert(ctx context.Context, tx pgx.Tx, job *domain.Job) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO jobs (id, type, state, vm_id, source_node_id, destination_node_id, cause)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			destination_node_id = EXCLUDED.destination_node_id,
			cause = EXCLUDED.cause,
			updated_at = now()
	`,
		job.ID,
		string(job.Type),
		string(job.State),
		nullString(job.VMID),
		nullString(job.SourceNodeID),
		nullString(job.DestinationNodeID),
		nullString(job.Cause),
	)
	if err != nil {
		r.logger.Error("Failed to upsert job", zap.Error(err), zap.String("job_id", job.ID))
		return fmt.Errorf("failed to upsert job: %w", err)
	}
	return nil
}

// ListActive returns the pending and active jobs in creation order.
func (r *JobRepository) ListActive(ctx context.Context) ([]*domain.Job, error) {
	rows, err := r.db.pool.Query(ctx,
		"SELECT"+jobColumns+" FROM jobs WHERE state = ANY($1) ORDER BY created_at, id",
		[]string{string(domain.JobStatePending), string(domain.JobStateActive)},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job := &domain.Job{}
		var jobType, state string
		var vmID, source, destination, cause *string

		if err := rows.Scan(
			&job.ID,
			&jobType,
			&state,
			&vmID,
			&source,
			&destination,
			&cause,
			&job.CreatedAt,
			&job.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}

		job.Type = domain.JobType(jobType)
		job.State = domain.JobState(state)
		job.VMID = stringOf(vmID)
		job.SourceNodeID = stringOf(source)
		job.DestinationNodeID = stringOf(destination)
		job.Cause = stringOf(cause)
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
