package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"branchtale/internal/domain"
	"branchtale/internal/domain/models"
	"branchtale/internal/domain/repositories"
)

// PostgresJobRepository implements the JobRepository interface using PostgreSQL
type PostgresJobRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewJobRepository creates a new PostgresJobRepository
func NewJobRepository(config *RepositoryConfig) repositories.JobRepository {
	return &PostgresJobRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

const jobColumns = `id, story_id, node_id, job_type, status, result, error_message,
	created_at, started_at, completed_at`

func scanJob(row scanner) (*models.Job, error) {
	var job models.Job
	err := row.Scan(
		&job.ID,
		&job.StoryID,
		&job.NodeID,
		&job.JobType,
		&job.Status,
		&job.Result, // pgx handles JSONB -> map
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Create inserts a job
func (r *PostgresJobRepository) Create(ctx context.Context, job *models.Job) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (story_id, node_id, job_type, status, result, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, r.tables.Jobs)

	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query,
		job.StoryID,
		job.NodeID,
		job.JobType,
		job.Status,
		job.Result,
		job.ErrorMessage,
		job.CreatedAt,
	).Scan(&job.ID, &job.CreatedAt)

	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("job references missing story: %w", domain.ErrNotFound)
		}
		return storageError("create job", err)
	}

	return nil
}

// GetByID retrieves a job by ID
func (r *PostgresJobRepository) GetByID(ctx context.Context, id int64) (*models.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, jobColumns, r.tables.Jobs)

	executor := GetExecutor(ctx, r.pool)
	job, err := scanJob(executor.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("job", id)
		}
		return nil, storageError("get job", err)
	}

	return job, nil
}

// List retrieves one page of jobs, newest first
func (r *PostgresJobRepository) List(ctx context.Context, filter models.JobFilter) ([]models.Job, int, error) {
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.StoryID != nil {
		args = append(args, *filter.StoryID)
		conditions = append(conditions, fmt.Sprintf("story_id = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	executor := GetExecutor(ctx, r.pool)

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s %s`, r.tables.Jobs, where)
	if err := executor.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, storageError("count jobs", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`
		SELECT %s FROM %s %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, jobColumns, r.tables.Jobs, where, len(args)-1, len(args))

	rows, err := executor.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, storageError("list jobs", err)
	}
	defer rows.Close()

	jobs := []models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, storageError("scan job", err)
		}
		jobs = append(jobs, *job)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, storageError("iterate jobs", err)
	}

	return jobs, total, nil
}

// Transition writes a job only while its stored status still equals from
func (r *PostgresJobRepository) Transition(ctx context.Context, job *models.Job, from models.JobStatus) error {
	if !from.CanTransitionTo(job.Status) {
		return &domain.ConflictError{
			Message:      fmt.Sprintf("job %d cannot move from %s to %s", job.ID, from, job.Status),
			ResourceType: "job",
			ResourceID:   strconv.FormatInt(job.ID, 10),
		}
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, node_id = $2, result = $3, error_message = $4,
			started_at = $5, completed_at = $6
		WHERE id = $7 AND status = $8
	`, r.tables.Jobs)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query,
		job.Status,
		job.NodeID,
		job.Result,
		job.ErrorMessage,
		job.StartedAt,
		job.CompletedAt,
		job.ID,
		from,
	)
	if err != nil {
		return storageError("update job", err)
	}

	if result.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, job.ID); err != nil {
			return err
		}
		return &domain.ConflictError{
			Message:      fmt.Sprintf("job %d is no longer %s", job.ID, from),
			ResourceType: "job",
			ResourceID:   strconv.FormatInt(job.ID, 10),
		}
	}

	return nil
}
