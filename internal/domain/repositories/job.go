package repositories

import (
	"context"

	"branchtale/internal/domain/models"
)

// JobRepository persists generation jobs.
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error

	GetByID(ctx context.Context, id int64) (*models.Job, error)

	// List returns one page of jobs (newest first) and the total matching count.
	List(ctx context.Context, filter models.JobFilter) ([]models.Job, int, error)

	// Transition writes the job only if its stored status still equals from.
	// A concurrent status change yields a *domain.ConflictError.
	Transition(ctx context.Context, job *models.Job, from models.JobStatus) error
}
