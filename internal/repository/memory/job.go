package memory

import (
	"context"
	"fmt"
	"strconv"

	"branchtale/internal/domain"
	"branchtale/internal/domain/models"
	"branchtale/internal/domain/repositories"
)

// JobRepository implements repositories.JobRepository on a Store
type JobRepository struct {
	store *Store
}

// NewJobRepository creates a job repository backed by store
func NewJobRepository(store *Store) repositories.JobRepository {
	return &JobRepository{store: store}
}

func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.StoryID != nil {
		if _, ok := s.stories[*job.StoryID]; !ok {
			return fmt.Errorf("job references missing story: %w", domain.ErrNotFound)
		}
	}

	s.nextJobID++
	job.ID = s.nextJobID
	s.jobs[job.ID] = cloneJob(job)

	id := job.ID
	s.record(ctx, func() { delete(s.jobs, id) })
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id int64) (*models.Job, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	job, ok := r.store.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %d: %w", id, domain.ErrNotFound)
	}
	return cloneJob(job), nil
}

func (r *JobRepository) List(ctx context.Context, filter models.JobFilter) ([]models.Job, int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var matched []models.Job
	for _, job := range r.store.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.StoryID != nil && (job.StoryID == nil || *job.StoryID != *filter.StoryID) {
			continue
		}
		matched = append(matched, *cloneJob(job))
	}

	sortNewestFirst(matched, func(j models.Job) (int64, int64) {
		return j.CreatedAt.UnixNano(), j.ID
	})

	return paginate(matched, filter.Offset, filter.Limit), len(matched), nil
}

func (r *JobRepository) Transition(ctx context.Context, job *models.Job, from models.JobStatus) error {
	if !from.CanTransitionTo(job.Status) {
		return &domain.ConflictError{
			Message:      fmt.Sprintf("job %d cannot move from %s to %s", job.ID, from, job.Status),
			ResourceType: "job",
			ResourceID:   strconv.FormatInt(job.ID, 10),
		}
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.jobs[job.ID]
	if !ok {
		return fmt.Errorf("job %d: %w", job.ID, domain.ErrNotFound)
	}
	if previous.Status != from {
		return &domain.ConflictError{
			Message:      fmt.Sprintf("job %d is no longer %s", job.ID, from),
			ResourceType: "job",
			ResourceID:   strconv.FormatInt(job.ID, 10),
		}
	}

	updated := cloneJob(job)
	updated.StoryID = previous.StoryID
	updated.JobType = previous.JobType
	updated.CreatedAt = previous.CreatedAt
	s.jobs[job.ID] = updated

	s.record(ctx, func() { s.jobs[previous.ID] = previous })
	return nil
}
