package memory

import (
	"context"
	"fmt"

	"branchtale/internal/domain"
	"branchtale/internal/domain/models"
	"branchtale/internal/domain/repositories"
)

// StoryRepository implements repositories.StoryRepository on a Store
type StoryRepository struct {
	store *Store
}

// NewStoryRepository creates a story repository backed by store
func NewStoryRepository(store *Store) repositories.StoryRepository {
	return &StoryRepository{store: store}
}

func (r *StoryRepository) Create(ctx context.Context, story *models.Story) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.stories {
		if existing.SessionID == story.SessionID {
			return &domain.ConflictError{
				Message:      "story session already exists",
				ResourceType: "story",
				ResourceID:   story.SessionID,
			}
		}
	}

	s.nextStoryID++
	story.ID = s.nextStoryID
	s.stories[story.ID] = cloneStory(story)

	id := story.ID
	s.record(ctx, func() { delete(s.stories, id) })
	return nil
}

func (r *StoryRepository) GetByID(ctx context.Context, id int64) (*models.Story, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	story, ok := r.store.stories[id]
	if !ok {
		return nil, fmt.Errorf("story %d: %w", id, domain.ErrNotFound)
	}
	return cloneStory(story), nil
}

// GetForUpdate is GetByID; the memory store has no row locks
func (r *StoryRepository) GetForUpdate(ctx context.Context, id int64) (*models.Story, error) {
	return r.GetByID(ctx, id)
}

func (r *StoryRepository) GetBySessionID(ctx context.Context, sessionID string) (*models.Story, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, story := range r.store.stories {
		if story.SessionID == sessionID {
			return cloneStory(story), nil
		}
	}
	return nil, fmt.Errorf("story session: %w", domain.ErrNotFound)
}

func (r *StoryRepository) List(ctx context.Context, filter models.StoryFilter) ([]models.Story, int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var matched []models.Story
	for _, story := range r.store.stories {
		if filter.Genre != "" && story.Genre != filter.Genre {
			continue
		}
		if filter.ActiveOnly && !story.IsActive {
			continue
		}
		matched = append(matched, *cloneStory(story))
	}

	sortNewestFirst(matched, func(s models.Story) (int64, int64) {
		return s.CreatedAt.UnixNano(), s.ID
	})

	return paginate(matched, filter.Offset, filter.Limit), len(matched), nil
}

func (r *StoryRepository) Update(ctx context.Context, story *models.Story) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.stories[story.ID]
	if !ok {
		return fmt.Errorf("story %d: %w", story.ID, domain.ErrNotFound)
	}

	updated := cloneStory(story)
	updated.SessionID = previous.SessionID
	updated.CreatedAt = previous.CreatedAt
	s.stories[story.ID] = updated

	s.record(ctx, func() { s.stories[previous.ID] = previous })
	return nil
}

// Delete removes the story with its nodes and jobs
func (r *StoryRepository) Delete(ctx context.Context, id int64) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	story, ok := s.stories[id]
	if !ok {
		return fmt.Errorf("story %d: %w", id, domain.ErrNotFound)
	}

	removedNodes := map[int64]*models.StoryNode{}
	for nodeID, node := range s.nodes {
		if node.StoryID == id {
			removedNodes[nodeID] = node
		}
	}
	removedJobs := map[int64]*models.Job{}
	for jobID, job := range s.jobs {
		if job.StoryID != nil && *job.StoryID == id {
			removedJobs[jobID] = job
		}
	}

	removedChildren := map[int64][]int64{}
	for nodeID := range removedNodes {
		if kids, ok := s.children[nodeID]; ok {
			removedChildren[nodeID] = kids
		}
		delete(s.children, nodeID)
		delete(s.nodes, nodeID)
	}
	for jobID := range removedJobs {
		delete(s.jobs, jobID)
	}
	rootID, hadRoot := s.roots[id]
	delete(s.roots, id)
	delete(s.stories, id)

	s.record(ctx, func() {
		s.stories[id] = story
		for nodeID, node := range removedNodes {
			s.nodes[nodeID] = node
		}
		for nodeID, kids := range removedChildren {
			s.children[nodeID] = kids
		}
		for jobID, job := range removedJobs {
			s.jobs[jobID] = job
		}
		if hadRoot {
			s.roots[id] = rootID
		}
	})
	return nil
}
