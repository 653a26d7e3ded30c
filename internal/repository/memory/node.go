package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"branchtale/internal/domain"
	"branchtale/internal/domain/models"
	"branchtale/internal/domain/repositories"
)

// NodeRepository implements repositories.NodeRepository on a Store
type NodeRepository struct {
	store *Store
}

// NewNodeRepository creates a node repository backed by store
func NewNodeRepository(store *Store) repositories.NodeRepository {
	return &NodeRepository{store: store}
}

func (r *NodeRepository) Create(ctx context.Context, node *models.StoryNode) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.stories[node.StoryID]; !ok {
		return fmt.Errorf("%w: parent or story does not exist", domain.ErrValidation)
	}
	if node.ParentID != nil {
		if _, ok := s.nodes[*node.ParentID]; !ok {
			return fmt.Errorf("%w: parent or story does not exist", domain.ErrValidation)
		}
	}
	if node.IsRoot {
		if rootID, exists := s.roots[node.StoryID]; exists {
			return &domain.ConflictError{
				Message:      fmt.Sprintf("story %d already has a root node", node.StoryID),
				ResourceType: "node",
				ResourceID:   strconv.FormatInt(rootID, 10),
			}
		}
	}

	if node.Choices == nil {
		node.Choices = []models.Choice{}
	}

	s.nextNodeID++
	node.ID = s.nextNodeID
	s.nodes[node.ID] = cloneNode(node)

	id, storyID := node.ID, node.StoryID
	if node.IsRoot {
		s.roots[storyID] = id
	}
	var parentID int64
	if node.ParentID != nil {
		parentID = *node.ParentID
		s.children[parentID] = append(s.children[parentID], id)
	}

	isRoot, hasParent := node.IsRoot, node.ParentID != nil
	s.record(ctx, func() {
		delete(s.nodes, id)
		if isRoot {
			delete(s.roots, storyID)
		}
		if hasParent {
			s.children[parentID] = removeID(s.children[parentID], id)
		}
	})
	return nil
}

func (r *NodeRepository) GetByID(ctx context.Context, id int64) (*models.StoryNode, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	node, ok := r.store.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %d: %w", id, domain.ErrNotFound)
	}
	return cloneNode(node), nil
}

func (r *NodeRepository) GetRoot(ctx context.Context, storyID int64) (*models.StoryNode, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	rootID, ok := r.store.roots[storyID]
	if !ok {
		return nil, fmt.Errorf("root of story %d: %w", storyID, domain.ErrNotFound)
	}
	return cloneNode(r.store.nodes[rootID]), nil
}

func (r *NodeRepository) ListByStory(ctx context.Context, storyID int64) ([]models.StoryNode, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	nodes := []models.StoryNode{}
	for _, node := range r.store.nodes {
		if node.StoryID == storyID {
			nodes = append(nodes, *cloneNode(node))
		}
	}

	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Depth != nodes[j].Depth {
			return nodes[i].Depth < nodes[j].Depth
		}
		if !nodes[i].CreatedAt.Equal(nodes[j].CreatedAt) {
			return nodes[i].CreatedAt.Before(nodes[j].CreatedAt)
		}
		return nodes[i].ID < nodes[j].ID
	})

	return nodes, nil
}

func (r *NodeRepository) ListChildren(ctx context.Context, nodeID int64) ([]models.StoryNode, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	children := []models.StoryNode{}
	for _, childID := range r.store.children[nodeID] {
		children = append(children, *cloneNode(r.store.nodes[childID]))
	}
	return children, nil
}

// GetPath follows parent ids upward; the walk is bounded by the node count
// so a corrupted parent chain cannot loop.
func (r *NodeRepository) GetPath(ctx context.Context, nodeID int64) ([]models.StoryNode, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	node, ok := r.store.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("node %d: %w", nodeID, domain.ErrNotFound)
	}

	var path []models.StoryNode
	for steps := 0; node != nil && steps <= len(r.store.nodes); steps++ {
		path = append(path, *cloneNode(node))
		if node.ParentID == nil {
			break
		}
		node = r.store.nodes[*node.ParentID]
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

func (r *NodeRepository) CountByStory(ctx context.Context, storyID int64) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	count := 0
	for _, node := range r.store.nodes {
		if node.StoryID == storyID {
			count++
		}
	}
	return count, nil
}

func (r *NodeRepository) Update(ctx context.Context, node *models.StoryNode) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.nodes[node.ID]
	if !ok {
		return fmt.Errorf("node %d: %w", node.ID, domain.ErrNotFound)
	}

	updated := cloneNode(previous)
	updated.Content = node.Content
	updated.Choices = append([]models.Choice{}, node.Choices...)
	updated.Metadata = cloneMap(node.Metadata)
	updated.IsEnding = node.IsEnding
	s.nodes[node.ID] = updated

	s.record(ctx, func() { s.nodes[previous.ID] = previous })
	return nil
}

// DeleteSubtree removes the node and its descendants; jobs pointing at
// removed nodes lose their node reference.
func (r *NodeRepository) DeleteSubtree(ctx context.Context, nodeID int64) (int, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.nodes[nodeID]
	if !ok {
		return 0, fmt.Errorf("node %d: %w", nodeID, domain.ErrNotFound)
	}

	removed := map[int64]*models.StoryNode{}
	removedChildren := map[int64][]int64{}
	queue := []int64{nodeID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, seen := removed[id]; seen {
			continue
		}
		removed[id] = s.nodes[id]
		if kids, ok := s.children[id]; ok {
			removedChildren[id] = kids
			queue = append(queue, kids...)
		}
	}

	for id := range removed {
		delete(s.nodes, id)
		delete(s.children, id)
	}

	var parentID int64
	var parentKids []int64
	if target.ParentID != nil {
		parentID = *target.ParentID
		parentKids = s.children[parentID]
		s.children[parentID] = removeID(parentKids, nodeID)
	}

	rootID, hadRoot := s.roots[target.StoryID]
	if hadRoot {
		if _, gone := removed[rootID]; gone {
			delete(s.roots, target.StoryID)
		} else {
			hadRoot = false
		}
	}

	orphanedJobs := map[int64]int64{}
	for jobID, job := range s.jobs {
		if job.NodeID != nil {
			if _, gone := removed[*job.NodeID]; gone {
				orphanedJobs[jobID] = *job.NodeID
				job.NodeID = nil
			}
		}
	}

	s.record(ctx, func() {
		for id, node := range removed {
			s.nodes[id] = node
		}
		for id, kids := range removedChildren {
			s.children[id] = kids
		}
		if target.ParentID != nil {
			s.children[parentID] = parentKids
		}
		if hadRoot {
			s.roots[target.StoryID] = rootID
		}
		for jobID, nodeRef := range orphanedJobs {
			if job, ok := s.jobs[jobID]; ok {
				ref := nodeRef
				job.NodeID = &ref
			}
		}
	})

	return len(removed), nil
}

func removeID(ids []int64, id int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
