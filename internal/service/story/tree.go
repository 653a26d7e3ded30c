package story

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"branchtale/internal/config"
	"branchtale/internal/domain"
	"branchtale/internal/domain/models"
	"branchtale/internal/domain/repositories"
	"branchtale/internal/domain/services"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// treeService implements the TreeService interface
type treeService struct {
	storyRepo repositories.StoryRepository
	nodeRepo  repositories.NodeRepository
	txManager repositories.TransactionManager
	logger    *slog.Logger
}

// NewTreeService creates a new tree service
func NewTreeService(
	storyRepo repositories.StoryRepository,
	nodeRepo repositories.NodeRepository,
	txManager repositories.TransactionManager,
	logger *slog.Logger,
) services.TreeService {
	return &treeService{
		storyRepo: storyRepo,
		nodeRepo:  nodeRepo,
		txManager: txManager,
		logger:    logger,
	}
}

// CreateNode attaches a node to the story tree, deriving depth and root status
func (s *treeService) CreateNode(ctx context.Context, storyID int64, req *services.CreateNodeRequest) (*models.StoryNode, error) {
	if err := validateCreateNode(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	var node *models.StoryNode
	err := s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		story, err := s.storyRepo.GetForUpdate(ctx, storyID)
		if err != nil {
			return err
		}

		node = &models.StoryNode{
			StoryID:    storyID,
			ParentID:   req.ParentID,
			Content:    strings.TrimSpace(req.Content),
			ChoiceText: req.ChoiceText,
			Choices:    normalizeChoices(req.Choices),
			Metadata:   req.Metadata,
			IsEnding:   req.IsEnding,
			CreatedAt:  time.Now(),
		}
		if node.IsEnding {
			node.Choices = []models.Choice{}
		}
		if node.Metadata == nil {
			node.Metadata = map[string]interface{}{}
		}

		if req.ParentID == nil {
			root, err := s.nodeRepo.GetRoot(ctx, storyID)
			if err == nil {
				return &domain.ConflictError{
					Message:      fmt.Sprintf("story %d already has a root node", storyID),
					ResourceType: "node",
					ResourceID:   strconv.FormatInt(root.ID, 10),
				}
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			node.IsRoot = true
			node.Depth = 0
		} else {
			parent, err := s.nodeRepo.GetByID(ctx, *req.ParentID)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return fmt.Errorf("%w: invalid parent node %d", domain.ErrValidation, *req.ParentID)
				}
				return err
			}
			if parent.StoryID != storyID {
				return fmt.Errorf("%w: invalid parent node %d", domain.ErrValidation, *req.ParentID)
			}
			node.Depth = parent.Depth + 1
		}

		if err := s.nodeRepo.Create(ctx, node); err != nil {
			return err
		}

		if node.IsRoot {
			story.RootNodeID = &node.ID
			if story.CurrentNodeID == nil {
				story.CurrentNodeID = &node.ID
			}
			story.UpdatedAt = time.Now()
			if err := s.storyRepo.Update(ctx, story); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("node created",
		"story_id", storyID,
		"node_id", node.ID,
		"depth", node.Depth,
		"is_root", node.IsRoot,
	)

	return node, nil
}

// GetNode returns a node with its direct children
func (s *treeService) GetNode(ctx context.Context, storyID, nodeID int64) (*models.NodeWithChildren, error) {
	node, err := s.storyNode(ctx, storyID, nodeID)
	if err != nil {
		return nil, err
	}

	children, err := s.nodeRepo.ListChildren(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	result := &models.NodeWithChildren{StoryNode: *node, Children: make([]*models.NodeWithChildren, 0, len(children))}
	for i := range children {
		result.Children = append(result.Children, &models.NodeWithChildren{
			StoryNode: children[i],
			Children:  []*models.NodeWithChildren{},
		})
	}
	return result, nil
}

func (s *treeService) ListNodes(ctx context.Context, storyID int64) ([]models.StoryNode, error) {
	if _, err := s.storyRepo.GetByID(ctx, storyID); err != nil {
		return nil, err
	}
	return s.nodeRepo.ListByStory(ctx, storyID)
}

// UpdateNode applies a partial update; marking a node as ending drops its choices
func (s *treeService) UpdateNode(ctx context.Context, storyID, nodeID int64, req *services.UpdateNodeRequest) (*models.StoryNode, error) {
	if err := validateUpdateNode(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	node, err := s.storyNode(ctx, storyID, nodeID)
	if err != nil {
		return nil, err
	}

	if req.Content != nil {
		node.Content = strings.TrimSpace(*req.Content)
	}
	if req.Choices != nil {
		node.Choices = normalizeChoices(*req.Choices)
	}
	if req.Metadata != nil {
		node.Metadata = *req.Metadata
	}
	if req.IsEnding != nil {
		node.IsEnding = *req.IsEnding
	}
	if node.IsEnding {
		node.Choices = []models.Choice{}
	}

	if err := s.nodeRepo.Update(ctx, node); err != nil {
		return nil, err
	}

	s.logger.Info("node updated", "story_id", storyID, "node_id", nodeID)
	return node, nil
}

// DeleteNode removes the node and its subtree. If the reader's pointer was
// inside the subtree it moves to the deleted node's parent.
func (s *treeService) DeleteNode(ctx context.Context, storyID, nodeID int64) error {
	var removed int
	err := s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		node, err := s.storyNode(ctx, storyID, nodeID)
		if err != nil {
			return err
		}
		if node.IsRoot {
			return &domain.ConflictError{
				Message:      "cannot delete the root node; delete the story instead",
				ResourceType: "node",
				ResourceID:   strconv.FormatInt(nodeID, 10),
			}
		}

		story, err := s.storyRepo.GetForUpdate(ctx, storyID)
		if err != nil {
			return err
		}

		resetCurrent := false
		if story.CurrentNodeID != nil {
			path, err := s.nodeRepo.GetPath(ctx, *story.CurrentNodeID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			for _, n := range path {
				if n.ID == nodeID {
					resetCurrent = true
					break
				}
			}
		}

		removed, err = s.nodeRepo.DeleteSubtree(ctx, nodeID)
		if err != nil {
			return err
		}

		if resetCurrent {
			story.CurrentNodeID = node.ParentID
			story.UpdatedAt = time.Now()
			return s.storyRepo.Update(ctx, story)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("node subtree deleted", "story_id", storyID, "node_id", nodeID, "removed", removed)
	return nil
}

// GetPath returns the nodes from the root down to nodeID
func (s *treeService) GetPath(ctx context.Context, storyID, nodeID int64) ([]models.StoryNode, error) {
	if _, err := s.storyNode(ctx, storyID, nodeID); err != nil {
		return nil, err
	}
	return s.nodeRepo.GetPath(ctx, nodeID)
}

// CurrentPosition returns the story's current node, falling back to the root
func (s *treeService) CurrentPosition(ctx context.Context, storyID int64) (*models.StoryNode, error) {
	story, err := s.storyRepo.GetByID(ctx, storyID)
	if err != nil {
		return nil, err
	}

	nodeID := story.CurrentNodeID
	if nodeID == nil {
		nodeID = story.RootNodeID
	}
	if nodeID == nil {
		return nil, fmt.Errorf("story %d has no nodes yet: %w", storyID, domain.ErrNotFound)
	}

	return s.nodeRepo.GetByID(ctx, *nodeID)
}

// SetCurrentPosition moves the reader's pointer to an existing node of the story
func (s *treeService) SetCurrentPosition(ctx context.Context, storyID, nodeID int64) (*models.StoryNode, error) {
	var node *models.StoryNode
	err := s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		var err error
		node, err = s.storyNode(ctx, storyID, nodeID)
		if err != nil {
			return err
		}

		story, err := s.storyRepo.GetForUpdate(ctx, storyID)
		if err != nil {
			return err
		}
		story.CurrentNodeID = &node.ID
		story.UpdatedAt = time.Now()
		return s.storyRepo.Update(ctx, story)
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// ComputeBranches walks the tree depth-first and returns one branch per
// leaf or ending node, numbered branch_1, branch_2, ... in traversal order.
func (s *treeService) ComputeBranches(ctx context.Context, storyID int64) ([]models.StoryBranch, error) {
	nodes, err := s.nodeRepo.ListByStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	return collectBranches(nodes), nil
}

func collectBranches(nodes []models.StoryNode) []models.StoryBranch {
	branches := []models.StoryBranch{}

	var root *models.StoryNode
	children := make(map[int64][]*models.StoryNode, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		if n.IsRoot {
			root = n
		}
		if n.ParentID != nil {
			children[*n.ParentID] = append(children[*n.ParentID], n)
		}
	}
	if root == nil {
		return branches
	}

	visited := make(map[int64]bool, len(nodes))
	var walk func(n *models.StoryNode, path []models.BranchNode)
	walk = func(n *models.StoryNode, path []models.BranchNode) {
		if visited[n.ID] {
			return
		}
		visited[n.ID] = true

		path = append(path, models.BranchNode{
			ID:         n.ID,
			Content:    n.Content,
			ChoiceText: n.ChoiceText,
			IsEnding:   n.IsEnding,
		})

		kids := children[n.ID]
		if len(kids) == 0 || n.IsEnding {
			branches = append(branches, models.StoryBranch{
				ID:         fmt.Sprintf("branch_%d", len(branches)+1),
				Nodes:      append([]models.BranchNode{}, path...),
				IsComplete: n.IsEnding,
			})
			return
		}
		for _, child := range kids {
			walk(child, path)
		}
	}
	walk(root, nil)

	return branches
}

// storyNode loads a node and checks that it belongs to storyID
func (s *treeService) storyNode(ctx context.Context, storyID, nodeID int64) (*models.StoryNode, error) {
	node, err := s.nodeRepo.GetByID(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node.StoryID != storyID {
		return nil, fmt.Errorf("node %d in story %d: %w", nodeID, storyID, domain.ErrNotFound)
	}
	return node, nil
}

// normalizeChoices trims choice text and assigns ids to choices that lack one
func normalizeChoices(choices []models.Choice) []models.Choice {
	out := make([]models.Choice, 0, len(choices))
	for _, c := range choices {
		c.Text = strings.TrimSpace(c.Text)
		if c.ID == "" {
			c.ID = models.NewChoiceID()
		}
		out = append(out, c)
	}
	return out
}

func choiceRules(choice interface{}) error {
	c, ok := choice.(models.Choice)
	if !ok {
		return nil
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.Text, validation.Required, validation.Length(1, config.MaxChoiceTextLength)),
		validation.Field(&c.ConsequenceHint, validation.Length(0, config.MaxConsequenceHintLength)),
	)
}

func validateCreateNode(req *services.CreateNodeRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Content, validation.Required, validation.Length(1, config.MaxNodeContentLength)),
		validation.Field(&req.ChoiceText, validation.Length(0, config.MaxChoiceTextLength)),
		validation.Field(&req.Choices, validation.Each(validation.By(choiceRules))),
	)
}

func validateUpdateNode(req *services.UpdateNodeRequest) error {
	if req.Choices != nil {
		if err := validation.Validate(*req.Choices, validation.Each(validation.By(choiceRules))); err != nil {
			return fmt.Errorf("choices: %v", err)
		}
	}
	return validation.ValidateStruct(req,
		validation.Field(&req.Content, validation.NilOrNotEmpty, validation.Length(1, config.MaxNodeContentLength)),
	)
}
