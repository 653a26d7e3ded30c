package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"branchtale/internal/domain"
	"branchtale/internal/domain/models"
	"branchtale/internal/domain/repositories"
)

// MaxRecursionDepth bounds recursive tree queries so a corrupted parent chain cannot loop forever
const MaxRecursionDepth = 1000

// PostgresNodeRepository implements the NodeRepository interface using PostgreSQL
type PostgresNodeRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewNodeRepository creates a new PostgresNodeRepository
func NewNodeRepository(config *RepositoryConfig) repositories.NodeRepository {
	return &PostgresNodeRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

const nodeColumns = `id, story_id, parent_id, content, choice_text, choices, node_metadata,
	is_root, is_ending, depth, created_at`

func scanNode(row scanner) (*models.StoryNode, error) {
	var node models.StoryNode
	var choices []byte

	err := row.Scan(
		&node.ID,
		&node.StoryID,
		&node.ParentID,
		&node.Content,
		&node.ChoiceText,
		&choices,
		&node.Metadata, // pgx handles JSONB -> map
		&node.IsRoot,
		&node.IsEnding,
		&node.Depth,
		&node.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	node.Choices = []models.Choice{}
	if len(choices) > 0 {
		if err := json.Unmarshal(choices, &node.Choices); err != nil {
			return nil, fmt.Errorf("decode choices: %w", err)
		}
	}

	return &node, nil
}

func (r *PostgresNodeRepository) queryNodes(ctx context.Context, op, query string, args ...interface{}) ([]models.StoryNode, error) {
	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, args...)
	if err != nil {
		return nil, storageError(op, err)
	}
	defer rows.Close()

	nodes := []models.StoryNode{}
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, storageError("scan node", err)
		}
		nodes = append(nodes, *node)
	}

	if err := rows.Err(); err != nil {
		return nil, storageError(op, err)
	}

	return nodes, nil
}

// Create inserts a node
func (r *PostgresNodeRepository) Create(ctx context.Context, node *models.StoryNode) error {
	if node.Choices == nil {
		node.Choices = []models.Choice{}
	}
	choices, err := json.Marshal(node.Choices)
	if err != nil {
		return fmt.Errorf("encode choices: %w", err)
	}

	// A failed insert aborts the surrounding transaction, so the existing
	// root is looked up first.
	if node.IsRoot {
		root, err := r.GetRoot(ctx, node.StoryID)
		if err == nil {
			return rootConflict(node.StoryID, strconv.FormatInt(root.ID, 10))
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (story_id, parent_id, content, choice_text, choices, node_metadata,
			is_root, is_ending, depth, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`, r.tables.StoryNodes)

	executor := GetExecutor(ctx, r.pool)
	err = executor.QueryRow(ctx, query,
		node.StoryID,
		node.ParentID,
		node.Content,
		node.ChoiceText,
		choices,
		node.Metadata, // pgx handles map -> JSONB (nil becomes NULL)
		node.IsRoot,
		node.IsEnding,
		node.Depth,
		node.CreatedAt,
	).Scan(&node.ID, &node.CreatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			// lost a race with a concurrent root insert
			return rootConflict(node.StoryID, "")
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: parent or story does not exist", domain.ErrValidation)
		}
		return storageError("create node", err)
	}

	return nil
}

func rootConflict(storyID int64, rootID string) error {
	return &domain.ConflictError{
		Message:      fmt.Sprintf("story %d already has a root node", storyID),
		ResourceType: "node",
		ResourceID:   rootID,
	}
}

// GetByID retrieves a node by ID
func (r *PostgresNodeRepository) GetByID(ctx context.Context, id int64) (*models.StoryNode, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, nodeColumns, r.tables.StoryNodes)

	executor := GetExecutor(ctx, r.pool)
	node, err := scanNode(executor.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("node", id)
		}
		return nil, storageError("get node", err)
	}

	return node, nil
}

// GetRoot retrieves the root node of a story
func (r *PostgresNodeRepository) GetRoot(ctx context.Context, storyID int64) (*models.StoryNode, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE story_id = $1 AND is_root`, nodeColumns, r.tables.StoryNodes)

	executor := GetExecutor(ctx, r.pool)
	node, err := scanNode(executor.QueryRow(ctx, query, storyID))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("root of story", storyID)
		}
		return nil, storageError("get root node", err)
	}

	return node, nil
}

// ListByStory retrieves every node of a story, shallowest first
func (r *PostgresNodeRepository) ListByStory(ctx context.Context, storyID int64) ([]models.StoryNode, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE story_id = $1
		ORDER BY depth, created_at, id
	`, nodeColumns, r.tables.StoryNodes)

	return r.queryNodes(ctx, "list nodes", query, storyID)
}

// ListChildren retrieves the direct children of a node in creation order
func (r *PostgresNodeRepository) ListChildren(ctx context.Context, nodeID int64) ([]models.StoryNode, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE parent_id = $1
		ORDER BY created_at, id
	`, nodeColumns, r.tables.StoryNodes)

	return r.queryNodes(ctx, "list children", query, nodeID)
}

// GetPath retrieves the nodes from the root down to nodeID
func (r *PostgresNodeRepository) GetPath(ctx context.Context, nodeID int64) ([]models.StoryNode, error) {
	query := fmt.Sprintf(`
		WITH RECURSIVE node_path AS (
			-- Base case: start with the specified node
			SELECT %[1]s, 1 AS hops
			FROM %[2]s
			WHERE id = $1

			UNION ALL

			-- Recursive case: follow parent links upward
			SELECT n.id, n.story_id, n.parent_id, n.content, n.choice_text, n.choices, n.node_metadata,
			       n.is_root, n.is_ending, n.depth, n.created_at, np.hops + 1
			FROM %[2]s n
			INNER JOIN node_path np ON n.id = np.parent_id
			WHERE np.hops < %[3]d
		)
		SELECT %[1]s
		FROM node_path
		ORDER BY hops DESC  -- Root first, specified node last
	`, nodeColumns, r.tables.StoryNodes, MaxRecursionDepth)

	nodes, err := r.queryNodes(ctx, "get node path", query, nodeID)
	if err != nil {
		return nil, err
	}

	if len(nodes) == 0 {
		return nil, notFound("node", nodeID)
	}

	return nodes, nil
}

// CountByStory counts the nodes of a story
func (r *PostgresNodeRepository) CountByStory(ctx context.Context, storyID int64) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE story_id = $1`, r.tables.StoryNodes)

	var count int
	executor := GetExecutor(ctx, r.pool)
	if err := executor.QueryRow(ctx, query, storyID).Scan(&count); err != nil {
		return 0, storageError("count nodes", err)
	}

	return count, nil
}

// Update writes the mutable fields of a node
func (r *PostgresNodeRepository) Update(ctx context.Context, node *models.StoryNode) error {
	if node.Choices == nil {
		node.Choices = []models.Choice{}
	}
	choices, err := json.Marshal(node.Choices)
	if err != nil {
		return fmt.Errorf("encode choices: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET content = $1, choices = $2, node_metadata = $3, is_ending = $4
		WHERE id = $5
	`, r.tables.StoryNodes)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query,
		node.Content,
		choices,
		node.Metadata,
		node.IsEnding,
		node.ID,
	)
	if err != nil {
		return storageError("update node", err)
	}

	if result.RowsAffected() == 0 {
		return notFound("node", node.ID)
	}

	return nil
}

// DeleteSubtree removes a node and all of its descendants
func (r *PostgresNodeRepository) DeleteSubtree(ctx context.Context, nodeID int64) (int, error) {
	query := fmt.Sprintf(`
		WITH RECURSIVE subtree AS (
			SELECT id, 1 AS hops FROM %[1]s WHERE id = $1
			UNION ALL
			SELECT n.id, s.hops + 1
			FROM %[1]s n
			INNER JOIN subtree s ON n.parent_id = s.id
			WHERE s.hops < %[2]d
		)
		DELETE FROM %[1]s WHERE id IN (SELECT id FROM subtree)
	`, r.tables.StoryNodes, MaxRecursionDepth)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, nodeID)
	if err != nil {
		return 0, storageError("delete node subtree", err)
	}

	if result.RowsAffected() == 0 {
		return 0, notFound("node", nodeID)
	}

	return int(result.RowsAffected()), nil
}
