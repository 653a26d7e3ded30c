package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"branchtale/internal/domain"
	"branchtale/internal/domain/models"
	"branchtale/internal/domain/repositories"
)

// PostgresStoryRepository implements the StoryRepository interface using PostgreSQL
type PostgresStoryRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewStoryRepository creates a new PostgresStoryRepository
func NewStoryRepository(config *RepositoryConfig) repositories.StoryRepository {
	return &PostgresStoryRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

const storyColumns = `id, title, description, genre, narrator_persona, atmosphere, language,
	session_id, is_active, is_completed, root_node_id, current_node_id,
	complete_story_text, story_branches, story_context, created_at, updated_at`

// scanner is implemented by pgx.Row and pgx.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanStory(row scanner) (*models.Story, error) {
	var story models.Story
	var branches, storyContext []byte

	err := row.Scan(
		&story.ID,
		&story.Title,
		&story.Description,
		&story.Genre,
		&story.NarratorPersona,
		&story.Atmosphere,
		&story.Language,
		&story.SessionID,
		&story.IsActive,
		&story.IsCompleted,
		&story.RootNodeID,
		&story.CurrentNodeID,
		&story.CompleteStoryText,
		&branches,
		&storyContext,
		&story.CreatedAt,
		&story.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(branches) > 0 && string(branches) != "null" {
		if err := json.Unmarshal(branches, &story.StoryBranches); err != nil {
			return nil, fmt.Errorf("decode story_branches: %w", err)
		}
	}

	story.Context = models.NewContinuityContext()
	if len(storyContext) > 0 {
		if err := json.Unmarshal(storyContext, &story.Context); err != nil {
			return nil, fmt.Errorf("decode story_context: %w", err)
		}
	}
	if story.Context.Characters == nil {
		story.Context.Characters = []string{}
	}
	if story.Context.KeyEvents == nil {
		story.Context.KeyEvents = []string{}
	}

	return &story, nil
}

// encodeStoryJSON marshals the JSONB columns of a story
func encodeStoryJSON(story *models.Story) (branches, storyContext []byte, err error) {
	if story.StoryBranches != nil {
		if branches, err = json.Marshal(story.StoryBranches); err != nil {
			return nil, nil, fmt.Errorf("encode story_branches: %w", err)
		}
	}
	if storyContext, err = json.Marshal(story.Context); err != nil {
		return nil, nil, fmt.Errorf("encode story_context: %w", err)
	}
	return branches, storyContext, nil
}

// Create inserts a new story
func (r *PostgresStoryRepository) Create(ctx context.Context, story *models.Story) error {
	branches, storyContext, err := encodeStoryJSON(story)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (title, description, genre, narrator_persona, atmosphere, language,
			session_id, is_active, is_completed, story_branches, story_context, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`, r.tables.Stories)

	executor := GetExecutor(ctx, r.pool)
	err = executor.QueryRow(ctx, query,
		story.Title,
		story.Description,
		story.Genre,
		story.NarratorPersona,
		story.Atmosphere,
		story.Language,
		story.SessionID,
		story.IsActive,
		story.IsCompleted,
		branches,
		storyContext,
		story.CreatedAt,
		story.UpdatedAt,
	).Scan(&story.ID, &story.CreatedAt, &story.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return &domain.ConflictError{
				Message:      "story session already exists",
				ResourceType: "story",
				ResourceID:   story.SessionID,
			}
		}
		return storageError("create story", err)
	}

	return nil
}

// GetByID retrieves a story by ID
func (r *PostgresStoryRepository) GetByID(ctx context.Context, id int64) (*models.Story, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, storyColumns, r.tables.Stories)
	return r.getOne(ctx, query, id, fmt.Sprintf("story %d", id))
}

// GetForUpdate retrieves a story and locks its row until the transaction ends
func (r *PostgresStoryRepository) GetForUpdate(ctx context.Context, id int64) (*models.Story, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 FOR UPDATE`, storyColumns, r.tables.Stories)
	return r.getOne(ctx, query, id, fmt.Sprintf("story %d", id))
}

// GetBySessionID retrieves a story by its session token
func (r *PostgresStoryRepository) GetBySessionID(ctx context.Context, sessionID string) (*models.Story, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE session_id = $1`, storyColumns, r.tables.Stories)
	return r.getOne(ctx, query, sessionID, "story session")
}

func (r *PostgresStoryRepository) getOne(ctx context.Context, query string, arg interface{}, label string) (*models.Story, error) {
	executor := GetExecutor(ctx, r.pool)
	story, err := scanStory(executor.QueryRow(ctx, query, arg))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%s: %w", label, domain.ErrNotFound)
		}
		return nil, storageError("get story", err)
	}
	return story, nil
}

// List retrieves one page of stories, newest first
func (r *PostgresStoryRepository) List(ctx context.Context, filter models.StoryFilter) ([]models.Story, int, error) {
	var conditions []string
	var args []interface{}

	if filter.Genre != "" {
		args = append(args, filter.Genre)
		conditions = append(conditions, fmt.Sprintf("genre = $%d", len(args)))
	}
	if filter.ActiveOnly {
		conditions = append(conditions, "is_active = TRUE")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	executor := GetExecutor(ctx, r.pool)

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s %s`, r.tables.Stories, where)
	if err := executor.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, storageError("count stories", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`
		SELECT %s FROM %s %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, storyColumns, r.tables.Stories, where, len(args)-1, len(args))

	rows, err := executor.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, storageError("list stories", err)
	}
	defer rows.Close()

	stories := []models.Story{}
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, 0, storageError("scan story", err)
		}
		stories = append(stories, *story)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, storageError("iterate stories", err)
	}

	return stories, total, nil
}

// Update writes every mutable column of a story
func (r *PostgresStoryRepository) Update(ctx context.Context, story *models.Story) error {
	branches, storyContext, err := encodeStoryJSON(story)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET title = $1, description = $2, genre = $3, narrator_persona = $4, atmosphere = $5,
			language = $6, is_active = $7, is_completed = $8, root_node_id = $9,
			current_node_id = $10, complete_story_text = $11, story_branches = $12,
			story_context = $13, updated_at = $14
		WHERE id = $15
	`, r.tables.Stories)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query,
		story.Title,
		story.Description,
		story.Genre,
		story.NarratorPersona,
		story.Atmosphere,
		story.Language,
		story.IsActive,
		story.IsCompleted,
		story.RootNodeID,
		story.CurrentNodeID,
		story.CompleteStoryText,
		branches,
		storyContext,
		story.UpdatedAt,
		story.ID,
	)
	if err != nil {
		return storageError("update story", err)
	}

	if result.RowsAffected() == 0 {
		return notFound("story", story.ID)
	}

	return nil
}

// Delete removes a story; nodes and jobs cascade
func (r *PostgresStoryRepository) Delete(ctx context.Context, id int64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.tables.Stories)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, id)
	if err != nil {
		return storageError("delete story", err)
	}

	if result.RowsAffected() == 0 {
		return notFound("story", id)
	}

	return nil
}
