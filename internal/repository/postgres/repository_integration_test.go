package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"branchtale/internal/domain"
	"branchtale/internal/domain/models"
	"branchtale/internal/domain/repositories"
	"branchtale/internal/repository/postgres"
)

const testTablePrefix = "it_"

type repositorySuite struct {
	suite.Suite
	ctx       context.Context
	container *tcpostgres.PostgresContainer
	pool      *pgxpool.Pool
	tables    *postgres.TableNames

	stories repositories.StoryRepository
	nodes   repositories.NodeRepository
	jobs    repositories.JobRepository
	tx      repositories.TransactionManager
}

func TestRepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration tests in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	suite.Run(t, new(repositorySuite))
}

func (s *repositorySuite) SetupSuite() {
	s.ctx = context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var err error
	s.container, err = tcpostgres.Run(s.ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("branchtale_test"),
		tcpostgres.WithUsername("branchtale"),
		tcpostgres.WithPassword("branchtale"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(2*time.Minute),
		),
	)
	s.Require().NoError(err, "start postgres container")

	dsn, err := s.container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.pool, err = postgres.CreateConnectionPool(s.ctx, dsn)
	s.Require().NoError(err)

	s.tables = postgres.NewTableNames(testTablePrefix)
	s.Require().NoError(postgres.NewMigrator(s.pool, s.tables, logger).Up(s.ctx))

	cfg := &postgres.RepositoryConfig{Pool: s.pool, Tables: s.tables, Logger: logger}
	s.stories = postgres.NewStoryRepository(cfg)
	s.nodes = postgres.NewNodeRepository(cfg)
	s.jobs = postgres.NewJobRepository(cfg)
	s.tx = postgres.NewTransactionManager(s.pool, logger)
}

func (s *repositorySuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		if err := s.container.Terminate(s.ctx); err != nil {
			s.T().Logf("terminate postgres container: %v", err)
		}
	}
}

func (s *repositorySuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, fmt.Sprintf("TRUNCATE TABLE %s, %s, %s RESTART IDENTITY CASCADE",
		s.tables.Jobs, s.tables.StoryNodes, s.tables.Stories))
	s.Require().NoError(err, "truncate tables")
}

func (s *repositorySuite) createStory(session string) *models.Story {
	story := &models.Story{
		Title:           "Lighthouse",
		Genre:           models.DefaultGenre,
		NarratorPersona: models.PersonaMysterious,
		Atmosphere:      models.AtmosphereMagical,
		Language:        models.LanguageEnglish,
		SessionID:       session,
		IsActive:        true,
		Context:         models.NewContinuityContext(),
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	s.Require().NoError(s.stories.Create(s.ctx, story))
	return story
}

func (s *repositorySuite) createNode(storyID int64, parent *models.StoryNode, content string) *models.StoryNode {
	node := &models.StoryNode{
		StoryID:   storyID,
		Content:   content,
		Choices:   []models.Choice{{ID: "a", Text: "Onward"}},
		CreatedAt: time.Now(),
	}
	if parent == nil {
		node.IsRoot = true
	} else {
		node.ParentID = &parent.ID
		node.Depth = parent.Depth + 1
		choice := "Onward"
		node.ChoiceText = &choice
	}
	s.Require().NoError(s.nodes.Create(s.ctx, node))
	return node
}

func (s *repositorySuite) TestDuplicateSessionConflicts() {
	s.createStory("session-one")

	err := s.stories.Create(s.ctx, &models.Story{
		Title:     "Again",
		Genre:     models.DefaultGenre,
		SessionID: "session-one",
		Context:   models.NewContinuityContext(),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
	s.True(errors.Is(err, domain.ErrConflict))
}

func (s *repositorySuite) TestSecondRootConflictsWithExistingID() {
	story := s.createStory("two-roots")
	root := s.createNode(story.ID, nil, "The lamp flickers.")

	err := s.tx.ExecTx(s.ctx, func(ctx context.Context) error {
		return s.nodes.Create(ctx, &models.StoryNode{
			StoryID:   story.ID,
			Content:   "Another beginning.",
			IsRoot:    true,
			CreatedAt: time.Now(),
		})
	})

	var conflict *domain.ConflictError
	s.Require().ErrorAs(err, &conflict)
	s.Equal(strconv.FormatInt(root.ID, 10), conflict.ResourceID)

	count, err := s.nodes.CountByStory(s.ctx, story.ID)
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *repositorySuite) TestGetPathRootFirst() {
	story := s.createStory("path")
	root := s.createNode(story.ID, nil, "root")
	middle := s.createNode(story.ID, root, "middle")
	leaf := s.createNode(story.ID, middle, "leaf")
	s.createNode(story.ID, root, "sibling")

	path, err := s.nodes.GetPath(s.ctx, leaf.ID)
	s.Require().NoError(err)

	ids := make([]int64, 0, len(path))
	for _, n := range path {
		ids = append(ids, n.ID)
	}
	s.Equal([]int64{root.ID, middle.ID, leaf.ID}, ids)
	s.Equal([]models.Choice{{ID: "a", Text: "Onward"}}, path[0].Choices)

	_, err = s.nodes.GetPath(s.ctx, 999999)
	s.True(errors.Is(err, domain.ErrNotFound))
}

func (s *repositorySuite) TestDeleteSubtreeCountsDescendants() {
	story := s.createStory("subtree")
	root := s.createNode(story.ID, nil, "root")
	branch := s.createNode(story.ID, root, "branch")
	s.createNode(story.ID, branch, "leaf one")
	s.createNode(story.ID, branch, "leaf two")
	kept := s.createNode(story.ID, root, "kept")

	removed, err := s.nodes.DeleteSubtree(s.ctx, branch.ID)
	s.Require().NoError(err)
	s.Equal(3, removed)

	remaining, err := s.nodes.ListByStory(s.ctx, story.ID)
	s.Require().NoError(err)
	s.Require().Len(remaining, 2)
	s.Equal(root.ID, remaining[0].ID)
	s.Equal(kept.ID, remaining[1].ID)

	_, err = s.nodes.DeleteSubtree(s.ctx, branch.ID)
	s.True(errors.Is(err, domain.ErrNotFound))
}

func (s *repositorySuite) TestJobTransitions() {
	story := s.createStory("jobs")
	job := &models.Job{StoryID: &story.ID, JobType: models.JobGenerateOpening, Status: models.JobPending, CreatedAt: time.Now()}
	s.Require().NoError(s.jobs.Create(s.ctx, job))

	started := time.Now()
	job.Status = models.JobProcessing
	job.StartedAt = &started
	s.Require().NoError(s.jobs.Transition(s.ctx, job, models.JobPending))

	// a cancel racing the start reads a stale status
	stale := *job
	stale.Status = models.JobCancelled
	stale.StartedAt = nil
	err := s.jobs.Transition(s.ctx, &stale, models.JobPending)
	s.True(errors.Is(err, domain.ErrConflict))

	stored, err := s.jobs.GetByID(s.ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(models.JobProcessing, stored.Status)
	s.NotNil(stored.StartedAt)

	done := time.Now()
	job.Status = models.JobCompleted
	job.CompletedAt = &done
	job.Result = map[string]interface{}{"model": "primary"}
	s.Require().NoError(s.jobs.Transition(s.ctx, job, models.JobProcessing))

	stored, err = s.jobs.GetByID(s.ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(models.JobCompleted, stored.Status)
	s.Equal("primary", stored.Result["model"])

	skipped := &models.Job{StoryID: &story.ID, JobType: models.JobGenerateEnding, Status: models.JobPending, CreatedAt: time.Now()}
	s.Require().NoError(s.jobs.Create(s.ctx, skipped))
	skipped.Status = models.JobFailed
	err = s.jobs.Transition(s.ctx, skipped, models.JobPending)
	s.True(errors.Is(err, domain.ErrConflict))

	missing := &models.Job{ID: 424242, Status: models.JobProcessing}
	err = s.jobs.Transition(s.ctx, missing, models.JobPending)
	s.True(errors.Is(err, domain.ErrNotFound))
}

func (s *repositorySuite) TestRollbackDiscardsWrites() {
	story := s.createStory("rollback")
	boom := errors.New("boom")

	err := s.tx.ExecTx(s.ctx, func(ctx context.Context) error {
		root := &models.StoryNode{StoryID: story.ID, Content: "gone", IsRoot: true, CreatedAt: time.Now()}
		if err := s.nodes.Create(ctx, root); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	_, err = s.nodes.GetRoot(s.ctx, story.ID)
	s.True(errors.Is(err, domain.ErrNotFound))
}
