package main

import (
	"context"
	"flag"
	"log"
	"time"

	"branchtale/internal/config"
	"branchtale/internal/domain/models"
	"branchtale/internal/domain/services"
	"branchtale/internal/repository/postgres"
	"branchtale/internal/service/story"

	"github.com/joho/godotenv"
)

func main() {
	down := flag.Bool("down", false, "Roll back every migration (drops all tables)")
	schemaOnly := flag.Bool("schema-only", false, "Apply migrations without seeding the demo story")
	flag.Parse()

	_ = godotenv.Load()

	cfg := config.Load()

	// SAFETY: Prevent destructive operations in production
	if cfg.Environment == "prod" && *down {
		log.Fatalf("BLOCKED: cannot roll back migrations in the production environment")
	}
	if !cfg.UsesDatabase() {
		log.Fatalf("DATABASE_URL is required for seeding")
	}

	logger, closer, err := config.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer closer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	tables := postgres.NewTableNames(cfg.TablePrefix)
	migrator := postgres.NewMigrator(pool, tables, logger)

	if *down {
		if err := migrator.Down(ctx); err != nil {
			log.Fatalf("Failed to roll back migrations: %v", err)
		}
		logger.Info("migrations rolled back", "prefix", cfg.TablePrefix)
		return
	}

	if err := migrator.Up(ctx); err != nil {
		log.Fatalf("Failed to apply migrations: %v", err)
	}
	if *schemaOnly {
		return
	}

	repoConfig := &postgres.RepositoryConfig{Pool: pool, Tables: tables, Logger: logger}
	storyRepo := postgres.NewStoryRepository(repoConfig)
	nodeRepo := postgres.NewNodeRepository(repoConfig)
	txManager := postgres.NewTransactionManager(pool, logger)

	treeService := story.NewTreeService(storyRepo, nodeRepo, txManager, logger)
	storyService := story.NewStoryService(storyRepo, nodeRepo, treeService, logger)

	demo, err := seedDemoStory(ctx, storyService, treeService)
	if err != nil {
		log.Fatalf("Failed to seed demo story: %v", err)
	}

	logger.Info("demo story seeded", "story_id", demo.ID, "session_id", demo.SessionID)
}

// seedNode is a hand-authored node and the choice that leads to each child
type seedNode struct {
	content  string
	choices  []models.Choice
	ending   bool
	children map[string]seedNode // keyed by choice id
}

func choice(id, text string) models.Choice {
	return models.Choice{ID: id, Text: text}
}

var demoTree = seedNode{
	content: "Rain drums on the slate roof of the lighthouse. The keeper has been missing for three nights, " +
		"and the lamp still turns on its own. A ledger lies open on the table, its last page torn away.",
	choices: []models.Choice{
		choice("climb", "Climb to the lamp room"),
		choice("ledger", "Study the ledger"),
	},
	children: map[string]seedNode{
		"climb": {
			content: "The stairs spiral into warm light. Beside the great lens sits the keeper, " +
				"asleep, a bundle of torn pages clutched to his chest.",
			choices: []models.Choice{
				choice("wake", "Wake the keeper"),
				choice("pages", "Take the pages quietly"),
			},
			children: map[string]seedNode{
				"wake": {
					content: "He blinks, smiles, and hands you the pages. \"Someone had to keep the light,\" " +
						"he says. \"Now it's your turn.\" The storm breaks at dawn.",
					ending: true,
				},
			},
		},
		"ledger": {
			content: "Each entry lists a ship that passed safely. The final line, in fresh ink, " +
				"names a vessel that has not yet been built.",
			choices: []models.Choice{
				choice("wait", "Wait for the ship"),
			},
		},
	},
}

func seedDemoStory(ctx context.Context, storyService services.StoryService, treeService services.TreeService) (*models.Story, error) {
	description := "A short hand-authored story for trying out the reader."
	demo, err := storyService.CreateStory(ctx, &services.CreateStoryRequest{
		Title:           "The Keeper's Light",
		Description:     &description,
		Genre:           "Mystery",
		NarratorPersona: models.PersonaMysterious,
		Atmosphere:      models.AtmosphereTense,
		Language:        models.LanguageEnglish,
	})
	if err != nil {
		return nil, err
	}

	if err := createSubtree(ctx, treeService, demo.ID, nil, nil, demoTree); err != nil {
		return nil, err
	}
	return demo, nil
}

func createSubtree(ctx context.Context, treeService services.TreeService, storyID int64, parentID *int64, choiceText *string, n seedNode) error {
	node, err := treeService.CreateNode(ctx, storyID, &services.CreateNodeRequest{
		ParentID:   parentID,
		Content:    n.content,
		ChoiceText: choiceText,
		Choices:    n.choices,
		IsEnding:   n.ending,
	})
	if err != nil {
		return err
	}

	for _, c := range n.choices {
		child, ok := n.children[c.ID]
		if !ok {
			continue
		}
		text := c.Text
		if err := createSubtree(ctx, treeService, storyID, &node.ID, &text, child); err != nil {
			return err
		}
	}
	return nil
}
