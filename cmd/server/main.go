package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"branchtale/internal/auth"
	"branchtale/internal/config"
	"branchtale/internal/domain/repositories"
	"branchtale/internal/domain/services"
	"branchtale/internal/handler"
	"branchtale/internal/middleware"
	"branchtale/internal/repository/memory"
	"branchtale/internal/repository/postgres"
	"branchtale/internal/service/generation"
	"branchtale/internal/service/job"
	"branchtale/internal/service/story"
	"branchtale/internal/service/textgen"
	"branchtale/internal/service/tts"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// repos is the persistence layer selected at startup
type repos struct {
	kind    string
	story   repositories.StoryRepository
	node    repositories.NodeRepository
	job     repositories.JobRepository
	tx      repositories.TransactionManager
	cleanup func()
}

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg := config.Load()

	logger, logCloser, err := config.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"api_prefix", cfg.APIPrefix,
		"llm_provider", cfg.LLMProvider,
		"tts_provider", cfg.TTSProvider,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openRepositories(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.cleanup()

	// Text generation
	selection, err := textgen.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to set up text generator: %v", err)
	}

	// Narration
	audioCache, closeCache, err := openAudioCache(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to set up audio cache: %v", err)
	}
	defer closeCache()

	var synth services.SpeechSynthesizer
	if cfg.TTSProvider == "openai" {
		s, err := tts.NewOpenAISynthesizer(cfg.TTSAPIKey, cfg.TTSBaseURL, cfg.TTSModel)
		if err != nil {
			log.Fatalf("Failed to set up speech synthesizer: %v", err)
		}
		synth = s
	} else {
		logger.Warn("text-to-speech disabled; only cached audio will be served")
	}
	narration := tts.NewNarrationService(synth, audioCache, store.story, store.node, cfg.AudioCacheTTL, logger)

	// Story services
	treeService := story.NewTreeService(store.story, store.node, store.tx, logger)
	storyService := story.NewStoryService(store.story, store.node, treeService, logger)
	jobService := job.NewJobService(store.job, logger)

	composer, err := generation.NewComposer(logger)
	if err != nil {
		log.Fatalf("Failed to load prompt templates: %v", err)
	}
	generationService := generation.NewGenerationService(
		store.story,
		store.node,
		store.job,
		store.tx,
		treeService,
		composer,
		generation.NewHeuristicTracker(),
		selection.Generator,
		narration,
		generation.Options{
			Model:                selection.Model,
			FallbackModels:       selection.FallbackModels,
			Temperature:          cfg.Temperature,
			MaxTokens:            cfg.MaxTokens,
			SerializeStoryWrites: cfg.SerializeStoryWrites,
			AudioURLPrefix:       cfg.APIPrefix + "/tts/audio/",
		},
		logger,
	)

	logger.Info("services initialized", "store", store.kind)

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, cfg.APIPrefix, &handler.Handlers{
		Story:      handler.NewStoryHandler(storyService, treeService, logger),
		Node:       handler.NewNodeHandler(treeService, logger),
		Generation: handler.NewGenerationHandler(generationService, logger),
		Job:        handler.NewJobHandler(jobService, logger),
		TTS:        handler.NewTTSHandler(narration, logger),
		Health:     handler.NewHealthHandler(store.kind, selection.Generator.Name(), narration),
	})
	if cfg.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	// JWT verification is optional; without a JWKS URL every request passes
	var verifier auth.JWTVerifier
	if cfg.AuthEnabled() {
		v, err := auth.NewJWTVerifier(cfg.AuthJWKSURL, logger)
		if err != nil {
			log.Fatalf("Failed to create JWT verifier: %v", err)
		}
		defer v.Close()
		verifier = v
	}

	// Apply middleware in reverse order (they wrap each other)
	// Order: CORS → Recovery → Metrics → Auth → Routes
	var h http.Handler = mux
	h = middleware.Auth(verifier, logger)(h)
	if cfg.MetricsEnabled {
		h = middleware.Metrics(mux, logger)(h)
	}
	h = middleware.Recovery(logger)(h)

	// CORS - Must be outermost to answer OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "Last-Event-ID"},
		ExposedHeaders:   []string{"X-Audio-Key", "X-Audio-Cached", "Content-Disposition"},
		AllowCredentials: true,
	})
	h = corsHandler.Handler(h)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived SSE streams
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}()

	logger.Info("listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
	logger.Info("server stopped")
}

// openRepositories connects to Postgres and applies migrations when
// DATABASE_URL is set, and falls back to the in-memory store otherwise
func openRepositories(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*repos, error) {
	if !cfg.UsesDatabase() {
		logger.Warn("DATABASE_URL not set; using in-memory store (data is lost on restart)")
		s := memory.NewStore()
		return &repos{
			kind:    "memory",
			story:   memory.NewStoryRepository(s),
			node:    memory.NewNodeRepository(s),
			job:     memory.NewJobRepository(s),
			tx:      memory.NewTransactionManager(s),
			cleanup: func() {},
		}, nil
	}

	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	tables := postgres.NewTableNames(cfg.TablePrefix)
	if err := postgres.NewMigrator(pool, tables, logger).Up(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("database connected", "max_conns", pool.Config().MaxConns, "table_prefix", cfg.TablePrefix)

	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: tables,
		Logger: logger,
	}
	return &repos{
		kind:    "postgres",
		story:   postgres.NewStoryRepository(repoConfig),
		node:    postgres.NewNodeRepository(repoConfig),
		job:     postgres.NewJobRepository(repoConfig),
		tx:      postgres.NewTransactionManager(pool, logger),
		cleanup: pool.Close,
	}, nil
}

// openAudioCache prefers a shared redis cache and falls back to files on disk
func openAudioCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (services.AudioCache, func(), error) {
	if cfg.RedisURL != "" {
		c, err := tts.NewRedisCache(ctx, cfg.RedisURL, "branchtale:audio:")
		if err != nil {
			return nil, nil, err
		}
		logger.Info("audio cache configured", "backend", "redis", "ttl", cfg.AudioCacheTTL)
		return c, func() { c.Close() }, nil
	}

	c, err := tts.NewFileCache(cfg.AudioCacheDir)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("audio cache configured", "backend", "file", "dir", cfg.AudioCacheDir)
	return c, func() {}, nil
}
