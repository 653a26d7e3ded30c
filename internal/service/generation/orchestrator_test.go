package generation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"branchtale/internal/config"
	"branchtale/internal/domain"
	"branchtale/internal/domain/models"
	"branchtale/internal/domain/repositories"
	"branchtale/internal/domain/services"
	"branchtale/internal/repository/memory"
	"branchtale/internal/service/story"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reply is one scripted provider answer
type reply struct {
	text   string
	err    error
	tokens []string
}

// scriptedGenerator answers calls in order and records the models asked for
type scriptedGenerator struct {
	mu      sync.Mutex
	replies []reply
	models  []string
}

func (g *scriptedGenerator) Name() string { return "scripted" }

func (g *scriptedGenerator) next(model string) reply {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.models = append(g.models, model)
	if len(g.replies) == 0 {
		return reply{err: errors.New("no scripted reply left")}
	}
	r := g.replies[0]
	g.replies = g.replies[1:]
	return r
}

func (g *scriptedGenerator) Complete(ctx context.Context, req *services.CompletionRequest) (string, error) {
	r := g.next(req.Model)
	return r.text, r.err
}

func (g *scriptedGenerator) Stream(ctx context.Context, req *services.CompletionRequest, onToken func(string) error) (string, error) {
	r := g.next(req.Model)
	var sb strings.Builder
	for _, tok := range r.tokens {
		if err := onToken(tok); err != nil {
			return sb.String(), err
		}
		sb.WriteString(tok)
	}
	if r.err != nil {
		return sb.String(), r.err
	}
	if len(r.tokens) == 0 {
		return r.text, nil
	}
	return sb.String(), nil
}

const (
	openingReply = "[STORY]You wake in a tower where Mira watches you.[/STORY]\n" +
		"[CHOICES]\n1. Climb the stairs\n2. Open the window\n[/CHOICES]\n[ENDING]false[/ENDING]"
	continueReply = "[STORY]You climb. At the top you found a silver door.[/STORY]\n" +
		"[CHOICES]\n1. Knock\n2. Wait\n[/CHOICES]\n[ENDING]false[/ENDING]"
	endingReply = "[STORY]The door opens onto morning. You are home.[/STORY]\n[ENDING]true[/ENDING]"
)

type harness struct {
	svc       services.GenerationService
	stories   services.StoryService
	tree      services.TreeService
	storyRepo repositories.StoryRepository
	jobRepo   repositories.JobRepository
	gen       *scriptedGenerator
}

func newHarness(t *testing.T, fallbacks []string, replies ...reply) *harness {
	t.Helper()
	logger := discardLogger()
	store := memory.NewStore()
	storyRepo := memory.NewStoryRepository(store)
	nodeRepo := memory.NewNodeRepository(store)
	jobRepo := memory.NewJobRepository(store)
	tm := memory.NewTransactionManager(store)
	tree := story.NewTreeService(storyRepo, nodeRepo, tm, logger)

	composer, err := NewComposer(logger)
	require.NoError(t, err)

	gen := &scriptedGenerator{replies: replies}
	svc := NewGenerationService(storyRepo, nodeRepo, jobRepo, tm, tree, composer, NewHeuristicTracker(), gen, nil,
		Options{Model: "primary", FallbackModels: fallbacks, Temperature: 0.85, MaxTokens: 2500, SerializeStoryWrites: true},
		logger,
	)

	return &harness{
		svc:       svc,
		stories:   story.NewStoryService(storyRepo, nodeRepo, tree, logger),
		tree:      tree,
		storyRepo: storyRepo,
		jobRepo:   jobRepo,
		gen:       gen,
	}
}

func (h *harness) createStory(t *testing.T) *models.Story {
	t.Helper()
	s, err := h.stories.CreateStory(context.Background(), &services.CreateStoryRequest{
		Title:           "Test Quest",
		NarratorPersona: models.PersonaMysterious,
		Atmosphere:      models.AtmosphereMagical,
		Language:        models.LanguageEnglish,
	})
	require.NoError(t, err)
	return s
}

func TestOpeningThenContinuation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, reply{text: openingReply}, reply{text: continueReply})
	s := h.createStory(t)

	opening, err := h.svc.Generate(ctx, &services.GenerateRequest{StoryID: s.ID, JobType: models.JobGenerateOpening})
	require.NoError(t, err)

	root := opening.Node
	assert.Equal(t, 0, root.Depth)
	assert.True(t, root.IsRoot)
	assert.Nil(t, root.ParentID)
	require.Len(t, root.Choices, 2)

	stored, err := h.storyRepo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, root.ID, *stored.RootNodeID)
	assert.Equal(t, root.ID, *stored.CurrentNodeID)
	assert.Contains(t, stored.Context.Characters, "Mira")

	job, err := h.jobRepo.GetByID(ctx, opening.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, root.ID, *job.NodeID)
	assert.NotNil(t, job.DurationSeconds())

	next, err := h.svc.Generate(ctx, &services.GenerateRequest{
		StoryID:  s.ID,
		JobType:  models.JobGenerateContinuation,
		ParentID: &root.ID,
		ChoiceID: root.Choices[0].ID,
	})
	require.NoError(t, err)

	child := next.Node
	require.NotNil(t, child.ParentID)
	assert.Equal(t, root.ID, *child.ParentID)
	assert.Equal(t, 1, child.Depth)
	require.NotNil(t, child.ChoiceText)
	assert.Equal(t, "Climb the stairs", *child.ChoiceText)

	stored, err = h.storyRepo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, child.ID, *stored.CurrentNodeID)
	assert.Equal(t, root.ID, *stored.RootNodeID)
	assert.Equal(t, []string{"At the top you found a silver door"}, stored.Context.KeyEvents)
	assert.False(t, stored.IsCompleted)
}

func TestEndingCompletesStory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, reply{text: openingReply}, reply{text: endingReply})
	s := h.createStory(t)

	opening, err := h.svc.Generate(ctx, &services.GenerateRequest{StoryID: s.ID, JobType: models.JobGenerateOpening})
	require.NoError(t, err)

	ending, err := h.svc.Generate(ctx, &services.GenerateRequest{
		StoryID:  s.ID,
		JobType:  models.JobGenerateEnding,
		ParentID: &opening.Node.ID,
	})
	require.NoError(t, err)
	assert.True(t, ending.Node.IsEnding)
	assert.Empty(t, ending.Node.Choices)

	stored, err := h.storyRepo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsCompleted)

	_, err = h.svc.Generate(ctx, &services.GenerateRequest{
		StoryID:    s.ID,
		JobType:    models.JobGenerateContinuation,
		ParentID:   &ending.Node.ID,
		ChoiceText: "keep going",
	})
	assert.True(t, errors.Is(err, domain.ErrConflict))
}

func TestSecondOpeningFailsJobThroughProcessing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, reply{text: openingReply})
	s := h.createStory(t)

	_, err := h.svc.Generate(ctx, &services.GenerateRequest{StoryID: s.ID, JobType: models.JobGenerateOpening})
	require.NoError(t, err)

	var jobID int64
	_, err = h.svc.Stream(ctx, &services.GenerateRequest{StoryID: s.ID, JobType: models.JobGenerateOpening},
		services.StreamHooks{OnJob: func(id int64) { jobID = id }})
	assert.True(t, errors.Is(err, domain.ErrConflict))

	job, err := h.jobRepo.GetByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.NotNil(t, job.StartedAt, "failed jobs pass through processing")
	assert.NotNil(t, job.CompletedAt)
	assert.Len(t, h.gen.models, 1, "provider must not be called when preconditions fail")
}

func TestOverlongChoiceTextRejectedBeforeGeneration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, reply{text: openingReply}, reply{text: continueReply})
	s := h.createStory(t)

	opening, err := h.svc.Generate(ctx, &services.GenerateRequest{StoryID: s.ID, JobType: models.JobGenerateOpening})
	require.NoError(t, err)

	_, err = h.svc.Generate(ctx, &services.GenerateRequest{
		StoryID:    s.ID,
		JobType:    models.JobGenerateContinuation,
		ParentID:   &opening.Node.ID,
		ChoiceText: strings.Repeat("a", 301),
	})
	assert.True(t, errors.Is(err, domain.ErrValidation))
	assert.Len(t, h.gen.models, 1, "provider must not be called for an invalid request")

	jobs, total, err := h.jobRepo.List(ctx, models.JobFilter{StoryID: &s.ID, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, jobs, 1)
}

func TestFallbackToNextModel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, []string{"primary", "backup"},
		reply{err: &services.ProviderError{Provider: "scripted", Model: "primary", Reason: services.ReasonRateLimited, Err: errors.New("429")}},
		reply{text: openingReply},
	)
	s := h.createStory(t)

	result, err := h.svc.Generate(ctx, &services.GenerateRequest{StoryID: s.ID, JobType: models.JobGenerateOpening})
	require.NoError(t, err)
	assert.Equal(t, "backup", result.Model)
	assert.Equal(t, []string{"primary", "backup"}, h.gen.models)
	assert.Equal(t, "backup", result.Node.Metadata["model"])
}

func TestFatalErrorDoesNotFallBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, []string{"backup"},
		reply{err: errors.New("connection reset")},
		reply{text: openingReply},
	)
	s := h.createStory(t)

	var jobID int64
	_, err := h.svc.Stream(ctx, &services.GenerateRequest{StoryID: s.ID, JobType: models.JobGenerateOpening},
		services.StreamHooks{OnJob: func(id int64) { jobID = id }})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrGeneration))
	assert.Equal(t, []string{"primary"}, h.gen.models)

	job, err := h.jobRepo.GetByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Contains(t, *job.ErrorMessage, "connection reset")

	nodes, err := h.tree.ListNodes(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, nodes, "no node is left behind when generation fails")
}

func TestExhaustedFallbacksSurfaceOriginalError(t *testing.T) {
	ctx := context.Background()
	original := &services.ProviderError{Provider: "scripted", Model: "primary", Reason: services.ReasonModelUnavailable, Err: errors.New("404 models/primary")}
	h := newHarness(t, []string{"backup"},
		reply{err: original},
		reply{err: &services.ProviderError{Provider: "scripted", Model: "backup", Reason: services.ReasonRateLimited, Err: errors.New("429")}},
	)
	s := h.createStory(t)

	_, err := h.svc.Generate(ctx, &services.GenerateRequest{StoryID: s.ID, JobType: models.JobGenerateOpening})
	var genErr *domain.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, []string{"primary", "backup"}, genErr.Models)
	assert.ErrorIs(t, err, original)
}

func TestStreamForwardsTokens(t *testing.T) {
	ctx := context.Background()
	tokens := []string{"[STORY]You wake", " in a tower.[/STORY]", "[CHOICES]1. Up\n2. Down[/CHOICES]"}
	h := newHarness(t, nil, reply{tokens: tokens})
	s := h.createStory(t)

	var got []string
	result, err := h.svc.Stream(ctx, &services.GenerateRequest{StoryID: s.ID, JobType: models.JobGenerateOpening},
		services.StreamHooks{OnToken: func(tok string) error {
			got = append(got, tok)
			return nil
		}})
	require.NoError(t, err)
	assert.Equal(t, tokens, got)
	assert.Equal(t, "You wake in a tower.", result.Node.Content)
	assert.Len(t, result.Node.Choices, 2)
}

func TestStreamDoesNotFallBackAfterTokens(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, []string{"backup"},
		reply{tokens: []string{"[STORY]half"}, err: &services.ProviderError{Reason: services.ReasonRateLimited, Err: errors.New("429")}},
		reply{text: openingReply},
	)
	s := h.createStory(t)

	_, err := h.svc.Stream(ctx, &services.GenerateRequest{StoryID: s.ID, JobType: models.JobGenerateOpening},
		services.StreamHooks{OnToken: func(string) error { return nil }})
	assert.True(t, errors.Is(err, domain.ErrGeneration))
	assert.Equal(t, []string{"primary"}, h.gen.models)
}

func TestMalformedOutputBecomesEnding(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, reply{text: "The model forgot every tag."})
	s := h.createStory(t)

	result, err := h.svc.Generate(ctx, &services.GenerateRequest{StoryID: s.ID, JobType: models.JobGenerateOpening})
	require.NoError(t, err)
	assert.Equal(t, "The model forgot every tag.", result.Node.Content)
	assert.True(t, result.Node.IsEnding)
	assert.Empty(t, result.Node.Choices)
}

func TestDegenerateOutputIsStillPersisted(t *testing.T) {
	tests := []struct {
		name        string
		reply       string
		wantContent func(t *testing.T, content string)
		wantChoices int
	}{
		{
			name:  "empty story block",
			reply: "[STORY]\n[/STORY]\n[CHOICES]\n1. Go\n2. Stay\n[/CHOICES]\n[ENDING]false[/ENDING]",
			wantContent: func(t *testing.T, content string) {
				assert.Equal(t, placeholderContent, content)
			},
			wantChoices: 2,
		},
		{
			name:  "story longer than a node holds",
			reply: "[STORY]" + strings.Repeat("word ", 3100) + "[/STORY]\n[CHOICES]\n1. Go\n[/CHOICES]",
			wantContent: func(t *testing.T, content string) {
				assert.LessOrEqual(t, len([]rune(content)), config.MaxNodeContentLength)
				assert.True(t, strings.HasPrefix(content, "word word"))
			},
			wantChoices: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, nil, reply{text: tt.reply})
			s := h.createStory(t)

			result, err := h.svc.Generate(ctx, &services.GenerateRequest{StoryID: s.ID, JobType: models.JobGenerateOpening})
			require.NoError(t, err)
			tt.wantContent(t, result.Node.Content)
			assert.Len(t, result.Node.Choices, tt.wantChoices)

			job, err := h.jobRepo.GetByID(ctx, result.JobID)
			require.NoError(t, err)
			assert.Equal(t, models.JobCompleted, job.Status)
		})
	}
}

func TestContinuationRequiresKnownChoiceOrText(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, reply{text: openingReply})
	s := h.createStory(t)

	opening, err := h.svc.Generate(ctx, &services.GenerateRequest{StoryID: s.ID, JobType: models.JobGenerateOpening})
	require.NoError(t, err)

	_, err = h.svc.Generate(ctx, &services.GenerateRequest{
		StoryID:  s.ID,
		JobType:  models.JobGenerateContinuation,
		ParentID: &opening.Node.ID,
		ChoiceID: "nope",
	})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = h.svc.Generate(ctx, &services.GenerateRequest{StoryID: s.ID, JobType: models.JobGenerateContinuation})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestClassifyCall(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		err     error
		emitted bool
		want    outcomeKind
	}{
		{name: "success", text: "ok", want: outcomeSuccess},
		{name: "empty response", text: "  ", want: outcomeRetryable},
		{name: "rate limited", err: &services.ProviderError{Reason: services.ReasonRateLimited}, want: outcomeRetryable},
		{name: "model unavailable", err: &services.ProviderError{Reason: services.ReasonModelUnavailable}, want: outcomeRetryable},
		{name: "malformed", err: &services.ProviderError{Reason: services.ReasonMalformedRequest}, want: outcomeRetryable},
		{name: "other provider error", err: &services.ProviderError{Reason: services.ReasonOther}, want: outcomeFatal},
		{name: "after tokens", err: &services.ProviderError{Reason: services.ReasonRateLimited}, emitted: true, want: outcomeFatal},
		{name: "cancelled", err: context.Canceled, want: outcomeFatal},
		{name: "untyped", err: errors.New("boom"), want: outcomeFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyCall(tt.text, tt.err, tt.emitted).kind)
		})
	}
}

func TestCandidateModels(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, candidateModels("a", []string{"", "b", "a", " c "}))
}

func TestStoryLocksSerialize(t *testing.T) {
	locks := newStoryLocks()
	unlock, err := locks.acquire(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = locks.acquire(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)

	other, err := locks.acquire(context.Background(), 2)
	require.NoError(t, err)
	other()

	unlock()
	again, err := locks.acquire(context.Background(), 1)
	require.NoError(t, err)
	again()
	assert.Empty(t, locks.locks)
}
