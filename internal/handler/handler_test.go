package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"branchtale/internal/domain/models"
	"branchtale/internal/domain/services"
	"branchtale/internal/repository/memory"
	"branchtale/internal/service/generation"
	"branchtale/internal/service/job"
	"branchtale/internal/service/story"
	"branchtale/internal/service/textgen"
	"branchtale/internal/service/tts"
)

type echoSynth struct{}

func (echoSynth) Synthesize(ctx context.Context, req *services.SpeechRequest) ([]byte, string, error) {
	return []byte("ID3" + req.Text), "audio/mpeg", nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := memory.NewStore()
	storyRepo := memory.NewStoryRepository(store)
	nodeRepo := memory.NewNodeRepository(store)
	jobRepo := memory.NewJobRepository(store)
	tm := memory.NewTransactionManager(store)

	cache, err := tts.NewFileCache(t.TempDir())
	require.NoError(t, err)
	narration := tts.NewNarrationService(echoSynth{}, cache, storyRepo, nodeRepo, 0, logger)

	tree := story.NewTreeService(storyRepo, nodeRepo, tm, logger)
	composer, err := generation.NewComposer(logger)
	require.NoError(t, err)
	gen := generation.NewGenerationService(storyRepo, nodeRepo, jobRepo, tm, tree, composer,
		generation.NewHeuristicTracker(), textgen.NewLoremGenerator(0), narration,
		generation.Options{Model: "lorem-medium", Temperature: 0.85, MaxTokens: 2500, SerializeStoryWrites: true, AudioURLPrefix: "/api/v1/tts/audio/"},
		logger,
	)

	mux := http.NewServeMux()
	RegisterRoutes(mux, "/api/v1", &Handlers{
		Story:      NewStoryHandler(story.NewStoryService(storyRepo, nodeRepo, tree, logger), tree, logger),
		Node:       NewNodeHandler(tree, logger),
		Generation: NewGenerationHandler(gen, logger),
		Job:        NewJobHandler(job.NewJobService(jobRepo, logger), logger),
		TTS:        NewTTSHandler(narration, logger),
		Health:     NewHealthHandler("memory", "lorem", narration),
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path string, body interface{}, out interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func createStory(t *testing.T, srv *httptest.Server) models.Story {
	t.Helper()
	var s models.Story
	resp := doJSON(t, srv, http.MethodPost, "/api/v1/stories", map[string]string{"title": "The Tower"}, &s)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return s
}

type problem struct {
	Status int    `json:"status"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	var body map[string]interface{}
	resp := doJSON(t, srv, http.MethodGet, "/health", nil, &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "memory", body["store"])
	assert.Equal(t, true, body["tts_enabled"])
}

func TestStoryLifecycle(t *testing.T) {
	srv := newTestServer(t)
	s := createStory(t, srv)

	assert.Equal(t, "Fantasy", s.Genre)
	assert.Len(t, s.SessionID, 43)

	var bySession models.Story
	resp := doJSON(t, srv, http.MethodGet, "/api/v1/stories/session/"+s.SessionID, nil, &bySession)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, s.ID, bySession.ID)

	var updated models.Story
	resp = doJSON(t, srv, http.MethodPatch, fmt.Sprintf("/api/v1/stories/%d", s.ID),
		map[string]interface{}{"title": "The Tall Tower", "description": "stairs"}, &updated)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "The Tall Tower", updated.Title)
	require.NotNil(t, updated.Description)

	resp = doJSON(t, srv, http.MethodPatch, fmt.Sprintf("/api/v1/stories/%d", s.ID),
		map[string]interface{}{"description": nil}, &updated)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, updated.Description)

	var page models.Page[models.Story]
	resp = doJSON(t, srv, http.MethodGet, "/api/v1/stories?page_size=500", nil, &page)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 100, page.Size)

	resp = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/v1/stories/%d", s.ID), nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	var p problem
	resp = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/v1/stories/%d", s.ID), nil, &p)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", p.Kind)
}

func TestErrorKinds(t *testing.T) {
	srv := newTestServer(t)
	s := createStory(t, srv)

	tests := []struct {
		name     string
		method   string
		path     string
		body     interface{}
		wantCode int
		wantKind string
	}{
		{
			name:     "bad path id",
			method:   http.MethodGet,
			path:     "/api/v1/stories/abc",
			wantCode: http.StatusBadRequest,
			wantKind: "validation",
		},
		{
			name:     "invalid persona",
			method:   http.MethodPost,
			path:     "/api/v1/stories",
			body:     map[string]string{"title": "x", "narrator_persona": "grumpy"},
			wantCode: http.StatusBadRequest,
			wantKind: "validation",
		},
		{
			name:     "current without nodes",
			method:   http.MethodGet,
			path:     fmt.Sprintf("/api/v1/stories/%d/current", s.ID),
			wantCode: http.StatusNotFound,
			wantKind: "not_found",
		},
		{
			name:     "unknown job",
			method:   http.MethodGet,
			path:     "/api/v1/jobs/999",
			wantCode: http.StatusNotFound,
			wantKind: "not_found",
		},
		{
			name:     "empty tts text",
			method:   http.MethodPost,
			path:     "/api/v1/tts/synthesize",
			body:     map[string]string{"text": "  "},
			wantCode: http.StatusBadRequest,
			wantKind: "validation",
		},
		{
			name:     "malformed audio key",
			method:   http.MethodGet,
			path:     "/api/v1/tts/audio/nope",
			wantCode: http.StatusNotFound,
			wantKind: "not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p problem
			resp := doJSON(t, srv, tt.method, tt.path, tt.body, &p)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			assert.Equal(t, tt.wantKind, p.Kind)
			assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
		})
	}
}

func TestGenerateOpeningContinueAndEnding(t *testing.T) {
	srv := newTestServer(t)
	s := createStory(t, srv)
	base := fmt.Sprintf("/api/v1/stories/%d", s.ID)

	var opening generationResponse
	resp := doJSON(t, srv, http.MethodPost, base+"/generate/opening", nil, &opening)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotNil(t, opening.Node)
	assert.True(t, opening.Node.IsRoot)
	require.Len(t, opening.Node.Choices, 3)

	var p problem
	resp = doJSON(t, srv, http.MethodPost, base+"/generate/opening", nil, &p)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", p.Kind)

	choice := opening.Node.Choices[0]
	var next generationResponse
	resp = doJSON(t, srv, http.MethodPost, fmt.Sprintf("%s/nodes/%d/continue", base, opening.Node.ID),
		continueRequest{ChoiceID: choice.ID, ChoiceText: choice.Text}, &next)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 1, next.Node.Depth)
	require.NotNil(t, next.Node.ChoiceText)
	assert.Equal(t, choice.Text, *next.Node.ChoiceText)

	var ending generationResponse
	resp = doJSON(t, srv, http.MethodPost, fmt.Sprintf("%s/nodes/%d/ending?with_audio=true", base, next.Node.ID), nil, &ending)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, ending.Node.IsEnding)
	assert.Empty(t, ending.Node.Choices)
	assert.Contains(t, ending.Node.Metadata, "audio")

	var current models.StoryNode
	resp = doJSON(t, srv, http.MethodGet, base+"/current", nil, &current)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ending.Node.ID, current.ID)

	var branches models.StoryBranches
	resp = doJSON(t, srv, http.MethodGet, base+"/branches", nil, &branches)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, branches.TotalBranches)
	assert.True(t, branches.HasCompleteEnding)

	var jobs models.Page[models.Job]
	resp = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/v1/jobs?story_id=%d&status=completed", s.ID), nil, &jobs)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, jobs.Total)

	resp = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/jobs/%d/cancel", ending.JobID), nil, &p)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

// readEvents collects the data payloads of an SSE response
func readEvents(t *testing.T, body io.Reader) []map[string]interface{} {
	t.Helper()
	var events []map[string]interface{}
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestStreamOpening(t *testing.T) {
	srv := newTestServer(t)
	s := createStory(t, srv)

	resp, err := srv.Client().Post(fmt.Sprintf("%s/api/v1/stories/%d/stream/opening", srv.URL, s.ID), "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	events := readEvents(t, resp.Body)
	require.GreaterOrEqual(t, len(events), 2)

	var streamed strings.Builder
	for _, ev := range events[:len(events)-1] {
		assert.Equal(t, "token", ev["type"])
		streamed.WriteString(ev["content"].(string))
	}
	assert.Contains(t, streamed.String(), "[STORY]")

	done := events[len(events)-1]
	assert.Equal(t, "done", done["type"])
	assert.NotZero(t, done["node_id"])
	assert.Equal(t, false, done["is_ending"])
	assert.Len(t, done["choices"], 3)
}

func TestStreamMissingStoryIsProblem(t *testing.T) {
	srv := newTestServer(t)

	var p problem
	resp := doJSON(t, srv, http.MethodPost, "/api/v1/stories/42/stream/opening", nil, &p)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", p.Kind)
}

func TestStreamPreconditionFailureIsErrorEvent(t *testing.T) {
	srv := newTestServer(t)
	s := createStory(t, srv)

	var opening generationResponse
	resp := doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/stories/%d/generate/opening", s.ID), nil, &opening)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err := srv.Client().Post(fmt.Sprintf("%s/api/v1/stories/%d/stream/opening", srv.URL, s.ID), "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	events := readEvents(t, resp.Body)
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0]["type"])
	assert.Equal(t, "conflict", events[0]["kind"])
}

func TestNodeRoutes(t *testing.T) {
	srv := newTestServer(t)
	s := createStory(t, srv)
	base := fmt.Sprintf("/api/v1/stories/%d/nodes", s.ID)

	var root models.StoryNode
	resp := doJSON(t, srv, http.MethodPost, base, map[string]interface{}{
		"content": "A gate in the fog.",
		"choices": []map[string]string{{"id": "a", "text": "Enter"}},
	}, &root)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, root.IsRoot)

	var child models.StoryNode
	resp = doJSON(t, srv, http.MethodPost, base, map[string]interface{}{
		"content":     "Inside, a lantern.",
		"parent_id":   root.ID,
		"choice_text": "Enter",
	}, &child)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 1, child.Depth)

	var withChildren models.NodeWithChildren
	resp = doJSON(t, srv, http.MethodGet, fmt.Sprintf("%s/%d", base, root.ID), nil, &withChildren)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, withChildren.Children, 1)

	var path []models.StoryNode
	resp = doJSON(t, srv, http.MethodGet, fmt.Sprintf("%s/%d/path", base, child.ID), nil, &path)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, path, 2)
	assert.Equal(t, root.ID, path[0].ID)

	var moved models.StoryNode
	resp = doJSON(t, srv, http.MethodPut, fmt.Sprintf("/api/v1/stories/%d/current", s.ID), map[string]int64{"node_id": child.ID}, &moved)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, child.ID, moved.ID)

	var p problem
	resp = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("%s/%d", base, root.ID), nil, &p)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("%s/%d", base, child.ID), nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestTTSRoutes(t *testing.T) {
	srv := newTestServer(t)

	var langs languagesResponse
	resp := doJSON(t, srv, http.MethodGet, "/api/v1/tts/languages", nil, &langs)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.LanguageEnglish, langs.Default)
	assert.Len(t, langs.Languages, 2)

	var speeds narratorSpeedsResponse
	resp = doJSON(t, srv, http.MethodGet, "/api/v1/tts/narrator-speeds", nil, &speeds)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 0.80, speeds.Speeds[models.PersonaHorror].Speed, 0.001)

	resp = doJSON(t, srv, http.MethodPost, "/api/v1/tts/synthesize", map[string]string{"text": "Hello there"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "inline")
	assert.Equal(t, "public, max-age=3600", resp.Header.Get("Cache-Control"))
	key := resp.Header.Get("X-Audio-Key")
	require.Len(t, key, 32)

	audioResp, err := srv.Client().Get(srv.URL + "/api/v1/tts/audio/" + key)
	require.NoError(t, err)
	data, err := io.ReadAll(audioResp.Body)
	audioResp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "ID3Hello there", string(data))
	assert.Equal(t, "true", audioResp.Header.Get("X-Audio-Cached"))

	var cleared map[string]int
	resp = doJSON(t, srv, http.MethodDelete, "/api/v1/tts/cache", nil, &cleared)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, cleared["cleared"])
}
