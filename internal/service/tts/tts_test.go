package tts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"branchtale/internal/domain"
	"branchtale/internal/domain/models"
	"branchtale/internal/domain/services"
	"branchtale/internal/repository/memory"
)

type fakeSynth struct {
	calls int
	last  *services.SpeechRequest
	err   error
}

func (f *fakeSynth) Synthesize(ctx context.Context, req *services.SpeechRequest) ([]byte, string, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, "", f.err
	}
	return []byte("ID3" + req.Text), "audio/mpeg", nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func persona(p models.Persona) *models.Persona { return &p }

func TestSpeedTable(t *testing.T) {
	assert.Equal(t, DefaultSpeed, SpeedFor(nil))
	assert.Equal(t, DefaultSpeed, SpeedFor(persona("unknown")))

	horror := SpeedFor(persona(models.PersonaHorror))
	comedic := SpeedFor(persona(models.PersonaComedic))
	for _, p := range models.Personas {
		speed := SpeedFor(persona(p))
		assert.GreaterOrEqual(t, speed, horror, "horror is the slowest persona")
		assert.LessOrEqual(t, speed, comedic, "comedic is the fastest persona")
	}

	tests := []struct {
		speed float64
		want  string
	}{
		{speed: 0.85, want: "-15%"},
		{speed: 1.15, want: "+15%"},
		{speed: 1.0, want: "+0%"},
		{speed: 0.80, want: "-20%"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Rate(tt.speed))
	}
}

func TestVoiceFor(t *testing.T) {
	assert.Equal(t, "en-US-JennyNeural", VoiceFor(models.LanguageEnglish, models.VoiceFemale))
	assert.Equal(t, "ur-PK-AsadNeural", VoiceFor(models.LanguageUrdu, models.VoiceMale))
	assert.Equal(t, "en-US-GuyNeural", VoiceFor("klingon", models.VoiceMale))
}

func TestCacheKey(t *testing.T) {
	base := CacheKey("hello", models.LanguageEnglish, models.VoiceFemale, nil)
	assert.Len(t, base, 32)
	assert.True(t, validKey(base))
	assert.Equal(t, base, CacheKey("hello", models.LanguageEnglish, models.VoiceFemale, nil))

	variants := []string{
		CacheKey("hello!", models.LanguageEnglish, models.VoiceFemale, nil),
		CacheKey("hello", models.LanguageUrdu, models.VoiceFemale, nil),
		CacheKey("hello", models.LanguageEnglish, models.VoiceMale, nil),
		CacheKey("hello", models.LanguageEnglish, models.VoiceFemale, persona(models.PersonaEpic)),
	}
	for _, v := range variants {
		assert.NotEqual(t, base, v)
	}

	assert.False(t, validKey("../etc/passwd"))
}

func TestFileCache(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cache, err := NewFileCache(dir)
	require.NoError(t, err)

	key := CacheKey("text", models.LanguageEnglish, models.VoiceFemale, nil)

	data, _, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, cache.Put(ctx, key, []byte("audio"), "audio/mpeg", 0))
	data, contentType, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("audio"), data)
	assert.Equal(t, "audio/mpeg", contentType)

	assert.Error(t, cache.Put(ctx, key, []byte("x"), "text/plain", 0))

	// unrelated files survive a clear
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep"), 0o644))

	n, err := cache.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))

	data, _, err = cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func newFixture(t *testing.T, synth *fakeSynth) (services.NarrationService, *memory.Store) {
	t.Helper()
	cache, err := NewFileCache(t.TempDir())
	require.NoError(t, err)

	store := memory.NewStore()
	var s services.SpeechSynthesizer
	if synth != nil {
		s = synth
	}
	svc := NewNarrationService(s, cache, memory.NewStoryRepository(store), memory.NewNodeRepository(store), 0, discardLogger())
	return svc, store
}

func TestSynthesizeUsesCache(t *testing.T) {
	ctx := context.Background()
	synth := &fakeSynth{}
	svc, _ := newFixture(t, synth)

	first, err := svc.Synthesize(ctx, &services.SynthesizeRequest{Text: "  Once upon a time  ", Narrator: persona(models.PersonaHorror)})
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, "audio/mpeg", first.ContentType)
	assert.Equal(t, 0.80, synth.last.Speed)
	assert.Equal(t, models.VoiceFemale, synth.last.Gender)
	assert.Equal(t, models.LanguageEnglish, synth.last.Language)

	second, err := svc.Synthesize(ctx, &services.SynthesizeRequest{Text: "Once upon a time", Narrator: persona(models.PersonaHorror)})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Key, second.Key)
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, 1, synth.calls)

	cached, err := svc.CachedAudio(ctx, first.Key)
	require.NoError(t, err)
	assert.Equal(t, first.Data, cached.Data)

	n, err := svc.ClearCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = svc.CachedAudio(ctx, first.Key)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestSynthesizeValidation(t *testing.T) {
	svc, _ := newFixture(t, &fakeSynth{})

	tests := []struct {
		name string
		req  services.SynthesizeRequest
	}{
		{name: "empty text", req: services.SynthesizeRequest{Text: "   "}},
		{name: "too long", req: services.SynthesizeRequest{Text: strings.Repeat("a", 20001)}},
		{name: "bad language", req: services.SynthesizeRequest{Text: "hi", Language: "french"}},
		{name: "bad gender", req: services.SynthesizeRequest{Text: "hi", Gender: "robot"}},
		{name: "bad narrator", req: services.SynthesizeRequest{Text: "hi", Narrator: persona("sleepy")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Synthesize(context.Background(), &tt.req)
			assert.True(t, errors.Is(err, domain.ErrValidation), "got %v", err)
		})
	}
}

func TestSynthesizeUnavailable(t *testing.T) {
	ctx := context.Background()

	disabled, _ := newFixture(t, nil)
	assert.False(t, disabled.Enabled())
	_, err := disabled.Synthesize(ctx, &services.SynthesizeRequest{Text: "hi"})
	assert.True(t, errors.Is(err, domain.ErrUnavailable))

	failing, _ := newFixture(t, &fakeSynth{err: errors.New("upstream 500")})
	_, err = failing.Synthesize(ctx, &services.SynthesizeRequest{Text: "hi"})
	assert.True(t, errors.Is(err, domain.ErrUnavailable))
}

func TestSynthesizeNodeUsesStoryVoice(t *testing.T) {
	ctx := context.Background()
	synth := &fakeSynth{}
	svc, store := newFixture(t, synth)

	storyRepo := memory.NewStoryRepository(store)
	nodeRepo := memory.NewNodeRepository(store)

	story := &models.Story{Title: "Urdu", Genre: models.DefaultGenre, NarratorPersona: models.PersonaComedic,
		Atmosphere: models.DefaultAtmosphere, Language: models.LanguageUrdu, SessionID: "s", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, storyRepo.Create(ctx, story))
	node := &models.StoryNode{StoryID: story.ID, Content: "ایک دفعہ کا ذکر ہے", IsRoot: true, Choices: []models.Choice{}, CreatedAt: time.Now()}
	require.NoError(t, nodeRepo.Create(ctx, node))

	audio, err := svc.SynthesizeNode(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LanguageUrdu, synth.last.Language)
	assert.Equal(t, 1.15, synth.last.Speed)
	assert.Equal(t, CacheKey(node.Content, models.LanguageUrdu, models.VoiceFemale, persona(models.PersonaComedic)), audio.Key)

	_, err = svc.SynthesizeNode(ctx, 999)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestNarratorSpeeds(t *testing.T) {
	svc, _ := newFixture(t, nil)
	speeds := svc.NarratorSpeeds()
	require.Len(t, speeds, len(models.Personas))
	assert.Equal(t, "-15%", speeds[models.PersonaMysterious].Rate)
	assert.NotEmpty(t, speeds[models.PersonaEpic].Description)
	assert.Len(t, svc.Languages(), 2)
}
