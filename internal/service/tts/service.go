// Package tts narrates story text. Synthesized audio is kept in a lookaside
// cache keyed by a hash of the text and voice parameters; identical
// concurrent requests may both synthesize, and the last write wins.
package tts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"branchtale/internal/config"
	"branchtale/internal/domain"
	"branchtale/internal/domain/models"
	"branchtale/internal/domain/repositories"
	"branchtale/internal/domain/services"
	"branchtale/internal/metrics"
)

// narrationService implements the NarrationService interface
type narrationService struct {
	synth     services.SpeechSynthesizer
	cache     services.AudioCache
	storyRepo repositories.StoryRepository
	nodeRepo  repositories.NodeRepository
	cacheTTL  time.Duration
	logger    *slog.Logger
}

// NewNarrationService creates the narration service. synth nil disables
// synthesis; cached audio can still be served.
func NewNarrationService(
	synth services.SpeechSynthesizer,
	cache services.AudioCache,
	storyRepo repositories.StoryRepository,
	nodeRepo repositories.NodeRepository,
	cacheTTL time.Duration,
	logger *slog.Logger,
) services.NarrationService {
	return &narrationService{
		synth:     synth,
		cache:     cache,
		storyRepo: storyRepo,
		nodeRepo:  nodeRepo,
		cacheTTL:  cacheTTL,
		logger:    logger,
	}
}

// Enabled reports whether a synthesizer is configured
func (s *narrationService) Enabled() bool {
	return s.synth != nil
}

// Languages returns the voice table
func (s *narrationService) Languages() []services.LanguageInfo {
	out := make([]services.LanguageInfo, len(voiceTable))
	copy(out, voiceTable)
	return out
}

// NarratorSpeeds returns the pacing of every persona
func (s *narrationService) NarratorSpeeds() map[models.Persona]services.NarratorSpeed {
	out := make(map[models.Persona]services.NarratorSpeed, len(narratorSpeeds))
	for persona, speed := range narratorSpeeds {
		out[persona] = services.NarratorSpeed{
			Speed:       speed,
			Rate:        Rate(speed),
			Description: narratorDescriptions[persona],
		}
	}
	return out
}

// Synthesize returns audio for the request, from cache when possible
func (s *narrationService) Synthesize(ctx context.Context, req *services.SynthesizeRequest) (*services.Audio, error) {
	req.Text = strings.TrimSpace(req.Text)
	if req.Language == "" {
		req.Language = models.DefaultLanguage
	}
	if req.Gender == "" {
		req.Gender = models.VoiceFemale
	}

	if err := s.validateSynthesizeRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	key := CacheKey(req.Text, req.Language, req.Gender, req.Narrator)
	log := s.logger.With("cache_key", key, "language", req.Language, "gender", req.Gender)

	data, contentType, err := s.cache.Get(ctx, key)
	if err != nil {
		// a broken cache degrades to synthesizing every time
		log.Warn("audio cache read failed", "error", err)
	}
	if data != nil {
		metrics.IncTTSCache(true)
		log.Debug("audio cache hit")
		return &services.Audio{Key: key, ContentType: contentType, Data: data, Cached: true}, nil
	}
	metrics.IncTTSCache(false)

	if !s.Enabled() {
		return nil, fmt.Errorf("%w: text-to-speech is not configured", domain.ErrUnavailable)
	}

	speed := SpeedFor(req.Narrator)
	started := time.Now()
	data, contentType, err = s.synth.Synthesize(ctx, &services.SpeechRequest{
		Text:     req.Text,
		Language: req.Language,
		Gender:   req.Gender,
		Speed:    speed,
	})
	if err != nil {
		log.Error("speech synthesis failed", "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	log.Info("speech synthesized",
		"voice", VoiceFor(req.Language, req.Gender),
		"rate", Rate(speed),
		"chars", len([]rune(req.Text)),
		"bytes", len(data),
		"duration_ms", time.Since(started).Milliseconds(),
	)

	if err := s.cache.Put(ctx, key, data, contentType, s.cacheTTL); err != nil {
		log.Warn("audio cache write failed", "error", err)
	}

	return &services.Audio{Key: key, ContentType: contentType, Data: data}, nil
}

// SynthesizeNode narrates a node with its story's language and persona
func (s *narrationService) SynthesizeNode(ctx context.Context, nodeID int64) (*services.Audio, error) {
	node, err := s.nodeRepo.GetByID(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	story, err := s.storyRepo.GetByID(ctx, node.StoryID)
	if err != nil {
		return nil, err
	}

	persona := story.NarratorPersona.OrDefault()
	language := story.Language
	if !language.Valid() {
		language = models.DefaultLanguage
	}

	return s.Synthesize(ctx, &services.SynthesizeRequest{
		Text:     node.Content,
		Language: language,
		Narrator: &persona,
		Gender:   models.VoiceFemale,
	})
}

// CachedAudio returns a cached entry by key
func (s *narrationService) CachedAudio(ctx context.Context, key string) (*services.Audio, error) {
	if !validKey(key) {
		return nil, fmt.Errorf("audio %q: %w", key, domain.ErrNotFound)
	}

	data, contentType, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	if data == nil {
		return nil, fmt.Errorf("audio %s: %w", key, domain.ErrNotFound)
	}
	return &services.Audio{Key: key, ContentType: contentType, Data: data, Cached: true}, nil
}

// ClearCache drops every cached entry
func (s *narrationService) ClearCache(ctx context.Context) (int, error) {
	n, err := s.cache.Clear(ctx)
	if err != nil {
		return n, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	s.logger.Info("audio cache cleared", "removed", n)
	return n, nil
}

func (s *narrationService) validateSynthesizeRequest(req *services.SynthesizeRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Text,
			validation.Required.Error("text is required"),
			validation.RuneLength(1, config.MaxTTSTextLength),
		),
		validation.Field(&req.Language, validation.By(func(value interface{}) error {
			if !req.Language.Valid() {
				return fmt.Errorf("unsupported language %q", req.Language)
			}
			return nil
		})),
		validation.Field(&req.Gender, validation.By(func(value interface{}) error {
			if !req.Gender.Valid() {
				return fmt.Errorf("gender must be male or female")
			}
			return nil
		})),
		validation.Field(&req.Narrator, validation.By(func(value interface{}) error {
			if req.Narrator != nil && !req.Narrator.Valid() {
				return fmt.Errorf("unknown narrator %q", *req.Narrator)
			}
			return nil
		})),
	)
}
