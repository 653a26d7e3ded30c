package services

import (
	"context"
	"time"

	"branchtale/internal/domain/models"
)

// NarrationService converts story text into speech
type NarrationService interface {
	Enabled() bool

	Languages() []LanguageInfo

	NarratorSpeeds() map[models.Persona]NarratorSpeed

	// Synthesize returns audio for arbitrary text, served from cache when possible
	Synthesize(ctx context.Context, req *SynthesizeRequest) (*Audio, error)

	// SynthesizeNode narrates a node using its story's language and persona
	SynthesizeNode(ctx context.Context, nodeID int64) (*Audio, error)

	// CachedAudio returns a cached entry by key
	CachedAudio(ctx context.Context, key string) (*Audio, error)

	// ClearCache drops every cached entry and reports how many were removed
	ClearCache(ctx context.Context) (int, error)
}

// SynthesizeRequest represents a narration request
type SynthesizeRequest struct {
	Text     string             `json:"text"`
	Language models.Language    `json:"language,omitempty"`
	Narrator *models.Persona    `json:"narrator,omitempty"`
	Gender   models.VoiceGender `json:"gender,omitempty"`
}

// Audio is synthesized speech plus the cache key it is stored under
type Audio struct {
	Key         string
	ContentType string
	Data        []byte
	Cached      bool
}

// LanguageInfo describes the voices available for a language
type LanguageInfo struct {
	Language    models.Language `json:"language"`
	Name        string          `json:"name"`
	MaleVoice   string          `json:"male_voice"`
	FemaleVoice string          `json:"female_voice"`
}

// NarratorSpeed is the speech-rate multiplier of a persona
type NarratorSpeed struct {
	Speed       float64 `json:"speed"`
	Rate        string  `json:"rate"`
	Description string  `json:"description"`
}

// SpeechRequest is what a SpeechSynthesizer receives after persona and
// language have been resolved
type SpeechRequest struct {
	Text     string
	Language models.Language
	Gender   models.VoiceGender
	Speed    float64
}

// SpeechSynthesizer is a TTS backend
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, req *SpeechRequest) (data []byte, contentType string, err error)
}

// AudioCache is a lookaside store for synthesized audio keyed by request hash
type AudioCache interface {
	// Get returns (nil, "", nil) on a miss
	Get(ctx context.Context, key string) ([]byte, string, error)
	Put(ctx context.Context, key string, data []byte, contentType string, ttl time.Duration) error
	Clear(ctx context.Context) (int, error)
}
