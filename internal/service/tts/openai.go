package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"branchtale/internal/domain/models"
	"branchtale/internal/domain/services"
)

// OpenAISynthesizer narrates through the OpenAI speech endpoint
type OpenAISynthesizer struct {
	client *openai.Client
	model  openai.SpeechModel
}

var _ services.SpeechSynthesizer = (*OpenAISynthesizer)(nil)

// NewOpenAISynthesizer creates a speech client. An empty baseURL uses the OpenAI default.
func NewOpenAISynthesizer(apiKey, baseURL, model string) (*OpenAISynthesizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("TTS_API_KEY environment variable not set")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	config.HTTPClient = &http.Client{Timeout: 120 * time.Second}

	return &OpenAISynthesizer{
		client: openai.NewClientWithConfig(config),
		model:  openai.SpeechModel(model),
	}, nil
}

// speechVoice maps a voice gender onto an OpenAI voice. The model detects the
// language from the input text.
func speechVoice(gender models.VoiceGender) openai.SpeechVoice {
	if gender == models.VoiceMale {
		return openai.VoiceOnyx
	}
	return openai.VoiceNova
}

// Synthesize returns MP3 audio
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, req *services.SpeechRequest) ([]byte, string, error) {
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          s.model,
		Input:          req.Text,
		Voice:          speechVoice(req.Gender),
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          req.Speed,
	})
	if err != nil {
		return nil, "", fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, "", fmt.Errorf("read speech audio: %w", err)
	}
	return data, "audio/mpeg", nil
}
