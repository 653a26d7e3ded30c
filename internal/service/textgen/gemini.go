package textgen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"branchtale/internal/domain/services"
)

// GeminiGenerator calls Google Gemini models
type GeminiGenerator struct {
	client *genai.Client
}

var _ services.TextGenerator = (*GeminiGenerator)(nil)

// NewGeminiGenerator creates a Gemini client for apiKey
func NewGeminiGenerator(ctx context.Context, apiKey string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiGenerator{client: client}, nil
}

// Name returns the provider name
func (g *GeminiGenerator) Name() string {
	return "gemini"
}

// Close releases the underlying client
func (g *GeminiGenerator) Close() error {
	return g.client.Close()
}

func (g *GeminiGenerator) model(req *services.CompletionRequest) *genai.GenerativeModel {
	model := g.client.GenerativeModel(req.Model)
	if req.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.SystemPrompt)}}
	}
	model.SetTemperature(float32(req.Temperature))
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	return model
}

// Complete returns the full response text
func (g *GeminiGenerator) Complete(ctx context.Context, req *services.CompletionRequest) (string, error) {
	resp, err := g.model(req).GenerateContent(ctx, genai.Text(req.UserPrompt))
	if err != nil {
		return "", classifyGeminiError(req.Model, err)
	}
	return responseText(resp), nil
}

// Stream forwards every text part as it arrives
func (g *GeminiGenerator) Stream(ctx context.Context, req *services.CompletionRequest, onToken func(string) error) (string, error) {
	iter := g.model(req).GenerateContentStream(ctx, genai.Text(req.UserPrompt))

	var sb strings.Builder
	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return sb.String(), classifyGeminiError(req.Model, err)
		}

		chunk := responseText(resp)
		if chunk == "" {
			continue
		}
		sb.WriteString(chunk)
		if err := onToken(chunk); err != nil {
			return sb.String(), err
		}
	}

	return sb.String(), nil
}

// responseText concatenates the text parts of the first candidate
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String()
}

// classifyGeminiError wraps err in a ProviderError whose reason drives model fallback
func classifyGeminiError(model string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	reason := services.ReasonOther
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		reason = reasonForStatus(apiErr.Code)
	} else {
		reason = reasonForMessage(err.Error())
	}

	return &services.ProviderError{Provider: "gemini", Model: model, Reason: reason, Err: err}
}

// reasonForStatus maps an HTTP status onto a fallback reason
func reasonForStatus(code int) services.FailureReason {
	switch code {
	case http.StatusNotFound:
		return services.ReasonModelUnavailable
	case http.StatusTooManyRequests:
		return services.ReasonRateLimited
	case http.StatusBadRequest:
		return services.ReasonMalformedRequest
	default:
		return services.ReasonOther
	}
}

// reasonForMessage classifies errors that arrive without a status, such as
// gRPC-style messages from the streaming endpoint
func reasonForMessage(msg string) services.FailureReason {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "404") || strings.Contains(msg, "not found"):
		return services.ReasonModelUnavailable
	case strings.Contains(msg, "429") || strings.Contains(msg, "quota") || strings.Contains(msg, "resource exhausted") || strings.Contains(msg, "rate limit"):
		return services.ReasonRateLimited
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid argument"):
		return services.ReasonMalformedRequest
	default:
		return services.ReasonOther
	}
}
