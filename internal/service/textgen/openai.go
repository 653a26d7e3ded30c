package textgen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"branchtale/internal/domain/services"
)

const openAITimeout = 300 * time.Second

// OpenAIGenerator calls any OpenAI-compatible chat completion endpoint
// (OpenAI, Groq, OpenRouter)
type OpenAIGenerator struct {
	client *openai.Client
}

var _ services.TextGenerator = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator creates a client. An empty baseURL uses the OpenAI default.
func NewOpenAIGenerator(apiKey, baseURL string) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	config.HTTPClient = &http.Client{Timeout: openAITimeout}

	return &OpenAIGenerator{client: openai.NewClientWithConfig(config)}, nil
}

// Name returns the provider name
func (g *OpenAIGenerator) Name() string {
	return "openai"
}

func chatRequest(req *services.CompletionRequest, stream bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt})

	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
}

// Complete returns the full response text
func (g *OpenAIGenerator) Complete(ctx context.Context, req *services.CompletionRequest) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, chatRequest(req, false))
	if err != nil {
		return "", classifyOpenAIError(req.Model, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream forwards content deltas as they arrive
func (g *OpenAIGenerator) Stream(ctx context.Context, req *services.CompletionRequest, onToken func(string) error) (string, error) {
	stream, err := g.client.CreateChatCompletionStream(ctx, chatRequest(req, true))
	if err != nil {
		return "", classifyOpenAIError(req.Model, err)
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sb.String(), classifyOpenAIError(req.Model, err)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		chunk := resp.Choices[0].Delta.Content
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

// classifyOpenAIError wraps err in a ProviderError whose reason drives model fallback
func classifyOpenAIError(model string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var (
		apiErr *openai.APIError
		reqErr *openai.RequestError
		reason = services.ReasonOther
	)
	switch {
	case errors.As(err, &apiErr):
		reason = reasonForStatus(apiErr.HTTPStatusCode)
		if reason == services.ReasonOther && apiErr.Code == "model_not_found" {
			reason = services.ReasonModelUnavailable
		}
	case errors.As(err, &reqErr):
		reason = reasonForStatus(reqErr.HTTPStatusCode)
	default:
		reason = reasonForMessage(err.Error())
	}

	return &services.ProviderError{Provider: "openai", Model: model, Reason: reason, Err: err}
}
