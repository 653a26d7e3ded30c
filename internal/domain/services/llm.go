package services

import (
	"context"
	"fmt"
)

// CompletionRequest is a single system+user prompt exchange
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Model        string
	Temperature  float64
	MaxTokens    int
}

// TextGenerator is an LLM backend
type TextGenerator interface {
	// Name identifies the provider (gemini, openai, lorem)
	Name() string

	// Complete returns the full response text
	Complete(ctx context.Context, req *CompletionRequest) (string, error)

	// Stream calls onToken for every fragment and returns the aggregate text
	Stream(ctx context.Context, req *CompletionRequest, onToken func(string) error) (string, error)
}

// FailureReason classifies a provider failure
type FailureReason string

const (
	ReasonModelUnavailable FailureReason = "model_unavailable"
	ReasonRateLimited      FailureReason = "rate_limited"
	ReasonMalformedRequest FailureReason = "malformed_request"
	ReasonOther            FailureReason = "other"
)

// ProviderError is the error type providers return so callers can decide on
// fallback without inspecting message strings.
type ProviderError struct {
	Provider string
	Model    string
	Reason   FailureReason
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s model %s: %s: %v", e.Provider, e.Model, e.Reason, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
