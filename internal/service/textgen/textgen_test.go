package textgen

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"branchtale/internal/domain/models"
	"branchtale/internal/domain/services"
	"branchtale/internal/service/generation"
)

func TestClassifyGeminiError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want services.FailureReason
	}{
		{name: "not found", err: &googleapi.Error{Code: http.StatusNotFound}, want: services.ReasonModelUnavailable},
		{name: "rate limited", err: &googleapi.Error{Code: http.StatusTooManyRequests}, want: services.ReasonRateLimited},
		{name: "bad request", err: &googleapi.Error{Code: http.StatusBadRequest}, want: services.ReasonMalformedRequest},
		{name: "server error", err: &googleapi.Error{Code: http.StatusInternalServerError}, want: services.ReasonOther},
		{name: "quota message", err: errors.New("rpc error: code = ResourceExhausted desc = Resource exhausted"), want: services.ReasonRateLimited},
		{name: "unknown model message", err: errors.New("models/gemini-9 is not found for API version v1beta"), want: services.ReasonModelUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyGeminiError("gemini-2.5-flash", tt.err)
			var perr *services.ProviderError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.want, perr.Reason)
			assert.Equal(t, "gemini", perr.Provider)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestClassifyOpenAIError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want services.FailureReason
	}{
		{name: "rate limited", err: &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}, want: services.ReasonRateLimited},
		{name: "model not found", err: &openai.APIError{HTTPStatusCode: http.StatusNotFound}, want: services.ReasonModelUnavailable},
		{name: "model code", err: &openai.APIError{HTTPStatusCode: http.StatusForbidden, Code: "model_not_found"}, want: services.ReasonModelUnavailable},
		{name: "request error", err: &openai.RequestError{HTTPStatusCode: http.StatusBadRequest, Err: errors.New("bad")}, want: services.ReasonMalformedRequest},
		{name: "unauthorized", err: &openai.APIError{HTTPStatusCode: http.StatusUnauthorized}, want: services.ReasonOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var perr *services.ProviderError
			require.ErrorAs(t, classifyOpenAIError("gpt", tt.err), &perr)
			assert.Equal(t, tt.want, perr.Reason)
		})
	}
}

func TestCancellationIsNotWrapped(t *testing.T) {
	assert.Equal(t, context.Canceled, classifyGeminiError("m", context.Canceled))
	assert.Equal(t, context.DeadlineExceeded, classifyOpenAIError("m", context.DeadlineExceeded))
}

func TestLoremResponseParses(t *testing.T) {
	gen := NewLoremGenerator(0)

	text, err := gen.Complete(context.Background(), &services.CompletionRequest{UserPrompt: "Continue the story."})
	require.NoError(t, err)

	parsed := generation.ParseResponse(text, models.JobGenerateContinuation)
	assert.NotEmpty(t, parsed.Content)
	assert.Len(t, parsed.Choices, 3)
	assert.False(t, parsed.IsEnding)
}

func TestLoremEnding(t *testing.T) {
	gen := NewLoremGenerator(0)

	text, err := gen.Complete(context.Background(), &services.CompletionRequest{UserPrompt: "Set [ENDING]true[/ENDING] in your response."})
	require.NoError(t, err)
	assert.True(t, generation.ParseResponse(text, models.JobGenerateContinuation).IsEnding)
}

func TestLoremStreamMatchesAggregate(t *testing.T) {
	gen := NewLoremGenerator(0)

	var sb strings.Builder
	text, err := gen.Stream(context.Background(), &services.CompletionRequest{}, func(tok string) error {
		sb.WriteString(tok)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, text, sb.String())
}

func TestLoremStreamStopsOnCallbackError(t *testing.T) {
	gen := NewLoremGenerator(0)
	stop := errors.New("client gone")

	calls := 0
	_, err := gen.Stream(context.Background(), &services.CompletionRequest{}, func(string) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}
