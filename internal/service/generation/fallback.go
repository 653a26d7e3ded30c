package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"branchtale/internal/domain"
	"branchtale/internal/domain/services"
	"branchtale/internal/metrics"
)

// outcomeKind tags the result of one provider call
type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeRetryable
	outcomeFatal
)

// callOutcome is the result of calling one model
type callOutcome struct {
	kind   outcomeKind
	text   string
	reason services.FailureReason
	err    error
}

// classifyCall maps a provider result onto an outcome. Once tokens have been
// forwarded to the client a failure is fatal, since another model would
// produce a different prefix.
func classifyCall(text string, err error, emitted bool) callOutcome {
	if err == nil {
		if strings.TrimSpace(text) == "" {
			return callOutcome{kind: outcomeRetryable, reason: services.ReasonOther, err: errors.New("model returned an empty response")}
		}
		return callOutcome{kind: outcomeSuccess, text: text}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return callOutcome{kind: outcomeFatal, reason: services.ReasonOther, err: err}
	}

	var perr *services.ProviderError
	if !errors.As(err, &perr) {
		return callOutcome{kind: outcomeFatal, reason: services.ReasonOther, err: err}
	}

	switch perr.Reason {
	case services.ReasonModelUnavailable, services.ReasonRateLimited, services.ReasonMalformedRequest:
		if emitted {
			return callOutcome{kind: outcomeFatal, reason: perr.Reason, err: err}
		}
		return callOutcome{kind: outcomeRetryable, reason: perr.Reason, err: err}
	default:
		return callOutcome{kind: outcomeFatal, reason: perr.Reason, err: err}
	}
}

// modelRunner calls the text generator, walking the candidate model list
// until one succeeds. There is no backoff between candidates.
type modelRunner struct {
	generator   services.TextGenerator
	models      []string
	temperature float64
	maxTokens   int
	logger      *slog.Logger
}

func newModelRunner(generator services.TextGenerator, primary string, fallbacks []string, temperature float64, maxTokens int, logger *slog.Logger) *modelRunner {
	return &modelRunner{
		generator:   generator,
		models:      candidateModels(primary, fallbacks),
		temperature: temperature,
		maxTokens:   maxTokens,
		logger:      logger,
	}
}

// candidateModels returns primary followed by fallbacks, without blanks or duplicates
func candidateModels(primary string, fallbacks []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range append([]string{primary}, fallbacks...) {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// run returns the response text and the model that produced it. onToken nil
// means a blocking call.
func (r *modelRunner) run(ctx context.Context, prompt *Prompt, onToken func(string) error) (string, string, error) {
	var (
		firstErr error
		tried    []string
		lastOut  callOutcome
	)

	for i, model := range r.models {
		req := &services.CompletionRequest{
			SystemPrompt: prompt.System,
			UserPrompt:   prompt.User,
			Model:        model,
			Temperature:  r.temperature,
			MaxTokens:    r.maxTokens,
		}
		tried = append(tried, model)

		var (
			text    string
			err     error
			emitted bool
		)
		if onToken == nil {
			text, err = r.generator.Complete(ctx, req)
		} else {
			text, err = r.generator.Stream(ctx, req, func(fragment string) error {
				emitted = true
				return onToken(fragment)
			})
		}

		lastOut = classifyCall(text, err, emitted)
		switch lastOut.kind {
		case outcomeSuccess:
			return lastOut.text, model, nil
		case outcomeRetryable:
			if firstErr == nil {
				firstErr = lastOut.err
			}
			metrics.IncLLMFallback(model, string(lastOut.reason))
			if i < len(r.models)-1 {
				r.logger.Warn("model failed, trying next candidate",
					"provider", r.generator.Name(),
					"model", model,
					"next_model", r.models[i+1],
					"reason", lastOut.reason,
					"error", lastOut.err,
				)
			}
			continue
		}

		if firstErr == nil {
			firstErr = lastOut.err
		}
		break
	}

	if firstErr == nil {
		firstErr = errors.New("no models configured")
	}
	return "", "", &domain.GenerationError{
		Message:  fmt.Sprintf("generation failed after trying %d model(s)", len(tried)),
		Models:   tried,
		Provider: r.generator.Name(),
		Err:      firstErr,
	}
}
