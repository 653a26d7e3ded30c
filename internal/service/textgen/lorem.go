package textgen

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	loremgen "github.com/bozaro/golorem"

	"branchtale/internal/domain/services"
)

// LoremGenerator is an offline generator that answers every prompt with
// lorem ipsum in the tagged response format. Used for development and tests
// without API keys.
type LoremGenerator struct {
	mu        sync.Mutex
	generator *loremgen.Lorem
	delay     time.Duration
}

var _ services.TextGenerator = (*LoremGenerator)(nil)

// NewLoremGenerator creates a lorem generator. delay is the pause between
// streamed words.
func NewLoremGenerator(delay time.Duration) *LoremGenerator {
	return &LoremGenerator{
		generator: loremgen.New(),
		delay:     delay,
	}
}

// Name returns the provider name
func (g *LoremGenerator) Name() string {
	return "lorem"
}

// Complete returns a tagged lorem response
func (g *LoremGenerator) Complete(ctx context.Context, req *services.CompletionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return g.response(req), nil
}

// Stream emits the response word by word
func (g *LoremGenerator) Stream(ctx context.Context, req *services.CompletionRequest, onToken func(string) error) (string, error) {
	text := g.response(req)

	var sb strings.Builder
	for i, word := range strings.SplitAfter(text, " ") {
		if i > 0 && g.delay > 0 {
			select {
			case <-time.After(g.delay):
			case <-ctx.Done():
				return sb.String(), ctx.Err()
			}
		} else if err := ctx.Err(); err != nil {
			return sb.String(), err
		}

		sb.WriteString(word)
		if err := onToken(word); err != nil {
			return sb.String(), err
		}
	}

	return sb.String(), nil
}

// response builds a story segment with choices, or an ending when the prompt asks for one
func (g *LoremGenerator) response(req *services.CompletionRequest) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	paragraphs := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		paragraphs = append(paragraphs, g.sentences(3, 6))
	}

	var sb strings.Builder
	sb.WriteString("[STORY]\n")
	sb.WriteString(strings.Join(paragraphs, "\n\n"))
	sb.WriteString("\n[/STORY]\n")

	if wantsEnding(req.UserPrompt) {
		sb.WriteString("[ENDING]true[/ENDING]")
		return sb.String()
	}

	sb.WriteString("[CHOICES]\n")
	for i := 1; i <= 3; i++ {
		fmt.Fprintf(&sb, "%d. %s\n", i, g.generator.Sentence(4, 8))
	}
	sb.WriteString("[/CHOICES]\n[ENDING]false[/ENDING]")
	return sb.String()
}

func (g *LoremGenerator) sentences(min, max int) string {
	n := min + rand.IntN(max-min+1)
	parts := make([]string, n)
	for i := range parts {
		parts[i] = g.generator.Sentence(6, 14)
	}
	return strings.Join(parts, " ")
}

// wantsEnding detects ending prompts in any catalog language by the tag
// instruction they all carry
func wantsEnding(prompt string) bool {
	return strings.Contains(prompt, "[ENDING]true[/ENDING]")
}
