package generation

import (
	"strings"
	"testing"
	"unicode/utf8"

	"branchtale/internal/config"
	"branchtale/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		jobType     models.JobType
		wantContent string
		wantChoices []string
		wantEnding  bool
	}{
		{
			name:        "well formed",
			raw:         "[STORY]X[/STORY][CHOICES]1. A\n2. B[/CHOICES][ENDING]false[/ENDING]",
			jobType:     models.JobGenerateContinuation,
			wantContent: "X",
			wantChoices: []string{"A", "B"},
			wantEnding:  false,
		},
		{
			name:        "no delimiters",
			raw:         "Once upon a time there was no format.",
			jobType:     models.JobGenerateOpening,
			wantContent: "Once upon a time there was no format.",
			wantChoices: []string{},
			wantEnding:  true,
		},
		{
			name:        "empty choices forces ending",
			raw:         "[STORY]Story[/STORY][CHOICES][/CHOICES][ENDING]false[/ENDING]",
			jobType:     models.JobGenerateContinuation,
			wantContent: "Story",
			wantChoices: []string{},
			wantEnding:  true,
		},
		{
			name:        "explicit ending flag is case insensitive",
			raw:         "[STORY]Done[/STORY][CHOICES]1. Again[/CHOICES][ending] TRUE [/ending]",
			jobType:     models.JobGenerateContinuation,
			wantContent: "Done",
			wantChoices: []string{},
			wantEnding:  true,
		},
		{
			name:        "ending job ignores choices",
			raw:         "[STORY]Fin[/STORY][CHOICES]1. More\n2. Less[/CHOICES][ENDING]false[/ENDING]",
			jobType:     models.JobGenerateEnding,
			wantContent: "Fin",
			wantChoices: []string{},
			wantEnding:  true,
		},
		{
			name:        "at most four choices",
			raw:         "[STORY]S[/STORY][CHOICES]\n1. a\n2. b\n3. c\n4. d\n5. e\n[/CHOICES]",
			jobType:     models.JobGenerateOpening,
			wantContent: "S",
			wantChoices: []string{"a", "b", "c", "d"},
			wantEnding:  false,
		},
		{
			name:        "stray tags stripped",
			raw:         "Intro [CHOICES] text [/ENDING]",
			jobType:     models.JobGenerateOpening,
			wantContent: "Intro  text",
			wantChoices: []string{},
			wantEnding:  true,
		},
		{
			name:        "empty story block falls back to untagged text",
			raw:         "The tide turned.\n[STORY]\n[/STORY]\n[CHOICES]\n1. Go\n2. Stay\n[/CHOICES]\n[ENDING]false[/ENDING]",
			jobType:     models.JobGenerateContinuation,
			wantContent: "The tide turned.",
			wantChoices: []string{"Go", "Stay"},
			wantEnding:  false,
		},
		{
			name:        "empty story block with nothing else uses placeholder",
			raw:         "[STORY]\n[/STORY]\n[CHOICES]\n1. Go\n2. Stay\n[/CHOICES]\n[ENDING]false[/ENDING]",
			jobType:     models.JobGenerateContinuation,
			wantContent: placeholderContent,
			wantChoices: []string{"Go", "Stay"},
			wantEnding:  false,
		},
		{
			name:        "empty response uses placeholder",
			raw:         "   ",
			jobType:     models.JobGenerateOpening,
			wantContent: placeholderContent,
			wantChoices: []string{},
			wantEnding:  true,
		},
		{
			name:        "multiline story with padding",
			raw:         "preamble\n[STORY]\n  Line one.\nLine two.\n[/STORY]\n[CHOICES]\n1.   Go left  \n2. Go right\n[/CHOICES]\n[ENDING]false[/ENDING]",
			jobType:     models.JobStoryContinue,
			wantContent: "Line one.\nLine two.",
			wantChoices: []string{"Go left", "Go right"},
			wantEnding:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseResponse(tt.raw, tt.jobType)
			assert.Equal(t, tt.wantContent, got.Content)
			assert.Equal(t, tt.wantEnding, got.IsEnding)

			texts := []string{}
			for _, c := range got.Choices {
				texts = append(texts, c.Text)
				assert.Len(t, c.ID, 8)
				assert.Nil(t, c.ConsequenceHint)
			}
			assert.Equal(t, tt.wantChoices, texts)
		})
	}
}

func TestParseResponseChoiceIDsUnique(t *testing.T) {
	got := ParseResponse("[STORY]S[/STORY][CHOICES]1. a\n2. b\n3. c[/CHOICES]", models.JobGenerateOpening)
	require.Len(t, got.Choices, 3)

	seen := map[string]bool{}
	for _, c := range got.Choices {
		assert.False(t, seen[c.ID])
		seen[c.ID] = true
	}
}

func TestParseResponseTruncatesLongChoices(t *testing.T) {
	long := strings.Repeat("x", 400)
	got := ParseResponse("[STORY]S[/STORY][CHOICES]1. "+long+"\n2. b[/CHOICES]", models.JobGenerateOpening)
	require.Len(t, got.Choices, 2)
	assert.Len(t, got.Choices[0].Text, 300)
}

func TestParseResponseTruncatesLongContent(t *testing.T) {
	long := strings.Repeat("word ", 3100)
	got := ParseResponse("[STORY]"+long+"[/STORY][CHOICES]1. a[/CHOICES]", models.JobGenerateOpening)
	assert.LessOrEqual(t, utf8.RuneCountInString(got.Content), config.MaxNodeContentLength)
	assert.True(t, strings.HasPrefix(got.Content, "word word"))

	multibyte := strings.Repeat("ب", config.MaxNodeContentLength+10)
	got = ParseResponse("[STORY]"+multibyte+"[/STORY]", models.JobGenerateOpening)
	assert.Equal(t, config.MaxNodeContentLength, utf8.RuneCountInString(got.Content))
	assert.True(t, utf8.ValidString(got.Content))
}
