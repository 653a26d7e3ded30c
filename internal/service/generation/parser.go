package generation

import (
	"regexp"
	"strings"

	"branchtale/internal/config"
	"branchtale/internal/domain/models"
)

// MaxChoices is the most choices kept from one response.
const MaxChoices = 4

// placeholderContent stands in for a response with no usable story text.
const placeholderContent = "The story falls silent for a moment..."

var (
	storyBlock   = regexp.MustCompile(`(?s)\[STORY\](.*?)\[/STORY\]`)
	choicesBlock = regexp.MustCompile(`(?s)\[CHOICES\](.*?)\[/CHOICES\]`)
	endingBlock  = regexp.MustCompile(`(?is)\[ENDING\](.*?)\[/ENDING\]`)
	strayTag     = regexp.MustCompile(`\[/?(STORY|CHOICES|ENDING)\]`)
	choiceLine   = regexp.MustCompile(`(?m)^[ \t]*\d+\.[ \t]*(.+)$`)
)

// ParseResponse turns tagged model output into content, choices and an ending
// flag. It never fails: output without tags becomes the content of a node
// with no choices, which is treated as an ending. Content is never empty and
// never longer than config.MaxNodeContentLength runes.
func ParseResponse(raw string, jobType models.JobType) models.ParsedResponse {
	forcedEnding := jobType.Canonical() == models.JobGenerateEnding

	content := strings.TrimSpace(raw)
	if m := storyBlock.FindStringSubmatch(raw); m != nil {
		content = strings.TrimSpace(m[1])
	}
	content = strings.TrimSpace(strayTag.ReplaceAllString(content, ""))
	if content == "" {
		content = untaggedText(raw)
	}
	if content == "" {
		content = placeholderContent
	}
	content = truncateRunes(content, config.MaxNodeContentLength)

	choices := []models.Choice{}
	if !forcedEnding {
		if m := choicesBlock.FindStringSubmatch(raw); m != nil {
			for _, line := range choiceLine.FindAllStringSubmatch(m[1], -1) {
				text := strings.TrimSpace(strayTag.ReplaceAllString(line[1], ""))
				if text == "" {
					continue
				}
				text = truncateRunes(text, config.MaxChoiceTextLength)
				choices = append(choices, models.Choice{ID: models.NewChoiceID(), Text: text})
				if len(choices) == MaxChoices {
					break
				}
			}
		}
	}

	explicitEnding := false
	if m := endingBlock.FindStringSubmatch(raw); m != nil {
		explicitEnding = strings.ToLower(strings.TrimSpace(m[1])) == "true"
	}

	isEnding := forcedEnding || explicitEnding || len(choices) == 0
	if isEnding {
		choices = []models.Choice{}
	}

	return models.ParsedResponse{
		Content:  content,
		Choices:  choices,
		IsEnding: isEnding,
	}
}

// untaggedText is raw with every tagged block and stray tag removed.
func untaggedText(raw string) string {
	for _, block := range []*regexp.Regexp{storyBlock, choicesBlock, endingBlock} {
		raw = block.ReplaceAllString(raw, "")
	}
	return strings.TrimSpace(strayTag.ReplaceAllString(raw, ""))
}

func truncateRunes(s string, limit int) string {
	if runes := []rune(s); len(runes) > limit {
		return strings.TrimSpace(string(runes[:limit]))
	}
	return s
}
