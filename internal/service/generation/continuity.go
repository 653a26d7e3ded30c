package generation

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"branchtale/internal/domain/models"
	"branchtale/internal/domain/services"
)

// maxEventRunes bounds a single key-event summary.
const maxEventRunes = 120

var (
	sentenceSplit = regexp.MustCompile(`[^.!?]+[.!?]*`)
	wordToken     = regexp.MustCompile(`\p{L}[\p{L}'’-]*`)
	eventCue      = regexp.MustCompile(`(?i)\b(discovered|found|entered|escaped|defeated|met|learned|saw|heard|decided)\b`)
	clauseSplit   = regexp.MustCompile(`[,;:]`)
)

// nameStopList holds capitalized words that are never character names.
var nameStopList = map[string]bool{
	"I": true, "You": true, "Your": true, "Yours": true, "He": true, "She": true, "It": true,
	"We": true, "They": true, "Him": true, "Her": true, "His": true, "Its": true, "Our": true,
	"Their": true, "Them": true, "My": true, "Me": true, "The": true, "A": true, "An": true,
	"And": true, "But": true, "Or": true, "Nor": true, "So": true, "Yet": true, "For": true,
	"This": true, "That": true, "These": true, "Those": true, "There": true, "Here": true,
	"Then": true, "When": true, "Where": true, "What": true, "Who": true, "Why": true, "How": true,
	"If": true, "As": true, "At": true, "In": true, "On": true, "Of": true, "To": true,
	"With": true, "From": true, "By": true, "Into": true, "Suddenly": true, "Perhaps": true,
	"Yes": true, "No": true, "Oh": true, "Mr": true, "Mrs": true, "Ms": true, "Dr": true,
	"Sir": true, "Lady": true, "Lord": true, "God": true,
}

// HeuristicTracker is a regex-based ContinuityTracker. It makes no attempt at
// semantic accuracy; it only keeps bounded memory that roughly follows the
// narrative.
type HeuristicTracker struct {
	maxCharacters int
	maxEvents     int
}

var _ services.ContinuityTracker = (*HeuristicTracker)(nil)

// NewHeuristicTracker creates a tracker with the standard bounds
func NewHeuristicTracker() *HeuristicTracker {
	return &HeuristicTracker{
		maxCharacters: models.MaxTrackedCharacters,
		maxEvents:     models.MaxKeyEvents,
	}
}

// Update folds content into a copy of existing
func (t *HeuristicTracker) Update(content string, existing models.ContinuityContext) models.ContinuityContext {
	updated := existing.Clone()
	sentences := splitSentences(content)

	for _, name := range detectNames(sentences) {
		if !contains(updated.Characters, name) {
			updated.Characters = append(updated.Characters, name)
		}
	}
	updated.Characters = keepLast(updated.Characters, t.maxCharacters)

	if event := firstEvent(sentences); event != "" {
		if n := len(updated.KeyEvents); n == 0 || updated.KeyEvents[n-1] != event {
			updated.KeyEvents = append(updated.KeyEvents, event)
		}
	}
	updated.KeyEvents = keepLast(updated.KeyEvents, t.maxEvents)

	updated.CurrentSituation = situation(sentences)

	return updated
}

func splitSentences(content string) []string {
	var sentences []string
	for _, s := range sentenceSplit.FindAllString(content, -1) {
		s = strings.TrimSpace(s)
		if s != "" && strings.ContainsFunc(s, unicode.IsLetter) {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// detectNames returns capitalized tokens that do not open a sentence, in order of appearance
func detectNames(sentences []string) []string {
	var names []string
	seen := map[string]bool{}
	for _, sentence := range sentences {
		words := wordToken.FindAllString(sentence, -1)
		for i, word := range words {
			if i == 0 || utf8.RuneCountInString(word) < 2 {
				continue
			}
			first, _ := utf8.DecodeRuneInString(word)
			if !unicode.IsUpper(first) {
				continue
			}
			word = strings.TrimRight(word, "'’-")
			word = strings.TrimSuffix(strings.TrimSuffix(word, "'s"), "’s")
			if nameStopList[word] || isAllUpper(word) || seen[word] {
				continue
			}
			seen[word] = true
			names = append(names, word)
		}
	}
	return names
}

// firstEvent returns the first clause containing an action cue, bounded in length
func firstEvent(sentences []string) string {
	for _, sentence := range sentences {
		loc := eventCue.FindStringIndex(sentence)
		if loc == nil {
			continue
		}

		start, end := 0, len(sentence)
		for _, sep := range clauseSplit.FindAllStringIndex(sentence, -1) {
			if sep[1] <= loc[0] {
				start = sep[1]
			} else if sep[0] >= loc[1] {
				end = sep[0]
				break
			}
		}

		clause := strings.TrimSpace(sentence[start:end])
		clause = strings.TrimRight(clause, ".!?")
		return truncateRunesEllipsis(strings.TrimSpace(clause), maxEventRunes)
	}
	return ""
}

// situation is the last one or two sentences of the segment
func situation(sentences []string) string {
	switch len(sentences) {
	case 0:
		return ""
	case 1:
		return sentences[0]
	default:
		return sentences[len(sentences)-2] + " " + sentences[len(sentences)-1]
	}
}

func keepLast(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return append([]string{}, items[len(items)-n:]...)
}

func contains(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}

func isAllUpper(word string) bool {
	for _, r := range word {
		if unicode.IsLetter(r) && !unicode.IsUpper(r) {
			return false
		}
	}
	return true
}

func truncateRunesEllipsis(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max-3])) + "..."
}
