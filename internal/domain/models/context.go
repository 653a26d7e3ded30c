package models

const (
	// MaxTrackedCharacters bounds ContinuityContext.Characters.
	MaxTrackedCharacters = 8
	// MaxKeyEvents bounds ContinuityContext.KeyEvents.
	MaxKeyEvents = 5
)

// ContinuityContext is the rolling narrative memory stored on a story and
// folded into every prompt after the opening.
type ContinuityContext struct {
	Characters       []string `json:"characters"`
	KeyEvents        []string `json:"key_events"`
	CurrentSituation string   `json:"current_situation"`
	StorySummary     string   `json:"story_summary"`
}

// NewContinuityContext returns an empty context with non-nil lists.
func NewContinuityContext() ContinuityContext {
	return ContinuityContext{
		Characters: []string{},
		KeyEvents:  []string{},
	}
}

// IsEmpty reports whether the context holds nothing worth prompting with.
func (c ContinuityContext) IsEmpty() bool {
	return len(c.Characters) == 0 &&
		len(c.KeyEvents) == 0 &&
		c.CurrentSituation == "" &&
		c.StorySummary == ""
}

// Clone returns a deep copy.
func (c ContinuityContext) Clone() ContinuityContext {
	out := c
	out.Characters = append([]string{}, c.Characters...)
	out.KeyEvents = append([]string{}, c.KeyEvents...)
	return out
}
