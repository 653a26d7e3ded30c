package models

// ParsedResponse is the structured form of one model completion.
type ParsedResponse struct {
	Content  string   `json:"content"`
	Choices  []Choice `json:"choices"`
	IsEnding bool     `json:"is_ending"`
}

// GenerationResult is returned to callers after a node has been generated.
type GenerationResult struct {
	JobID int64      `json:"job_id"`
	Node  *StoryNode `json:"node"`
	Model string     `json:"model"`
}
