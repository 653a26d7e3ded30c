package models

// BranchNode is one step of a root-to-leaf reading.
type BranchNode struct {
	ID         int64   `json:"id"`
	Content    string  `json:"content"`
	ChoiceText *string `json:"choice_text"`
	IsEnding   bool    `json:"is_ending"`
}

// StoryBranch is a root-to-leaf path through a story tree.
// IsComplete is true only when the last node is an ending.
type StoryBranch struct {
	ID         string       `json:"id"`
	Nodes      []BranchNode `json:"nodes"`
	IsComplete bool         `json:"is_complete"`
}

// StoryBranches is the branches view of a story.
type StoryBranches struct {
	StoryID           int64         `json:"story_id"`
	Title             string        `json:"title"`
	CompleteStoryText *string       `json:"complete_story_text"`
	Branches          []StoryBranch `json:"branches"`
	TotalBranches     int           `json:"total_branches"`
	HasCompleteEnding bool          `json:"has_complete_ending"`
}
