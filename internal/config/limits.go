package config

const (
	// MaxTitleLength fits story titles in VARCHAR(255).
	MaxTitleLength = 255

	MaxDescriptionLength = 2000

	MaxGenreLength = 50

	MaxInitialPromptLength = 2000

	// MaxNodeContentLength bounds hand-authored and generated segments.
	MaxNodeContentLength = 15000

	MaxChoiceTextLength = 300

	MaxConsequenceHintLength = 200

	// MaxTTSTextLength bounds a single narration request.
	MaxTTSTextLength = 20000

	DefaultPageSize = 10

	MaxPageSize = 100
)
