package generation

import (
	"bytes"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"branchtale/internal/domain/models"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var promptCatalogYAML []byte

// maxPreviousSceneRunes bounds how much of the parent segment is restated in
// continuation and ending prompts.
const maxPreviousSceneRunes = 1500

type catalogFile struct {
	Languages map[models.Language]languageEntry `yaml:"languages"`
}

type languageEntry struct {
	Personas     map[models.Persona]string    `yaml:"personas"`
	Atmospheres  map[models.Atmosphere]string `yaml:"atmospheres"`
	Genres       map[string]string            `yaml:"genres"`
	System       string                       `yaml:"system"`
	Opening      string                       `yaml:"opening"`
	Continuation string                       `yaml:"continuation"`
	Ending       string                       `yaml:"ending"`
	Continuity   string                       `yaml:"continuity"`
}

// languagePrompts is one language's catalog with its templates parsed
type languagePrompts struct {
	personas     map[models.Persona]string
	atmospheres  map[models.Atmosphere]string
	genres       map[string]string
	system       *template.Template
	opening      *template.Template
	continuation *template.Template
	ending       *template.Template
	continuity   *template.Template
}

// PromptInput is everything the composer reads to build a prompt pair
type PromptInput struct {
	JobType    models.JobType
	Story      *models.Story
	Parent     *models.StoryNode // nil for openings
	ChoiceText string
}

// Prompt is a system/user prompt pair
type Prompt struct {
	System   string
	User     string
	Language models.Language
	// LanguageFallback is set when the story's language has no catalog entry
	// and English wording was used instead.
	LanguageFallback bool
}

// Composer builds prompts from the embedded YAML catalog
type Composer struct {
	languages map[models.Language]*languagePrompts
	logger    *slog.Logger
}

// NewComposer parses the embedded prompt catalog
func NewComposer(logger *slog.Logger) (*Composer, error) {
	return newComposerFromYAML(promptCatalogYAML, logger)
}

func newComposerFromYAML(data []byte, logger *slog.Logger) (*Composer, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse prompt catalog: %w", err)
	}
	if _, ok := file.Languages[models.DefaultLanguage]; !ok {
		return nil, fmt.Errorf("prompt catalog has no %s entry", models.DefaultLanguage)
	}

	funcs := template.FuncMap{"join": strings.Join}
	c := &Composer{languages: make(map[models.Language]*languagePrompts), logger: logger}

	for lang, entry := range file.Languages {
		if _, ok := entry.Personas[models.DefaultPersona]; !ok {
			return nil, fmt.Errorf("prompt catalog %s: missing default persona %s", lang, models.DefaultPersona)
		}
		if _, ok := entry.Atmospheres[models.DefaultAtmosphere]; !ok {
			return nil, fmt.Errorf("prompt catalog %s: missing default atmosphere %s", lang, models.DefaultAtmosphere)
		}

		lp := &languagePrompts{
			personas:    entry.Personas,
			atmospheres: entry.Atmospheres,
			genres:      entry.Genres,
		}
		templates := []struct {
			name string
			text string
			dst  **template.Template
		}{
			{"system", entry.System, &lp.system},
			{"opening", entry.Opening, &lp.opening},
			{"continuation", entry.Continuation, &lp.continuation},
			{"ending", entry.Ending, &lp.ending},
			{"continuity", entry.Continuity, &lp.continuity},
		}
		for _, t := range templates {
			if strings.TrimSpace(t.text) == "" {
				return nil, fmt.Errorf("prompt catalog %s: empty %s template", lang, t.name)
			}
			parsed, err := template.New(string(lang) + "/" + t.name).
				Option("missingkey=zero").
				Funcs(funcs).
				Parse(t.text)
			if err != nil {
				return nil, fmt.Errorf("prompt catalog %s/%s: %w", lang, t.name, err)
			}
			*t.dst = parsed
		}
		c.languages[lang] = lp
	}

	return c, nil
}

// Compose builds the system and user prompts for one generation
func (c *Composer) Compose(in PromptInput) (*Prompt, error) {
	story := in.Story
	lang, fellBack := c.language(story.Language)
	if fellBack {
		c.logger.Warn("no prompts for story language, using english",
			"story_id", story.ID,
			"language", story.Language,
		)
	}
	lp := c.languages[lang]

	genre := strings.TrimSpace(story.Genre)
	if genre == "" {
		genre = models.DefaultGenre
	}

	system, err := render(lp.system, map[string]string{
		"Persona":     lp.personas[story.NarratorPersona.OrDefault()],
		"Atmosphere":  lp.atmospheres[story.Atmosphere.OrDefault()],
		"Genre":       genre,
		"GenreFlavor": lp.genres[strings.ToLower(genre)],
	})
	if err != nil {
		return nil, err
	}

	continuity := ""
	if !story.Context.IsEmpty() {
		continuity, err = render(lp.continuity, story.Context)
		if err != nil {
			return nil, err
		}
		continuity = strings.TrimSpace(continuity)
	}

	data := map[string]string{
		"Genre":         genre,
		"Title":         story.Title,
		"Description":   "",
		"Continuity":    continuity,
		"PreviousScene": "",
		"Choice":        strings.TrimSpace(in.ChoiceText),
	}
	if story.Description != nil {
		data["Description"] = strings.TrimSpace(*story.Description)
	}
	if in.Parent != nil {
		data["PreviousScene"] = sceneTail(in.Parent.Content, maxPreviousSceneRunes)
	}

	var tmpl *template.Template
	switch in.JobType.Canonical() {
	case models.JobGenerateOpening:
		tmpl = lp.opening
	case models.JobGenerateContinuation:
		tmpl = lp.continuation
	case models.JobGenerateEnding:
		tmpl = lp.ending
	default:
		return nil, fmt.Errorf("no prompt for job type %q", in.JobType)
	}

	user, err := render(tmpl, data)
	if err != nil {
		return nil, err
	}

	return &Prompt{
		System:           system,
		User:             strings.TrimSpace(user),
		Language:         lang,
		LanguageFallback: fellBack,
	}, nil
}

func (c *Composer) language(lang models.Language) (models.Language, bool) {
	if _, ok := c.languages[lang]; ok {
		return lang, false
	}
	return models.DefaultLanguage, true
}

func render(tmpl *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

// sceneTail returns the last max runes of content, starting at a word boundary
func sceneTail(content string, max int) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	tail := string(runes[len(runes)-max:])
	if i := strings.IndexAny(tail, " \n"); i >= 0 && i < len(tail)-1 {
		tail = tail[i+1:]
	}
	return "..." + strings.TrimSpace(tail)
}
