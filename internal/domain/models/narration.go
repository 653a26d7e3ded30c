package models

// Persona selects the narrator voice used for prompts and speech pacing.
type Persona string

const (
	PersonaMysterious Persona = "mysterious"
	PersonaEpic       Persona = "epic"
	PersonaHorror     Persona = "horror"
	PersonaComedic    Persona = "comedic"
	PersonaRomantic   Persona = "romantic"

	DefaultPersona = PersonaMysterious
)

// Personas lists every narrator persona in display order.
var Personas = []Persona{PersonaMysterious, PersonaEpic, PersonaHorror, PersonaComedic, PersonaRomantic}

// Valid reports whether p is a known persona.
func (p Persona) Valid() bool {
	for _, known := range Personas {
		if p == known {
			return true
		}
	}
	return false
}

// OrDefault returns p, or the default persona when p is unknown.
func (p Persona) OrDefault() Persona {
	if p.Valid() {
		return p
	}
	return DefaultPersona
}

// Atmosphere sets the mood of generated segments.
type Atmosphere string

const (
	AtmosphereDark      Atmosphere = "dark"
	AtmosphereMagical   Atmosphere = "magical"
	AtmospherePeaceful  Atmosphere = "peaceful"
	AtmosphereTense     Atmosphere = "tense"
	AtmosphereWhimsical Atmosphere = "whimsical"

	DefaultAtmosphere = AtmosphereMagical
)

// Atmospheres lists every atmosphere in display order.
var Atmospheres = []Atmosphere{AtmosphereDark, AtmosphereMagical, AtmospherePeaceful, AtmosphereTense, AtmosphereWhimsical}

// Valid reports whether a is a known atmosphere.
func (a Atmosphere) Valid() bool {
	for _, known := range Atmospheres {
		if a == known {
			return true
		}
	}
	return false
}

// OrDefault returns a, or the default atmosphere when a is unknown.
func (a Atmosphere) OrDefault() Atmosphere {
	if a.Valid() {
		return a
	}
	return DefaultAtmosphere
}

// Language is the language stories are written and narrated in.
type Language string

const (
	LanguageEnglish Language = "english"
	LanguageUrdu    Language = "urdu"

	DefaultLanguage = LanguageEnglish
)

// Languages lists every supported language.
var Languages = []Language{LanguageEnglish, LanguageUrdu}

// Valid reports whether l is a supported language.
func (l Language) Valid() bool {
	return l == LanguageEnglish || l == LanguageUrdu
}

// VoiceGender picks between the male and female voice of a language.
type VoiceGender string

const (
	VoiceMale   VoiceGender = "male"
	VoiceFemale VoiceGender = "female"
)

// Valid reports whether g is a known voice gender.
func (g VoiceGender) Valid() bool {
	return g == VoiceMale || g == VoiceFemale
}

// DefaultGenre is used when a story is created without a genre.
const DefaultGenre = "Fantasy"
