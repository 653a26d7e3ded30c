package tts

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"

	"branchtale/internal/domain/models"
	"branchtale/internal/domain/services"
)

// DefaultSpeed applies when no narrator persona is given
const DefaultSpeed = 1.0

// narratorSpeeds holds the speech-rate multiplier of each persona. Horror is
// the slowest and comedic the fastest.
var narratorSpeeds = map[models.Persona]float64{
	models.PersonaMysterious: 0.85,
	models.PersonaEpic:       0.95,
	models.PersonaHorror:     0.80,
	models.PersonaComedic:    1.15,
	models.PersonaRomantic:   0.90,
}

var narratorDescriptions = map[models.Persona]string{
	models.PersonaMysterious: "Slow, deliberate pacing with an air of mystery",
	models.PersonaEpic:       "Energetic, grand narration for legendary tales",
	models.PersonaHorror:     "Very slow, building tension and suspense",
	models.PersonaComedic:    "Upbeat, lively delivery with energy",
	models.PersonaRomantic:   "Gentle, slower pacing for emotional moments",
}

// voiceTable lists the narration voices per language
var voiceTable = []services.LanguageInfo{
	{Language: models.LanguageEnglish, Name: "English", MaleVoice: "en-US-GuyNeural", FemaleVoice: "en-US-JennyNeural"},
	{Language: models.LanguageUrdu, Name: "Urdu", MaleVoice: "ur-PK-AsadNeural", FemaleVoice: "ur-PK-UzmaNeural"},
}

// SpeedFor returns the multiplier for narrator, or DefaultSpeed
func SpeedFor(narrator *models.Persona) float64 {
	if narrator == nil {
		return DefaultSpeed
	}
	if speed, ok := narratorSpeeds[*narrator]; ok {
		return speed
	}
	return DefaultSpeed
}

// Rate formats a multiplier as a signed percentage offset, e.g. 0.85 -> "-15%"
func Rate(speed float64) string {
	return fmt.Sprintf("%+d%%", int(math.Round((speed-1.0)*100)))
}

// VoiceFor returns the voice name for a language and gender
func VoiceFor(language models.Language, gender models.VoiceGender) string {
	for _, info := range voiceTable {
		if info.Language != language {
			continue
		}
		if gender == models.VoiceMale {
			return info.MaleVoice
		}
		return info.FemaleVoice
	}
	return VoiceFor(models.LanguageEnglish, gender)
}

// CacheKey derives the audio cache key from everything that changes the audio
func CacheKey(text string, language models.Language, gender models.VoiceGender, narrator *models.Persona) string {
	persona := "None"
	if narrator != nil {
		persona = string(*narrator)
	}
	sum := md5.Sum([]byte(fmt.Sprintf("%s_%s_%s_%s", text, language, gender, persona)))
	return hex.EncodeToString(sum[:])
}

// validKey reports whether key has the shape CacheKey produces
func validKey(key string) bool {
	if len(key) != md5.Size*2 {
		return false
	}
	_, err := hex.DecodeString(key)
	return err == nil
}
