package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"branchtale/internal/domain/models"
	"branchtale/internal/domain/services"
	"branchtale/internal/httputil"
)

// TTSHandler serves narration audio
type TTSHandler struct {
	narration services.NarrationService
	logger    *slog.Logger
}

// NewTTSHandler creates a new TTS handler
func NewTTSHandler(narration services.NarrationService, logger *slog.Logger) *TTSHandler {
	return &TTSHandler{
		narration: narration,
		logger:    logger,
	}
}

type languagesResponse struct {
	Languages []services.LanguageInfo `json:"languages"`
	Default   models.Language         `json:"default"`
	Enabled   bool                    `json:"enabled"`
}

type narratorSpeedsResponse struct {
	Speeds map[models.Persona]services.NarratorSpeed `json:"speeds"`
	Note   string                                    `json:"note"`
}

// Languages lists the supported narration languages
// GET /api/v1/tts/languages
func (h *TTSHandler) Languages(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, languagesResponse{
		Languages: h.narration.Languages(),
		Default:   models.DefaultLanguage,
		Enabled:   h.narration.Enabled(),
	})
}

// NarratorSpeeds lists the speech rate of every persona
// GET /api/v1/tts/narrator-speeds
func (h *TTSHandler) NarratorSpeeds(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, narratorSpeedsResponse{
		Speeds: h.narration.NarratorSpeeds(),
		Note:   "Speeds are multipliers of the voice's normal rate (1.0).",
	})
}

// Synthesize narrates arbitrary text
// POST /api/v1/tts/synthesize
func (h *TTSHandler) Synthesize(w http.ResponseWriter, r *http.Request) {
	var req services.SynthesizeRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	audio, err := h.narration.Synthesize(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	writeAudio(w, audio)
}

// SynthesizeNode narrates a node in its story's language and persona
// POST /api/v1/tts/synthesize/node/{node_id}
func (h *TTSHandler) SynthesizeNode(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := PathParam(w, r, "node_id", "Node ID")
	if !ok {
		return
	}

	audio, err := h.narration.SynthesizeNode(r.Context(), nodeID)
	if err != nil {
		handleError(w, err)
		return
	}

	writeAudio(w, audio)
}

// GetAudio serves a cached entry
// GET /api/v1/tts/audio/{key}
func (h *TTSHandler) GetAudio(w http.ResponseWriter, r *http.Request) {
	audio, err := h.narration.CachedAudio(r.Context(), r.PathValue("key"))
	if err != nil {
		handleError(w, err)
		return
	}

	writeAudio(w, audio)
}

// ClearCache drops every cached entry
// DELETE /api/v1/tts/cache
func (h *TTSHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.narration.ClearCache(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	h.logger.Info("audio cache cleared", "entries", cleared)
	httputil.RespondJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

func writeAudio(w http.ResponseWriter, audio *services.Audio) {
	h := w.Header()
	h.Set("Content-Type", audio.ContentType)
	h.Set("Content-Length", strconv.Itoa(len(audio.Data)))
	h.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", audio.Key+extensionFor(audio.ContentType)))
	h.Set("Cache-Control", "public, max-age=3600")
	h.Set("X-Audio-Key", audio.Key)
	h.Set("X-Audio-Cached", strconv.FormatBool(audio.Cached))
	w.WriteHeader(http.StatusOK)
	w.Write(audio.Data)
}

func extensionFor(contentType string) string {
	switch contentType {
	case "audio/wav":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	default:
		return ".mp3"
	}
}
