package handler

import (
	"net/http"

	"branchtale/internal/domain/services"
	"branchtale/internal/httputil"
)

// HealthHandler reports liveness plus the configured backends
type HealthHandler struct {
	store       string
	llmProvider string
	narration   services.NarrationService
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(store, llmProvider string, narration services.NarrationService) *HealthHandler {
	return &HealthHandler{store: store, llmProvider: llmProvider, narration: narration}
}

// Health reports service status
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"store":        h.store,
		"llm_provider": h.llmProvider,
		"tts_enabled":  h.narration != nil && h.narration.Enabled(),
	})
}
