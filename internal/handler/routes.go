package handler

import "net/http"

// Handlers groups every API handler for route registration
type Handlers struct {
	Story      *StoryHandler
	Node       *NodeHandler
	Generation *GenerationHandler
	Job        *JobHandler
	TTS        *TTSHandler
	Health     *HealthHandler
}

// RegisterRoutes mounts the API under prefix (e.g. "/api/v1") using Go 1.22
// method patterns. /health is always mounted at the root.
func RegisterRoutes(mux *http.ServeMux, prefix string, h *Handlers) {
	// Health check
	mux.HandleFunc("GET /health", h.Health.Health)

	// Story routes
	mux.HandleFunc("POST "+prefix+"/stories", h.Story.CreateStory)
	mux.HandleFunc("GET "+prefix+"/stories", h.Story.ListStories)
	mux.HandleFunc("GET "+prefix+"/stories/session/{session_id}", h.Story.GetStoryBySession)
	mux.HandleFunc("GET "+prefix+"/stories/{id}", h.Story.GetStory)
	mux.HandleFunc("PATCH "+prefix+"/stories/{id}", h.Story.UpdateStory)
	mux.HandleFunc("DELETE "+prefix+"/stories/{id}", h.Story.DeleteStory)
	mux.HandleFunc("GET "+prefix+"/stories/{id}/branches", h.Story.GetBranches)
	mux.HandleFunc("POST "+prefix+"/stories/{id}/branches", h.Story.SaveBranches)
	mux.HandleFunc("GET "+prefix+"/stories/{id}/current", h.Story.GetCurrent)
	mux.HandleFunc("PUT "+prefix+"/stories/{id}/current", h.Story.SetCurrent)

	// Node routes
	mux.HandleFunc("POST "+prefix+"/stories/{id}/nodes", h.Node.CreateNode)
	mux.HandleFunc("GET "+prefix+"/stories/{id}/nodes", h.Node.ListNodes)
	mux.HandleFunc("GET "+prefix+"/stories/{id}/nodes/{node_id}", h.Node.GetNode)
	mux.HandleFunc("PATCH "+prefix+"/stories/{id}/nodes/{node_id}", h.Node.UpdateNode)
	mux.HandleFunc("DELETE "+prefix+"/stories/{id}/nodes/{node_id}", h.Node.DeleteNode)
	mux.HandleFunc("GET "+prefix+"/stories/{id}/nodes/{node_id}/path", h.Node.GetPath)

	// Generation routes
	mux.HandleFunc("POST "+prefix+"/stories/{id}/generate/opening", h.Generation.GenerateOpening)
	mux.HandleFunc("POST "+prefix+"/stories/{id}/nodes/{node_id}/continue", h.Generation.Continue)
	mux.HandleFunc("POST "+prefix+"/stories/{id}/nodes/{node_id}/ending", h.Generation.GenerateEnding)

	// Streaming routes (SSE)
	mux.HandleFunc("POST "+prefix+"/stories/{id}/stream/opening", h.Generation.StreamOpening)
	mux.HandleFunc("POST "+prefix+"/stories/{id}/nodes/{node_id}/stream/continue", h.Generation.StreamContinue)
	mux.HandleFunc("POST "+prefix+"/stories/{id}/nodes/{node_id}/stream/ending", h.Generation.StreamEnding)

	// Job routes
	mux.HandleFunc("GET "+prefix+"/jobs", h.Job.ListJobs)
	mux.HandleFunc("GET "+prefix+"/jobs/{id}", h.Job.GetJob)
	mux.HandleFunc("POST "+prefix+"/jobs/{id}/cancel", h.Job.CancelJob)

	// TTS routes
	mux.HandleFunc("GET "+prefix+"/tts/languages", h.TTS.Languages)
	mux.HandleFunc("GET "+prefix+"/tts/narrator-speeds", h.TTS.NarratorSpeeds)
	mux.HandleFunc("POST "+prefix+"/tts/synthesize", h.TTS.Synthesize)
	mux.HandleFunc("POST "+prefix+"/tts/synthesize/node/{node_id}", h.TTS.SynthesizeNode)
	mux.HandleFunc("GET "+prefix+"/tts/audio/{key}", h.TTS.GetAudio)
	mux.HandleFunc("DELETE "+prefix+"/tts/cache", h.TTS.ClearCache)
}
