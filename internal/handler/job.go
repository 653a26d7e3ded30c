package handler

import (
	"log/slog"
	"net/http"

	"branchtale/internal/domain/services"
	"branchtale/internal/httputil"
)

// JobHandler handles generation job HTTP requests
type JobHandler struct {
	jobService services.JobService
	logger     *slog.Logger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobService services.JobService, logger *slog.Logger) *JobHandler {
	return &JobHandler{
		jobService: jobService,
		logger:     logger,
	}
}

// ListJobs returns a page of jobs, newest first
// GET /api/v1/jobs?page=1&page_size=10&status=&story_id=
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	storyID, err := httputil.QueryInt64Ptr(r, "story_id")
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := services.ListJobsRequest{
		Page:     httputil.QueryInt(r, "page", 1),
		PageSize: httputil.QueryInt(r, "page_size", 10),
		Status:   r.URL.Query().Get("status"),
		StoryID:  storyID,
	}

	page, err := h.jobService.ListJobs(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, page)
}

// GetJob returns one job
// GET /api/v1/jobs/{id}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := PathParam(w, r, "id", "Job ID")
	if !ok {
		return
	}

	job, err := h.jobService.GetJob(r.Context(), jobID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, job)
}

// CancelJob cancels a pending job
// POST /api/v1/jobs/{id}/cancel
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := PathParam(w, r, "id", "Job ID")
	if !ok {
		return
	}

	job, err := h.jobService.CancelJob(r.Context(), jobID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, job)
}
