package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"branchtale/internal/domain"
	"branchtale/internal/httputil"
)

// handleError converts domain errors to HTTP responses
func handleError(w http.ResponseWriter, err error) {
	var (
		conflictErr   *domain.ConflictError
		generationErr *domain.GenerationError
	)

	switch {
	case errors.Is(err, domain.ErrValidation):
		httputil.RespondProblem(w, http.StatusBadRequest, domain.KindValidation, err.Error(), nil)
	case errors.Is(err, domain.ErrNotFound):
		httputil.RespondProblem(w, http.StatusNotFound, domain.KindNotFound, err.Error(), nil)
	case errors.Is(err, domain.ErrUnauthorized):
		httputil.RespondProblem(w, http.StatusUnauthorized, domain.KindUnauthorized, err.Error(), nil)
	case errors.Is(err, domain.ErrForbidden):
		httputil.RespondProblem(w, http.StatusForbidden, domain.KindForbidden, err.Error(), nil)
	case errors.As(err, &conflictErr):
		var extras map[string]interface{}
		if conflictErr.ResourceID != "" {
			extras = map[string]interface{}{
				"resource_type": conflictErr.ResourceType,
				"resource_id":   conflictErr.ResourceID,
			}
		}
		httputil.RespondProblem(w, http.StatusConflict, domain.KindConflict, conflictErr.Error(), extras)
	case errors.As(err, &generationErr):
		httputil.RespondProblem(w, http.StatusServiceUnavailable, domain.KindGenerationFailed, generationErr.Message,
			map[string]interface{}{"models": generationErr.Models})
	case errors.Is(err, domain.ErrUnavailable):
		httputil.RespondProblem(w, http.StatusServiceUnavailable, domain.KindUnavailable, err.Error(), nil)
	case errors.Is(err, domain.ErrStorage):
		httputil.RespondProblem(w, http.StatusInternalServerError, domain.KindStorage, "storage error", nil)
	default:
		httputil.RespondProblem(w, http.StatusInternalServerError, domain.KindInternal, "internal server error", nil)
	}
}

// PathParam parses a positive integer path value. On failure it writes a 400
// and returns false.
func PathParam(w http.ResponseWriter, r *http.Request, name, label string) (int64, bool) {
	raw := r.PathValue(name)
	if raw == "" {
		httputil.RespondError(w, http.StatusBadRequest, fmt.Sprintf("%s is required", label))
		return 0, false
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httputil.RespondError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a positive integer", label))
		return 0, false
	}

	return id, true
}
