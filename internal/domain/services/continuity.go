package services

import "branchtale/internal/domain/models"

// ContinuityTracker folds freshly generated content into a story's rolling memory.
type ContinuityTracker interface {
	Update(content string, existing models.ContinuityContext) models.ContinuityContext
}
