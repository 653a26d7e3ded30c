package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError defines errors that can be mapped to HTTP status codes.
type HTTPError interface {
	error
	StatusCode() int
	Kind() string
}

// Domain error types implementing HTTPError interface
type (
	// NotFoundError indicates a resource was not found
	NotFoundError struct {
		Message string
	}

	// ValidationError indicates invalid input
	ValidationError struct {
		Message string
	}

	// UnauthorizedError indicates authentication failure
	UnauthorizedError struct {
		Message string
	}

	// ForbiddenError indicates authorization failure
	ForbiddenError struct {
		Message string
	}
)

// Error implementations
func (e *NotFoundError) Error() string     { return e.Message }
func (e *ValidationError) Error() string   { return e.Message }
func (e *UnauthorizedError) Error() string { return e.Message }
func (e *ForbiddenError) Error() string    { return e.Message }

// StatusCode implementations (HTTPError interface)
func (e *NotFoundError) StatusCode() int     { return http.StatusNotFound }
func (e *ValidationError) StatusCode() int   { return http.StatusBadRequest }
func (e *UnauthorizedError) StatusCode() int { return http.StatusUnauthorized }
func (e *ForbiddenError) StatusCode() int    { return http.StatusForbidden }

// Kind implementations (machine-readable error kind in responses)
func (e *NotFoundError) Kind() string     { return KindNotFound }
func (e *ValidationError) Kind() string   { return KindValidation }
func (e *UnauthorizedError) Kind() string { return KindUnauthorized }
func (e *ForbiddenError) Kind() string    { return KindForbidden }

// Is lets the typed errors match their sentinel counterparts.
func (e *NotFoundError) Is(target error) bool     { return target == ErrNotFound }
func (e *ValidationError) Is(target error) bool   { return target == ErrValidation }
func (e *UnauthorizedError) Is(target error) bool { return target == ErrUnauthorized }
func (e *ForbiddenError) Is(target error) bool    { return target == ErrForbidden }

// Error kinds reported to clients alongside the human-readable detail.
const (
	KindNotFound         = "not_found"
	KindConflict         = "conflict"
	KindValidation       = "validation"
	KindUnauthorized     = "unauthorized"
	KindForbidden        = "forbidden"
	KindGenerationFailed = "generation_failed"
	KindStorage          = "storage"
	KindUnavailable      = "unavailable"
	KindInternal         = "internal"
)

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrGeneration   = errors.New("generation failed")
	ErrStorage      = errors.New("storage error")
	ErrUnavailable  = errors.New("service unavailable")
)

// ConflictError represents a resource conflict with details about the existing resource
type ConflictError struct {
	Message      string // Human-readable error message
	ResourceType string // Type of resource (story, node, job)
	ResourceID   string // ID of the existing/conflicting resource
}

// Error implements the error interface
func (e *ConflictError) Error() string {
	return e.Message
}

// StatusCode implements the HTTPError interface
func (e *ConflictError) StatusCode() int {
	return http.StatusConflict
}

// Kind implements the HTTPError interface
func (e *ConflictError) Kind() string {
	return KindConflict
}

// Is allows errors.Is() to match against ErrConflict
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// GenerationError is returned when the text generator could not produce a
// response, after every fallback model was tried.
type GenerationError struct {
	Message  string   // Human-readable error message
	Models   []string // Models attempted, in order
	Provider string
	Err      error // Last provider error
}

// Error implements the error interface
func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the last provider error
func (e *GenerationError) Unwrap() error {
	return e.Err
}

// StatusCode implements the HTTPError interface
func (e *GenerationError) StatusCode() int {
	return http.StatusServiceUnavailable
}

// Kind implements the HTTPError interface
func (e *GenerationError) Kind() string {
	return KindGenerationFailed
}

// Is allows errors.Is() to match against ErrGeneration
func (e *GenerationError) Is(target error) bool {
	return target == ErrGeneration
}
