package models

import (
	"encoding/json"
	"time"
)

// JobType identifies what a generation job produces.
type JobType string

const (
	JobGenerateOpening      JobType = "generate_opening"
	JobGenerateContinuation JobType = "generate_continuation"
	JobGenerateEnding       JobType = "generate_ending"

	// Legacy job types kept readable for rows written by older clients.
	JobStoryStart    JobType = "story_start"
	JobStoryContinue JobType = "story_continue"
	JobStoryBranch   JobType = "story_branch"
)

// Canonical maps legacy job types onto the type that replaced them.
func (t JobType) Canonical() JobType {
	switch t {
	case JobStoryStart:
		return JobGenerateOpening
	case JobStoryContinue, JobStoryBranch:
		return JobGenerateContinuation
	default:
		return t
	}
}

// Valid reports whether t is a known job type, legacy aliases included.
func (t JobType) Valid() bool {
	switch t {
	case JobGenerateOpening, JobGenerateContinuation, JobGenerateEnding,
		JobStoryStart, JobStoryContinue, JobStoryBranch:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobProcessing, JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// CanTransitionTo reports whether the forward-only state machine allows
// moving from s to next.
//
//	pending -> processing -> {completed, failed}
//	pending -> cancelled
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobProcessing || next == JobCancelled
	case JobProcessing:
		return next == JobCompleted || next == JobFailed
	default:
		return false
	}
}

// Job records one generation attempt.
type Job struct {
	ID           int64                  `json:"id" db:"id"`
	StoryID      *int64                 `json:"story_id" db:"story_id"`
	NodeID       *int64                 `json:"node_id" db:"node_id"`
	JobType      JobType                `json:"job_type" db:"job_type"`
	Status       JobStatus              `json:"status" db:"status"`
	Result       map[string]interface{} `json:"result" db:"result"`
	ErrorMessage *string                `json:"error_message" db:"error_message"`
	CreatedAt    time.Time              `json:"created_at" db:"created_at"`
	StartedAt    *time.Time             `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time             `json:"completed_at" db:"completed_at"`
}

// DurationSeconds returns how long the job ran, when it has both started and finished.
func (j *Job) DurationSeconds() *float64 {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return nil
	}
	d := j.CompletedAt.Sub(*j.StartedAt).Seconds()
	return &d
}

// MarshalJSON adds the computed duration_seconds field.
func (j Job) MarshalJSON() ([]byte, error) {
	type jobAlias Job
	return json.Marshal(struct {
		jobAlias
		DurationSeconds *float64 `json:"duration_seconds"`
	}{
		jobAlias:        jobAlias(j),
		DurationSeconds: j.DurationSeconds(),
	})
}

// JobFilter narrows job listings.
type JobFilter struct {
	Status  JobStatus
	StoryID *int64
	Offset  int
	Limit   int
}
