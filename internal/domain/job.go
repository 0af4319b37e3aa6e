package domain

import "github.com/google/uuid"

type JobID string

// JobDescription describes a single background job submission. Descriptions
// are immutable and consumed by exactly one run.
type JobDescription struct {
	ID      JobID
	Message string
}

func NewJobDescription(message string) JobDescription {
	return JobDescription{ID: JobID(uuid.NewString()), Message: message}
}

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)
