// Package store contains the submission ledger of snakeplane.
package store

import (
	"time"

	"github.com/google/uuid"
)

// Run is one invocation of the engine against a working directory.
type Run struct {
	ID         uuid.UUID
	Plugin     string
	Workdir    string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Submission is one job handed to a backend during a run.
type Submission struct {
	ID            uuid.UUID
	RunID         uuid.UUID
	JobID         int
	JobName       string
	ExternalJobID string
	Status        SubmissionStatus
	Message       *string
	SubmittedAt   time.Time
	FinishedAt    *time.Time
}

// SubmissionStatus is the ledger state of a submission.
type SubmissionStatus string

const (
	SubmissionStatusRunning   SubmissionStatus = "running"
	SubmissionStatusSucceeded SubmissionStatus = "succeeded"
	SubmissionStatusFailed    SubmissionStatus = "failed"
	SubmissionStatusCancelled SubmissionStatus = "cancelled"
	// SubmissionStatusAbandoned marks jobs of a previous run that never
	// reported back, e.g. because the host crashed.
	SubmissionStatusAbandoned SubmissionStatus = "abandoned"
)

// Terminal reports whether no further transitions happen.
func (s SubmissionStatus) Terminal() bool {
	return s != SubmissionStatusRunning
}
