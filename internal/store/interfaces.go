package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx.
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Ledger records runs and their submissions.
type Ledger interface {
	// CreateRun inserts a new run.
	CreateRun(ctx context.Context, run *Run) error

	// FinishRun sets the finish time of a run and cancels its open submissions.
	FinishRun(ctx context.Context, runID uuid.UUID) error

	// RecordSubmission inserts a submission in the running state.
	RecordSubmission(ctx context.Context, sub *Submission) error

	// MarkFinished moves a running submission to a terminal status.
	MarkFinished(ctx context.Context, runID uuid.UUID, jobID int, status SubmissionStatus, message string) error

	// ListSubmissions returns the submissions of a run ordered by submission time.
	ListSubmissions(ctx context.Context, runID uuid.UUID) ([]Submission, error)

	// AbandonIncomplete marks the running submissions of earlier runs of the
	// same plugin in the same working directory as abandoned and returns them.
	AbandonIncomplete(ctx context.Context, workdir, plugin string) ([]Submission, error)
}
