package host

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"snakeplane/internal/executor"
	"snakeplane/internal/store"
)

// recorder mirrors submissions into the optional run ledger. Ledger
// failures are logged and never fail a job.
type recorder struct {
	ledger store.Ledger
	runID  uuid.UUID
	logger *slog.Logger
}

func (r *recorder) enabled() bool {
	return r != nil && r.ledger != nil
}

func (r *recorder) submitted(ctx context.Context, job executor.Job, externalJobID string) error {
	if !r.enabled() {
		return nil
	}
	sub := &store.Submission{
		ID:            uuid.New(),
		RunID:         r.runID,
		JobID:         job.JobID(),
		JobName:       job.Name(),
		ExternalJobID: externalJobID,
		Status:        store.SubmissionStatusRunning,
		SubmittedAt:   time.Now().UTC(),
	}
	if err := r.ledger.RecordSubmission(ctx, sub); err != nil {
		r.logger.Warn("failed to record submission", "jobid", job.JobID(), "error", err)
	}
	return nil
}

func (r *recorder) finished(job executor.Job, ok bool) {
	if !r.enabled() {
		return
	}
	status, message := store.SubmissionStatusSucceeded, ""
	if !ok {
		status, message = store.SubmissionStatusFailed, "job failed"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.ledger.MarkFinished(ctx, r.runID, job.JobID(), status, message); err != nil {
		r.logger.Warn("failed to record job outcome", "jobid", job.JobID(), "error", err)
	}
}
