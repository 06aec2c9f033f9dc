package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"snakeplane/internal/store"
)

// CreateRun inserts a new run row.
func (s *Store) CreateRun(ctx context.Context, run *store.Run) error {
	query := `
		INSERT INTO runs (id, plugin, workdir, started_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.db.ExecContext(ctx, query, run.ID, run.Plugin, run.Workdir, run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun sets finished_at and cancels submissions still marked running.
func (s *Store) FinishRun(ctx context.Context, runID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE submissions SET status = $1, finished_at = $2 WHERE run_id = $3 AND status = $4`,
		store.SubmissionStatusCancelled, now, runID, store.SubmissionStatusRunning,
	); err != nil {
		return fmt.Errorf("failed to cancel open submissions of run %s: %w", runID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET finished_at = $1 WHERE id = $2`,
		now, runID,
	); err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	return tx.Commit()
}

// RecordSubmission inserts a submission in the running state.
func (s *Store) RecordSubmission(ctx context.Context, sub *store.Submission) error {
	query := `
		INSERT INTO submissions (id, run_id, job_id, job_name, external_job_id, status, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id, job_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		sub.ID,
		sub.RunID,
		sub.JobID,
		sub.JobName,
		sub.ExternalJobID,
		store.SubmissionStatusRunning,
		sub.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record submission of job %d: %w", sub.JobID, err)
	}
	return nil
}

// MarkFinished moves a running submission to a terminal status. Submissions
// already in a terminal status are left untouched.
func (s *Store) MarkFinished(ctx context.Context, runID uuid.UUID, jobID int, status store.SubmissionStatus, message string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	var msg *string
	if message != "" {
		msg = &message
	}

	query := `
		UPDATE submissions
		SET status = $1, message = $2, finished_at = $3
		WHERE run_id = $4 AND job_id = $5 AND status = $6
	`
	_, err := s.db.ExecContext(ctx, query, status, msg, time.Now().UTC(), runID, jobID, store.SubmissionStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to mark job %d as %s: %w", jobID, status, err)
	}
	return nil
}

// ListSubmissions returns the submissions of a run.
func (s *Store) ListSubmissions(ctx context.Context, runID uuid.UUID) ([]store.Submission, error) {
	query := `
		SELECT id, run_id, job_id, job_name, external_job_id, status, message, submitted_at, finished_at
		FROM submissions
		WHERE run_id = $1
		ORDER BY submitted_at ASC
	`
	return s.querySubmissions(ctx, nil, query, runID)
}

// AbandonIncomplete marks running submissions of earlier runs as abandoned
// and returns them. Rows are locked so concurrent hosts do not report the
// same leftovers twice.
func (s *Store) AbandonIncomplete(ctx context.Context, workdir, plugin string) ([]store.Submission, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	selectQuery := `
		SELECT s.id, s.run_id, s.job_id, s.job_name, s.external_job_id, s.status, s.message, s.submitted_at, s.finished_at
		FROM submissions s
		JOIN runs r ON s.run_id = r.id
		WHERE r.workdir = $1 AND r.plugin = $2 AND s.status = $3
		ORDER BY s.submitted_at ASC
		FOR UPDATE OF s SKIP LOCKED
	`
	subs, err := s.querySubmissions(ctx, tx, selectQuery, workdir, plugin, store.SubmissionStatusRunning)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	for i := range subs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE submissions SET status = $1, finished_at = $2 WHERE id = $3`,
			store.SubmissionStatusAbandoned, now, subs[i].ID,
		); err != nil {
			return nil, fmt.Errorf("failed to abandon submission %s: %w", subs[i].ID, err)
		}
		subs[i].Status = store.SubmissionStatusAbandoned
		subs[i].FinishedAt = &now
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return subs, nil
}

// CountRunning returns the number of submissions still marked running
// across all runs.
func (s *Store) CountRunning(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submissions WHERE status = $1`,
		store.SubmissionStatusRunning,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count running submissions: %w", err)
	}
	return count, nil
}

func (s *Store) querySubmissions(ctx context.Context, tx store.DBTransaction, query string, args ...interface{}) ([]store.Submission, error) {
	rows, err := s.getExecutor(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []store.Submission
	for rows.Next() {
		var (
			sub        store.Submission
			message    sql.NullString
			finishedAt sql.NullTime
		)
		if err := rows.Scan(
			&sub.ID, &sub.RunID, &sub.JobID, &sub.JobName, &sub.ExternalJobID,
			&sub.Status, &message, &sub.SubmittedAt, &finishedAt,
		); err != nil {
			return nil, err
		}
		if message.Valid {
			sub.Message = &message.String
		}
		if finishedAt.Valid {
			sub.FinishedAt = &finishedAt.Time
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
