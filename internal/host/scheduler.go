package host

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"snakeplane/internal/executor"
)

// Summary is the outcome of a finished run.
type Summary struct {
	Succeeded []int
	Failed    []int
}

// OK reports whether no job failed.
func (s Summary) OK() bool { return len(s.Failed) == 0 }

// Scheduler collects the lifecycle callbacks of the executor and lets the
// caller wait until every expected job reached a terminal state.
type Scheduler struct {
	mu        sync.Mutex
	expected  int
	submitted map[int]executor.Job
	summary   Summary
	execErr   error
	changed   chan struct{}

	recorder *recorder
	logger   *slog.Logger
}

func newScheduler(rec *recorder, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		submitted: make(map[int]executor.Job),
		changed:   make(chan struct{}),
		recorder:  rec,
		logger:    logger,
	}
}

// Expect adds n jobs to the number Wait waits for.
func (s *Scheduler) Expect(n int) {
	s.mu.Lock()
	s.expected += n
	s.notifyLocked()
	s.mu.Unlock()
}

func (s *Scheduler) SubmitCallback(job executor.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted[job.JobID()] = job
	s.logger.Info("job submitted", "jobid", job.JobID(), "rule", job.Name())
}

func (s *Scheduler) FinishCallback(job executor.Job) {
	if err := job.Postprocess(context.Background()); err != nil {
		s.logger.Warn("job postprocessing failed", "jobid", job.JobID(), "error", err)
	}
	s.recorder.finished(job, true)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.submitted, job.JobID())
	s.summary.Succeeded = append(s.summary.Succeeded, job.JobID())
	s.logger.Info("job finished", "jobid", job.JobID(), "rule", job.Name())
	s.notifyLocked()
}

func (s *Scheduler) ErrorCallback(job executor.Job) {
	s.recorder.finished(job, false)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.submitted, job.JobID())
	s.summary.Failed = append(s.summary.Failed, job.JobID())
	s.logger.Error("job failed", "jobid", job.JobID(), "rule", job.Name())
	s.notifyLocked()
}

func (s *Scheduler) ExecutorErrorCallback(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execErr = errors.Join(s.execErr, err)
	s.logger.Error("executor failed", "error", err)
	s.notifyLocked()
}

// Active returns the ids of submitted jobs without an outcome yet.
func (s *Scheduler) Active() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.submitted))
	for id := range s.submitted {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Snapshot returns the outcomes collected so far.
func (s *Scheduler) Snapshot() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Wait blocks until every expected job finished, the executor reported an
// error or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) (Summary, error) {
	for {
		s.mu.Lock()
		done := len(s.summary.Succeeded)+len(s.summary.Failed) >= s.expected
		summary, execErr, changed := s.snapshotLocked(), s.execErr, s.changed
		s.mu.Unlock()

		if execErr != nil {
			return summary, execErr
		}
		if done {
			return summary, nil
		}

		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		case <-changed:
		}
	}
}

func (s *Scheduler) snapshotLocked() Summary {
	out := Summary{
		Succeeded: slices.Clone(s.summary.Succeeded),
		Failed:    slices.Clone(s.summary.Failed),
	}
	slices.Sort(out.Succeeded)
	slices.Sort(out.Failed)
	return out
}

func (s *Scheduler) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

var _ executor.Scheduler = (*Scheduler)(nil)
