package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type roundResult struct {
	// running are the jobs of the round that have not finished.
	running []*SubmittedJobInfo
	next    time.Duration
	err     error
}

// activeSet is an ordered set of submitted jobs keyed by job id. It is only
// touched by the poller goroutine.
type activeSet struct {
	jobs []*SubmittedJobInfo
	ids  map[int]struct{}
	// checking holds the ids of the batch handed to the round in flight.
	checking map[int]struct{}
	// held are submissions whose id belongs to a job of the round in flight,
	// typically a new attempt submitted from a finish or error callback.
	held []*SubmittedJobInfo
}

func newActiveSet() *activeSet {
	return &activeSet{
		ids:      make(map[int]struct{}),
		checking: make(map[int]struct{}),
	}
}

// add reports false when the id is already taken by a job that is not part
// of the round in flight.
func (s *activeSet) add(info *SubmittedJobInfo) bool {
	id := info.Job.JobID()
	if _, ok := s.ids[id]; !ok {
		s.ids[id] = struct{}{}
		s.jobs = append(s.jobs, info)
		return true
	}
	if _, ok := s.checking[id]; ok {
		s.held = append(s.held, info)
		return true
	}
	return false
}

// drain empties the set and returns its jobs. Their ids stay reserved until
// settle so a round in flight cannot see a duplicate submission.
func (s *activeSet) drain() []*SubmittedJobInfo {
	jobs := s.jobs
	s.jobs = nil
	for _, info := range jobs {
		s.checking[info.Job.JobID()] = struct{}{}
	}
	return jobs
}

// settle applies the outcome of a round: ids of batch jobs missing from
// running are released, running jobs rejoin the set and held submissions
// take over their released ids. Held jobs whose id is still taken are
// returned.
func (s *activeSet) settle(batch, running []*SubmittedJobInfo) []*SubmittedJobInfo {
	live := make(map[int]struct{}, len(running))
	for _, info := range running {
		live[info.Job.JobID()] = struct{}{}
	}
	for _, info := range batch {
		if _, ok := live[info.Job.JobID()]; !ok {
			delete(s.ids, info.Job.JobID())
		}
	}
	clear(s.checking)
	s.jobs = append(s.jobs, running...)

	held := s.held
	s.held = nil
	var dropped []*SubmittedJobInfo
	for _, info := range held {
		id := info.Job.JobID()
		if _, ok := s.ids[id]; ok {
			dropped = append(dropped, info)
			continue
		}
		s.ids[id] = struct{}{}
		s.jobs = append(s.jobs, info)
	}
	return dropped
}

// pending returns the jobs waiting for the next round, held ones included.
func (s *activeSet) pending() []*SubmittedJobInfo {
	out := make([]*SubmittedJobInfo, 0, len(s.jobs)+len(s.held))
	out = append(out, s.jobs...)
	return append(out, s.held...)
}

func (s *activeSet) len() int {
	return len(s.jobs) + len(s.held)
}

// poll owns the active set. Submissions, snapshot requests and the stop
// signal arrive over channels; status checks run on a separate goroutine so
// submissions are accepted while a check is in flight.
func (r *Remote) poll() {
	defer close(r.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	set := newActiveSet()
	// inflight is the batch handed to the current round.
	var inflight []*SubmittedJobInfo
	var results chan roundResult

	timer := time.NewTimer(r.config.Common.InitSecondsBeforeStatusChecks)
	defer timer.Stop()

	accept := func(info *SubmittedJobInfo) {
		if !set.add(info) {
			r.logger.Warn("job is already active, ignoring duplicate submission", "jobid", info.Job.JobID())
			return
		}
		r.active.Add(1)
	}

	snapshot := func() []*SubmittedJobInfo {
		out := make([]*SubmittedJobInfo, 0, set.len()+len(inflight))
		out = append(out, inflight...)
		return append(out, set.pending()...)
	}

	settle := func(running []*SubmittedJobInfo) {
		for _, info := range set.settle(inflight, running) {
			r.logger.Warn("job is still active, dropping resubmission", "jobid", info.Job.JobID())
		}
		inflight = nil
	}

	finish := func(running []*SubmittedJobInfo) {
		r.remaining = append(running, set.pending()...)
	}

	for {
		select {
		case <-r.stop:
			cancel()
			if results == nil {
				finish(nil)
				return
			}
			// Keep accepting submissions from callbacks of the round
			// in flight until it returns.
			for {
				select {
				case info := <-r.submissions:
					accept(info)
				case reply := <-r.snapshots:
					reply <- snapshot()
				case res := <-results:
					if res.err != nil {
						finish(inflight)
					} else {
						settle(res.running)
						finish(nil)
					}
					return
				}
			}

		case info := <-r.submissions:
			accept(info)

		case reply := <-r.snapshots:
			reply <- snapshot()

		case <-timer.C:
			inflight = set.drain()
			r.active.Store(int64(len(inflight)))
			results = make(chan roundResult, 1)
			go r.checkRound(ctx, inflight, results)

		case res := <-results:
			results = nil
			if res.err != nil {
				r.logger.Error("status check failed, no longer polling jobs", "error", res.err)
				r.host.Scheduler().ExecutorErrorCallback(res.err)
				finish(inflight)
				return
			}

			settle(res.running)
			r.active.Store(int64(set.len()))

			next := res.next
			if next <= 0 {
				next = r.remote.SecondsBetweenStatusChecks
			}
			timer.Reset(next)
		}
	}
}

// checkRound runs one status check for batch and routes the results.
// Scheduler callbacks run here, not on the poller, so a callback that
// submits follow-up jobs does not block.
func (r *Remote) checkRound(ctx context.Context, batch []*SubmittedJobInfo, results chan<- roundResult) {
	var res roundResult
	defer func() {
		if p := recover(); p != nil {
			res = roundResult{err: fmt.Errorf("panic during status check: %v\n%s", p, debug.Stack())}
		}
		results <- res
	}()

	if len(batch) == 0 {
		return
	}
	// Delays the round instead of skipping it.
	if err := r.limiter.Wait(ctx); err != nil {
		res.err = err
		return
	}

	ctx, span := r.tracer.Start(ctx, "executor.check_active_jobs",
		trace.WithAttributes(
			attribute.String("executor.plugin", r.config.Plugin),
			attribute.Int("jobs.active", len(batch)),
		),
	)
	defer span.End()
	r.metrics.rounds.Add(ctx, 1, r.metrics.attrs)

	check, err := r.backend.CheckActiveJobs(ctx, batch)
	if ctx.Err() != nil {
		// Shutting down: whatever the backend saw is not a verdict.
		res.running = batch
		return
	}
	if err != nil {
		span.RecordError(err)
		res.err = fmt.Errorf("failed to check active jobs: %w", err)
		return
	}

	byID := make(map[int]JobStatus, len(check.Statuses))
	for _, st := range check.Statuses {
		if st.Info == nil || st.Info.Job == nil {
			continue
		}
		byID[st.Info.Job.JobID()] = st
	}

	for _, info := range batch {
		st, ok := byID[info.Job.JobID()]
		switch {
		case !ok || st.State == Running:
			res.running = append(res.running, info)
		case st.State == Succeeded:
			r.ReportJobSuccess(ctx, info)
		case st.State == Failed:
			r.ReportJobError(ctx, info, st.Message)
		}
	}
	res.next = check.NextCheck
}
