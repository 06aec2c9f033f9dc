package executor

import (
	"context"
	"errors"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"snakeplane/internal/settings"
)

func newTestRemote(t *testing.T, host *MockHost, backend *MockBackend) *Remote {
	t.Helper()
	r, err := NewRemote(host, backend, RemoteConfig{Plugin: "test"})
	if err != nil {
		t.Fatalf("NewRemote failed: %v", err)
	}
	t.Cleanup(r.Shutdown)
	return r
}

func statusFor(active []*SubmittedJobInfo, states map[int]JobState) CheckResult {
	var res CheckResult
	for _, info := range active {
		if st, ok := states[info.Job.JobID()]; ok {
			res.Statuses = append(res.Statuses, JobStatus{Info: info, State: st, Message: "exit 1"})
		}
	}
	return res
}

func TestRemote_RoutesStatuses(t *testing.T) {
	host := newMockHost(t)
	backend := &MockBackend{
		CheckFunc: func(ctx context.Context, active []*SubmittedJobInfo) (CheckResult, error) {
			return statusFor(active, map[int]JobState{1: Succeeded, 2: Failed}), nil
		},
	}
	r := newTestRemote(t, host, backend)

	failing := &MockJob{ID: 2, Rule: "b"}
	if err := r.RunJobs(context.Background(), []Job{&MockJob{ID: 1, Rule: "a"}, failing, &MockJob{ID: 3, Rule: "c"}}); err != nil {
		t.Fatalf("RunJobs failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		finished, failed, _ := host.Sched.snapshot()
		return len(finished) == 1 && len(failed) == 1
	})

	finished, failed, _ := host.Sched.snapshot()
	if finished[0] != 1 || failed[0] != 2 {
		t.Errorf("unexpected callbacks: finished=%v failed=%v", finished, failed)
	}
	if failing.cleaned != 1 {
		t.Errorf("expected failed job output to be cleaned up, got %d", failing.cleaned)
	}
	if !slices.Contains(host.Persist.cleaned, 2) {
		t.Errorf("expected failed job metadata to be cleaned up")
	}

	active := r.Active()
	if len(active) != 1 || active[0].Job.JobID() != 3 {
		t.Errorf("expected job 3 to remain active, got %d jobs", len(active))
	}
}

func TestRemote_KeepIncompleteSkipsCleanup(t *testing.T) {
	host := newMockHost(t)
	host.Exec.KeepIncomplete = true
	backend := &MockBackend{
		CheckFunc: func(ctx context.Context, active []*SubmittedJobInfo) (CheckResult, error) {
			return statusFor(active, map[int]JobState{1: Failed}), nil
		},
	}
	r := newTestRemote(t, host, backend)

	job := &MockJob{ID: 1, Rule: "a"}
	if err := r.Run(context.Background(), job); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		_, failed, _ := host.Sched.snapshot()
		return len(failed) == 1
	})
	if job.cleaned != 0 {
		t.Error("expected output to be kept")
	}
}

func TestRemote_MarkerErrorIsTolerated(t *testing.T) {
	host := newMockHost(t)
	r := newTestRemote(t, host, &MockBackend{})

	job := &MockJob{ID: 7, Rule: "a", RegisterErr: errors.New("permission denied")}
	if err := r.Run(context.Background(), job); err != nil {
		t.Fatalf("expected marker error to be tolerated, got %v", err)
	}
	if len(job.registered) != 1 || job.registered[0] != "ext-7" {
		t.Errorf("expected register with external id, got %v", job.registered)
	}
	if len(r.Active()) != 1 {
		t.Error("expected job to be active despite marker error")
	}
}

func TestRemote_SubmitErrorCallsErrorCallback(t *testing.T) {
	host := newMockHost(t)
	backend := &MockBackend{
		SubmitFunc: func(ctx context.Context, job Job, tk Toolkit) (*SubmittedJobInfo, error) {
			return nil, errors.New("qsub: not found")
		},
	}
	r := newTestRemote(t, host, backend)

	if err := r.Run(context.Background(), &MockJob{ID: 1, Rule: "a"}); err == nil {
		t.Fatal("expected submit error")
	}
	_, failed, _ := host.Sched.snapshot()
	if len(failed) != 1 {
		t.Errorf("expected error callback, got %v", failed)
	}
	if len(r.Active()) != 0 {
		t.Error("expected no active jobs")
	}
}

func TestRemote_DuplicateSubmissionIgnored(t *testing.T) {
	host := newMockHost(t)
	r, err := NewRemote(host, &MockBackend{}, RemoteConfig{
		Plugin: "test",
		Common: settings.CommonSettings{InitSecondsBeforeStatusChecks: time.Hour},
	})
	if err != nil {
		t.Fatalf("NewRemote failed: %v", err)
	}
	t.Cleanup(r.Shutdown)

	job := &MockJob{ID: 1, Rule: "a"}
	for i := 0; i < 3; i++ {
		if err := r.ReportSubmission(context.Background(), &SubmittedJobInfo{Job: job}); err != nil {
			t.Fatalf("ReportSubmission failed: %v", err)
		}
	}
	if n := len(r.Active()); n != 1 {
		t.Errorf("expected job once in active set, got %d", n)
	}
}

func TestRemote_ShutdownStopsPolling(t *testing.T) {
	host := newMockHost(t)
	backend := &MockBackend{}
	r := newTestRemote(t, host, backend)

	if err := r.Run(context.Background(), &MockJob{ID: 1, Rule: "a"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return backend.checkCount() > 0 })

	r.Shutdown()
	r.Shutdown()

	select {
	case <-r.Done():
	default:
		t.Fatal("expected poller to be stopped after Shutdown")
	}

	backend.mu.Lock()
	inFlight := backend.inFlight
	backend.mu.Unlock()
	if inFlight != 0 {
		t.Errorf("expected no status check in flight after Shutdown, got %d", inFlight)
	}

	checks := backend.checkCount()
	time.Sleep(50 * time.Millisecond)
	if backend.checkCount() != checks {
		t.Error("backend was called after Shutdown returned")
	}

	err := r.Run(context.Background(), &MockJob{ID: 2, Rule: "b"})
	if !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped after shutdown, got %v", err)
	}
}

func TestRemote_ShutdownWaitsForInFlightCheck(t *testing.T) {
	host := newMockHost(t)
	started := make(chan struct{})
	var once sync.Once
	backend := &MockBackend{
		CheckFunc: func(ctx context.Context, active []*SubmittedJobInfo) (CheckResult, error) {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return CheckResult{}, ctx.Err()
		},
	}
	r := newTestRemote(t, host, backend)

	if err := r.Run(context.Background(), &MockJob{ID: 1, Rule: "a"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	<-started

	r.Shutdown()

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.inFlight != 0 {
		t.Error("Shutdown returned while a status check was in flight")
	}
	if _, _, errs := host.Sched.snapshot(); len(errs) != 0 {
		t.Errorf("shutdown must not be reported as an executor error, got %v", errs)
	}
	if remaining := r.Active(); len(remaining) != 1 {
		t.Errorf("expected in-flight job to be kept, got %d", len(remaining))
	}
}

func TestRemote_ShutdownRemovesTmpDir(t *testing.T) {
	host := newMockHost(t)
	r := newTestRemote(t, host, &MockBackend{})

	dir, err := r.TmpDir()
	if err != nil {
		t.Fatalf("TmpDir failed: %v", err)
	}
	if !strings.HasPrefix(dir, host.Dir) {
		t.Errorf("expected tmpdir below workdir, got %s", dir)
	}

	r.Shutdown()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("expected tmpdir to be removed, stat err=%v", err)
	}
}

func TestRemote_ImmediateSubmitKeepsTmpDir(t *testing.T) {
	host := newMockHost(t)
	host.Remote.ImmediateSubmit = true
	r := newTestRemote(t, host, &MockBackend{})

	dir, err := r.TmpDir()
	if err != nil {
		t.Fatalf("TmpDir failed: %v", err)
	}
	r.Shutdown()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("expected tmpdir to be kept with immediate submit: %v", err)
	}
}

func TestRemote_Cancel(t *testing.T) {
	host := newMockHost(t)
	host.Remote.SecondsBetweenStatusChecks = time.Hour
	backend := &MockBackend{}
	r := newTestRemote(t, host, backend)

	for _, id := range []int{1, 2} {
		if err := r.Run(context.Background(), &MockJob{ID: id, Rule: "a"}); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	}

	if err := r.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	backend.mu.Lock()
	cancelled := slices.Clone(backend.cancelled)
	backend.mu.Unlock()
	slices.Sort(cancelled)
	if !slices.Equal(cancelled, []int{1, 2}) {
		t.Errorf("expected jobs 1 and 2 to be cancelled, got %v", cancelled)
	}
	select {
	case <-r.Done():
	default:
		t.Error("expected Cancel to shut the poller down")
	}
}

func TestRemote_CheckErrorIsForwarded(t *testing.T) {
	host := newMockHost(t)
	backend := &MockBackend{
		CheckFunc: func(ctx context.Context, active []*SubmittedJobInfo) (CheckResult, error) {
			return CheckResult{}, errors.New("squeue unavailable")
		},
	}
	r := newTestRemote(t, host, backend)

	if err := r.Run(context.Background(), &MockJob{ID: 1, Rule: "a"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected poller to stop after a failed status check")
	}

	_, _, errs := host.Sched.snapshot()
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "squeue unavailable") {
		t.Errorf("expected forwarded executor error, got %v", errs)
	}
	if backend.checkCount() != 1 {
		t.Errorf("expected polling to stop after the error, got %d checks", backend.checkCount())
	}

	// The unfinished job can still be cancelled.
	if err := r.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if len(backend.cancelled) != 1 {
		t.Errorf("expected the unfinished job to be cancelled, got %v", backend.cancelled)
	}
}

func TestRemote_CheckPanicIsForwarded(t *testing.T) {
	host := newMockHost(t)
	backend := &MockBackend{
		CheckFunc: func(ctx context.Context, active []*SubmittedJobInfo) (CheckResult, error) {
			panic("boom")
		},
	}
	r := newTestRemote(t, host, backend)

	if err := r.Run(context.Background(), &MockJob{ID: 1, Rule: "a"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected poller to stop after a panic")
	}
	_, _, errs := host.Sched.snapshot()
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "boom") {
		t.Errorf("expected forwarded panic, got %v", errs)
	}
}

func TestRemote_NextCheckOverrideIsOneShot(t *testing.T) {
	host := newMockHost(t)
	host.Remote.SecondsBetweenStatusChecks = time.Hour
	backend := &MockBackend{}
	backend.CheckFunc = func(ctx context.Context, active []*SubmittedJobInfo) (CheckResult, error) {
		// checks was incremented before CheckFunc runs.
		if backend.checkCount() == 1 {
			return CheckResult{NextCheck: 10 * time.Millisecond}, nil
		}
		return CheckResult{}, nil
	}
	// The first round must see the job, or the hour-long interval applies.
	r, err := NewRemote(host, backend, RemoteConfig{
		Plugin: "test",
		Common: settings.CommonSettings{InitSecondsBeforeStatusChecks: 50 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("NewRemote failed: %v", err)
	}
	t.Cleanup(r.Shutdown)

	if err := r.Run(context.Background(), &MockJob{ID: 1, Rule: "a"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return backend.checkCount() >= 2 })
	time.Sleep(100 * time.Millisecond)
	if n := backend.checkCount(); n != 2 {
		t.Errorf("expected the override to apply to one round only, got %d checks", n)
	}
}

func TestRemote_CallbackMaySubmit(t *testing.T) {
	host := newMockHost(t)
	backend := &MockBackend{
		CheckFunc: func(ctx context.Context, active []*SubmittedJobInfo) (CheckResult, error) {
			return statusFor(active, map[int]JobState{1: Succeeded}), nil
		},
	}
	r := newTestRemote(t, host, backend)

	submitted := make(chan error, 1)
	host.Sched.OnFinish = func(job Job) {
		if job.JobID() == 1 {
			submitted <- r.Run(context.Background(), &MockJob{ID: 2, Rule: "downstream"})
		}
	}

	if err := r.Run(context.Background(), &MockJob{ID: 1, Rule: "a"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	select {
	case err := <-submitted:
		if err != nil {
			t.Fatalf("follow-up submission failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("follow-up submission from a callback blocked")
	}
}

func TestRemote_ResubmissionFromCallbackIsPolled(t *testing.T) {
	host := newMockHost(t)
	var mu sync.Mutex
	var seen []string
	backend := &MockBackend{
		CheckFunc: func(ctx context.Context, active []*SubmittedJobInfo) (CheckResult, error) {
			mu.Lock()
			for _, info := range active {
				seen = append(seen, info.Job.Name())
			}
			mu.Unlock()
			return statusFor(active, map[int]JobState{1: Succeeded}), nil
		},
	}
	r := newTestRemote(t, host, backend)

	var once sync.Once
	resubmitted := make(chan error, 1)
	host.Sched.OnFinish = func(job Job) {
		once.Do(func() {
			resubmitted <- r.Run(context.Background(), &MockJob{ID: 1, Rule: "attempt2"})
		})
	}

	if err := r.Run(context.Background(), &MockJob{ID: 1, Rule: "attempt1"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := <-resubmitted; err != nil {
		t.Fatalf("resubmission failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		finished, _, _ := host.Sched.snapshot()
		return len(finished) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if !slices.Contains(seen, "attempt2") {
		t.Errorf("expected the second attempt to be checked, saw %v", seen)
	}
}

func TestRemote_ResubmissionWaitsForRoundInFlight(t *testing.T) {
	host := newMockHost(t)
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	backend := &MockBackend{
		CheckFunc: func(ctx context.Context, active []*SubmittedJobInfo) (CheckResult, error) {
			once.Do(func() { close(started) })
			<-release
			var res CheckResult
			for _, info := range active {
				if info.Job.Name() == "attempt1" {
					res.Statuses = append(res.Statuses, JobStatus{Info: info, State: Failed, Message: "exit 1"})
				}
			}
			return res, nil
		},
	}
	r := newTestRemote(t, host, backend)

	if err := r.Run(context.Background(), &MockJob{ID: 1, Rule: "attempt1"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	<-started

	if err := r.Run(context.Background(), &MockJob{ID: 1, Rule: "attempt2"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if n := len(r.Active()); n != 2 {
		t.Errorf("expected both attempts to be visible while the round runs, got %d", n)
	}
	close(release)

	waitFor(t, 2*time.Second, func() bool {
		_, failed, _ := host.Sched.snapshot()
		return len(failed) == 1
	})
	waitFor(t, 2*time.Second, func() bool {
		active := r.Active()
		return len(active) == 1 && active[0].Job.Name() == "attempt2"
	})
}

func TestRemote_ShutdownDoesNotRouteCancelledRound(t *testing.T) {
	host := newMockHost(t)
	started := make(chan struct{})
	var once sync.Once
	backend := &MockBackend{
		CheckFunc: func(ctx context.Context, active []*SubmittedJobInfo) (CheckResult, error) {
			once.Do(func() { close(started) })
			<-ctx.Done()
			// Inspect calls fail once the context is gone.
			return statusFor(active, map[int]JobState{7: Failed}), nil
		},
	}
	r := newTestRemote(t, host, backend)

	job := &MockJob{ID: 7, Rule: "a"}
	if err := r.Run(context.Background(), job); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	<-started

	r.Shutdown()

	if _, failed, _ := host.Sched.snapshot(); len(failed) != 0 {
		t.Errorf("expected no error callbacks after shutdown, got %v", failed)
	}
	job.mu.Lock()
	cleaned := job.cleaned
	job.mu.Unlock()
	if cleaned != 0 {
		t.Errorf("expected output of a running job to be kept, cleaned %d times", cleaned)
	}
	if remaining := r.Active(); len(remaining) != 1 {
		t.Errorf("expected job to remain active, got %d", len(remaining))
	}
}

func TestNewRemote_ValidatesJobName(t *testing.T) {
	host := newMockHost(t)
	host.Remote.JobName = "snakejob.sh"

	_, err := NewRemote(host, &MockBackend{}, RemoteConfig{})
	var wfErr *WorkflowError
	if !errors.As(err, &wfErr) || !strings.Contains(err.Error(), "{jobid}") {
		t.Errorf("expected jobname WorkflowError, got %v", err)
	}
}

func TestNewRemote_RejectsBadRate(t *testing.T) {
	host := newMockHost(t)
	host.Remote.MaxStatusChecksPerSecond = 0

	if _, err := NewRemote(host, &MockBackend{}, RemoteConfig{}); err == nil {
		t.Error("expected error for zero status check rate")
	}
}
