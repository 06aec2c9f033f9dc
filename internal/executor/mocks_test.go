package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"snakeplane/internal/cliargs"
	"snakeplane/internal/settings"
)

// MockJob implements Job for testing.
type MockJob struct {
	ID          int
	Rule        string
	Group       bool
	Updated     bool
	Res         map[string]any
	WaitFiles   []string
	RegisterErr error

	mu         sync.Mutex
	registered []string
	cleaned    int
}

func (j *MockJob) JobID() int        { return j.ID }
func (j *MockJob) Name() string      { return j.Rule }
func (j *MockJob) IsGroup() bool     { return j.Group }
func (j *MockJob) IsUpdated() bool   { return j.Updated }
func (j *MockJob) Rules() []string   { return []string{j.Rule} }
func (j *MockJob) Attempt() int      { return 1 }
func (j *MockJob) Threads() int      { return 1 }
func (j *MockJob) WaitForFiles() []string {
	return j.WaitFiles
}
func (j *MockJob) UnneededTempFiles() []string { return nil }
func (j *MockJob) Resources() map[string]any  { return j.Res }
func (j *MockJob) Properties() map[string]any {
	return map[string]any{"rule": j.Rule, "jobid": j.ID}
}

func (j *MockJob) TargetSpec() []cliargs.TargetSpec {
	return []cliargs.TargetSpec{{Rule: j.Rule, Wildcards: map[string]string{"sample": "A"}}}
}

func (j *MockJob) FormatWildcards(pattern string) (string, error) {
	r := strings.NewReplacer("{jobid}", fmt.Sprint(j.ID), "{rulename}", j.Rule, "{name}", j.Rule)
	return r.Replace(pattern), nil
}

func (j *MockJob) Register(ctx context.Context, externalJobID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.registered = append(j.registered, externalJobID)
	return j.RegisterErr
}

func (j *MockJob) Postprocess(ctx context.Context) error { return nil }

func (j *MockJob) Cleanup(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cleaned++
	return nil
}

// MockScheduler records callbacks.
type MockScheduler struct {
	mu             sync.Mutex
	submitted      []int
	finished       []int
	failed         []int
	executorErrors []error
	// OnFinish is called from FinishCallback, e.g. to submit follow-up jobs.
	OnFinish func(job Job)
}

func (s *MockScheduler) SubmitCallback(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, job.JobID())
}

func (s *MockScheduler) FinishCallback(job Job) {
	s.mu.Lock()
	s.finished = append(s.finished, job.JobID())
	onFinish := s.OnFinish
	s.mu.Unlock()
	if onFinish != nil {
		onFinish(job)
	}
}

func (s *MockScheduler) ErrorCallback(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, job.JobID())
}

func (s *MockScheduler) ExecutorErrorCallback(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executorErrors = append(s.executorErrors, err)
}

func (s *MockScheduler) snapshot() (finished, failed []int, errs []error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.finished...), append([]int(nil), s.failed...), append([]error(nil), s.executorErrors...)
}

// MockPersistence implements Persistence for testing.
type MockPersistence struct {
	mu      sync.Mutex
	cleaned []int
}

func (p *MockPersistence) Path() string    { return "/work/.snakemake" }
func (p *MockPersistence) AuxPath() string { return "/work/.snakemake/auxiliary" }
func (p *MockPersistence) Cleanup(ctx context.Context, job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleaned = append(p.cleaned, job.JobID())
	return nil
}

// MockSpawnedArgs implements SpawnedJobArgs for testing.
type MockSpawnedArgs struct {
	Env        map[string]string
	Precmd     string
	GeneralStr string
}

func (a *MockSpawnedArgs) GeneralArgs(settings.CommonSettings) string { return a.GeneralStr }
func (a *MockSpawnedArgs) Precommand(settings.CommonSettings) string  { return a.Precmd }
func (a *MockSpawnedArgs) EnvVars() map[string]string                 { return a.Env }

// MockHost implements Host for testing.
type MockHost struct {
	Dir         string
	Remote      settings.RemoteExecution
	Exec        settings.Execution
	Store       settings.Storage
	Res         settings.Resources
	Sched       *MockScheduler
	Persist     *MockPersistence
	Spawned     *MockSpawnedArgs
	SnakefileAt string
}

func newMockHost(t *testing.T) *MockHost {
	t.Helper()
	dir := t.TempDir()
	return &MockHost{
		Dir: dir,
		Remote: settings.RemoteExecution{
			JobName:                    "snakejob.{rulename}.{jobid}.sh",
			MaxStatusChecksPerSecond:   1000,
			SecondsBetweenStatusChecks: 10 * time.Millisecond,
		},
		Sched:       &MockScheduler{},
		Persist:     &MockPersistence{},
		Spawned:     &MockSpawnedArgs{},
		SnakefileAt: "Snakefile",
	}
}

func (h *MockHost) Snakefile() string                         { return h.SnakefileAt }
func (h *MockHost) Workdir() string                           { return h.Dir }
func (h *MockHost) RemoteExecution() settings.RemoteExecution { return h.Remote }
func (h *MockHost) Execution() settings.Execution             { return h.Exec }
func (h *MockHost) Storage() settings.Storage                 { return h.Store }
func (h *MockHost) Resources() settings.Resources             { return h.Res }
func (h *MockHost) Group() settings.Group                     { return settings.Group{LocalGroupID: "local"} }
func (h *MockHost) Scheduler() Scheduler                      { return h.Sched }
func (h *MockHost) Persistence() Persistence                  { return h.Persist }
func (h *MockHost) SpawnedJobArgs() SpawnedJobArgs            { return h.Spawned }
func (h *MockHost) Logger() *slog.Logger                      { return slog.Default() }

// MockBackend implements Backend for testing.
type MockBackend struct {
	SubmitFunc func(ctx context.Context, job Job, tk Toolkit) (*SubmittedJobInfo, error)
	CheckFunc  func(ctx context.Context, active []*SubmittedJobInfo) (CheckResult, error)

	mu        sync.Mutex
	checks    int
	inFlight  int
	cancelled []int
}

func (b *MockBackend) Submit(ctx context.Context, job Job, tk Toolkit) (*SubmittedJobInfo, error) {
	if b.SubmitFunc != nil {
		return b.SubmitFunc(ctx, job, tk)
	}
	return &SubmittedJobInfo{Job: job, ExternalJobID: fmt.Sprintf("ext-%d", job.JobID())}, nil
}

func (b *MockBackend) CheckActiveJobs(ctx context.Context, active []*SubmittedJobInfo) (CheckResult, error) {
	b.mu.Lock()
	b.checks++
	b.inFlight++
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.inFlight--
		b.mu.Unlock()
	}()

	if b.CheckFunc != nil {
		return b.CheckFunc(ctx, active)
	}
	return CheckResult{}, nil
}

func (b *MockBackend) CancelJobs(ctx context.Context, active []*SubmittedJobInfo) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, info := range active {
		b.cancelled = append(b.cancelled, info.Job.JobID())
	}
	return nil
}

func (b *MockBackend) checkCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.checks
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
