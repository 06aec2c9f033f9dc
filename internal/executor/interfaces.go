// Package executor implements the remote execution engine: it turns host
// jobs into spawnable commands, hands them to a Backend for submission and
// polls the Backend until every submitted job reaches a terminal state.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"snakeplane/internal/cliargs"
	"snakeplane/internal/settings"
)

// Job is the host's unit of work as seen by an executor.
type Job interface {
	// JobID is unique within one host run.
	JobID() int
	Name() string
	IsGroup() bool
	// IsUpdated is true for jobs whose rules must be re-evaluated by the
	// spawned process.
	IsUpdated() bool
	Rules() []string
	Attempt() int
	Threads() int
	// Resources are the resolved resource values of the job.
	Resources() map[string]any
	// Properties is the serializable job description embedded in jobscripts.
	Properties() map[string]any
	TargetSpec() []cliargs.TargetSpec
	// WaitForFiles lists paths the spawned process waits for before running.
	WaitForFiles() []string
	UnneededTempFiles() []string
	// FormatWildcards expands {jobid}, {name}, {rulename} and wildcard
	// placeholders in pattern.
	FormatWildcards(pattern string) (string, error)

	// Register marks the job as started in the host's persistence.
	Register(ctx context.Context, externalJobID string) error
	Postprocess(ctx context.Context) error
	// Cleanup removes (possibly incomplete) output of a failed job.
	Cleanup(ctx context.Context) error
}

// Scheduler receives job lifecycle callbacks.
type Scheduler interface {
	SubmitCallback(job Job)
	FinishCallback(job Job)
	ErrorCallback(job Job)
	// ExecutorErrorCallback is called when the engine itself fails and can
	// no longer track jobs.
	ExecutorErrorCallback(err error)
}

// Persistence is the host's on-disk job metadata store.
type Persistence interface {
	Path() string
	AuxPath() string
	// Cleanup removes the metadata of a failed job.
	Cleanup(ctx context.Context, job Job) error
}

// SpawnedJobArgs builds the host-wide part of a spawned command.
type SpawnedJobArgs interface {
	GeneralArgs(common settings.CommonSettings) string
	Precommand(common settings.CommonSettings) string
	EnvVars() map[string]string
}

// Host is everything the engine needs from the workflow host.
type Host interface {
	Snakefile() string
	Workdir() string
	RemoteExecution() settings.RemoteExecution
	Execution() settings.Execution
	Storage() settings.Storage
	Resources() settings.Resources
	Group() settings.Group
	Scheduler() Scheduler
	Persistence() Persistence
	SpawnedJobArgs() SpawnedJobArgs
	// Logger is the run's logger, never nil. Backends derive theirs from it.
	Logger() *slog.Logger
}

// SubmittedJobInfo tracks one submitted job.
type SubmittedJobInfo struct {
	Job Job
	// ExternalJobID is the backend-assigned identifier, empty if none.
	ExternalJobID string
	// Aux holds backend bookkeeping. Only the owning backend touches it.
	Aux map[string]any
}

// JobState is the outcome of a status check for one job.
type JobState int

const (
	Running JobState = iota
	Succeeded
	Failed
)

func (s JobState) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "running"
	}
}

// JobStatus is the status of one job reported by a backend.
type JobStatus struct {
	Info  *SubmittedJobInfo
	State JobState
	// Message is shown to the user for failed jobs.
	Message string
}

// CheckResult is returned by Backend.CheckActiveJobs. Jobs the backend does
// not mention stay active.
type CheckResult struct {
	Statuses []JobStatus
	// NextCheck overrides the pause before the next round. It applies to
	// one round only; zero keeps the configured interval.
	NextCheck time.Duration
}

// Backend is implemented by executor plugins.
type Backend interface {
	// Submit hands one job to the execution substrate.
	Submit(ctx context.Context, job Job, tk Toolkit) (*SubmittedJobInfo, error)
	// CheckActiveJobs reports the state of the given jobs.
	CheckActiveJobs(ctx context.Context, active []*SubmittedJobInfo) (CheckResult, error)
	// CancelJobs aborts the given jobs.
	CancelJobs(ctx context.Context, active []*SubmittedJobInfo) error
}

// Toolkit is the engine surface a backend uses while submitting.
type Toolkit interface {
	FormatJobExec(job Job) (string, error)
	JobName(job Job) (string, error)
	JobScriptPath(job Job) (string, error)
	// WriteJobScript renders the jobscript for job to path and returns its content.
	WriteJobScript(job Job, path string) (string, error)
	TmpDir() (string, error)
}

// Factory builds a backend for a host from the plugin's settings.
type Factory func(host Host, record *settings.Record) (Backend, error)

// ErrStopped is returned when a job is reported after the engine stopped polling.
var ErrStopped = errors.New("executor has stopped")

// WorkflowError is a user-facing configuration or execution error.
type WorkflowError struct {
	Msg string
	Err error
}

func (e *WorkflowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}
