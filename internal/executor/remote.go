package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"snakeplane/internal/jobscript"
	"snakeplane/internal/settings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// RemoteConfig holds the engine settings that do not come from the host.
type RemoteConfig struct {
	// Plugin is the name of the executor plugin, used in logs and metrics.
	Plugin string
	Common settings.CommonSettings
	// Interpreter runs the spawned host module when software deployment
	// lives on the shared filesystem (default: "python").
	Interpreter string
	// SharedLocalGroupID passes the host's local group id to every spawned
	// job instead of a job-specific one.
	SharedLocalGroupID bool
	Logger             *slog.Logger
}

// Remote is the remote execution engine. It submits jobs through a Backend
// and polls their status on a background goroutine until Shutdown.
type Remote struct {
	host    Host
	backend Backend
	config  RemoteConfig
	logger  *slog.Logger
	remote  settings.RemoteExecution
	script  *jobscript.Renderer
	limiter *rate.Limiter
	tracer  trace.Tracer
	metrics *metrics

	tmpMu  sync.Mutex
	tmpdir string

	submissions chan *SubmittedJobInfo
	snapshots   chan chan []*SubmittedJobInfo
	stop        chan struct{}
	stopOnce    sync.Once
	cleanOnce   sync.Once
	done        chan struct{}
	// remaining holds the unfinished jobs once done is closed.
	remaining []*SubmittedJobInfo
	active    atomic.Int64
}

// NewRemote validates the remote execution settings, loads the jobscript
// template and starts the status poller.
func NewRemote(host Host, backend Backend, config RemoteConfig) (*Remote, error) {
	if config.Interpreter == "" {
		config.Interpreter = "python"
	}
	if config.Logger == nil {
		config.Logger = host.Logger()
	}

	remote := host.RemoteExecution()
	if !containsJobID(remote.JobName) {
		return nil, &WorkflowError{Msg: fmt.Sprintf("defined jobname (%q) has to contain the wildcard {jobid}", remote.JobName)}
	}
	if remote.SecondsBetweenStatusChecks <= 0 {
		return nil, &WorkflowError{Msg: "seconds between status checks must be positive"}
	}

	script, err := jobscript.Load(remote.JobScript)
	if err != nil {
		return nil, &WorkflowError{Msg: "failed to load jobscript", Err: err}
	}

	throttle, err := NewThrottle(remote.MaxStatusChecksPerSecond)
	if err != nil {
		return nil, err
	}

	r := &Remote{
		host:        host,
		backend:     backend,
		config:      config,
		logger:      config.Logger.With("executor", config.Plugin),
		remote:      remote,
		script:      script,
		limiter:     throttle.Limiter(),
		tracer:      otel.Tracer("snakeplane/executor"),
		submissions: make(chan *SubmittedJobInfo),
		snapshots:   make(chan chan []*SubmittedJobInfo),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	r.metrics, err = newMetrics(config.Plugin, &r.active)
	if err != nil {
		return nil, err
	}

	go r.poll()
	return r, nil
}

// Done returns a channel that is closed when the poller has stopped.
func (r *Remote) Done() <-chan struct{} {
	return r.done
}

// Run submits a single job.
func (r *Remote) Run(ctx context.Context, job Job) error {
	ctx, span := r.tracer.Start(ctx, "executor.submit",
		trace.WithAttributes(
			attribute.String("executor.plugin", r.config.Plugin),
			attribute.Int("job.id", job.JobID()),
			attribute.String("job.name", job.Name()),
		),
	)
	defer span.End()

	r.logger.Info("submitting job", "jobid", job.JobID(), "name", job.Name())

	info, err := r.backend.Submit(ctx, job, r)
	if err != nil {
		span.RecordError(err)
		r.logger.Error("job submission failed", "jobid", job.JobID(), "error", err)
		r.host.Scheduler().ErrorCallback(job)
		return fmt.Errorf("failed to submit job %d: %w", job.JobID(), err)
	}
	if info == nil {
		info = &SubmittedJobInfo{Job: job}
	}
	if info.Job == nil {
		info.Job = job
	}
	span.SetAttributes(attribute.String("job.external_id", info.ExternalJobID))
	return r.ReportSubmission(ctx, info)
}

// RunJobs submits every job in order. It stops at the first job that could
// not be handed to the poller and returns the errors of all failed submissions.
func (r *Remote) RunJobs(ctx context.Context, jobs []Job) error {
	var errs []error
	for _, job := range jobs {
		if err := r.Run(ctx, job); err != nil {
			errs = append(errs, err)
			if errors.Is(err, ErrStopped) {
				break
			}
		}
	}
	return errors.Join(errs...)
}

// ReportSubmission notifies the scheduler, marks the job as started and
// hands it to the poller. Failing to write the started marker is logged but
// does not fail the submission.
func (r *Remote) ReportSubmission(ctx context.Context, info *SubmittedJobInfo) error {
	r.host.Scheduler().SubmitCallback(info.Job)

	if err := info.Job.Register(ctx, info.ExternalJobID); err != nil {
		r.logger.Warn("failed to set marker file for job started; output files cannot be "+
			"verified as complete after a kill signal or power loss, "+
			"ensure write permissions for the persistence directory",
			"jobid", info.Job.JobID(),
			"path", r.host.Persistence().Path(),
			"error", err,
		)
	}

	select {
	case r.submissions <- info:
		r.metrics.submitted.Add(ctx, 1, r.metrics.attrs)
		return nil
	case <-r.done:
		return fmt.Errorf("job %d: %w", info.Job.JobID(), ErrStopped)
	}
}

// ReportJobSuccess hands a finished job back to the scheduler.
func (r *Remote) ReportJobSuccess(ctx context.Context, info *SubmittedJobInfo) {
	r.logger.Info("job finished", "jobid", info.Job.JobID(), "external_jobid", info.ExternalJobID)
	r.metrics.succeeded.Add(ctx, 1, r.metrics.attrs)
	r.host.Scheduler().FinishCallback(info.Job)
}

// ReportJobError logs the failure, removes the job's metadata and output
// unless incomplete files are kept, and notifies the scheduler.
func (r *Remote) ReportJobError(ctx context.Context, info *SubmittedJobInfo, msg string) {
	r.metrics.failed.Add(ctx, 1, r.metrics.attrs)
	r.logger.Error("error executing job; for further error details see the cluster/cloud "+
		"log and the log files of the involved rule(s)",
		"jobid", info.Job.JobID(),
		"name", info.Job.Name(),
		"external_jobid", info.ExternalJobID,
		"message", msg,
	)

	if !r.host.Execution().KeepIncomplete {
		if err := r.host.Persistence().Cleanup(ctx, info.Job); err != nil {
			r.logger.Warn("failed to clean up job metadata", "jobid", info.Job.JobID(), "error", err)
		}
		if err := info.Job.Cleanup(ctx); err != nil {
			r.logger.Warn("failed to clean up job output", "jobid", info.Job.JobID(), "error", err)
		}
	}
	r.host.Scheduler().ErrorCallback(info.Job)
}

// Active returns the jobs that have been submitted and not yet finished.
func (r *Remote) Active() []*SubmittedJobInfo {
	reply := make(chan []*SubmittedJobInfo, 1)
	select {
	case r.snapshots <- reply:
		return <-reply
	case <-r.done:
		return append([]*SubmittedJobInfo(nil), r.remaining...)
	}
}

// Shutdown stops the poller and waits for it to exit. Unless jobs are
// submitted immediately, the jobscript directory is removed afterwards.
// It is safe to call more than once.
func (r *Remote) Shutdown() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done

	r.cleanOnce.Do(func() {
		r.metrics.close()
		if r.remote.ImmediateSubmit {
			return
		}
		r.tmpMu.Lock()
		dir := r.tmpdir
		r.tmpMu.Unlock()
		if dir != "" {
			if err := os.RemoveAll(dir); err != nil {
				r.logger.Warn("failed to remove jobscript directory", "path", dir, "error", err)
			}
		}
	})
}

// Cancel asks the backend to cancel every unfinished job, then shuts down.
func (r *Remote) Cancel(ctx context.Context) error {
	active := r.Active()
	var err error
	if len(active) > 0 {
		r.logger.Info("cancelling jobs", "count", len(active))
		if err = r.backend.CancelJobs(ctx, active); err != nil {
			err = fmt.Errorf("failed to cancel jobs: %w", err)
		}
	}
	r.Shutdown()
	return err
}

// TmpDir returns the directory holding rendered jobscripts, creating it
// below <workdir>/.snakemake on first use.
func (r *Remote) TmpDir() (string, error) {
	r.tmpMu.Lock()
	defer r.tmpMu.Unlock()
	if r.tmpdir != "" {
		return r.tmpdir, nil
	}

	base := filepath.Join(r.host.Workdir(), ".snakemake")
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", base, err)
	}
	dir, err := os.MkdirTemp(base, "tmp.")
	if err != nil {
		return "", fmt.Errorf("failed to create jobscript directory: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	r.tmpdir = abs
	return abs, nil
}
