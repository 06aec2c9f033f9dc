// Package clustergeneric submits jobscripts to any batch system through
// user supplied shell commands.
package clustergeneric

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/alessio/shellescape"

	"snakeplane/internal/executor"
	"snakeplane/internal/registry"
	"snakeplane/internal/settings"
)

// Name is the plugin name.
const Name = "cluster-generic"

// Settings are the executor settings of the plugin.
type Settings struct {
	SubmitCmd   string `setting:"submit_cmd"`
	StatusCmd   string `setting:"status_cmd"`
	CancelCmd   string `setting:"cancel_cmd"`
	CancelNargs int    `setting:"cancel_nargs"`
}

// Schema declares the plugin's settings.
func Schema() *settings.Schema {
	return &settings.Schema{Fields: []settings.Field{
		{
			Name:     "submit_cmd",
			Type:     settings.String,
			Help:     "Command for submitting jobs. The jobscript path is appended; the last line of its output is the job id",
			Required: true,
			EnvVar:   true,
		},
		{
			Name:    "status_cmd",
			Type:    settings.String,
			Default: "",
			Help:    "Command for retrieving job status. Called with the job id, must print running, success or failed",
		},
		{
			Name:    "cancel_cmd",
			Type:    settings.String,
			Default: "",
			Help:    "Command for cancelling jobs. Called with one or more job ids",
		},
		{
			Name:    "cancel_nargs",
			Type:    settings.Int,
			Default: 1000,
			Help:    "Maximum number of job ids passed to one cancel command call",
		},
	}}
}

// Common are the plugin's common settings.
func Common() *settings.CommonSettings {
	return &settings.CommonSettings{
		NonLocalExec:                   true,
		PassDefaultStorageProviderArgs: true,
		PassDefaultResourcesArgs:       true,
		PassGroupArgs:                  true,
	}
}

// Module is the registry module of the plugin.
func Module() registry.Module {
	return registry.Module{
		Name: registry.Prefix + Name,
		Attributes: map[string]any{
			registry.AttrCommonSettings:   Common(),
			registry.AttrExecutorSettings: Schema(),
			registry.AttrExecutor:         New,
		},
	}
}

// runFunc runs a shell command and returns its stdout.
type runFunc func(ctx context.Context, dir, command string) (string, error)

// Backend implements executor.Backend using shell commands.
type Backend struct {
	settings  Settings
	workdir   string
	markerDir string
	logger    *slog.Logger
	run       runFunc
}

// New creates the backend from its settings record.
func New(host executor.Host, record *settings.Record) (*Backend, error) {
	var s Settings
	if err := record.Decode(&s); err != nil {
		return nil, err
	}
	if strings.TrimSpace(s.SubmitCmd) == "" {
		return nil, &executor.WorkflowError{Msg: "cluster-generic requires a submit command"}
	}
	if s.CancelNargs <= 0 {
		s.CancelNargs = 1000
	}
	return &Backend{
		settings:  s,
		workdir:   host.Workdir(),
		markerDir: filepath.Join(host.Persistence().AuxPath(), "cluster-generic"),
		logger:    host.Logger().With("executor", Name),
		run:       runShell,
	}, nil
}

func runShell(ctx context.Context, dir, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("command %q failed: %w: %s", command, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// JobExecPrefix implements executor.ExecWrapper.
func (b *Backend) JobExecPrefix(job executor.Job) string {
	return ""
}

// JobExecSuffix touches a marker file when no status command is configured.
func (b *Backend) JobExecSuffix(job executor.Job) string {
	if b.settings.StatusCmd != "" {
		return ""
	}
	finished, failed := b.markers(job)
	return fmt.Sprintf("touch %s || (touch %s; exit 1)", shellescape.Quote(finished), shellescape.Quote(failed))
}

func (b *Backend) markers(job executor.Job) (finished, failed string) {
	base := filepath.Join(b.markerDir, fmt.Sprint(job.JobID()))
	return base + ".jobfinished", base + ".jobfailed"
}

// Submit writes the jobscript and runs the submit command on it.
func (b *Backend) Submit(ctx context.Context, job executor.Job, tk executor.Toolkit) (*executor.SubmittedJobInfo, error) {
	path, err := tk.JobScriptPath(job)
	if err != nil {
		return nil, err
	}
	if b.settings.StatusCmd == "" {
		if err := os.MkdirAll(b.markerDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create marker directory: %w", err)
		}
	}
	if _, err := tk.WriteJobScript(job, path); err != nil {
		return nil, err
	}

	submit, err := job.FormatWildcards(b.settings.SubmitCmd)
	if err != nil {
		return nil, &executor.WorkflowError{Msg: "failed to format submit command", Err: err}
	}
	out, err := b.run(ctx, b.workdir, submit+" "+shellescape.Quote(path))
	if err != nil {
		return nil, fmt.Errorf("failed to submit job %d: %w", job.JobID(), err)
	}

	externalID := lastLine(out)
	if externalID == "" && b.settings.StatusCmd != "" {
		return nil, fmt.Errorf("submit command for job %d printed no job id, required by the status command", job.JobID())
	}
	b.logger.Info("job submitted", "jobid", job.JobID(), "external_id", externalID)

	return &executor.SubmittedJobInfo{
		Job:           job,
		ExternalJobID: externalID,
		Aux:           map[string]any{"jobscript": path},
	}, nil
}

func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// CheckActiveJobs asks the status command, or looks for marker files.
func (b *Backend) CheckActiveJobs(ctx context.Context, active []*executor.SubmittedJobInfo) (executor.CheckResult, error) {
	var res executor.CheckResult
	for _, info := range active {
		var (
			status executor.JobStatus
			err    error
		)
		if b.settings.StatusCmd != "" {
			status, err = b.queryStatus(ctx, info)
		} else {
			status, err = b.markerStatus(info)
		}
		if err != nil {
			return executor.CheckResult{}, err
		}
		if status.State != executor.Running {
			b.removeJobScript(info)
		}
		res.Statuses = append(res.Statuses, status)
	}
	return res, nil
}

func (b *Backend) queryStatus(ctx context.Context, info *executor.SubmittedJobInfo) (executor.JobStatus, error) {
	out, err := b.run(ctx, b.workdir, b.settings.StatusCmd+" "+shellescape.Quote(info.ExternalJobID))
	if err != nil {
		// The batch system may be briefly unreachable; try again next round.
		b.logger.Warn("status command failed", "jobid", info.Job.JobID(), "external_id", info.ExternalJobID, "error", err)
		return executor.JobStatus{Info: info, State: executor.Running}, nil
	}
	switch strings.TrimSpace(out) {
	case "running":
		return executor.JobStatus{Info: info, State: executor.Running}, nil
	case "success":
		return executor.JobStatus{Info: info, State: executor.Succeeded}, nil
	case "failed":
		return executor.JobStatus{
			Info:    info,
			State:   executor.Failed,
			Message: fmt.Sprintf("cluster job %s failed", info.ExternalJobID),
		}, nil
	default:
		return executor.JobStatus{}, &executor.WorkflowError{
			Msg: fmt.Sprintf("status command returned unknown status %q for job %s, expected running, success or failed", strings.TrimSpace(out), info.ExternalJobID),
		}
	}
}

func (b *Backend) markerStatus(info *executor.SubmittedJobInfo) (executor.JobStatus, error) {
	finished, failed := b.markers(info.Job)
	switch {
	case exists(finished):
		os.Remove(finished)
		return executor.JobStatus{Info: info, State: executor.Succeeded}, nil
	case exists(failed):
		os.Remove(failed)
		return executor.JobStatus{
			Info:    info,
			State:   executor.Failed,
			Message: fmt.Sprintf("cluster job %s failed, see the batch system log", info.ExternalJobID),
		}, nil
	}
	return executor.JobStatus{Info: info, State: executor.Running}, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (b *Backend) removeJobScript(info *executor.SubmittedJobInfo) {
	if path, ok := info.Aux["jobscript"].(string); ok {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			b.logger.Warn("failed to remove jobscript", "path", path, "error", err)
		}
	}
}

// CancelJobs runs the cancel command in chunks of at most cancel_nargs ids.
func (b *Backend) CancelJobs(ctx context.Context, active []*executor.SubmittedJobInfo) error {
	if len(active) == 0 {
		return nil
	}
	if b.settings.CancelCmd == "" {
		b.logger.Info("no cancel command configured, running cluster jobs are left alone", "count", len(active))
		return nil
	}

	var ids []string
	for _, info := range active {
		if info.ExternalJobID != "" {
			ids = append(ids, shellescape.Quote(info.ExternalJobID))
		}
	}

	var errs []error
	for start := 0; start < len(ids); start += b.settings.CancelNargs {
		end := min(start+b.settings.CancelNargs, len(ids))
		cmd := b.settings.CancelCmd + " " + strings.Join(ids[start:end], " ")
		if _, err := b.run(ctx, b.workdir, cmd); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
