// Package dryrun reports every job as succeeded without running it.
package dryrun

import (
	"context"
	"fmt"
	"log/slog"

	"snakeplane/internal/executor"
	"snakeplane/internal/registry"
	"snakeplane/internal/settings"
)

// Name is the plugin name.
const Name = "dryrun"

// Module is the registry module of the plugin. It declares no settings.
func Module() registry.Module {
	return registry.Module{
		Name: registry.Prefix + Name,
		Attributes: map[string]any{
			registry.AttrCommonSettings: &settings.CommonSettings{DryrunExec: true},
			registry.AttrExecutor:       New,
		},
	}
}

// Backend implements executor.Backend without executing anything.
type Backend struct {
	logger *slog.Logger
}

func New(host executor.Host, record *settings.Record) (*Backend, error) {
	return &Backend{logger: host.Logger().With("executor", Name)}, nil
}

// Submit logs the command the job would run.
func (b *Backend) Submit(ctx context.Context, job executor.Job, tk executor.Toolkit) (*executor.SubmittedJobInfo, error) {
	cmd, err := tk.FormatJobExec(job)
	if err != nil {
		return nil, err
	}
	b.logger.Info("would run job", "jobid", job.JobID(), "command", cmd)
	return &executor.SubmittedJobInfo{Job: job, ExternalJobID: fmt.Sprintf("dryrun-%d", job.JobID())}, nil
}

func (b *Backend) CheckActiveJobs(ctx context.Context, active []*executor.SubmittedJobInfo) (executor.CheckResult, error) {
	res := executor.CheckResult{Statuses: make([]executor.JobStatus, 0, len(active))}
	for _, info := range active {
		res.Statuses = append(res.Statuses, executor.JobStatus{Info: info, State: executor.Succeeded})
	}
	return res, nil
}

func (b *Backend) CancelJobs(ctx context.Context, active []*executor.SubmittedJobInfo) error {
	return nil
}
