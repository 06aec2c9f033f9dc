// Package docker runs each job in its own Docker container.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"

	"snakeplane/internal/executor"
	"snakeplane/internal/registry"
	"snakeplane/internal/settings"
)

// Name is the plugin name.
const Name = "docker"

const (
	labelManagedBy = "app.kubernetes.io/managed-by"
	labelJobID     = "snakeplane.jobid"
)

// Settings are the executor settings of the plugin.
type Settings struct {
	Image        string   `setting:"image"`
	Pull         bool     `setting:"pull"`
	MountWorkdir bool     `setting:"mount_workdir"`
	Remove       bool     `setting:"remove"`
	Env          []string `setting:"env"`
}

// Schema declares the plugin's settings.
func Schema() *settings.Schema {
	return &settings.Schema{Fields: []settings.Field{
		{Name: "image", Type: settings.String, Default: "snakemake/snakemake:stable", Help: "Container image jobs run in", EnvVar: true},
		{Name: "pull", Type: settings.Bool, Default: true, Help: "Pull the image if it is not present locally"},
		{Name: "mount_workdir", Type: settings.Bool, Default: true, Help: "Bind mount the working directory into the container at the same path"},
		{Name: "remove", Type: settings.Bool, Default: true, Help: "Remove containers once their job has finished"},
		{Name: "env", Type: settings.StringSlice, Default: []string{}, Help: "Additional KEY=VALUE environment variables"},
	}}
}

// Common are the plugin's common settings.
func Common() *settings.CommonSettings {
	return &settings.CommonSettings{
		NonLocalExec:                true,
		PassEnvvarDeclarationsToCmd: true,
		PassDefaultResourcesArgs:    true,
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

// containerAPI is the part of the Docker client the backend uses.
type containerAPI interface {
	ImageExists(ctx context.Context, ref string) bool
	ImagePull(ctx context.Context, ref string) error
	Create(ctx context.Context, cfg *container.Config, host *container.HostConfig) (string, error)
	Start(ctx context.Context, id string) error
	Inspect(ctx context.Context, id string) (*container.State, error)
	Stop(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
}

// dockerClient adapts the Docker SDK client to containerAPI.
type dockerClient struct {
	client *client.Client
}

func (d *dockerClient) ImageExists(ctx context.Context, ref string) bool {
	_, err := d.client.ImageInspect(ctx, ref)
	return err == nil
}

func (d *dockerClient) ImagePull(ctx context.Context, ref string) error {
	reader, err := d.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

func (d *dockerClient) Create(ctx context.Context, cfg *container.Config, host *container.HostConfig) (string, error) {
	resp, err := d.client.ContainerCreate(ctx, cfg, host, nil, nil, "")
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (d *dockerClient) Start(ctx context.Context, id string) error {
	return d.client.ContainerStart(ctx, id, container.StartOptions{})
}

func (d *dockerClient) Inspect(ctx context.Context, id string) (*container.State, error) {
	resp, err := d.client.ContainerInspect(ctx, id)
	if err != nil {
		return nil, err
	}
	if resp.ContainerJSONBase == nil || resp.State == nil {
		return nil, fmt.Errorf("container %s has no state", id)
	}
	return resp.State, nil
}

func (d *dockerClient) Stop(ctx context.Context, id string) error {
	return d.client.ContainerStop(ctx, id, container.StopOptions{})
}

func (d *dockerClient) Remove(ctx context.Context, id string) error {
	return d.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

// Backend implements executor.Backend with Docker containers.
type Backend struct {
	settings Settings
	workdir  string
	api      containerAPI
	logger   *slog.Logger
}

// New creates the backend from its settings record. The Docker client is
// configured from the standard environment (DOCKER_HOST, etc.).
func New(host executor.Host, record *settings.Record) (*Backend, error) {
	var s Settings
	if err := record.Decode(&s); err != nil {
		return nil, err
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return newBackend(s, host.Workdir(), &dockerClient{client: cli}, host.Logger()), nil
}

func newBackend(s Settings, workdir string, api containerAPI, logger *slog.Logger) *Backend {
	return &Backend{
		settings: s,
		workdir:  workdir,
		api:      api,
		logger:   logger.With("executor", Name),
	}
}

// Submit starts a container running the job's command.
func (b *Backend) Submit(ctx context.Context, job executor.Job, tk executor.Toolkit) (*executor.SubmittedJobInfo, error) {
	cmd, err := tk.FormatJobExec(job)
	if err != nil {
		return nil, err
	}

	if !b.api.ImageExists(ctx, b.settings.Image) {
		if !b.settings.Pull {
			return nil, fmt.Errorf("image %s not present and pulling is disabled", b.settings.Image)
		}
		b.logger.Info("pulling image", "image", b.settings.Image)
		if err := b.api.ImagePull(ctx, b.settings.Image); err != nil {
			return nil, fmt.Errorf("failed to pull image %s: %w", b.settings.Image, err)
		}
	}

	cfg := &container.Config{
		Image: b.settings.Image,
		Cmd:   []string{"sh", "-c", cmd},
		Env:   b.settings.Env,
		Labels: map[string]string{
			labelManagedBy: "snakeplane",
			labelJobID:     strconv.Itoa(job.JobID()),
		},
	}
	hostCfg := &container.HostConfig{}
	if b.settings.MountWorkdir {
		cfg.WorkingDir = b.workdir
		hostCfg.Binds = []string{b.workdir + ":" + b.workdir}
	}

	id, err := b.api.Create(ctx, cfg, hostCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	if err := b.api.Start(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to start container %s: %w", id, err)
	}

	b.logger.Info("container started", "jobid", job.JobID(), "container", id)
	return &executor.SubmittedJobInfo{Job: job, ExternalJobID: id}, nil
}

// CheckActiveJobs inspects every container.
func (b *Backend) CheckActiveJobs(ctx context.Context, active []*executor.SubmittedJobInfo) (executor.CheckResult, error) {
	var res executor.CheckResult
	for _, info := range active {
		state, err := b.api.Inspect(ctx, info.ExternalJobID)
		if err != nil && !errdefs.IsNotFound(err) {
			// Daemon hiccups and cancelled contexts say nothing about the job.
			b.logger.Warn("failed to inspect container, keeping job active", "container", info.ExternalJobID, "error", err)
			res.Statuses = append(res.Statuses, executor.JobStatus{Info: info, State: executor.Running})
			continue
		}
		if err != nil {
			res.Statuses = append(res.Statuses, executor.JobStatus{
				Info:    info,
				State:   executor.Failed,
				Message: fmt.Sprintf("failed to inspect container %s: %v", info.ExternalJobID, err),
			})
			continue
		}

		status := executor.JobStatus{Info: info, State: executor.Running}
		switch string(state.Status) {
		case "exited", "dead":
			if state.ExitCode == 0 && !state.OOMKilled {
				status.State = executor.Succeeded
			} else {
				status.State = executor.Failed
				status.Message = exitMessage(info.ExternalJobID, state)
			}
		}

		if status.State != executor.Running && b.settings.Remove {
			if err := b.api.Remove(ctx, info.ExternalJobID); err != nil {
				b.logger.Warn("failed to remove container", "container", info.ExternalJobID, "error", err)
			}
		}
		res.Statuses = append(res.Statuses, status)
	}
	return res, nil
}

func exitMessage(id string, state *container.State) string {
	switch {
	case state.OOMKilled:
		return fmt.Sprintf("container %s was killed for exceeding its memory limit", id)
	case state.Error != "":
		return fmt.Sprintf("container %s exited with code %d: %s", id, state.ExitCode, state.Error)
	default:
		return fmt.Sprintf("container %s exited with code %d", id, state.ExitCode)
	}
}

// CancelJobs stops and removes the containers.
func (b *Backend) CancelJobs(ctx context.Context, active []*executor.SubmittedJobInfo) error {
	for _, info := range active {
		if err := b.api.Stop(ctx, info.ExternalJobID); err != nil {
			b.logger.Warn("failed to stop container", "container", info.ExternalJobID, "error", err)
		}
		if err := b.api.Remove(ctx, info.ExternalJobID); err != nil {
			b.logger.Warn("failed to remove container", "container", info.ExternalJobID, "error", err)
		}
	}
	return nil
}
