package host

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"snakeplane/internal/cliargs"
	"snakeplane/internal/executor"
	"snakeplane/internal/settings"
	"snakeplane/internal/store"
)

// Config holds the host-wide settings of one run.
type Config struct {
	Snakefile string
	Workdir   string
	// Precommand runs before the spawned interpreter, e.g. `module load`.
	Precommand string

	Remote     settings.RemoteExecution
	Execution  settings.Execution
	Storage    settings.Storage
	Resources  settings.Resources
	Group      settings.Group
	Deployment settings.Deployment
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger of the host and its scheduler.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) { h.logger = logger }
}

// WithLedger mirrors submissions into ledger under runID.
func WithLedger(ledger store.Ledger, runID uuid.UUID) Option {
	return func(h *Host) { h.recorder = &recorder{ledger: ledger, runID: runID} }
}

// Host implements executor.Host on top of a working directory.
type Host struct {
	cfg         Config
	persistence *FilePersistence
	scheduler   *Scheduler
	recorder    *recorder
	logger      *slog.Logger
}

// New returns a host for cfg. Relative workdirs are resolved against the
// current directory.
func New(cfg Config, opts ...Option) (*Host, error) {
	if cfg.Workdir == "" {
		cfg.Workdir = "."
	}
	workdir, err := filepath.Abs(cfg.Workdir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workdir: %w", err)
	}
	cfg.Workdir = workdir
	if cfg.Snakefile == "" {
		cfg.Snakefile = "Snakefile"
	}
	if cfg.Remote.JobName == "" {
		cfg.Remote.JobName = "snakejob.{name}.{jobid}.sh"
	}
	if cfg.Remote.SecondsBetweenStatusChecks == 0 {
		cfg.Remote.SecondsBetweenStatusChecks = 10 * time.Second
	}
	if cfg.Remote.MaxStatusChecksPerSecond == 0 {
		cfg.Remote.MaxStatusChecksPerSecond = 10
	}

	h := &Host{
		cfg:         cfg,
		persistence: NewFilePersistence(workdir),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.recorder != nil {
		h.recorder.logger = h.logger
	}
	h.scheduler = newScheduler(h.recorder, h.logger)
	return h, nil
}

// Jobs turns the entries of jf into executor jobs and registers them with
// the scheduler.
func (h *Host) Jobs(jf *JobFile) []executor.Job {
	if jf.Snakefile != "" {
		h.cfg.Snakefile = jf.Snakefile
	}
	jobs := make([]executor.Job, 0, len(jf.Jobs))
	for _, spec := range jf.Jobs {
		jobs = append(jobs, &Job{spec: spec, host: h})
	}
	h.scheduler.Expect(len(jobs))
	return jobs
}

func (h *Host) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(h.cfg.Workdir, p)
}

func (h *Host) Snakefile() string                         { return h.path(h.cfg.Snakefile) }
func (h *Host) Workdir() string                           { return h.cfg.Workdir }
func (h *Host) RemoteExecution() settings.RemoteExecution { return h.cfg.Remote }
func (h *Host) Execution() settings.Execution             { return h.cfg.Execution }
func (h *Host) Storage() settings.Storage                 { return h.cfg.Storage }
func (h *Host) Resources() settings.Resources             { return h.cfg.Resources }
func (h *Host) Group() settings.Group                     { return h.cfg.Group }
func (h *Host) Scheduler() executor.Scheduler             { return h.scheduler }
func (h *Host) Persistence() executor.Persistence         { return h.persistence }
func (h *Host) SpawnedJobArgs() executor.SpawnedJobArgs   { return spawnedArgs{cfg: &h.cfg} }
func (h *Host) Logger() *slog.Logger                      { return h.logger }

// Outcomes is the scheduler the caller waits on.
func (h *Host) Outcomes() *Scheduler { return h.scheduler }

// Markers is the on-disk persistence of started jobs.
func (h *Host) Markers() *FilePersistence { return h.persistence }

// spawnedArgs renders the host-wide arguments of spawned jobs.
type spawnedArgs struct {
	cfg *Config
}

func (a spawnedArgs) GeneralArgs(common settings.CommonSettings) string {
	return cliargs.Join(
		"--force --target-files-omit-workdir-adjustment --max-inventory-time 0 --nocolor --notemp --no-hooks --nolock --ignore-incomplete",
		cliargs.FormatFlag("--keep-incomplete", a.cfg.Execution.KeepIncomplete),
		cliargs.FormatFlag("--latency-wait", int(a.cfg.Execution.LatencyWait/time.Second)),
		a.sharedFSUsage(common),
		cliargs.FormatFlag("--deployment-method", a.cfg.Deployment.Methods),
		cliargs.FormatFlag("--default-resources", defaultResources(a.cfg.Resources.DefaultResources), cliargs.Skip(!common.PassDefaultResourcesArgs)),
		cliargs.FormatFlag("--set-resources", overwriteResources(a.cfg.Resources.OverwriteResources)),
	)
}

// sharedFSUsage passes the host setting unless the backend overrides the
// assumption for spawned jobs or cannot see the host's filesystem. An empty
// usage list is spelled "none".
func (a spawnedArgs) sharedFSUsage(common settings.CommonSettings) string {
	usage := a.cfg.Storage.SharedFSUsage
	if common.ImpliesNoSharedFS {
		usage = nil
	}
	if o := common.SpawnedJobsAssumeSharedFS; o != nil {
		usage = nil
		if *o {
			usage = settings.AllSharedFSUsages()
		}
	}
	if len(usage) == 0 {
		return "--shared-fs-usage none"
	}
	return cliargs.FormatFlag("--shared-fs-usage", usage)
}

func (a spawnedArgs) Precommand(common settings.CommonSettings) string {
	return a.cfg.Precommand
}

// EnvVars returns the configured variables that are set in the host
// environment.
func (a spawnedArgs) EnvVars() map[string]string {
	vars := make(map[string]string, len(a.cfg.Remote.EnvVars))
	for _, name := range a.cfg.Remote.EnvVars {
		if v, ok := os.LookupEnv(name); ok {
			vars[name] = v
		}
	}
	return vars
}

// defaultResources turns `name=expression` entries into a mapping. Entries
// without a value are dropped.
func defaultResources(entries []string) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		name, value, ok := strings.Cut(e, "=")
		if !ok || name == "" {
			continue
		}
		out[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return out
}

func overwriteResources(m map[string]map[string]string) []string {
	var out []string
	for rule, res := range m {
		for name, value := range res {
			out = append(out, fmt.Sprintf("%s:%s=%s", rule, name, value))
		}
	}
	slices.Sort(out)
	return out
}
