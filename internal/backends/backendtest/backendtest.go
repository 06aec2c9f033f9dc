// Package backendtest provides fakes for testing executor backends.
package backendtest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"snakeplane/internal/cliargs"
	"snakeplane/internal/executor"
	"snakeplane/internal/settings"
)

// Job implements executor.Job.
type Job struct {
	ID   int
	Rule string
	Res  map[string]any
}

func (j *Job) JobID() int                       { return j.ID }
func (j *Job) Name() string                     { return j.Rule }
func (j *Job) IsGroup() bool                    { return false }
func (j *Job) IsUpdated() bool                  { return false }
func (j *Job) Rules() []string                  { return []string{j.Rule} }
func (j *Job) Attempt() int                     { return 1 }
func (j *Job) Threads() int                     { return 1 }
func (j *Job) Resources() map[string]any        { return j.Res }
func (j *Job) WaitForFiles() []string           { return nil }
func (j *Job) UnneededTempFiles() []string      { return nil }
func (j *Job) TargetSpec() []cliargs.TargetSpec { return []cliargs.TargetSpec{{Rule: j.Rule}} }
func (j *Job) Properties() map[string]any {
	return map[string]any{"jobid": j.ID, "rule": j.Rule}
}

func (j *Job) FormatWildcards(pattern string) (string, error) {
	return strings.NewReplacer("{jobid}", fmt.Sprint(j.ID), "{rulename}", j.Rule, "{name}", j.Rule).Replace(pattern), nil
}

func (j *Job) Register(ctx context.Context, externalJobID string) error { return nil }
func (j *Job) Postprocess(ctx context.Context) error                   { return nil }
func (j *Job) Cleanup(ctx context.Context) error                       { return nil }

// Toolkit implements executor.Toolkit with a fixed command.
type Toolkit struct {
	Dir     string
	Command string

	mu      sync.Mutex
	scripts []string
}

func (tk *Toolkit) FormatJobExec(job executor.Job) (string, error) {
	if tk.Command != "" {
		return tk.Command, nil
	}
	return fmt.Sprintf("python -m snakemake --target-jobs %s", job.Name()), nil
}

func (tk *Toolkit) JobName(job executor.Job) (string, error) {
	return fmt.Sprintf("snakejob.%s.%d.sh", job.Name(), job.JobID()), nil
}

func (tk *Toolkit) JobScriptPath(job executor.Job) (string, error) {
	name, _ := tk.JobName(job)
	return filepath.Join(tk.Dir, name), nil
}

func (tk *Toolkit) WriteJobScript(job executor.Job, path string) (string, error) {
	cmd, _ := tk.FormatJobExec(job)
	content := "#!/bin/sh\n" + cmd + "\n"
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		return "", err
	}
	tk.mu.Lock()
	tk.scripts = append(tk.scripts, path)
	tk.mu.Unlock()
	return content, nil
}

func (tk *Toolkit) TmpDir() (string, error) { return tk.Dir, nil }

// Scripts returns the jobscripts written so far.
func (tk *Toolkit) Scripts() []string {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return append([]string(nil), tk.scripts...)
}

// Host implements executor.Host with no-op collaborators.
type Host struct {
	Dir    string
	Remote settings.RemoteExecution
	Log    *slog.Logger
}

func (h *Host) Snakefile() string                         { return "Snakefile" }
func (h *Host) Workdir() string                           { return h.Dir }
func (h *Host) RemoteExecution() settings.RemoteExecution { return h.Remote }
func (h *Host) Execution() settings.Execution             { return settings.Execution{} }
func (h *Host) Storage() settings.Storage                 { return settings.Storage{} }
func (h *Host) Resources() settings.Resources             { return settings.Resources{} }
func (h *Host) Group() settings.Group                     { return settings.Group{} }
func (h *Host) Scheduler() executor.Scheduler             { return nopScheduler{} }
func (h *Host) Persistence() executor.Persistence         { return nopPersistence{dir: h.Dir} }
func (h *Host) SpawnedJobArgs() executor.SpawnedJobArgs   { return nopSpawned{} }
func (h *Host) Logger() *slog.Logger {
	if h.Log == nil {
		return slog.Default()
	}
	return h.Log
}

type nopScheduler struct{}

func (nopScheduler) SubmitCallback(executor.Job)  {}
func (nopScheduler) FinishCallback(executor.Job)  {}
func (nopScheduler) ErrorCallback(executor.Job)   {}
func (nopScheduler) ExecutorErrorCallback(error) {}

type nopPersistence struct{ dir string }

func (p nopPersistence) Path() string                                     { return filepath.Join(p.dir, ".snakemake") }
func (p nopPersistence) AuxPath() string                                  { return filepath.Join(p.dir, ".snakemake", "auxiliary") }
func (p nopPersistence) Cleanup(ctx context.Context, job executor.Job) error { return nil }

type nopSpawned struct{}

func (nopSpawned) GeneralArgs(settings.CommonSettings) string { return "" }
func (nopSpawned) Precommand(settings.CommonSettings) string  { return "" }
func (nopSpawned) EnvVars() map[string]string                 { return nil }

// Submitted wraps a job in the info a backend would return.
func Submitted(job executor.Job, externalID string) *executor.SubmittedJobInfo {
	return &executor.SubmittedJobInfo{Job: job, ExternalJobID: externalID, Aux: map[string]any{}}
}

// States indexes a check result by job id.
func States(res executor.CheckResult) map[int]executor.JobStatus {
	out := make(map[int]executor.JobStatus, len(res.Statuses))
	for _, s := range res.Statuses {
		out[s.Info.Job.JobID()] = s
	}
	return out
}
