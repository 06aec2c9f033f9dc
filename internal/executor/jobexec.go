package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"snakeplane/internal/cliargs"
	"snakeplane/internal/settings"
)

// HostModule is the module the spawned interpreter runs.
const HostModule = "snakemake"

// maxInlineWaitFiles is the number of wait-for files passed on the command
// line before they are moved into a file.
const maxInlineWaitFiles = 20

// ExecWrapper is implemented by backends that wrap the spawned command.
type ExecWrapper interface {
	JobExecPrefix(job Job) string
	JobExecSuffix(job Job) string
}

// GeneralArgsProvider is implemented by backends that pass extra host-wide
// arguments to every spawned job.
type GeneralArgsProvider interface {
	AdditionalGeneralArgs() []string
}

func containsJobID(jobname string) bool {
	return strings.Contains(jobname, "{jobid}")
}

// JobName expands the configured jobname pattern for job.
func (r *Remote) JobName(job Job) (string, error) {
	name, err := job.FormatWildcards(r.remote.JobName)
	if err != nil {
		return "", &WorkflowError{Msg: fmt.Sprintf("failed to format jobname %q", r.remote.JobName), Err: err}
	}
	return name, nil
}

// JobScriptPath is the path of the jobscript of job inside TmpDir.
func (r *Remote) JobScriptPath(job Job) (string, error) {
	name, err := r.JobName(job)
	if err != nil {
		return "", err
	}
	if strings.ContainsRune(name, os.PathSeparator) {
		return "", &WorkflowError{Msg: fmt.Sprintf("path separator (%c) found in job name %s, this is not supported", os.PathSeparator, name)}
	}
	dir, err := r.TmpDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// WriteJobScript renders the jobscript of job to path.
func (r *Remote) WriteJobScript(job Job, path string) (string, error) {
	execJob, err := r.FormatJobExec(job)
	if err != nil {
		return "", err
	}
	content, err := r.script.Write(path, job.Properties(), execJob)
	if err != nil {
		return "", err
	}
	r.logger.Debug("jobscript written", "path", path, "content", content)
	return content, nil
}

// FormatJobExec builds the command that runs job in a spawned host process:
//
//	[prefix &&] [export VAR=value &&] [precommand &&] <python> -m snakemake
//	--snakefile <path> <job args> <general args> --mode remote
//	[--local-groupid <id>] [&& suffix]
func (r *Remote) FormatJobExec(job Job) (string, error) {
	var prefix, suffix string
	if w, ok := r.backend.(ExecWrapper); ok {
		prefix = w.JobExecPrefix(job)
		suffix = w.JobExecSuffix(job)
	}
	if prefix != "" {
		prefix += " &&"
	}
	if suffix != "" {
		suffix = "&& " + suffix
	}

	spawned := r.host.SpawnedJobArgs()
	precommand := spawned.Precommand(r.config.Common)
	if precommand != "" {
		precommand += " &&"
	}

	jobArgs, err := r.jobArgs(job)
	if err != nil {
		return "", err
	}

	var additional string
	if g, ok := r.backend.(GeneralArgsProvider); ok {
		additional = cliargs.Join(g.AdditionalGeneralArgs()...)
	}

	snakefile, err := r.snakefile()
	if err != nil {
		return "", err
	}

	return cliargs.Join(
		prefix,
		r.envVarDeclarations(spawned.EnvVars()),
		precommand,
		r.interpreter(),
		"-m "+HostModule,
		cliargs.FormatFlag("--snakefile", snakefile),
		jobArgs,
		spawned.GeneralArgs(r.config.Common),
		additional,
		cliargs.FormatFlag("--mode", settings.ExecModeRemote),
		cliargs.FormatFlag("--local-groupid", r.host.Group().LocalGroupID, cliargs.Skip(!r.config.SharedLocalGroupID)),
		suffix,
	), nil
}

func (r *Remote) jobArgs(job Job) (string, error) {
	waitFiles, err := r.waitForFilesArg(job)
	if err != nil {
		return "", err
	}
	return cliargs.Join(
		cliargs.FormatFlag("--target-jobs", cliargs.EncodeTargetJobs(job.TargetSpec())),
		// Updated jobs re-evaluate their rules in the spawned process.
		cliargs.FormatFlag("--allowed-rules", job.Rules(), cliargs.NoQuote(), cliargs.Skip(job.IsUpdated())),
		cliargs.FormatFlag("--local-groupid", job.JobID(), cliargs.Skip(!job.IsGroup() || r.config.SharedLocalGroupID)),
		cliargs.FormatFlag("--cores", r.cores()),
		cliargs.FormatFlag("--attempt", job.Attempt()),
		cliargs.FormatFlag("--force-use-threads", !job.IsGroup()),
		cliargs.FormatFlag("--unneeded-temp-files", job.UnneededTempFiles()),
		r.resourceDeclarations(job),
		waitFiles,
	), nil
}

func (r *Remote) waitForFilesArg(job Job) (string, error) {
	if !r.host.Storage().Uses(settings.SharedFSInputOutput) {
		return "", nil
	}
	tmpdir, err := r.TmpDir()
	if err != nil {
		return "", err
	}
	files := append([]string{tmpdir}, job.WaitForFiles()...)
	if len(files) <= maxInlineWaitFiles {
		return cliargs.FormatFlag("--wait-for-files", files), nil
	}

	script, err := r.JobScriptPath(job)
	if err != nil {
		return "", err
	}
	path := script + ".waitforfilesfile.txt"
	if err := os.WriteFile(path, []byte(strings.Join(files, "\n")+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("failed to write wait-for files list %s: %w", path, err)
	}
	return cliargs.FormatFlag("--wait-for-files-file", path), nil
}

// resourceDeclarations passes the integer resources of job, except the
// excluded scopes and the internal _cores and _nodes.
func (r *Remote) resourceDeclarations(job Job) string {
	excluded := map[string]struct{}{"_cores": {}, "_nodes": {}}
	for _, name := range r.host.Resources().ExcludedResources {
		excluded[name] = struct{}{}
	}

	var decls []string
	for name, value := range job.Resources() {
		if _, skip := excluded[name]; skip {
			continue
		}
		switch v := value.(type) {
		case int:
			decls = append(decls, name+"="+strconv.Itoa(v))
		case int64:
			decls = append(decls, name+"="+strconv.FormatInt(v, 10))
		}
	}
	sort.Strings(decls)
	return cliargs.FormatFlag("--resources", decls)
}

func (r *Remote) envVarDeclarations(vars map[string]string) string {
	if !r.config.Common.PassEnvvarDeclarationsToCmd || len(vars) == 0 {
		return ""
	}
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]string, 0, len(names))
	for _, name := range names {
		defs = append(defs, name+"="+cliargs.FormatValue(vars[name]))
	}
	return "export " + strings.Join(defs, " ") + " &&"
}

// cores is the core limit passed to spawned jobs, "all" when unconstrained.
func (r *Remote) cores() string {
	if c := r.host.Resources().Cores; c > 0 {
		return strconv.Itoa(c)
	}
	return "all"
}

func (r *Remote) interpreter() string {
	if r.host.Storage().Uses(settings.SharedFSSoftwareDeployment) {
		return r.config.Interpreter
	}
	return "python"
}

// snakefile is relative to the working directory when sources are not shared.
func (r *Remote) snakefile() (string, error) {
	path := r.host.Snakefile()
	if r.host.Storage().Uses(settings.SharedFSSources) || !filepath.IsAbs(path) {
		return path, nil
	}
	rel, err := filepath.Rel(r.host.Workdir(), path)
	if err != nil {
		return "", fmt.Errorf("failed to make snakefile path relative: %w", err)
	}
	return rel, nil
}

// Compile-time check.
var _ Toolkit = (*Remote)(nil)
