package host

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"snakeplane/internal/cliargs"
	"snakeplane/internal/executor"
)

// Job implements executor.Job for a JobSpec.
type Job struct {
	spec JobSpec
	host *Host
}

func (j *Job) JobID() int      { return j.spec.ID }
func (j *Job) Name() string    { return j.spec.Rule }
func (j *Job) IsGroup() bool   { return j.spec.Group != "" }
func (j *Job) IsUpdated() bool { return false }
func (j *Job) Rules() []string { return []string{j.spec.Rule} }

func (j *Job) Attempt() int {
	if j.spec.Attempt <= 0 {
		return 1
	}
	return j.spec.Attempt
}

func (j *Job) Threads() int {
	if j.spec.Threads <= 0 {
		return 1
	}
	return j.spec.Threads
}

// Resources returns the declared resources plus _cores.
func (j *Job) Resources() map[string]any {
	res := maps.Clone(j.spec.Resources)
	if res == nil {
		res = make(map[string]any)
	}
	if _, ok := res["_cores"]; !ok {
		res["_cores"] = j.Threads()
	}
	return res
}

func (j *Job) Properties() map[string]any {
	typ := "single"
	if j.IsGroup() {
		typ = "group"
	}
	return map[string]any{
		"type":      typ,
		"rule":      j.spec.Rule,
		"jobid":     j.spec.ID,
		"wildcards": j.spec.Wildcards,
		"threads":   j.Threads(),
		"resources": j.Resources(),
		"input":     j.spec.Input,
		"output":    j.spec.Output,
	}
}

func (j *Job) TargetSpec() []cliargs.TargetSpec {
	return []cliargs.TargetSpec{{Rule: j.spec.Rule, Wildcards: j.spec.Wildcards}}
}

func (j *Job) WaitForFiles() []string      { return slices.Clone(j.spec.Input) }
func (j *Job) UnneededTempFiles() []string { return nil }

var placeholderRe = regexp.MustCompile(`\{([^{}]+)\}`)

// FormatWildcards expands {jobid}, {name}, {rulename}, {wildcards.X} and
// bare wildcard names. Unknown placeholders are an error.
func (j *Job) FormatWildcards(pattern string) (string, error) {
	var unknown []string
	out := placeholderRe.ReplaceAllStringFunc(pattern, func(m string) string {
		key := m[1 : len(m)-1]
		switch key {
		case "jobid":
			return strconv.Itoa(j.spec.ID)
		case "name", "rulename", "rule":
			return j.spec.Rule
		}
		if v, ok := j.spec.Wildcards[strings.TrimPrefix(key, "wildcards.")]; ok {
			return v
		}
		unknown = append(unknown, key)
		return m
	})
	if len(unknown) > 0 {
		return "", fmt.Errorf("unknown placeholders %s in %q", strings.Join(unknown, ", "), pattern)
	}
	return out, nil
}

// Register marks the job as started.
func (j *Job) Register(ctx context.Context, externalJobID string) error {
	if err := j.host.persistence.Started(j, externalJobID); err != nil {
		return err
	}
	return j.host.recorder.submitted(ctx, j, externalJobID)
}

// Postprocess clears the incomplete marker of a successful job.
func (j *Job) Postprocess(ctx context.Context) error {
	return j.host.persistence.Finished(j)
}

// Cleanup removes the outputs a failed job may have left behind.
func (j *Job) Cleanup(ctx context.Context) error {
	var errs []error
	for _, path := range j.spec.Output {
		if err := os.Remove(j.host.path(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ executor.Job = (*Job)(nil)
