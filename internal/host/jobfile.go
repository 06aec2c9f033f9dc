// Package host is a minimal workflow host: it loads jobs from a YAML job
// file, tracks them on disk and collects their outcome.
package host

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// JobFile is the YAML description of the jobs of one run.
type JobFile struct {
	Snakefile string    `yaml:"snakefile"`
	Jobs      []JobSpec `yaml:"jobs"`
}

// JobSpec describes one job.
type JobSpec struct {
	ID        int               `yaml:"id"`
	Rule      string            `yaml:"rule"`
	Wildcards map[string]string `yaml:"wildcards"`
	Threads   int               `yaml:"threads"`
	Attempt   int               `yaml:"attempt"`
	Resources map[string]any    `yaml:"resources"`
	Input     []string          `yaml:"input"`
	Output    []string          `yaml:"output"`
	// Group is the id of the job group; non-empty makes this a group job.
	Group string `yaml:"group"`
}

// LoadJobFile reads and validates a job file.
func LoadJobFile(path string) (*JobFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}
	return ParseJobFile(data)
}

// ParseJobFile decodes a job file. Unknown keys are rejected.
func ParseJobFile(data []byte) (*JobFile, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var jf JobFile
	if err := dec.Decode(&jf); err != nil {
		return nil, fmt.Errorf("failed to parse job file: %w", err)
	}
	if err := jf.Validate(); err != nil {
		return nil, err
	}
	return &jf, nil
}

// Validate checks job ids and rules.
func (jf *JobFile) Validate() error {
	if len(jf.Jobs) == 0 {
		return errors.New("job file contains no jobs")
	}
	var errs []error
	seen := make(map[int]struct{}, len(jf.Jobs))
	for i, spec := range jf.Jobs {
		if spec.ID <= 0 {
			errs = append(errs, fmt.Errorf("job %d: id must be positive", i))
		}
		if _, dup := seen[spec.ID]; dup {
			errs = append(errs, fmt.Errorf("job %d: duplicate id %d", i, spec.ID))
		}
		seen[spec.ID] = struct{}{}
		if spec.Rule == "" {
			errs = append(errs, fmt.Errorf("job %d: rule is required", i))
		}
		if spec.Threads < 0 || spec.Attempt < 0 {
			errs = append(errs, fmt.Errorf("job %d: threads and attempt must not be negative", i))
		}
	}
	return errors.Join(errs...)
}
