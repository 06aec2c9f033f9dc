package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"snakeplane/internal/executor"
)

// FilePersistence keeps one marker file per started, unfinished job under
// <workdir>/.snakemake/incomplete. A marker holds the external job id.
type FilePersistence struct {
	root string
}

// NewFilePersistence returns the persistence of a working directory.
func NewFilePersistence(workdir string) *FilePersistence {
	return &FilePersistence{root: filepath.Join(workdir, ".snakemake")}
}

func (p *FilePersistence) Path() string    { return p.root }
func (p *FilePersistence) AuxPath() string { return filepath.Join(p.root, "auxiliary") }

func (p *FilePersistence) markerDir() string {
	return filepath.Join(p.root, "incomplete")
}

func (p *FilePersistence) marker(job executor.Job) string {
	return filepath.Join(p.markerDir(), strconv.Itoa(job.JobID()))
}

// Started writes the marker of job.
func (p *FilePersistence) Started(job executor.Job, externalJobID string) error {
	if err := os.MkdirAll(p.markerDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create marker directory: %w", err)
	}
	if err := os.WriteFile(p.marker(job), []byte(externalJobID+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write marker of job %d: %w", job.JobID(), err)
	}
	return nil
}

// Finished removes the marker of job.
func (p *FilePersistence) Finished(job executor.Job) error {
	if err := os.Remove(p.marker(job)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove marker of job %d: %w", job.JobID(), err)
	}
	return nil
}

// Cleanup removes the marker of a failed job.
func (p *FilePersistence) Cleanup(ctx context.Context, job executor.Job) error {
	return p.Finished(job)
}

// Incomplete maps the ids of jobs with a marker to their external job id.
func (p *FilePersistence) Incomplete() (map[int]string, error) {
	entries, err := os.ReadDir(p.markerDir())
	if errors.Is(err, os.ErrNotExist) {
		return map[int]string{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make(map[int]string, len(entries))
	for _, e := range entries {
		id, err := strconv.Atoi(e.Name())
		if err != nil || e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(p.markerDir(), e.Name()))
		if err != nil {
			return nil, err
		}
		out[id] = strings.TrimSpace(string(data))
	}
	return out, nil
}

// Clear removes every marker, returning the ones it found.
func (p *FilePersistence) Clear() (map[int]string, error) {
	found, err := p.Incomplete()
	if err != nil {
		return nil, err
	}
	if err := os.RemoveAll(p.markerDir()); err != nil {
		return nil, fmt.Errorf("failed to clear markers: %w", err)
	}
	return found, nil
}

var _ executor.Persistence = (*FilePersistence)(nil)
