// Package jobscript renders the launch script a backend submits for a job.
package jobscript

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"
)

// DefaultTemplate is used when no custom jobscript is configured.
const DefaultTemplate = `#!/bin/sh
# properties = {{.properties}}
{{.exec_job}}
`

// TemplateError reports a custom jobscript that references a value the job
// does not provide.
type TemplateError struct {
	Path string
	Err  error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("error formatting custom jobscript %s: %v. "+
		"Make sure that your custom jobscript only uses {{.properties}} and {{.exec_job}}", e.Path, e.Err)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

// Renderer fills a jobscript template.
type Renderer struct {
	tmpl      *template.Template
	path      string
	isDefault bool
}

// Load reads the template at path, or uses DefaultTemplate when path is empty.
func Load(path string) (*Renderer, error) {
	if path == "" {
		return New(DefaultTemplate, "", true)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read jobscript %s: %w", path, err)
	}
	return New(string(data), path, false)
}

// New parses text as a jobscript template.
func New(text, path string, isDefault bool) (*Renderer, error) {
	tmpl, err := template.New("jobscript").Option("missingkey=error").Parse(text)
	if err != nil {
		if isDefault {
			return nil, err
		}
		return nil, &TemplateError{Path: path, Err: err}
	}
	return &Renderer{tmpl: tmpl, path: path, isDefault: isDefault}, nil
}

// IsDefault reports whether the builtin template is in use.
func (r *Renderer) IsDefault() bool {
	return r.isDefault
}

// Render returns the script for a job with the given properties and exec command.
func (r *Renderer) Render(properties map[string]any, execJob string) (string, error) {
	props, err := json.Marshal(properties)
	if err != nil {
		return "", fmt.Errorf("failed to encode job properties: %w", err)
	}

	var buf bytes.Buffer
	data := map[string]any{
		"properties": string(props),
		"exec_job":   execJob,
	}
	if err := r.tmpl.Execute(&buf, data); err != nil {
		if r.isDefault {
			return "", err
		}
		var execErr template.ExecError
		if errors.As(err, &execErr) || strings.Contains(err.Error(), "map has no entry") {
			return "", &TemplateError{Path: r.path, Err: err}
		}
		return "", err
	}
	return buf.String(), nil
}

// Write renders the script to path and makes it executable for the owner.
func (r *Renderer) Write(path string, properties map[string]any, execJob string) (string, error) {
	content, err := r.Render(properties, execJob)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write jobscript %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat jobscript %s: %w", path, err)
	}
	if err := os.Chmod(path, info.Mode()|0o500); err != nil {
		return "", fmt.Errorf("failed to make jobscript %s executable: %w", path, err)
	}
	return content, nil
}
