// Package api contains shared JSON response structs.
// This package is shared between the CLI and the status server.
package api

import "time"

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// SettingResponse describes one executor setting of a plugin.
type SettingResponse struct {
	Flag     string   `json:"flag"`
	Type     string   `json:"type"`
	Default  any      `json:"default,omitempty"`
	Help     string   `json:"help"`
	Required bool     `json:"required,omitempty"`
	Choices  []string `json:"choices,omitempty"`
	EnvVar   string   `json:"env_var,omitempty"`
}

// PluginResponse describes a registered executor plugin.
type PluginResponse struct {
	Name              string            `json:"name"`
	NonLocalExec      bool              `json:"non_local_exec"`
	ImpliesNoSharedFS bool              `json:"implies_no_shared_fs"`
	DryrunExec        bool              `json:"dryrun_exec,omitempty"`
	Settings          []SettingResponse `json:"settings,omitempty"`
}

// ListPluginsResponse is the response of GET /plugins.
type ListPluginsResponse struct {
	Plugins []PluginResponse `json:"plugins"`
}

// ActiveJobResponse is one job in the engine's active set.
type ActiveJobResponse struct {
	JobID         int    `json:"job_id"`
	Name          string `json:"name"`
	ExternalJobID string `json:"external_job_id,omitempty"`
}

// JobsResponse is the response of GET /jobs.
type JobsResponse struct {
	Plugin    string              `json:"plugin"`
	Active    []ActiveJobResponse `json:"active"`
	Succeeded []int               `json:"succeeded"`
	Failed    []int               `json:"failed"`
}

// SubmissionResponse is one ledger entry of a run.
type SubmissionResponse struct {
	JobID         int        `json:"job_id"`
	JobName       string     `json:"job_name"`
	ExternalJobID string     `json:"external_job_id,omitempty"`
	Status        string     `json:"status"`
	Message       *string    `json:"message,omitempty"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// ListSubmissionsResponse is the response of GET /runs/{id}/submissions.
type ListSubmissionsResponse struct {
	RunID       string               `json:"run_id"`
	Submissions []SubmissionResponse `json:"submissions"`
}
