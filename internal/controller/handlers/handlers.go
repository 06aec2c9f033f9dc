// Package handlers contains HTTP handlers for the status API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"snakeplane/internal/executor"
	"snakeplane/internal/host"
	"snakeplane/internal/registry"
	"snakeplane/internal/store"
	"snakeplane/pkg/api"
)

// PluginLister lists the registered executor plugins.
type PluginLister interface {
	Plugins() []*registry.Plugin
}

// ActiveJobs exposes the active set of a running engine.
type ActiveJobs interface {
	Active() []*executor.SubmittedJobInfo
}

// Outcomes exposes the terminal job states collected by the host.
type Outcomes interface {
	Snapshot() host.Summary
}

// SubmissionStore is the part of the run ledger the API reads.
type SubmissionStore interface {
	Ping(ctx context.Context) error
	ListSubmissions(ctx context.Context, runID uuid.UUID) ([]store.Submission, error)
}

// Deps are the dependencies of the handlers. Engine, Outcomes and Ledger
// may be nil when no run is in progress or no ledger is configured.
type Deps struct {
	Registry PluginLister
	Plugin   string
	Engine   ActiveJobs
	Outcomes Outcomes
	Ledger   SubmissionStore
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	deps Deps
}

// New creates a new Handlers instance with the given dependencies.
func New(deps Deps) *Handlers {
	return &Handlers{deps: deps}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}
