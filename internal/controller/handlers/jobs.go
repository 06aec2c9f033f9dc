package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"snakeplane/pkg/api"
)

// ListJobs handles GET /jobs.
// It reports the engine's active set and the outcomes collected so far.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.deps.Engine == nil {
		h.httpError(w, "No run in progress", http.StatusServiceUnavailable)
		return
	}

	active := h.deps.Engine.Active()
	resp := api.JobsResponse{
		Plugin:    h.deps.Plugin,
		Active:    make([]api.ActiveJobResponse, 0, len(active)),
		Succeeded: []int{},
		Failed:    []int{},
	}
	for _, info := range active {
		resp.Active = append(resp.Active, api.ActiveJobResponse{
			JobID:         info.Job.JobID(),
			Name:          info.Job.Name(),
			ExternalJobID: info.ExternalJobID,
		})
	}
	if h.deps.Outcomes != nil {
		summary := h.deps.Outcomes.Snapshot()
		resp.Succeeded = append(resp.Succeeded, summary.Succeeded...)
		resp.Failed = append(resp.Failed, summary.Failed...)
	}
	h.respondJson(w, http.StatusOK, resp)
}

// ListSubmissions handles GET /runs/{id}/submissions.
func (h *Handlers) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ledger == nil {
		h.httpError(w, "Ledger not configured", http.StatusNotFound)
		return
	}

	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid run ID", http.StatusBadRequest)
		return
	}

	subs, err := h.deps.Ledger.ListSubmissions(r.Context(), runID)
	if err != nil {
		h.httpError(w, "Failed to list submissions", http.StatusInternalServerError)
		return
	}

	resp := api.ListSubmissionsResponse{
		RunID:       runID.String(),
		Submissions: make([]api.SubmissionResponse, 0, len(subs)),
	}
	for _, s := range subs {
		resp.Submissions = append(resp.Submissions, api.SubmissionResponse{
			JobID:         s.JobID,
			JobName:       s.JobName,
			ExternalJobID: s.ExternalJobID,
			Status:        string(s.Status),
			Message:       s.Message,
			SubmittedAt:   s.SubmittedAt,
			FinishedAt:    s.FinishedAt,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}
