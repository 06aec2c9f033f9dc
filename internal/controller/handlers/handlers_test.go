package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"snakeplane/internal/executor"
	"snakeplane/internal/host"
	"snakeplane/internal/registry"
	"snakeplane/internal/settings"
	"snakeplane/internal/store"
	"snakeplane/pkg/api"
)

type mockRegistry struct {
	plugins []*registry.Plugin
}

func (m *mockRegistry) Plugins() []*registry.Plugin { return m.plugins }

type mockEngine struct {
	active []*executor.SubmittedJobInfo
}

func (m *mockEngine) Active() []*executor.SubmittedJobInfo { return m.active }

type mockOutcomes struct {
	summary host.Summary
}

func (m *mockOutcomes) Snapshot() host.Summary { return m.summary }

type mockLedger struct {
	pingErr error

	listResp []store.Submission
	listErr  error

	// Spies
	capturedRunID uuid.UUID
}

func (m *mockLedger) Ping(ctx context.Context) error { return m.pingErr }

func (m *mockLedger) ListSubmissions(ctx context.Context, runID uuid.UUID) ([]store.Submission, error) {
	m.capturedRunID = runID
	return m.listResp, m.listErr
}

// mockJob is the minimal executor.Job needed to render the active set.
type mockJob struct {
	executor.Job
	id   int
	name string
}

func (m *mockJob) JobID() int   { return m.id }
func (m *mockJob) Name() string { return m.name }

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return out
}

func TestListPlugins(t *testing.T) {
	plugin := &registry.Plugin{
		Name:   "cluster-generic",
		Common: settings.CommonSettings{NonLocalExec: true},
		Schema: &settings.Schema{Fields: []settings.Field{
			{Name: "submit_cmd", Type: settings.String, Help: "Command for submitting jobs", Required: true, EnvVar: true},
			{Name: "queue", Type: settings.String, Default: "short", Help: "Queue", Choices: []string{"short", "long"}},
		}},
	}
	h := New(Deps{Registry: &mockRegistry{plugins: []*registry.Plugin{plugin, {Name: "dryrun"}}}})

	rr := httptest.NewRecorder()
	h.ListPlugins(rr, httptest.NewRequest(http.MethodGet, "/plugins", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d", rr.Code)
	}
	resp := decode[api.ListPluginsResponse](t, rr)
	if len(resp.Plugins) != 2 {
		t.Fatalf("expected 2 plugins, got %d", len(resp.Plugins))
	}

	cg := resp.Plugins[0]
	if !cg.NonLocalExec || len(cg.Settings) != 2 {
		t.Fatalf("unexpected plugin %+v", cg)
	}
	submit := cg.Settings[0]
	if submit.Flag != "--cluster-generic-submit-cmd" || submit.EnvVar != "SNAKEMAKE_CLUSTER_GENERIC_SUBMIT_CMD" || !submit.Required {
		t.Errorf("unexpected setting %+v", submit)
	}
	if cg.Settings[1].EnvVar != "" || len(cg.Settings[1].Choices) != 2 {
		t.Errorf("unexpected setting %+v", cg.Settings[1])
	}
	if resp.Plugins[1].Settings != nil {
		t.Errorf("expected no settings for a plugin without schema")
	}
}

func TestListJobs(t *testing.T) {
	engine := &mockEngine{active: []*executor.SubmittedJobInfo{
		{Job: &mockJob{id: 3, name: "align"}, ExternalJobID: "4711"},
	}}
	outcomes := &mockOutcomes{summary: host.Summary{Succeeded: []int{1}, Failed: []int{2}}}
	h := New(Deps{Plugin: "cluster-generic", Engine: engine, Outcomes: outcomes})

	rr := httptest.NewRecorder()
	h.ListJobs(rr, httptest.NewRequest(http.MethodGet, "/jobs", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d", rr.Code)
	}
	resp := decode[api.JobsResponse](t, rr)
	if resp.Plugin != "cluster-generic" || len(resp.Active) != 1 || resp.Active[0].ExternalJobID != "4711" {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(resp.Succeeded) != 1 || len(resp.Failed) != 1 || resp.Failed[0] != 2 {
		t.Errorf("unexpected outcomes %+v", resp)
	}
}

func TestListJobs_NoRun(t *testing.T) {
	h := New(Deps{})

	rr := httptest.NewRecorder()
	h.ListJobs(rr, httptest.NewRequest(http.MethodGet, "/jobs", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

func TestListSubmissions(t *testing.T) {
	runID := uuid.New()
	msg := "exit 1"
	finished := time.Now()

	tests := []struct {
		name           string
		ledger         *mockLedger
		path           string
		expectedStatus int
		expectedCount  int
	}{
		{
			name: "Success",
			ledger: &mockLedger{listResp: []store.Submission{
				{JobID: 1, JobName: "align", Status: store.SubmissionStatusSucceeded, SubmittedAt: time.Now(), FinishedAt: &finished},
				{JobID: 2, JobName: "sort", Status: store.SubmissionStatusFailed, Message: &msg, SubmittedAt: time.Now()},
			}},
			path:           runID.String(),
			expectedStatus: http.StatusOK,
			expectedCount:  2,
		},
		{
			name:           "Invalid run ID",
			ledger:         &mockLedger{},
			path:           "not-a-uuid",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Ledger error",
			ledger:         &mockLedger{listErr: errors.New("db down")},
			path:           runID.String(),
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(Deps{Ledger: tt.ledger})

			req := httptest.NewRequest(http.MethodGet, "/runs/"+tt.path+"/submissions", nil)
			req.SetPathValue("id", tt.path)
			rr := httptest.NewRecorder()
			h.ListSubmissions(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
			if tt.expectedStatus != http.StatusOK {
				return
			}
			resp := decode[api.ListSubmissionsResponse](t, rr)
			if len(resp.Submissions) != tt.expectedCount || resp.RunID != runID.String() {
				t.Errorf("unexpected response %+v", resp)
			}
			if tt.ledger.capturedRunID != runID {
				t.Errorf("ledger queried with %s, want %s", tt.ledger.capturedRunID, runID)
			}
			if resp.Submissions[1].Message == nil || *resp.Submissions[1].Message != "exit 1" {
				t.Errorf("expected failure message, got %+v", resp.Submissions[1])
			}
		})
	}
}

func TestListSubmissions_NoLedger(t *testing.T) {
	h := New(Deps{})

	req := httptest.NewRequest(http.MethodGet, "/runs/x/submissions", nil)
	rr := httptest.NewRecorder()
	h.ListSubmissions(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusNotFound)
	}
}
