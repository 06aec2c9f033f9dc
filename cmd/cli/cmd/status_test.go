package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"snakeplane/pkg/api"
)

func resetStatusFlags() {
	statusCmd.Flags().Set("run", "")
}

func TestStatusCommand_Jobs(t *testing.T) {
	resetViper()
	resetStatusFlags()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify request
		if r.Method != http.MethodGet {
			t.Errorf("expected GET method, got %s", r.Method)
		}
		if r.URL.Path != "/jobs" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("expected Bearer token, got: %s", r.Header.Get("Authorization"))
		}

		resp := api.JobsResponse{
			Plugin:    "cluster-generic",
			Active:    []api.ActiveJobResponse{{JobID: 3, Name: "align", ExternalJobID: "4711"}},
			Succeeded: []int{1, 2},
			Failed:    []int{},
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"status"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	for _, want := range []string{"cluster-generic", "align", "4711", "1, 2"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestStatusCommand_Submissions(t *testing.T) {
	resetViper()
	resetStatusFlags()

	submitted := time.Now().Add(-2 * time.Minute)
	finished := submitted.Add(90 * time.Second)
	msg := "job failed"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/runs/run-1/submissions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		resp := api.ListSubmissionsResponse{
			RunID: "run-1",
			Submissions: []api.SubmissionResponse{
				{JobID: 1, JobName: "align", ExternalJobID: "11", Status: "succeeded", SubmittedAt: submitted, FinishedAt: &finished},
				{JobID: 2, JobName: "sort", Status: "failed", Message: &msg, SubmittedAt: submitted, FinishedAt: &finished},
				{JobID: 3, JobName: "index", Status: "running", SubmittedAt: submitted},
			},
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"status", "--run", "run-1"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	for _, want := range []string{"Run run-1", "succeeded", "1m 30s", "job failed", "running", "ago"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestStatusCommand_ServerError(t *testing.T) {
	resetViper()
	resetStatusFlags()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "No run in progress", Code: "503"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"status"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "API error (503): No run in progress") {
		t.Errorf("expected API error, got: %s", output)
	}
}

func TestStatusCommand_ConnectionError(t *testing.T) {
	resetViper()
	resetStatusFlags()

	viper.Set("url", "http://localhost:1")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"status"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout.String(), "Failed to get jobs") {
		t.Errorf("expected connection failure message, got: %s", stdout.String())
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "500ms"},
		{2500 * time.Millisecond, "2.5s"},
		{90 * time.Second, "1m 30s"},
		{2*time.Hour + 5*time.Minute, "2h 5m"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestColorizeIDs(t *testing.T) {
	if got := colorizeIDs(nil, colorGreen); got != "-" {
		t.Errorf("expected '-', got %q", got)
	}
	if got := colorizeIDs([]int{4, 5}, colorGreen); !strings.Contains(got, "4, 5") {
		t.Errorf("unexpected %q", got)
	}
}
