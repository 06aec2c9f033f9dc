package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"snakeplane/pkg/api"
)

// StatusClient handles calls to the status API of a running host.
type StatusClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewStatusClient creates a new client with the given base URL and token.
func NewStatusClient(baseURL, token string) *StatusClient {
	return &StatusClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// ListJobs sends GET /jobs to retrieve the active set and outcomes.
func (c *StatusClient) ListJobs() (*api.JobsResponse, error) {
	var result api.JobsResponse
	if err := c.get("/jobs", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListSubmissions sends GET /runs/{id}/submissions to retrieve the ledger of a run.
func (c *StatusClient) ListSubmissions(runID string) (*api.ListSubmissionsResponse, error) {
	var result api.ListSubmissionsResponse
	if err := c.get(fmt.Sprintf("/runs/%s/submissions", runID), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *StatusClient) get(path string, out any) error {
	httpReq, err := http.NewRequest(http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.Token != "" {
		httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	}
	httpReq.Header.Add("Accept", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// errorMessage extracts the message of an api.ErrorResponse body, falling
// back to the raw body.
func errorMessage(body []byte) string {
	var e api.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return string(body)
}
