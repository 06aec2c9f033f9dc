package controller

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"snakeplane/internal/auth"
	"snakeplane/internal/controller/handlers"
	"snakeplane/internal/registry"
)

type emptyRegistry struct{}

func (emptyRegistry) Plugins() []*registry.Plugin { return nil }

func newTestServer(keys []string) *Server {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics\n"))
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(":0", handlers.Deps{Registry: emptyRegistry{}}, metrics, auth.NewKeySet(keys), nil, logger)
}

func TestServer_Routes(t *testing.T) {
	srv := newTestServer([]string{"secret"})

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		wantStatus int
	}{
		{"healthz is public", http.MethodGet, "/healthz", "", http.StatusOK},
		{"readyz without ledger", http.MethodGet, "/readyz", "", http.StatusOK},
		{"metrics is public", http.MethodGet, "/metrics", "", http.StatusOK},
		{"plugins requires token", http.MethodGet, "/plugins", "", http.StatusUnauthorized},
		{"plugins with token", http.MethodGet, "/plugins", "secret", http.StatusOK},
		{"jobs without engine", http.MethodGet, "/jobs", "secret", http.StatusServiceUnavailable},
		{"submissions without ledger", http.MethodGet, "/runs/abc/submissions", "secret", http.StatusNotFound},
		{"wrong method", http.MethodPost, "/plugins", "secret", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rr := httptest.NewRecorder()

			srv.Handler().ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("got status %d, want %d", rr.Code, tt.wantStatus)
			}
			if rr.Header().Get("X-Request-ID") == "" {
				t.Error("expected X-Request-ID response header")
			}
		})
	}
}

func TestServer_OpenWithoutKeys(t *testing.T) {
	srv := newTestServer(nil)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/plugins", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusOK)
	}
}
