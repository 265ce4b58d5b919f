package router

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/busimap/stackops/internal/config"
	"github.com/busimap/stackops/internal/history"
	"github.com/busimap/stackops/internal/models"
)

type fakeRuntime struct{}

func (fakeRuntime) State(_ context.Context, svc models.ServiceDescriptor) (models.ServiceState, error) {
	return models.ServiceState{Name: svc.Name, Container: svc.Container, State: "running"}, nil
}

func (fakeRuntime) Exec(context.Context, string, []string) (int, string, error) {
	return 0, "ok", nil
}

func (fakeRuntime) Logs(context.Context, string, string, bool) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

type fakeStore struct{}

func (fakeStore) ListRuns(int) ([]models.PipelineRun, error)      { return nil, nil }
func (fakeStore) GetRun(string) (*models.PipelineRun, error)      { return nil, history.ErrRunNotFound }
func (fakeStore) ListBackups(int) ([]history.BackupRecord, error) { return nil, nil }

func testConfig() *config.Config {
	cfg := &config.Config{Environment: "production"}
	cfg.Server.PathPrefix = "/ops"
	cfg.Stack.Services = []models.ServiceDescriptor{
		{Name: "web", Container: "busimap_web"},
	}
	return cfg
}

func TestRoutes(t *testing.T) {
	r := New(testConfig(), fakeRuntime{}, fakeStore{})

	cases := []struct {
		path string
		want int
	}{
		{"/ops/healthz", http.StatusOK},
		{"/ops/api/version", http.StatusOK},
		{"/ops/api/services", http.StatusOK},
		{"/ops/api/runs", http.StatusOK},
		{"/ops/api/runs/missing", http.StatusNotFound},
		{"/ops/api/backups", http.StatusOK},
		{"/healthz", http.StatusNotFound}, // everything lives under the prefix
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if w.Code != tc.want {
			t.Errorf("GET %s = %d, want %d", tc.path, w.Code, tc.want)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	r := New(testConfig(), fakeRuntime{}, fakeStore{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ops/api/services", nil))

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := w.Header().Get("Cache-Control"); !strings.Contains(got, "no-store") {
		t.Errorf("Cache-Control = %q", got)
	}
}
