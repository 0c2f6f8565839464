package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/timmy/curator/internal/api/handler"
	"github.com/timmy/curator/internal/config"
	"github.com/timmy/curator/internal/domain"
)

type fakeEnrichment struct {
	started []domain.JobFilter
	jobs    map[string]*domain.EnrichmentJob
}

func (f *fakeEnrichment) StartJob(ctx context.Context, filter domain.JobFilter) (*domain.EnrichmentJob, error) {
	f.started = append(f.started, filter)
	job := &domain.EnrichmentJob{ID: "job-1", Status: domain.JobStatusProcessing, Filter: filter, TotalItems: 2}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeEnrichment) CancelJob(ctx context.Context, jobID string) (*domain.EnrichmentJob, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if job.Status == domain.JobStatusProcessing {
		job.Status = domain.JobStatusCancelled
	}
	return job, nil
}

func (f *fakeEnrichment) GetJobStatus(ctx context.Context, jobID string) (*domain.JobStatusReport, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &domain.JobStatusReport{Job: job, ItemCounts: map[domain.ItemStatus]int{domain.ItemStatusPending: 2}}, nil
}

func (f *fakeEnrichment) ListJobs(ctx context.Context) ([]domain.EnrichmentJob, error) {
	return nil, nil
}

type fakeLinks struct {
	report  *domain.LinkHealthReport
	busy    bool
	filters []domain.LinkFilter
}

func (f *fakeLinks) CheckLinks(ctx context.Context) (*domain.LinkHealthReport, error) {
	if f.busy {
		return nil, domain.ErrCheckInProgress
	}
	status := http.StatusOK
	f.report = domain.NewLinkHealthReport([]domain.LinkCheckResult{
		{ResourceID: "r1", URL: "https://example.com", StatusCode: &status, ResponseTime: 12, Healthy: true},
	}, time.Now(), time.Now())
	return f.report, nil
}

func (f *fakeLinks) GetResults(ctx context.Context, filter domain.LinkFilter) (*domain.LinkHealthReport, error) {
	f.filters = append(f.filters, filter)
	return f.report, nil
}

func (f *fakeLinks) History(ctx context.Context) ([]domain.LinkHealthHistoryEntry, error) {
	return []domain.LinkHealthHistoryEntry{}, nil
}

func (f *fakeLinks) LastRun(ctx context.Context) (time.Time, error) {
	return time.Time{}, nil
}

func (f *fakeLinks) IsRunning() bool { return f.busy }

func newTestRouter(token string, checks map[string]handler.HealthCheck) (*fakeEnrichment, *fakeLinks, http.Handler) {
	enrichment := &fakeEnrichment{jobs: make(map[string]*domain.EnrichmentJob)}
	links := &fakeLinks{}
	r := SetupRouter(&config.ServerConfig{
		Mode:       "test",
		AdminToken: token,
		CORS:       config.CORSConfig{AllowedOrigins: []string{"https://admin.example"}},
	}, Dependencies{
		Enrichment:   enrichment,
		LinkHealth:   links,
		HealthChecks: checks,
	})
	return enrichment, links, r
}

func do(h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestEnrichmentRoutes(t *testing.T) {
	enrichment, _, r := newTestRouter("", nil)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"start with default filter", http.MethodPost, "/api/v1/admin/enrichment/jobs", "", http.StatusAccepted, `"filter":"all"`},
		{"start unenriched", http.MethodPost, "/api/v1/admin/enrichment/jobs", `{"filter":"unenriched"}`, http.StatusAccepted, `"filter":"unenriched"`},
		{"reject unknown filter", http.MethodPost, "/api/v1/admin/enrichment/jobs", `{"filter":"stale"}`, http.StatusBadRequest, "filter must be"},
		{"reject malformed body", http.MethodPost, "/api/v1/admin/enrichment/jobs", `{`, http.StatusBadRequest, "error"},
		{"list is never null", http.MethodGet, "/api/v1/admin/enrichment/jobs", "", http.StatusOK, `"jobs":[]`},
		{"status", http.MethodGet, "/api/v1/admin/enrichment/jobs/job-1", "", http.StatusOK, `"item_counts":{"pending":2}`},
		{"status of unknown job", http.MethodGet, "/api/v1/admin/enrichment/jobs/nope", "", http.StatusNotFound, "not found"},
		{"cancel", http.MethodPost, "/api/v1/admin/enrichment/jobs/job-1/cancel", "", http.StatusOK, `"status":"cancelled"`},
		{"cancel again", http.MethodPost, "/api/v1/admin/enrichment/jobs/job-1/cancel", "", http.StatusOK, `"status":"cancelled"`},
		{"cancel unknown job", http.MethodPost, "/api/v1/admin/enrichment/jobs/nope/cancel", "", http.StatusNotFound, "not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, tt.method, tt.path, tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want it to contain %s", w.Body.String(), tt.wantBody)
			}
		})
	}

	if len(enrichment.started) != 2 {
		t.Errorf("StartJob called %d times, want 2", len(enrichment.started))
	}
}

func TestLinkHealthRoutes(t *testing.T) {
	_, links, r := newTestRouter("", nil)

	w := do(r, http.MethodGet, "/api/v1/admin/link-health/results", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"report":null`) {
		t.Fatalf("results before any run: %d %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodGet, "/api/v1/admin/link-health/results?filter=dead", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid filter status = %d, want 400", w.Code)
	}

	w = do(r, http.MethodPost, "/api/v1/admin/link-health/check", "")
	if w.Code != http.StatusOK {
		t.Fatalf("check status = %d: %s", w.Code, w.Body.String())
	}
	var report domain.LinkHealthReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil || report.TotalChecked != 1 {
		t.Errorf("check body = %s (err %v)", w.Body.String(), err)
	}
	for _, key := range []string{`"total_checked":1`, `"started_at"`, `"resource_id":"r1"`, `"status_code":200`, `"response_time_ms":12`} {
		if !strings.Contains(w.Body.String(), key) {
			t.Errorf("check body = %s, want snake_case key %s", w.Body.String(), key)
		}
	}

	do(r, http.MethodGet, "/api/v1/admin/link-health/results?filter=broken", "")
	if last := links.filters[len(links.filters)-1]; last != domain.LinkFilterBroken {
		t.Errorf("filter passed = %s, want broken", last)
	}

	links.busy = true
	w = do(r, http.MethodPost, "/api/v1/admin/link-health/check", "")
	if w.Code != http.StatusConflict {
		t.Errorf("busy check status = %d, want 409", w.Code)
	}

	w = do(r, http.MethodGet, "/api/v1/admin/link-health/status", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"is_running":true`) {
		t.Errorf("status body = %s", w.Body.String())
	}

	w = do(r, http.MethodGet, "/api/v1/admin/link-health/history", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"history":[]`) {
		t.Errorf("history body = %s", w.Body.String())
	}
}

func TestAdminAuth(t *testing.T) {
	_, _, r := newTestRouter("s3cret", nil)

	if w := do(r, http.MethodGet, "/api/v1/admin/enrichment/jobs", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", w.Code)
	}
	if w := do(r, http.MethodGet, "/api/v1/admin/enrichment/jobs", "", "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", w.Code)
	}
	if w := do(r, http.MethodGet, "/api/v1/admin/enrichment/jobs", "", "Authorization", "Bearer s3cret"); w.Code != http.StatusOK {
		t.Errorf("good token status = %d, want 200", w.Code)
	}
	if w := do(r, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Errorf("health must not require a token, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	_, _, r := newTestRouter("", map[string]handler.HealthCheck{
		"database": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
	})

	w := do(r, http.MethodGet, "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" || body.Checks["database"] != "ok" || body.Checks["redis"] != "connection refused" {
		t.Errorf("body = %+v", body)
	}
}

func TestRequestIDAndCORS(t *testing.T) {
	_, _, r := newTestRouter("", nil)

	w := do(r, http.MethodGet, "/health", "", "X-Request-ID", "req-42")
	if got := w.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want req-42", got)
	}

	w = do(r, http.MethodOptions, "/api/v1/admin/enrichment/jobs", "", "Origin", "https://admin.example")
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "https://admin.example" {
		t.Errorf("preflight = %d %v", w.Code, w.Header())
	}

	w = do(r, http.MethodGet, "/health", "", "Origin", "https://evil.example")
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("disallowed origin got CORS headers")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, r := newTestRouter("", nil)
	w := do(r, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Errorf("metrics = %d", w.Code)
	}
}
