package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/curator/internal/domain"
	"github.com/timmy/curator/internal/repository"
)

type fakeAnalyzer struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(ctx context.Context, url string) (*domain.ContentAnalysis, error)
}

func newFakeAnalyzer(fn func(ctx context.Context, url string) (*domain.ContentAnalysis, error)) *fakeAnalyzer {
	return &fakeAnalyzer{calls: make(map[string]int), fn: fn}
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, url string) (*domain.ContentAnalysis, error) {
	f.mu.Lock()
	f.calls[url]++
	f.mu.Unlock()
	return f.fn(ctx, url)
}

func (f *fakeAnalyzer) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeAnalyzer) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func okAnalysis(url string) *domain.ContentAnalysis {
	return &domain.ContentAnalysis{
		SuggestedTitle:    "Title for " + url,
		SuggestedTags:     []string{"video"},
		SuggestedCategory: "General",
		Difficulty:        "beginner",
		Confidence:        0.9,
		KeyTopics:         []string{"codecs"},
	}
}

type enrichmentFixture struct {
	jobs      *repository.JobRepository
	resources *repository.ResourceRepository
	svc       *EnrichmentService
}

func newEnrichmentFixture(t *testing.T, analyzer Analyzer, cfg EnrichmentConfig) *enrichmentFixture {
	t.Helper()
	db := newTestDB(t)
	f := &enrichmentFixture{
		jobs:      repository.NewJobRepository(db),
		resources: repository.NewResourceRepository(db),
	}
	f.svc = NewEnrichmentService(f.jobs, f.resources, analyzer, nil, &cfg)
	t.Cleanup(f.svc.Close)
	return f
}

func assertCounterInvariant(t *testing.T, job *domain.EnrichmentJob) {
	t.Helper()
	if job.ProcessedItems+job.FailedItems+job.SkippedItems > job.TotalItems {
		t.Errorf("processed+failed+skipped = %d exceeds total %d",
			job.ProcessedItems+job.FailedItems+job.SkippedItems, job.TotalItems)
	}
}

func TestStartJob_NothingToEnrich(t *testing.T) {
	analyzer := newFakeAnalyzer(func(ctx context.Context, url string) (*domain.ContentAnalysis, error) {
		return okAnalysis(url), nil
	})
	f := newEnrichmentFixture(t, analyzer, EnrichmentConfig{})
	seedResources(t, f.resources, domain.Metadata{domain.MetadataKeyEnrichedAt: "2026-01-01T00:00:00Z"},
		"https://a.example", "https://b.example")

	job, err := f.svc.StartJob(context.Background(), domain.JobFilterUnenriched)
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	f.svc.Wait()

	if job.Status != domain.JobStatusCompleted || job.TotalItems != 0 || job.ProcessedItems != 0 {
		t.Errorf("job = %+v, want completed with zero items", job)
	}
	stored, err := f.jobs.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != domain.JobStatusCompleted || stored.CompletedAt == nil {
		t.Errorf("stored job = %+v, want completed with completed_at", stored)
	}
	if analyzer.Total() != 0 {
		t.Errorf("analyzer called %d times, want 0", analyzer.Total())
	}
}

func TestStartJob_OneResourceAlwaysFails(t *testing.T) {
	const badURL = "https://bad.example"
	analyzer := newFakeAnalyzer(func(ctx context.Context, url string) (*domain.ContentAnalysis, error) {
		if url == badURL {
			return nil, errors.New("upstream 502")
		}
		return okAnalysis(url), nil
	})
	f := newEnrichmentFixture(t, analyzer, EnrichmentConfig{BackoffBase: time.Millisecond, MaxAttempts: 3})
	resources := seedResources(t, f.resources, domain.Metadata{"notes": "keep"},
		"https://a.example", badURL, "https://c.example")

	ctx := context.Background()
	job, err := f.svc.StartJob(ctx, domain.JobFilterAll)
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	if job.Status != domain.JobStatusProcessing || job.TotalItems != 3 {
		t.Fatalf("job = %+v, want processing with 3 items", job)
	}
	f.svc.Wait()

	report, err := f.svc.GetJobStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJobStatus: %v", err)
	}
	got := report.Job
	if got.Status != domain.JobStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.ProcessedItems != 2 || got.FailedItems != 1 || got.SkippedItems != 0 {
		t.Errorf("counters = %d/%d/%d, want 2/1/0", got.ProcessedItems, got.FailedItems, got.SkippedItems)
	}
	assertCounterInvariant(t, got)
	if report.ItemCounts[domain.ItemStatusCompleted] != 2 || report.ItemCounts[domain.ItemStatusFailed] != 1 {
		t.Errorf("item counts = %v", report.ItemCounts)
	}
	if len(got.ErrorLog) != 1 || got.ErrorLog[0].ResourceID != resources[1].ID {
		t.Errorf("error log = %+v, want one entry for the failing resource", got.ErrorLog)
	}
	if n := analyzer.Calls(badURL); n != 3 {
		t.Errorf("analyzer calls for failing url = %d, want 3", n)
	}

	items, err := f.jobs.ListItems(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	for _, item := range items {
		if item.ResourceID == resources[1].ID {
			if item.Status != domain.ItemStatusFailed || item.RetryCount != 2 || item.Error != "upstream 502" {
				t.Errorf("failing item = %+v, want failed with retry_count 2", item)
			}
			continue
		}
		if item.Status != domain.ItemStatusCompleted || item.RetryCount != 0 {
			t.Errorf("item = %+v, want completed", item)
		}
	}

	enriched, err := f.resources.GetByID(ctx, resources[0].ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if enriched.Metadata["notes"] != "keep" {
		t.Errorf("existing metadata key lost: %v", enriched.Metadata)
	}
	if enriched.Metadata["suggestedTitle"] != "Title for https://a.example" || !enriched.Metadata.IsEnriched() {
		t.Errorf("metadata = %v, want analysis merged with enrichedAt", enriched.Metadata)
	}
	if _, ok := enriched.Metadata["cached"]; ok {
		t.Error("cached flag must not be persisted")
	}
}

func TestCancelJob_MidRun(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	analyzer := newFakeAnalyzer(func(ctx context.Context, url string) (*domain.ContentAnalysis, error) {
		started <- struct{}{}
		<-release
		return okAnalysis(url), nil
	})
	f := newEnrichmentFixture(t, analyzer, EnrichmentConfig{})
	seedResources(t, f.resources, nil, "https://a.example", "https://b.example", "https://c.example")

	ctx := context.Background()
	job, err := f.svc.StartJob(ctx, domain.JobFilterAll)
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}

	<-started
	cancelled, err := f.svc.CancelJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if cancelled.Status != domain.JobStatusCancelled || cancelled.CompletedAt == nil {
		t.Errorf("cancelled job = %+v", cancelled)
	}
	close(release)
	f.svc.Wait()

	if n := analyzer.Total(); n != 1 {
		t.Errorf("analyzer called %d times, want 1", n)
	}

	report, err := f.svc.GetJobStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJobStatus: %v", err)
	}
	if report.Job.Status != domain.JobStatusCancelled {
		t.Errorf("status = %s, want cancelled", report.Job.Status)
	}
	if report.ItemCounts[domain.ItemStatusCancelled] != 3 {
		t.Errorf("item counts = %v, want 3 cancelled", report.ItemCounts)
	}
	if report.Job.ProcessedItems != 0 {
		t.Errorf("in-flight result was kept: processed = %d", report.Job.ProcessedItems)
	}

	// cancelling again must not change anything
	again, err := f.svc.CancelJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("second CancelJob: %v", err)
	}
	if !again.CompletedAt.Equal(*cancelled.CompletedAt) || again.ProcessedItems != 0 {
		t.Errorf("second cancel changed the job: %+v", again)
	}
	after, _ := f.svc.GetJobStatus(ctx, job.ID)
	if after.ItemCounts[domain.ItemStatusCancelled] != 3 || len(after.ItemCounts) != 1 {
		t.Errorf("item counts after second cancel = %v", after.ItemCounts)
	}
}

func TestCancelJob_TerminalJobIsUnchanged(t *testing.T) {
	analyzer := newFakeAnalyzer(func(ctx context.Context, url string) (*domain.ContentAnalysis, error) {
		return okAnalysis(url), nil
	})
	f := newEnrichmentFixture(t, analyzer, EnrichmentConfig{})
	seedResources(t, f.resources, nil, "https://a.example")

	ctx := context.Background()
	job, err := f.svc.StartJob(ctx, domain.JobFilterAll)
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	f.svc.Wait()

	got, err := f.svc.CancelJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if got.Status != domain.JobStatusCompleted || got.ProcessedItems != 1 {
		t.Errorf("job = %+v, want untouched completed job", got)
	}
	report, _ := f.svc.GetJobStatus(ctx, job.ID)
	if report.ItemCounts[domain.ItemStatusCompleted] != 1 {
		t.Errorf("item counts = %v", report.ItemCounts)
	}
}

func TestCancelJob_NotFound(t *testing.T) {
	f := newEnrichmentFixture(t, newFakeAnalyzer(nil), EnrichmentConfig{})
	if _, err := f.svc.CancelJob(context.Background(), "missing"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
}

func TestProcessQueue_MissingResourceIsSkipped(t *testing.T) {
	analyzer := newFakeAnalyzer(func(ctx context.Context, url string) (*domain.ContentAnalysis, error) {
		return okAnalysis(url), nil
	})
	f := newEnrichmentFixture(t, analyzer, EnrichmentConfig{})
	resources := seedResources(t, f.resources, nil, "https://a.example")

	ctx := context.Background()
	job := &domain.EnrichmentJob{
		ID:         uuid.New().String(),
		Status:     domain.JobStatusProcessing,
		Filter:     domain.JobFilterAll,
		TotalItems: 2,
		StartedAt:  time.Now(),
	}
	if err := f.jobs.CreateWithItems(ctx, job, []string{"ghost", resources[0].ID}); err != nil {
		t.Fatalf("CreateWithItems: %v", err)
	}

	if err := f.svc.ProcessQueue(ctx, job.ID); err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}

	got, _ := f.jobs.GetByID(ctx, job.ID)
	if got.Status != domain.JobStatusCompleted || got.SkippedItems != 1 || got.ProcessedItems != 1 || got.FailedItems != 0 {
		t.Errorf("job = %+v, want completed with 1 skipped and 1 processed", got)
	}
	if len(got.ErrorLog) != 0 {
		t.Errorf("skipped items must not be logged as failures: %+v", got.ErrorLog)
	}
	items, _ := f.jobs.ListItems(ctx, job.ID)
	if items[0].Status != domain.ItemStatusFailed || items[0].Error != resourceNotFoundText || items[0].RetryCount != 0 {
		t.Errorf("ghost item = %+v", items[0])
	}
	if analyzer.Total() != 1 {
		t.Errorf("analyzer called %d times, want 1", analyzer.Total())
	}
}

func TestSupervise_PanicFailsJob(t *testing.T) {
	analyzer := newFakeAnalyzer(func(ctx context.Context, url string) (*domain.ContentAnalysis, error) {
		panic("analyzer exploded")
	})
	f := newEnrichmentFixture(t, analyzer, EnrichmentConfig{})
	seedResources(t, f.resources, nil, "https://a.example")

	ctx := context.Background()
	job, err := f.svc.StartJob(ctx, domain.JobFilterAll)
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	f.svc.Wait()

	got, _ := f.jobs.GetByID(ctx, job.ID)
	if got.Status != domain.JobStatusFailed || got.CompletedAt == nil {
		t.Fatalf("job = %+v, want failed", got)
	}
	if len(got.ErrorLog) != 1 || !strings.Contains(got.ErrorLog[0].Error, "analyzer exploded") {
		t.Errorf("error log = %+v", got.ErrorLog)
	}
}

func TestClose_LeavesJobProcessingForResume(t *testing.T) {
	called := make(chan struct{}, 1)
	failing := newFakeAnalyzer(func(ctx context.Context, url string) (*domain.ContentAnalysis, error) {
		select {
		case called <- struct{}{}:
		default:
		}
		return nil, errors.New("rate limited")
	})

	db := newTestDB(t)
	jobs := repository.NewJobRepository(db)
	resources := repository.NewResourceRepository(db)
	seedResources(t, resources, nil, "https://a.example", "https://b.example")

	first := NewEnrichmentService(jobs, resources, failing, nil, &EnrichmentConfig{BackoffBase: time.Hour})
	ctx := context.Background()
	job, err := first.StartJob(ctx, domain.JobFilterAll)
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	<-called
	first.Close()

	got, _ := jobs.GetByID(ctx, job.ID)
	if got.Status != domain.JobStatusProcessing {
		t.Fatalf("status after shutdown = %s, want processing", got.Status)
	}

	ok := newFakeAnalyzer(func(ctx context.Context, url string) (*domain.ContentAnalysis, error) {
		return okAnalysis(url), nil
	})
	second := NewEnrichmentService(jobs, resources, ok, nil, &EnrichmentConfig{})
	t.Cleanup(second.Close)

	n, err := second.ResumeInterrupted(ctx)
	if err != nil {
		t.Fatalf("ResumeInterrupted: %v", err)
	}
	if n != 1 {
		t.Fatalf("resumed %d jobs, want 1", n)
	}
	second.Wait()

	got, _ = jobs.GetByID(ctx, job.ID)
	if got.Status != domain.JobStatusCompleted || got.ProcessedItems != 2 {
		t.Errorf("resumed job = %+v, want completed with 2 processed", got)
	}
	assertCounterInvariant(t, got)
}

func TestListJobs_NewestFirst(t *testing.T) {
	f := newEnrichmentFixture(t, newFakeAnalyzer(nil), EnrichmentConfig{})
	ctx := context.Background()

	first, err := f.svc.StartJob(ctx, domain.JobFilterAll)
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	second, err := f.svc.StartJob(ctx, domain.JobFilterUnenriched)
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}

	jobs, err := f.svc.ListJobs(ctx)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != second.ID || jobs[1].ID != first.ID {
		t.Errorf("jobs = %+v, want newest first", jobs)
	}
}

func TestProcessItem_BackoffDoublesPerRetry(t *testing.T) {
	const base = 20 * time.Millisecond
	var (
		mu    sync.Mutex
		calls []time.Time
	)
	analyzer := newFakeAnalyzer(func(ctx context.Context, url string) (*domain.ContentAnalysis, error) {
		mu.Lock()
		calls = append(calls, time.Now())
		mu.Unlock()
		return nil, errors.New("upstream 503")
	})
	f := newEnrichmentFixture(t, analyzer, EnrichmentConfig{BackoffBase: base, MaxAttempts: 3})
	seedResources(t, f.resources, nil, "https://flaky.example")

	if _, err := f.svc.StartJob(context.Background(), domain.JobFilterAll); err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	f.svc.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 3 {
		t.Fatalf("analyzer called %d times, want 3", len(calls))
	}
	first, second := calls[1].Sub(calls[0]), calls[2].Sub(calls[1])
	if first < 2*base {
		t.Errorf("first retry after %s, want at least %s", first, 2*base)
	}
	if second < 4*base {
		t.Errorf("second retry after %s, want at least %s", second, 4*base)
	}
	if second-first < base {
		t.Errorf("backoff did not grow: %s then %s", first, second)
	}
}

func TestCancelJob_DuringBackoff(t *testing.T) {
	analyzer := newFakeAnalyzer(func(ctx context.Context, url string) (*domain.ContentAnalysis, error) {
		return nil, errors.New("upstream 503")
	})
	// first retry waits 2*base, long enough to cancel inside it
	f := newEnrichmentFixture(t, analyzer, EnrichmentConfig{BackoffBase: 300 * time.Millisecond, MaxAttempts: 3})
	seedResources(t, f.resources, nil, "https://a.example", "https://b.example")

	ctx := context.Background()
	job, err := f.svc.StartJob(ctx, domain.JobFilterAll)
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		items, err := f.jobs.ListItems(ctx, job.ID)
		if err != nil {
			t.Fatalf("ListItems: %v", err)
		}
		if items[0].Status == domain.ItemStatusPending && items[0].RetryCount == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("item never entered backoff: %+v", items[0])
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := f.svc.CancelJob(ctx, job.ID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	f.svc.Wait()

	if n := analyzer.Total(); n != 1 {
		t.Errorf("analyzer called %d times, want 1", n)
	}
	items, err := f.jobs.ListItems(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if items[0].Status != domain.ItemStatusCancelled || items[0].RetryCount != 1 {
		t.Errorf("retried item = %+v, want cancelled with retry_count 1", items[0])
	}
	report, err := f.svc.GetJobStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJobStatus: %v", err)
	}
	if report.Job.Status != domain.JobStatusCancelled || report.Job.FailedItems != 0 {
		t.Errorf("job = %+v, want cancelled with no failed items", report.Job)
	}
	if report.ItemCounts[domain.ItemStatusCancelled] != 2 {
		t.Errorf("item counts = %v, want 2 cancelled", report.ItemCounts)
	}
}
