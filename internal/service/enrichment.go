package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/curator/internal/domain"
	"github.com/timmy/curator/internal/logger"
	"github.com/timmy/curator/internal/metrics"
)

// JobStore is the persistence the enrichment processor needs.
// Transition methods report false when the row was no longer in the expected
// state, which is how a cancellation racing an in-flight item is detected.
type JobStore interface {
	CreateWithItems(ctx context.Context, job *domain.EnrichmentJob, resourceIDs []string) error
	GetByID(ctx context.Context, id string) (*domain.EnrichmentJob, error)
	GetStatus(ctx context.Context, id string) (domain.JobStatus, error)
	List(ctx context.Context) ([]domain.EnrichmentJob, error)
	ListByStatus(ctx context.Context, status domain.JobStatus) ([]domain.EnrichmentJob, error)
	NextPendingItem(ctx context.Context, jobID string) (*domain.EnrichmentQueueItem, error)
	ClaimItem(ctx context.Context, itemID string) (bool, error)
	RequeueItem(ctx context.Context, itemID string, retryCount int, errMsg string) (bool, error)
	CompleteItem(ctx context.Context, jobID, itemID, resourceID string, md domain.Metadata) (bool, error)
	SkipItem(ctx context.Context, jobID, itemID, errMsg string) (bool, error)
	FailItem(ctx context.Context, jobID, itemID string, retryCount int, entry domain.ErrorLogEntry) (bool, error)
	FinishJob(ctx context.Context, jobID string, status domain.JobStatus) (bool, error)
	FailJob(ctx context.Context, jobID string, entry domain.ErrorLogEntry) (bool, error)
	CancelJob(ctx context.Context, jobID string) (bool, error)
	ResetProcessingItems(ctx context.Context, jobID string) (int64, error)
	CountItemsByStatus(ctx context.Context, jobID string) (map[domain.ItemStatus]int, error)
}

// ResourceStore is the catalog access the enrichment processor needs.
type ResourceStore interface {
	GetByID(ctx context.Context, id string) (*domain.Resource, error)
	ListForEnrichment(ctx context.Context, filter domain.JobFilter) ([]domain.Resource, error)
}

// EnrichmentConfig holds configuration for the enrichment processor.
type EnrichmentConfig struct {
	ItemDelay   time.Duration // pause between items
	BackoffBase time.Duration // retry n waits BackoffBase * 2^n
	MaxAttempts int           // analyzer calls per item, including the first
}

const (
	defaultMaxAttempts   = 3
	resourceNotFoundText = "resource not found"
)

// EnrichmentService runs enrichment jobs. Each job is drained sequentially by
// one supervised goroutine; cancellation is observed between items.
type EnrichmentService struct {
	jobs      JobStore
	resources ResourceStore
	analyzer  Analyzer
	logger    *logger.Logger
	cfg       EnrichmentConfig

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	running map[string]bool
}

// NewEnrichmentService creates a new enrichment service.
func NewEnrichmentService(
	jobs JobStore,
	resources ResourceStore,
	analyzer Analyzer,
	log *logger.Logger,
	cfg *EnrichmentConfig,
) *EnrichmentService {
	c := *cfg
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if log == nil {
		log = logger.GetDefault()
	}
	baseCtx, stop := context.WithCancel(context.Background())
	return &EnrichmentService{
		jobs:      jobs,
		resources: resources,
		analyzer:  analyzer,
		logger:    log,
		cfg:       c,
		baseCtx:   log.WithContext(baseCtx),
		stop:      stop,
		running:   make(map[string]bool),
	}
}

func (s *EnrichmentService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// StartJob selects the resources matching filter, creates the job with one
// pending item per resource and starts draining it in the background.
// A job with nothing to do is created already completed.
func (s *EnrichmentService) StartJob(ctx context.Context, filter domain.JobFilter) (*domain.EnrichmentJob, error) {
	resources, err := s.resources.ListForEnrichment(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to select resources: %w", err)
	}

	now := time.Now()
	job := &domain.EnrichmentJob{
		ID:         uuid.New().String(),
		Status:     domain.JobStatusProcessing,
		Filter:     filter,
		TotalItems: len(resources),
		ErrorLog:   domain.ErrorLog{},
		StartedAt:  now,
	}
	if len(resources) == 0 {
		job.Status = domain.JobStatusCompleted
		job.CompletedAt = &now
	}

	ids := make([]string, 0, len(resources))
	for _, res := range resources {
		ids = append(ids, res.ID)
	}
	if err := s.jobs.CreateWithItems(ctx, job, ids); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	ctx = logger.SetJobID(ctx, job.ID)
	s.log(ctx).WithFields(logger.Fields{
		"filter":          filter,
		logger.FieldCount: job.TotalItems,
	}).Info("Enrichment job created")

	if job.Status == domain.JobStatusCompleted {
		metrics.IncEnrichmentJob(string(job.Status))
		return job, nil
	}

	s.launch(job.ID)
	return job, nil
}

// launch starts the supervised drain of jobID unless one is already running.
func (s *EnrichmentService) launch(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[jobID] || s.baseCtx.Err() != nil {
		return false
	}
	s.running[jobID] = true
	s.wg.Add(1)
	go s.supervise(jobID)
	return true
}

func (s *EnrichmentService) supervise(jobID string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.running, jobID)
		s.mu.Unlock()
	}()

	ctx := logger.SetJobID(logger.SetComponent(s.baseCtx, "enrichment"), jobID)

	defer func() {
		if r := recover(); r != nil {
			s.failJob(ctx, jobID, fmt.Errorf("panic in job processor: %v", r))
		}
	}()

	err := s.ProcessQueue(ctx, jobID)
	if err == nil {
		return
	}
	if s.baseCtx.Err() != nil && errors.Is(err, context.Canceled) {
		s.log(ctx).Info("Enrichment job interrupted by shutdown; it will resume on next start")
		return
	}
	s.failJob(ctx, jobID, err)
}

// failJob funnels an error escaping the drain loop into the job's failed state.
func (s *EnrichmentService) failJob(ctx context.Context, jobID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	entry := domain.ErrorLogEntry{Error: cause.Error(), Timestamp: time.Now()}
	ok, err := s.jobs.FailJob(ctx, jobID, entry)
	if err != nil {
		s.log(ctx).WithError(err).Errorf("Failed to mark job failed after: %v", cause)
		return
	}
	if ok {
		metrics.IncEnrichmentJob(string(domain.JobStatusFailed))
		s.log(ctx).WithError(cause).Error("Enrichment job failed")
	}
}

// ProcessQueue drains the pending items of jobID one at a time until none
// remain or the job leaves the processing state. Item-level failures are
// recorded on the item; the returned error is reserved for failures of the
// loop itself.
func (s *EnrichmentService) ProcessQueue(ctx context.Context, jobID string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		status, err := s.jobs.GetStatus(ctx, jobID)
		if err != nil {
			return fmt.Errorf("failed to read job status: %w", err)
		}
		if status != domain.JobStatusProcessing {
			s.log(ctx).WithField(logger.FieldStatus, status).Info("Enrichment job no longer processing, stopping")
			return nil
		}

		item, err := s.jobs.NextPendingItem(ctx, jobID)
		if err != nil {
			return fmt.Errorf("failed to load next item: %w", err)
		}
		if item == nil {
			return s.complete(ctx, jobID)
		}

		if err := s.processItem(ctx, jobID, item); err != nil {
			return err
		}

		if err := sleepCtx(ctx, s.cfg.ItemDelay); err != nil {
			return err
		}
	}
}

func (s *EnrichmentService) complete(ctx context.Context, jobID string) error {
	ok, err := s.jobs.FinishJob(ctx, jobID, domain.JobStatusCompleted)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if !ok {
		return nil
	}
	metrics.IncEnrichmentJob(string(domain.JobStatusCompleted))
	if job, err := s.jobs.GetByID(ctx, jobID); err == nil {
		s.log(ctx).WithFields(logger.Fields{
			"total":     job.TotalItems,
			"processed": job.ProcessedItems,
			"failed":    job.FailedItems,
			"skipped":   job.SkippedItems,
		}).Info("Enrichment job completed")
	}
	return nil
}

// processItem takes one item to a terminal state. The analyzer is called at
// most MaxAttempts times; between attempts the item goes back to pending for
// an exponential backoff.
func (s *EnrichmentService) processItem(ctx context.Context, jobID string, item *domain.EnrichmentQueueItem) error {
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldItemID:     item.ID,
		logger.FieldResourceID: item.ResourceID,
	})

	claimed, err := s.jobs.ClaimItem(ctx, item.ID)
	if err != nil {
		return fmt.Errorf("failed to claim item: %w", err)
	}
	if !claimed {
		return nil
	}

	retryCount := item.RetryCount
	for {
		res, err := s.resources.GetByID(ctx, item.ResourceID)
		if errors.Is(err, domain.ErrResourceNotFound) {
			return s.skip(ctx, jobID, item)
		}
		if err != nil {
			return fmt.Errorf("failed to load resource: %w", err)
		}

		start := time.Now()
		analysis, analyzeErr := s.analyzer.Analyze(ctx, res.URL)
		if analyzeErr == nil {
			md := res.Metadata.Merge(analysis.AsMetadata())
			md[domain.MetadataKeyEnrichedAt] = time.Now().UTC().Format(time.RFC3339)

			ok, err := s.jobs.CompleteItem(ctx, jobID, item.ID, item.ResourceID, md)
			if errors.Is(err, domain.ErrResourceNotFound) {
				return s.skip(ctx, jobID, item)
			}
			if err != nil {
				return fmt.Errorf("failed to store enrichment: %w", err)
			}
			if !ok {
				metrics.IncEnrichmentItem("discarded")
				s.log(ctx).Info("Item was cancelled while in flight, result discarded")
				return nil
			}
			metrics.IncEnrichmentItem("completed")
			logger.With(logger.Fields{"cached": analysis.Cached}).WithDuration(start).Info(ctx, "Resource enriched")
			return nil
		}

		// shutdown mid-call leaves the item processing; resume puts it back to pending
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if retryCount+1 >= s.cfg.MaxAttempts {
			entry := domain.ErrorLogEntry{
				ResourceID: item.ResourceID,
				Error:      analyzeErr.Error(),
				Timestamp:  time.Now(),
			}
			ok, err := s.jobs.FailItem(ctx, jobID, item.ID, retryCount, entry)
			if err != nil {
				return fmt.Errorf("failed to record item failure: %w", err)
			}
			if ok {
				metrics.IncEnrichmentItem("failed")
				s.log(ctx).WithFields(logger.Fields{logger.FieldAttempt: retryCount + 1}).
					WithError(analyzeErr).Warn("Enrichment failed, giving up on item")
			}
			return nil
		}

		retryCount++
		ok, err := s.jobs.RequeueItem(ctx, item.ID, retryCount, analyzeErr.Error())
		if err != nil {
			return fmt.Errorf("failed to requeue item: %w", err)
		}
		if !ok {
			return nil
		}
		metrics.IncEnrichmentRetry()

		backoff := s.backoff(retryCount)
		s.log(ctx).WithFields(logger.Fields{
			logger.FieldAttempt: retryCount,
			"backoff_ms":        backoff.Milliseconds(),
		}).WithError(analyzeErr).Warn("Enrichment attempt failed, retrying")

		if err := sleepCtx(ctx, backoff); err != nil {
			return err
		}

		claimed, err := s.jobs.ClaimItem(ctx, item.ID)
		if err != nil {
			return fmt.Errorf("failed to reclaim item: %w", err)
		}
		if !claimed {
			return nil
		}
	}
}

func (s *EnrichmentService) skip(ctx context.Context, jobID string, item *domain.EnrichmentQueueItem) error {
	ok, err := s.jobs.SkipItem(ctx, jobID, item.ID, resourceNotFoundText)
	if err != nil {
		return fmt.Errorf("failed to skip item: %w", err)
	}
	if ok {
		metrics.IncEnrichmentItem("skipped")
		s.log(ctx).Warn("Resource not found, item skipped")
	}
	return nil
}

// backoff returns BackoffBase * 2^retryCount.
func (s *EnrichmentService) backoff(retryCount int) time.Duration {
	return s.cfg.BackoffBase * time.Duration(1<<uint(retryCount))
}

// CancelJob cancels a processing job and its unfinished items. Cancelling a
// job that already reached a terminal state changes nothing.
func (s *EnrichmentService) CancelJob(ctx context.Context, jobID string) (*domain.EnrichmentJob, error) {
	if _, err := s.jobs.GetStatus(ctx, jobID); err != nil {
		return nil, err
	}

	ok, err := s.jobs.CancelJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel job: %w", err)
	}

	ctx = logger.SetJobID(ctx, jobID)
	if ok {
		metrics.IncEnrichmentJob(string(domain.JobStatusCancelled))
		s.log(ctx).Info("Enrichment job cancelled")
	} else {
		s.log(ctx).Debug("Cancel requested for a finished job, ignoring")
	}
	return s.jobs.GetByID(ctx, jobID)
}

// GetJobStatus returns the job with its items counted by status.
func (s *EnrichmentService) GetJobStatus(ctx context.Context, jobID string) (*domain.JobStatusReport, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	counts, err := s.jobs.CountItemsByStatus(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	return &domain.JobStatusReport{Job: job, ItemCounts: counts}, nil
}

// ListJobs returns all jobs, most recent first.
func (s *EnrichmentService) ListJobs(ctx context.Context) ([]domain.EnrichmentJob, error) {
	return s.jobs.List(ctx)
}

// ResumeInterrupted relaunches jobs left processing by a previous process.
// Items caught mid-flight go back to pending first.
func (s *EnrichmentService) ResumeInterrupted(ctx context.Context) (int, error) {
	jobs, err := s.jobs.ListByStatus(ctx, domain.JobStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to list interrupted jobs: %w", err)
	}

	resumed := 0
	for _, job := range jobs {
		jobCtx := logger.SetJobID(ctx, job.ID)
		reset, err := s.jobs.ResetProcessingItems(jobCtx, job.ID)
		if err != nil {
			return resumed, fmt.Errorf("failed to reset items of job %s: %w", job.ID, err)
		}
		if s.launch(job.ID) {
			resumed++
			s.log(jobCtx).WithField("reset_items", reset).Info("Resuming interrupted enrichment job")
		}
	}
	return resumed, nil
}

// Wait blocks until every running job goroutine has returned.
func (s *EnrichmentService) Wait() {
	s.wg.Wait()
}

// Close stops the running jobs at their next checkpoint and waits for them.
// Interrupted jobs stay processing so ResumeInterrupted can pick them up.
func (s *EnrichmentService) Close() {
	s.mu.Lock()
	s.stop()
	s.mu.Unlock()
	s.wg.Wait()
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
