package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/timmy/curator/internal/domain"
	"github.com/timmy/curator/internal/logger"
	"github.com/timmy/curator/internal/metrics"
)

// LinkTargetSource lists the URLs a link health run checks.
type LinkTargetSource interface {
	ListLinkTargets(ctx context.Context) ([]domain.LinkTarget, error)
}

// LinkHealthRecorder persists link health reports and their rolling history.
type LinkHealthRecorder interface {
	LastReport(ctx context.Context) (*domain.LinkHealthReport, error)
	SaveReport(ctx context.Context, report *domain.LinkHealthReport) error
	LastRun(ctx context.Context) (time.Time, error)
	SetLastRun(ctx context.Context, ts time.Time) error
	History(ctx context.Context) ([]domain.LinkHealthHistoryEntry, error)
	AppendHistory(ctx context.Context, entry domain.LinkHealthHistoryEntry, limit int) ([]domain.LinkHealthHistoryEntry, error)
}

// ReportArchiver keeps a copy of every completed report outside the settings store.
type ReportArchiver interface {
	ArchiveReport(ctx context.Context, runID string, report *domain.LinkHealthReport) (string, error)
}

// LinkHealthConfig holds configuration for the link checker.
type LinkHealthConfig struct {
	Workers      int
	Timeout      time.Duration
	HistoryLimit int
	UserAgent    string
}

const (
	defaultLinkWorkers  = 10
	defaultLinkTimeout  = 10 * time.Second
	defaultHistoryLimit = 50
)

// LinkHealthService checks every approved resource URL with a bounded worker pool.
type LinkHealthService struct {
	targets  LinkTargetSource
	store    LinkHealthRecorder
	archive  ReportArchiver
	client   *resty.Client
	logger   *logger.Logger
	cfg      LinkHealthConfig
	inFlight atomic.Bool
}

// NewLinkHealthService creates a new link health service.
// archive may be nil.
func NewLinkHealthService(
	targets LinkTargetSource,
	store LinkHealthRecorder,
	archive ReportArchiver,
	log *logger.Logger,
	cfg *LinkHealthConfig,
) *LinkHealthService {
	c := *cfg
	if c.Workers <= 0 {
		c.Workers = defaultLinkWorkers
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultLinkTimeout
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = defaultHistoryLimit
	}
	if log == nil {
		log = logger.GetDefault()
	}

	client := resty.New()
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	if c.UserAgent != "" {
		client.SetHeader("User-Agent", c.UserAgent)
	}

	return &LinkHealthService{
		targets: targets,
		store:   store,
		archive: archive,
		client:  client,
		logger:  log,
		cfg:     c,
	}
}

func (s *LinkHealthService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// CheckLinks checks every approved resource and persists the report, the
// last run time and a history entry. Only one run may be in flight; a second
// caller gets domain.ErrCheckInProgress.
func (s *LinkHealthService) CheckLinks(ctx context.Context) (*domain.LinkHealthReport, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		metrics.IncLinkRun("rejected")
		return nil, domain.ErrCheckInProgress
	}
	defer s.inFlight.Store(false)

	runID := uuid.New().String()
	ctx = logger.SetRunID(logger.SetComponent(ctx, "link_health"), runID)

	report, err := s.run(ctx)
	if err != nil {
		metrics.IncLinkRun("error")
		s.log(ctx).WithError(err).Error("Link health run failed")
		return nil, err
	}
	metrics.IncLinkRun("ok")

	if s.archive != nil {
		if location, err := s.archive.ArchiveReport(ctx, runID, report); err != nil {
			s.log(ctx).WithError(err).Warn("Failed to archive link health report")
		} else {
			s.log(ctx).WithField("location", location).Debug("Link health report archived")
		}
	}
	return report, nil
}

func (s *LinkHealthService) run(ctx context.Context) (*domain.LinkHealthReport, error) {
	targets, err := s.targets.ListLinkTargets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list link targets: %w", err)
	}

	startedAt := time.Now()
	s.log(ctx).WithField(logger.FieldCount, len(targets)).Info("Link health run started")

	results := make([]domain.LinkCheckResult, len(targets))
	var cursor int64 = -1

	workers := s.cfg.Workers
	if workers > len(targets) {
		workers = len(targets)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				i := int(atomic.AddInt64(&cursor, 1))
				if i >= len(targets) {
					return
				}
				results[i] = s.CheckSingleURL(ctx, targets[i])
			}
		}()
	}
	wg.Wait()

	// a run cut short is not persisted
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := domain.NewLinkHealthReport(results, startedAt, time.Now())
	if err := s.persist(ctx, report); err != nil {
		return nil, err
	}

	metrics.ObserveLinkRun(report.CompletedAt.Sub(startedAt).Seconds())
	logger.With(logger.Fields{
		"total":   report.TotalChecked,
		"healthy": report.Healthy,
		"broken":  report.Broken,
		"timeout": report.Timeout,
	}).WithDuration(startedAt).Info(ctx, "Link health run completed")
	return report, nil
}

func (s *LinkHealthService) persist(ctx context.Context, report *domain.LinkHealthReport) error {
	if err := s.store.SaveReport(ctx, report); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	if err := s.store.SetLastRun(ctx, report.CompletedAt); err != nil {
		return fmt.Errorf("failed to save last run: %w", err)
	}
	if _, err := s.store.AppendHistory(ctx, report.HistoryEntry(), s.cfg.HistoryLimit); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// CheckSingleURL checks target with HEAD. A 405 is retried once with GET and
// a timeout is retried once with the same method; every other outcome is final.
func (s *LinkHealthService) CheckSingleURL(ctx context.Context, target domain.LinkTarget) domain.LinkCheckResult {
	method := http.MethodHead
	for attempt := 1; ; attempt++ {
		result, status, timedOut := s.request(ctx, target, method)
		if attempt == 1 {
			switch {
			case status == http.StatusMethodNotAllowed:
				method = http.MethodGet
				continue
			case timedOut:
				continue
			}
		}
		recordLinkOutcome(result)
		return result
	}
}

// request issues one call bounded by the configured timeout.
func (s *LinkHealthService) request(ctx context.Context, target domain.LinkTarget, method string) (domain.LinkCheckResult, int, bool) {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	result := domain.LinkCheckResult{
		ResourceID: target.ResourceID,
		URL:        target.URL,
		Title:      target.Title,
	}

	start := time.Now()
	req := s.client.R().SetContext(reqCtx)
	var (
		resp *resty.Response
		err  error
	)
	if method == http.MethodGet {
		// only the status line matters
		resp, err = req.SetDoNotParseResponse(true).Get(target.URL)
		if resp != nil && resp.RawBody() != nil {
			resp.RawBody().Close()
		}
	} else {
		resp, err = req.Head(target.URL)
	}
	result.ResponseTime = time.Since(start).Milliseconds()
	result.CheckedAt = time.Now()

	if err != nil {
		msg := err.Error()
		if isTimeout(err) {
			msg = fmt.Sprintf("timeout after %s", s.cfg.Timeout)
			result.TimedOut = true
		}
		result.Error = &msg
		return result, 0, result.TimedOut
	}

	status := resp.StatusCode()
	result.StatusCode = &status
	result.Healthy = status >= 200 && status < 400
	if !result.Healthy {
		msg := fmt.Sprintf("HTTP %d %s", status, http.StatusText(status))
		result.Error = &msg
	}
	return result, status, false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func recordLinkOutcome(r domain.LinkCheckResult) {
	switch {
	case r.Healthy:
		metrics.IncLinkCheck("healthy")
	case r.TimedOut:
		metrics.IncLinkCheck("timeout")
	default:
		metrics.IncLinkCheck("broken")
	}
}

// GetResults returns the last report narrowed to filter, or nil when no run
// has completed yet.
func (s *LinkHealthService) GetResults(ctx context.Context, filter domain.LinkFilter) (*domain.LinkHealthReport, error) {
	report, err := s.store.LastReport(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load last report: %w", err)
	}
	if report == nil {
		return nil, nil
	}
	return report.Filtered(filter), nil
}

// History returns the rolling run history, oldest first.
func (s *LinkHealthService) History(ctx context.Context) ([]domain.LinkHealthHistoryEntry, error) {
	return s.store.History(ctx)
}

// LastRun returns when the last run completed; zero when never.
func (s *LinkHealthService) LastRun(ctx context.Context) (time.Time, error) {
	return s.store.LastRun(ctx)
}

// IsRunning reports whether a run is in flight.
func (s *LinkHealthService) IsRunning() bool {
	return s.inFlight.Load()
}

// RunPeriodic runs CheckLinks every interval until ctx is done.
// A zero interval disables scheduling.
func (s *LinkHealthService) RunPeriodic(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ctx = logger.SetComponent(ctx, "link_health_scheduler")
	s.log(ctx).WithField("interval", interval.String()).Info("Starting link health scheduler")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log(ctx).Info("Stopping link health scheduler")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.CheckLinks(ctx); err != nil {
				if errors.Is(err, domain.ErrCheckInProgress) {
					s.log(ctx).Debug("Previous link health run still in flight, skipping tick")
					continue
				}
				if ctx.Err() == nil {
					s.log(ctx).WithError(err).Error("Scheduled link health run failed")
				}
			}
		}
	}
}
