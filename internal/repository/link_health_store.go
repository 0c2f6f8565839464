package repository

import (
	"context"
	"sync"
	"time"

	"github.com/timmy/curator/internal/domain"
)

// Settings keys owned by the link health checker.
const (
	KeyLinkHealthLastResults = "link_health_last_results"
	KeyLinkHealthLastRun     = "link_health_last_run"
	KeyLinkHealthHistory     = "link_health_history"
)

// LinkHealthStore is the typed view of the link health settings keys.
type LinkHealthStore struct {
	settings SettingsStore

	// serializes history read-modify-write within this process
	historyMu sync.Mutex
}

// NewLinkHealthStore wraps a settings store.
func NewLinkHealthStore(settings SettingsStore) *LinkHealthStore {
	return &LinkHealthStore{settings: settings}
}

// LastReport returns the latest report, or nil when no run has completed yet.
func (s *LinkHealthStore) LastReport(ctx context.Context) (*domain.LinkHealthReport, error) {
	var report domain.LinkHealthReport
	found, err := s.settings.Get(ctx, KeyLinkHealthLastResults, &report)
	if err != nil || !found {
		return nil, err
	}
	return &report, nil
}

// SaveReport overwrites the latest report.
func (s *LinkHealthStore) SaveReport(ctx context.Context, report *domain.LinkHealthReport) error {
	return s.settings.Set(ctx, KeyLinkHealthLastResults, report, "Latest link health check results")
}

// LastRun returns when the last run completed; zero when never.
func (s *LinkHealthStore) LastRun(ctx context.Context) (time.Time, error) {
	var ts time.Time
	if _, err := s.settings.Get(ctx, KeyLinkHealthLastRun, &ts); err != nil {
		return time.Time{}, err
	}
	return ts, nil
}

// SetLastRun records when the last run completed.
func (s *LinkHealthStore) SetLastRun(ctx context.Context, ts time.Time) error {
	return s.settings.Set(ctx, KeyLinkHealthLastRun, ts, "Timestamp of the last link health check")
}

// History returns the rolling run history, oldest first.
func (s *LinkHealthStore) History(ctx context.Context) ([]domain.LinkHealthHistoryEntry, error) {
	var history []domain.LinkHealthHistoryEntry
	if _, err := s.settings.Get(ctx, KeyLinkHealthHistory, &history); err != nil {
		return nil, err
	}
	if history == nil {
		history = []domain.LinkHealthHistoryEntry{}
	}
	return history, nil
}

// AppendHistory appends entry and keeps the newest limit entries.
func (s *LinkHealthStore) AppendHistory(ctx context.Context, entry domain.LinkHealthHistoryEntry, limit int) ([]domain.LinkHealthHistoryEntry, error) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	history, err := s.History(ctx)
	if err != nil {
		return nil, err
	}
	history = domain.CapHistory(history, entry, limit)
	if err := s.settings.Set(ctx, KeyLinkHealthHistory, history, "Rolling link health check history"); err != nil {
		return nil, err
	}
	return history, nil
}
