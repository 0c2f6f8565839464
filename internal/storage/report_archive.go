package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/timmy/curator/internal/domain"
)

const defaultReportPrefix = "link-health"

// ReportArchive writes completed link health reports as JSON objects,
// one per run, keyed by completion date and run ID.
type ReportArchive struct {
	store  ObjectStore
	prefix string
}

// NewReportArchive creates an archive under prefix (default "link-health").
func NewReportArchive(store ObjectStore, prefix string) *ReportArchive {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = defaultReportPrefix
	}
	return &ReportArchive{store: store, prefix: prefix}
}

// ReportKey returns the object key of a run's report.
func (a *ReportArchive) ReportKey(runID string, report *domain.LinkHealthReport) string {
	day := report.CompletedAt.UTC().Format("2006/01/02")
	return path.Join(a.prefix, day, runID+".json")
}

// ArchiveReport uploads report and returns its URL.
func (a *ReportArchive) ArchiveReport(ctx context.Context, runID string, report *domain.LinkHealthReport) (string, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	key := a.ReportKey(runID, report)
	if err := a.store.Put(ctx, key, data, "application/json"); err != nil {
		return "", err
	}
	return a.store.URL(key), nil
}

// LoadReport reads an archived report back.
func (a *ReportArchive) LoadReport(ctx context.Context, key string) (*domain.LinkHealthReport, error) {
	body, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var report domain.LinkHealthReport
	if err := json.NewDecoder(body).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode archived report %s: %w", key, err)
	}
	return &report, nil
}
