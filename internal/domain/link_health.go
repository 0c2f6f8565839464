package domain

import (
	"sort"
	"time"
)

// LinkFilter selects which link check results are returned.
type LinkFilter string

const (
	LinkFilterAll     LinkFilter = "all"
	LinkFilterHealthy LinkFilter = "healthy"
	LinkFilterBroken  LinkFilter = "broken"
)

// ParseLinkFilter validates a link filter; an empty value means all.
func ParseLinkFilter(s string) (LinkFilter, error) {
	switch LinkFilter(s) {
	case "":
		return LinkFilterAll, nil
	case LinkFilterAll, LinkFilterHealthy, LinkFilterBroken:
		return LinkFilter(s), nil
	default:
		return "", ErrInvalidFilter
	}
}

// LinkTarget is the slice of a resource a link check needs.
type LinkTarget struct {
	ResourceID string
	URL        string
	Title      string
}

// LinkCheckResult is the outcome of checking one URL in one run.
type LinkCheckResult struct {
	ResourceID   string    `json:"resource_id"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	StatusCode   *int      `json:"status_code"`
	ResponseTime int64     `json:"response_time_ms"`
	Error        *string   `json:"error"`
	TimedOut     bool      `json:"timed_out,omitempty"`
	Healthy      bool      `json:"healthy"`
	CheckedAt    time.Time `json:"checked_at"`
}

// LinkHealthReport is the persisted summary of the latest run.
type LinkHealthReport struct {
	TotalChecked int               `json:"total_checked"`
	Healthy      int               `json:"healthy"`
	Broken       int               `json:"broken"`
	Timeout      int               `json:"timeout"`
	Results      []LinkCheckResult `json:"results"`
	StartedAt    time.Time         `json:"started_at"`
	CompletedAt  time.Time         `json:"completed_at"`
}

// LinkHealthHistoryEntry summarizes a past run.
type LinkHealthHistoryEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	TotalChecked int       `json:"total_checked"`
	Healthy      int       `json:"healthy"`
	Broken       int       `json:"broken"`
	Timeout      int       `json:"timeout"`
}

// NewLinkHealthReport aggregates results into a report.
// A result counts as timeout when TimedOut is set, as broken when unhealthy otherwise.
func NewLinkHealthReport(results []LinkCheckResult, startedAt, completedAt time.Time) *LinkHealthReport {
	report := &LinkHealthReport{
		TotalChecked: len(results),
		Results:      results,
		StartedAt:    startedAt,
		CompletedAt:  completedAt,
	}
	for _, r := range results {
		switch {
		case r.Healthy:
			report.Healthy++
		case r.TimedOut:
			report.Timeout++
		default:
			report.Broken++
		}
	}
	return report
}

// HistoryEntry returns the history summary of the report.
func (r *LinkHealthReport) HistoryEntry() LinkHealthHistoryEntry {
	return LinkHealthHistoryEntry{
		Timestamp:    r.CompletedAt,
		TotalChecked: r.TotalChecked,
		Healthy:      r.Healthy,
		Broken:       r.Broken,
		Timeout:      r.Timeout,
	}
}

// Filtered returns a copy of the report whose results match filter,
// sorted by ascending status code with missing codes last.
func (r *LinkHealthReport) Filtered(filter LinkFilter) *LinkHealthReport {
	out := *r
	results := make([]LinkCheckResult, 0, len(r.Results))
	for _, res := range r.Results {
		switch filter {
		case LinkFilterHealthy:
			if !res.Healthy {
				continue
			}
		case LinkFilterBroken:
			if res.Healthy {
				continue
			}
		}
		results = append(results, res)
	}
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].StatusCode, results[j].StatusCode
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return *a < *b
	})
	out.Results = results
	return &out
}

// CapHistory appends entry and keeps at most limit entries, dropping the oldest.
func CapHistory(history []LinkHealthHistoryEntry, entry LinkHealthHistoryEntry, limit int) []LinkHealthHistoryEntry {
	history = append(history, entry)
	if limit > 0 && len(history) > limit {
		history = append([]LinkHealthHistoryEntry(nil), history[len(history)-limit:]...)
	}
	return history
}
