package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JobStatus represents the status of an enrichment job.
// Values include JobStatusProcessing, JobStatusCompleted, JobStatusFailed, and JobStatusCancelled.
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further items will be processed for the job.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobFilter selects which catalog entries a job enriches.
type JobFilter string

const (
	JobFilterAll        JobFilter = "all"
	JobFilterUnenriched JobFilter = "unenriched"
)

// ParseJobFilter validates a filter string.
// Parameters:
//   - s: raw filter value.
//
// Returns:
//   - JobFilter: parsed filter.
//   - error: ErrInvalidFilter if the value is unknown.
func ParseJobFilter(s string) (JobFilter, error) {
	switch JobFilter(s) {
	case JobFilterAll, JobFilterUnenriched:
		return JobFilter(s), nil
	default:
		return "", ErrInvalidFilter
	}
}

// ErrorLogEntry is one recorded failure within a job.
type ErrorLogEntry struct {
	ResourceID string    `json:"resource_id,omitempty"`
	Error      string    `json:"error"`
	Timestamp  time.Time `json:"timestamp"`
}

// ErrorLog is an append-only list of failures stored as JSON in the database.
type ErrorLog []ErrorLogEntry

// Value implements the driver.Valuer interface for database serialization.
func (l ErrorLog) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (l *ErrorLog) Scan(value interface{}) error {
	if value == nil {
		*l = ErrorLog{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan ErrorLog")
		}
		bytes = []byte(str)
	}
	if len(bytes) == 0 {
		*l = ErrorLog{}
		return nil
	}
	return json.Unmarshal(bytes, l)
}

// EnrichmentJob represents one AI enrichment run over a selected set of resources.
// Counters only grow; ProcessedItems+FailedItems+SkippedItems never exceeds TotalItems.
type EnrichmentJob struct {
	ID             string     `gorm:"type:text;primaryKey" json:"id"`
	Status         JobStatus  `gorm:"type:text;index;default:processing" json:"status"`
	Filter         JobFilter  `gorm:"type:text;not null" json:"filter"`
	TotalItems     int        `gorm:"default:0" json:"total_items"`
	ProcessedItems int        `gorm:"default:0" json:"processed_items"`
	FailedItems    int        `gorm:"default:0" json:"failed_items"`
	SkippedItems   int        `gorm:"default:0" json:"skipped_items"`
	ErrorLog       ErrorLog   `gorm:"type:text" json:"error_log"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName returns the database table name for EnrichmentJob.
func (EnrichmentJob) TableName() string {
	return "enrichment_jobs"
}

// ItemStatus represents the status of a single queue item.
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
	ItemStatusCancelled  ItemStatus = "cancelled"
)

// EnrichmentQueueItem is the per-resource unit of work within a job.
type EnrichmentQueueItem struct {
	ID         string     `gorm:"type:text;primaryKey" json:"id"`
	JobID      string     `gorm:"type:text;not null;index:idx_queue_job_status" json:"job_id"`
	ResourceID string     `gorm:"type:text;not null" json:"resource_id"`
	Status     ItemStatus `gorm:"type:text;index:idx_queue_job_status;default:pending" json:"status"`
	RetryCount int        `gorm:"default:0" json:"retry_count"`
	Error      string     `gorm:"type:text" json:"error,omitempty"`
	Result     Metadata   `gorm:"type:text" json:"result,omitempty"`
	Seq        int        `gorm:"not null;default:0" json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName returns the database table name for EnrichmentQueueItem.
func (EnrichmentQueueItem) TableName() string {
	return "enrichment_queue_items"
}

// JobStatusReport is a job plus its queue items grouped by status.
type JobStatusReport struct {
	Job        *EnrichmentJob     `json:"job"`
	ItemCounts map[ItemStatus]int `json:"item_counts"`
}
