package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/curator/internal/domain"
	"gorm.io/gorm"
)

const itemInsertBatchSize = 200

// JobRepository persists enrichment jobs and their queue items.
// Every state transition is a conditional update on the current status, so a
// transition that lost a race with cancellation reports false instead of
// overwriting a terminal state.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// CreateWithItems inserts the job and one pending item per resource in a single transaction.
func (r *JobRepository) CreateWithItems(ctx context.Context, job *domain.EnrichmentJob, resourceIDs []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		if len(resourceIDs) == 0 {
			return nil
		}
		now := time.Now()
		items := make([]domain.EnrichmentQueueItem, 0, len(resourceIDs))
		for i, resourceID := range resourceIDs {
			items = append(items, domain.EnrichmentQueueItem{
				ID:         uuid.New().String(),
				JobID:      job.ID,
				ResourceID: resourceID,
				Status:     domain.ItemStatusPending,
				Result:     domain.Metadata{},
				Seq:        i,
				CreatedAt:  now,
				UpdatedAt:  now,
			})
		}
		return tx.CreateInBatches(items, itemInsertBatchSize).Error
	})
}

// GetByID retrieves a job by its ID.
// Returns domain.ErrJobNotFound when no such job exists.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.EnrichmentJob, error) {
	var job domain.EnrichmentJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// GetStatus reads only the status column of a job.
func (r *JobRepository) GetStatus(ctx context.Context, id string) (domain.JobStatus, error) {
	var job domain.EnrichmentJob
	if err := r.db.WithContext(ctx).Select("status").First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", domain.ErrJobNotFound
		}
		return "", err
	}
	return job.Status, nil
}

// List returns all jobs, most recent first.
func (r *JobRepository) List(ctx context.Context) ([]domain.EnrichmentJob, error) {
	var jobs []domain.EnrichmentJob
	if err := r.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListByStatus returns jobs in the given status, oldest first.
func (r *JobRepository) ListByStatus(ctx context.Context, status domain.JobStatus) ([]domain.EnrichmentJob, error) {
	var jobs []domain.EnrichmentJob
	if err := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at ASC").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// NextPendingItem returns the oldest pending item of the job, or nil when none remain.
func (r *JobRepository) NextPendingItem(ctx context.Context, jobID string) (*domain.EnrichmentQueueItem, error) {
	var items []domain.EnrichmentQueueItem
	if err := r.db.WithContext(ctx).
		Where("job_id = ? AND status = ?", jobID, domain.ItemStatusPending).
		Order("seq ASC").
		Limit(1).
		Find(&items).Error; err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// GetItem retrieves a queue item by its ID.
func (r *JobRepository) GetItem(ctx context.Context, id string) (*domain.EnrichmentQueueItem, error) {
	var item domain.EnrichmentQueueItem
	if err := r.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// ListItems returns every item of a job in queue order.
func (r *JobRepository) ListItems(ctx context.Context, jobID string) ([]domain.EnrichmentQueueItem, error) {
	var items []domain.EnrichmentQueueItem
	if err := r.db.WithContext(ctx).Where("job_id = ?", jobID).Order("seq ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ClaimItem moves a pending item to processing.
func (r *JobRepository) ClaimItem(ctx context.Context, itemID string) (bool, error) {
	return transition(r.db.WithContext(ctx), itemID, domain.ItemStatusPending, map[string]interface{}{
		"status": domain.ItemStatusProcessing,
	})
}

// RequeueItem returns a processing item to pending for another attempt.
func (r *JobRepository) RequeueItem(ctx context.Context, itemID string, retryCount int, errMsg string) (bool, error) {
	return transition(r.db.WithContext(ctx), itemID, domain.ItemStatusProcessing, map[string]interface{}{
		"status":      domain.ItemStatusPending,
		"retry_count": retryCount,
		"error":       errMsg,
	})
}

// CompleteItem marks the item completed, writes the merged metadata to the
// resource and counts it as processed, all or nothing.
func (r *JobRepository) CompleteItem(ctx context.Context, jobID, itemID, resourceID string, md domain.Metadata) (bool, error) {
	var applied bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := transition(tx, itemID, domain.ItemStatusProcessing, map[string]interface{}{
			"status": domain.ItemStatusCompleted,
			"result": md,
			"error":  "",
		})
		if err != nil || !ok {
			return err
		}
		if err := updateMetadata(tx, resourceID, md); err != nil {
			return err
		}
		applied = true
		return incrementCounter(tx, jobID, "processed_items")
	})
	return applied && err == nil, err
}

// SkipItem marks the item failed for a permanent reason and counts it as skipped.
func (r *JobRepository) SkipItem(ctx context.Context, jobID, itemID, errMsg string) (bool, error) {
	var applied bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := transition(tx, itemID, domain.ItemStatusProcessing, map[string]interface{}{
			"status": domain.ItemStatusFailed,
			"error":  errMsg,
		})
		if err != nil || !ok {
			return err
		}
		applied = true
		return incrementCounter(tx, jobID, "skipped_items")
	})
	return applied && err == nil, err
}

// FailItem marks the item failed after its last attempt, counts it as failed
// and appends entry to the job's error log.
func (r *JobRepository) FailItem(ctx context.Context, jobID, itemID string, retryCount int, entry domain.ErrorLogEntry) (bool, error) {
	var applied bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := transition(tx, itemID, domain.ItemStatusProcessing, map[string]interface{}{
			"status":      domain.ItemStatusFailed,
			"retry_count": retryCount,
			"error":       entry.Error,
		})
		if err != nil || !ok {
			return err
		}
		if err := incrementCounter(tx, jobID, "failed_items"); err != nil {
			return err
		}
		applied = true
		return appendErrorLog(tx, jobID, entry)
	})
	return applied && err == nil, err
}

// FinishJob moves a processing job to status and stamps completed_at.
func (r *JobRepository) FinishJob(ctx context.Context, jobID string, status domain.JobStatus) (bool, error) {
	return finishJob(r.db.WithContext(ctx), jobID, status)
}

// FailJob moves a processing job to failed and records why.
func (r *JobRepository) FailJob(ctx context.Context, jobID string, entry domain.ErrorLogEntry) (bool, error) {
	var applied bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := finishJob(tx, jobID, domain.JobStatusFailed)
		if err != nil || !ok {
			return err
		}
		applied = true
		return appendErrorLog(tx, jobID, entry)
	})
	return applied && err == nil, err
}

// CancelJob moves a processing job to cancelled and cancels its pending and
// processing items. It returns false when the job was already terminal.
func (r *JobRepository) CancelJob(ctx context.Context, jobID string) (bool, error) {
	var applied bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := finishJob(tx, jobID, domain.JobStatusCancelled)
		if err != nil || !ok {
			return err
		}
		applied = true
		return tx.Model(&domain.EnrichmentQueueItem{}).
			Where("job_id = ? AND status IN ?", jobID, []domain.ItemStatus{domain.ItemStatusPending, domain.ItemStatusProcessing}).
			Updates(map[string]interface{}{"status": domain.ItemStatusCancelled, "updated_at": time.Now()}).Error
	})
	return applied && err == nil, err
}

// ResetProcessingItems returns items stuck in processing (after a crash) to pending.
func (r *JobRepository) ResetProcessingItems(ctx context.Context, jobID string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.EnrichmentQueueItem{}).
		Where("job_id = ? AND status = ?", jobID, domain.ItemStatusProcessing).
		Updates(map[string]interface{}{"status": domain.ItemStatusPending, "updated_at": time.Now()})
	return res.RowsAffected, res.Error
}

// CountItemsByStatus groups a job's items by status.
func (r *JobRepository) CountItemsByStatus(ctx context.Context, jobID string) (map[domain.ItemStatus]int, error) {
	var rows []struct {
		Status domain.ItemStatus
		Count  int
	}
	if err := r.db.WithContext(ctx).Model(&domain.EnrichmentQueueItem{}).
		Select("status, COUNT(*) AS count").
		Where("job_id = ?", jobID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[domain.ItemStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func transition(db *gorm.DB, itemID string, from domain.ItemStatus, updates map[string]interface{}) (bool, error) {
	updates["updated_at"] = time.Now()
	res := db.Model(&domain.EnrichmentQueueItem{}).
		Where("id = ? AND status = ?", itemID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func finishJob(db *gorm.DB, jobID string, status domain.JobStatus) (bool, error) {
	now := time.Now()
	res := db.Model(&domain.EnrichmentJob{}).
		Where("id = ? AND status = ?", jobID, domain.JobStatusProcessing).
		Updates(map[string]interface{}{"status": status, "completed_at": now, "updated_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func incrementCounter(db *gorm.DB, jobID, column string) error {
	return db.Model(&domain.EnrichmentJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			column:       gorm.Expr(column+" + ?", 1),
			"updated_at": time.Now(),
		}).Error
}

// appendErrorLog is a read-modify-write; callers run it inside a transaction
func appendErrorLog(db *gorm.DB, jobID string, entry domain.ErrorLogEntry) error {
	var job domain.EnrichmentJob
	if err := db.Select("id", "error_log").First(&job, "id = ?", jobID).Error; err != nil {
		return err
	}
	log := append(job.ErrorLog, entry)
	return db.Model(&domain.EnrichmentJob{}).Where("id = ?", jobID).Update("error_log", log).Error
}
