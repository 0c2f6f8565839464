package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/curator/internal/domain"
	"gorm.io/gorm"
)

// ResourceRepository handles catalog resource reads and metadata writes.
type ResourceRepository struct {
	db *gorm.DB
}

// NewResourceRepository creates a new ResourceRepository.
func NewResourceRepository(db *gorm.DB) *ResourceRepository {
	return &ResourceRepository{db: db}
}

// Create inserts a new resource record.
func (r *ResourceRepository) Create(ctx context.Context, res *domain.Resource) error {
	return r.db.WithContext(ctx).Create(res).Error
}

// GetByID retrieves a resource by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: resource ID.
//
// Returns:
//   - *domain.Resource: resource record if found.
//   - error: domain.ErrResourceNotFound if missing, other errors on lookup failure.
func (r *ResourceRepository) GetByID(ctx context.Context, id string) (*domain.Resource, error) {
	var res domain.Resource
	if err := r.db.WithContext(ctx).First(&res, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrResourceNotFound
		}
		return nil, err
	}
	return &res, nil
}

// ListApproved returns every approved resource ordered by creation time.
func (r *ResourceRepository) ListApproved(ctx context.Context) ([]domain.Resource, error) {
	var resources []domain.Resource
	if err := r.db.WithContext(ctx).
		Where("status = ?", domain.ResourceStatusApproved).
		Order("created_at ASC, id ASC").
		Find(&resources).Error; err != nil {
		return nil, err
	}
	return resources, nil
}

// ListForEnrichment returns the approved resources a job with filter should process.
// The unenriched filter is applied in Go since metadata is an opaque JSON column
// on SQLite and PostgreSQL alike.
func (r *ResourceRepository) ListForEnrichment(ctx context.Context, filter domain.JobFilter) ([]domain.Resource, error) {
	resources, err := r.ListApproved(ctx)
	if err != nil {
		return nil, err
	}
	if filter != domain.JobFilterUnenriched {
		return resources, nil
	}
	selected := resources[:0]
	for _, res := range resources {
		if !res.Metadata.IsEnriched() {
			selected = append(selected, res)
		}
	}
	return selected, nil
}

// ListLinkTargets returns (id, url, title) of every approved resource.
func (r *ResourceRepository) ListLinkTargets(ctx context.Context) ([]domain.LinkTarget, error) {
	var rows []struct {
		ID    string
		URL   string
		Title string
	}
	if err := r.db.WithContext(ctx).
		Model(&domain.Resource{}).
		Select("id, url, title").
		Where("status = ?", domain.ResourceStatusApproved).
		Order("created_at ASC, id ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	targets := make([]domain.LinkTarget, 0, len(rows))
	for _, row := range rows {
		targets = append(targets, domain.LinkTarget{ResourceID: row.ID, URL: row.URL, Title: row.Title})
	}
	return targets, nil
}

// UpdateMetadata overwrites the metadata column of a resource.
func (r *ResourceRepository) UpdateMetadata(ctx context.Context, id string, md domain.Metadata) error {
	return updateMetadata(r.db.WithContext(ctx), id, md)
}

func updateMetadata(db *gorm.DB, id string, md domain.Metadata) error {
	res := db.Model(&domain.Resource{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"metadata": md, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrResourceNotFound
	}
	return nil
}
