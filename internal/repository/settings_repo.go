package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/curator/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingsStore is a key-value sink of named JSON values.
type SettingsStore interface {
	// Get decodes the value stored under key into dest; found is false when the key is absent.
	Get(ctx context.Context, key string, dest interface{}) (found bool, err error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value interface{}, description string) error
}

var _ SettingsStore = (*SettingsRepository)(nil)

// SettingsRepository stores settings as JSON text rows.
type SettingsRepository struct {
	db *gorm.DB
}

// NewSettingsRepository creates a new SettingsRepository.
func NewSettingsRepository(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get implements SettingsStore.
func (r *SettingsRepository) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	var setting domain.Setting
	if err := r.db.WithContext(ctx).First(&setting, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(setting.Value), dest); err != nil {
		return false, fmt.Errorf("failed to decode setting %q: %w", key, err)
	}
	return true, nil
}

// Set implements SettingsStore.
func (r *SettingsRepository) Set(ctx context.Context, key string, value interface{}, description string) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode setting %q: %w", key, err)
	}
	setting := &domain.Setting{
		Key:         key,
		Value:       string(b),
		Description: description,
		UpdatedAt:   time.Now(),
	}
	columns := []string{"value", "updated_at"}
	if description != "" {
		columns = append(columns, "description")
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(setting).Error
}
