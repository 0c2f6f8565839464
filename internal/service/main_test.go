package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/timmy/curator/internal/config"
	"github.com/timmy/curator/internal/domain"
	"github.com/timmy/curator/internal/repository"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 1,
		AutoMigrate:  true,
		LogLevel:     "silent",
	})
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// seedResources inserts one approved resource per URL, in order.
func seedResources(t *testing.T, repo *repository.ResourceRepository, md domain.Metadata, urls ...string) []*domain.Resource {
	t.Helper()
	out := make([]*domain.Resource, 0, len(urls))
	for _, u := range urls {
		res := &domain.Resource{
			ID:       uuid.New().String(),
			Title:    "title of " + u,
			URL:      u,
			Status:   domain.ResourceStatusApproved,
			Metadata: md.Merge(nil),
		}
		if err := repo.Create(context.Background(), res); err != nil {
			t.Fatalf("create resource: %v", err)
		}
		out = append(out, res)
	}
	return out
}
