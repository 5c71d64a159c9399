package gormrepository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"feeoracle/internal/models"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) AppendRun(ctx context.Context, item *models.OracleRun) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]models.OracleRun, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var items []models.OracleRun
	err := s.db.WithContext(ctx).
		Order("run_at DESC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) LastRun(ctx context.Context) (*models.OracleRun, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.OracleRun
	err := s.db.WithContext(ctx).Order("run_at DESC").First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}
