package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/kinga-app/kinga/internal/datastore/entities"
)

// HistoryRepository handles the append-only prediction log.
type HistoryRepository interface {
	Append(ctx context.Context, record *entities.PredictionRecord) error
	// List returns all records, newest first, with the knowledge record preloaded.
	List(ctx context.Context) ([]entities.PredictionRecord, error)
	Count(ctx context.Context) (int64, error)
}

type historyRepository struct {
	db *gorm.DB
}

// NewHistoryRepository creates a HistoryRepository on db.
func NewHistoryRepository(db *gorm.DB) HistoryRepository {
	return &historyRepository{db: db}
}

func (r *historyRepository) Append(ctx context.Context, record *entities.PredictionRecord) error {
	if record == nil {
		return ErrInvalidInput
	}
	// Omit the association so a preloaded Pest is never re-saved
	if err := r.db.WithContext(ctx).Omit("Pest").Create(record).Error; err != nil {
		return dbError(err, "append_history")
	}
	return nil
}

func (r *historyRepository) List(ctx context.Context) ([]entities.PredictionRecord, error) {
	var records []entities.PredictionRecord
	err := r.db.WithContext(ctx).
		Preload("Pest").
		Order("created_at DESC").
		Order("id DESC").
		Find(&records).Error
	if err != nil {
		return nil, dbError(err, "list_history")
	}
	return records, nil
}

func (r *historyRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.PredictionRecord{}).Count(&count).Error; err != nil {
		return 0, dbError(err, "count_history")
	}
	return count, nil
}
