package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/kinga-app/kinga/internal/datastore/entities"
	"github.com/kinga-app/kinga/internal/errors"
)

// KnowledgeRepository handles the pest knowledge base.
type KnowledgeRepository interface {
	// GetByName returns the record whose name equals label exactly.
	// When several match, the one with the lowest id wins.
	GetByName(ctx context.Context, label string) (*entities.PestKnowledge, error)
	// Upsert replaces the text of the first record named pest.Name or inserts a new one.
	// It reports whether a record was created.
	Upsert(ctx context.Context, pest *entities.PestKnowledge) (bool, error)
	List(ctx context.Context) ([]entities.PestKnowledge, error)
	Count(ctx context.Context) (int64, error)
}

type knowledgeRepository struct {
	db *gorm.DB
}

// NewKnowledgeRepository creates a KnowledgeRepository on db.
func NewKnowledgeRepository(db *gorm.DB) KnowledgeRepository {
	return &knowledgeRepository{db: db}
}

func (r *knowledgeRepository) GetByName(ctx context.Context, label string) (*entities.PestKnowledge, error) {
	if label == "" {
		return nil, ErrKnowledgeNotFound
	}
	var pest entities.PestKnowledge
	err := r.db.WithContext(ctx).
		Where("name = ?", label).
		Order("id").
		First(&pest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrKnowledgeNotFound
	}
	if err != nil {
		return nil, dbError(err, "get_knowledge")
	}
	return &pest, nil
}

func (r *knowledgeRepository) Upsert(ctx context.Context, pest *entities.PestKnowledge) (bool, error) {
	if pest == nil || pest.Name == "" {
		return false, ErrInvalidInput
	}

	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing entities.PestKnowledge
		err := tx.Where("name = ?", pest.Name).Order("id").First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			pest.ID = 0
			created = true
			return tx.Create(pest).Error
		case err != nil:
			return err
		}
		pest.ID = existing.ID
		return tx.Save(pest).Error
	})
	if err != nil {
		return false, dbError(err, "upsert_knowledge")
	}
	return created, nil
}

func (r *knowledgeRepository) List(ctx context.Context) ([]entities.PestKnowledge, error) {
	var pests []entities.PestKnowledge
	if err := r.db.WithContext(ctx).Order("id").Find(&pests).Error; err != nil {
		return nil, dbError(err, "list_knowledge")
	}
	return pests, nil
}

func (r *knowledgeRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.PestKnowledge{}).Count(&count).Error; err != nil {
		return 0, dbError(err, "count_knowledge")
	}
	return count, nil
}
