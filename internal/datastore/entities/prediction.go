package entities

import "time"

// PredictionRecord is one confident, knowledge-matched classification.
// Records are append-only.
type PredictionRecord struct {
	ID         uint           `gorm:"primaryKey"`
	PestID     *uint          `gorm:"index"`
	Pest       *PestKnowledge `gorm:"foreignKey:PestID;constraint:OnDelete:SET NULL"`
	ImagePath  string         `gorm:"size:255"`
	Confidence float64        // percent, 0-100
	CreatedAt  time.Time      `gorm:"autoCreateTime;index"`
}

// TableName returns the table name for GORM.
func (PredictionRecord) TableName() string {
	return "predictions"
}

// All returns every entity for schema migration, parents first.
func All() []any {
	return []any{
		&User{},
		&PestKnowledge{},
		&PredictionRecord{},
	}
}
