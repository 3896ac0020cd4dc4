package entities

// PestKnowledge is a curated knowledge-base record for one classifier label.
// Name is matched exactly against the label; it is indexed but not unique,
// the record with the lowest id wins.
type PestKnowledge struct {
	ID                 uint   `gorm:"primaryKey" yaml:"-"`
	Name               string `gorm:"size:100;index;not null" yaml:"name"`
	Description        string `gorm:"type:text" yaml:"description"`
	RecommendedActions string `gorm:"type:text" yaml:"recommended_actions"`
	Causes             string `gorm:"type:text" yaml:"causes"`
	Effects            string `gorm:"type:text" yaml:"effects"`
	SwahiliName        string `gorm:"size:100" yaml:"swahili_name"`
	SwahiliActions     string `gorm:"type:text" yaml:"swahili_actions"`
	SwahiliCauses      string `gorm:"type:text" yaml:"swahili_causes"`
	SwahiliEffects     string `gorm:"type:text" yaml:"swahili_effects"`
}

// TableName returns the table name for GORM.
func (PestKnowledge) TableName() string {
	return "pests"
}
