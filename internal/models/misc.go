package models

// OptionModel is a key-value row holding JSON-encoded application settings.
type OptionModel struct {
	ID    uint   `json:"-"     gorm:"primaryKey;autoIncrement"`
	Name  string `json:"name"  gorm:"size:191;uniqueIndex;not null"`
	Value string `json:"value" gorm:"type:longtext"`
}

func (OptionModel) TableName() string { return "options" }
