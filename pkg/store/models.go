package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type CreationModel struct {
	ID        string `gorm:"primaryKey"`
	OwnerID   string `gorm:"not null;index"`
	Prompt    string `gorm:"type:text;not null"`
	Content   string `gorm:"type:text;not null"`
	Kind      string `gorm:"not null;index"`
	Published bool   `gorm:"not null;default:false;index"`
	Likers    datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"`
	CreatedAt time.Time      `gorm:"not null;index"`
	UpdatedAt time.Time
}
