package model

import (
	"time"

	"gorm.io/datatypes"
)

// PinRecord is one spatial marker in the annotation store. A record with
// a NULL scene is "unplaced": it exists and keeps its identity/config but
// is not shown anywhere. The ID is preserved across legacy migration so
// external references stay valid.
type PinRecord struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	OwnerTag  string         `gorm:"index;size:64;not null" json:"owner_tag"`
	Type      string         `gorm:"size:16;not null" json:"type"` // quest | objective
	SceneID   *string        `gorm:"index;size:36" json:"scene_id"`
	X         float64        `json:"x"`
	Y         float64        `json:"y"`
	Style     datatypes.JSON `json:"style"`
	Ownership datatypes.JSON `json:"ownership"`
	Config    datatypes.JSON `json:"config"` // questId / objectiveIndex back-references + denormalized display fields
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PinRecord) TableName() string { return "pin_records" }
