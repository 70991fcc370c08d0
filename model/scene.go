package model

import (
	"time"

	"gorm.io/datatypes"
)

// SceneDocument is a spatial context pins can be placed on. Flags carries
// the legacy embedded pin array and the per-scene migration marker.
type SceneDocument struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	Name      string         `gorm:"size:128;not null" json:"name"`
	Flags     datatypes.JSON `json:"flags"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SceneDocument) TableName() string { return "scene_documents" }
