package model

import (
	"time"

	"gorm.io/datatypes"
)

// QuestDocument is a quest journal entry. The document text carries the
// authoritative objective state (see the markup package); Flags carries
// this module's namespaced annotations (pin linkage, visibility,
// original category).
type QuestDocument struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	Name      string         `gorm:"size:128;not null" json:"name"`
	Index     int            `gorm:"column:quest_index" json:"quest_index"` // stable numeric tag used in pin labels
	Content   string         `gorm:"type:text" json:"content"`
	Flags     datatypes.JSON `json:"flags"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (QuestDocument) TableName() string { return "quest_documents" }
