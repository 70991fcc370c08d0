package model

import (
	"time"

	"gorm.io/datatypes"
)

// SyncAudit records one sync/reconcile/migration action for later review.
type SyncAudit struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID    string         `gorm:"size:36;index" json:"trace_id"`
	Action     string         `gorm:"size:64;not null;index" json:"action"`
	QuestID    string         `gorm:"size:36;index" json:"quest_id"`
	PinID      string         `gorm:"size:36" json:"pin_id"`
	SceneID    string         `gorm:"size:36" json:"scene_id"`
	Detail     datatypes.JSON `json:"detail"`
	Error      string         `gorm:"type:text" json:"error"`
	DurationMs int            `json:"duration_ms"`
	CreatedAt  time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}

func (SyncAudit) TableName() string { return "sync_audits" }
