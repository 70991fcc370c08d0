package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"questlog/cache"
	"questlog/hook"
	"questlog/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GormPinStore is the reference PinStore. Every mutation triggers the
// matching hook event so the reconciler sees external edits made through
// this store by any caller.
type GormPinStore struct {
	db     *gorm.DB
	hooks  *hook.Center
	c      cache.Cache
	logger *zap.Logger
}

// NewGormPinStore creates a PinStore backed by gorm. hooks may be nil
// when no event consumers exist (tests).
func NewGormPinStore(db *gorm.DB, hooks *hook.Center, c cache.Cache, logger *zap.Logger) *GormPinStore {
	return &GormPinStore{db: db, hooks: hooks, c: c, logger: logger}
}

func (s *GormPinStore) Create(ctx context.Context, pin Pin) (*Pin, error) {
	if pin.ID == "" {
		pin.ID = uuid.New().String()
	}
	rec, err := toRecord(&pin)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("pin create: %w", err)
	}
	s.emit(ctx, hook.PinCreated, PinEvent{
		Kind: EventCreated, PinID: pin.ID, OwnerTag: pin.OwnerTag, SceneID: placementScene(pin.Placement),
	})
	return &pin, nil
}

func (s *GormPinStore) Update(ctx context.Context, id string, patch PinPatch) error {
	rec, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	updates := map[string]interface{}{}
	if patch.Style != nil {
		raw, _ := json.Marshal(patch.Style)
		updates["style"] = datatypes.JSON(raw)
	}
	if patch.Ownership != nil {
		raw, _ := json.Marshal(patch.Ownership)
		updates["ownership"] = datatypes.JSON(raw)
	}
	if patch.Config != nil {
		raw, _ := json.Marshal(patch.Config)
		updates["config"] = datatypes.JSON(raw)
	}
	if len(updates) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Model(&model.PinRecord{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("pin update: %w", err)
	}
	s.emit(ctx, hook.PinUpdated, PinEvent{
		Kind: EventUpdated, PinID: id, OwnerTag: rec.OwnerTag, SceneID: sceneOf(rec),
	})
	return nil
}

func (s *GormPinStore) Delete(ctx context.Context, id string, sceneScope string) error {
	rec, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if sceneScope != "" && sceneOf(rec) != sceneScope {
		return nil
	}
	if err := s.db.WithContext(ctx).Delete(&model.PinRecord{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("pin delete: %w", err)
	}
	s.emit(ctx, hook.PinDeleted, PinEvent{
		Kind: EventDeleted, PinID: id, OwnerTag: rec.OwnerTag, SceneID: sceneOf(rec),
	})
	return nil
}

func (s *GormPinStore) DeleteAll(ctx context.Context, ownerTag string, sceneScope string) (int, error) {
	q := s.db.WithContext(ctx).Where("owner_tag = ?", ownerTag)
	if sceneScope != "" {
		q = q.Where("scene_id = ?", sceneScope)
	}
	res := q.Delete(&model.PinRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("pin delete all: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.emit(ctx, hook.PinsDeletedAll, PinEvent{
			Kind: EventDeletedAll, OwnerTag: ownerTag, SceneID: sceneScope,
		})
	}
	return int(res.RowsAffected), nil
}

func (s *GormPinStore) Place(ctx context.Context, id string, p Placement) error {
	rec, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Model(&model.PinRecord{}).Where("id = ?", id).
		Updates(map[string]interface{}{"scene_id": p.SceneID, "x": p.X, "y": p.Y}).Error
	if err != nil {
		return fmt.Errorf("pin place: %w", err)
	}
	s.emit(ctx, hook.PinPlaced, PinEvent{
		Kind: EventPlaced, PinID: id, OwnerTag: rec.OwnerTag, SceneID: p.SceneID,
	})
	return nil
}

func (s *GormPinStore) Unplace(ctx context.Context, id string) error {
	rec, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	prevScene := sceneOf(rec)
	err = s.db.WithContext(ctx).Model(&model.PinRecord{}).Where("id = ?", id).
		Updates(map[string]interface{}{"scene_id": nil, "x": 0, "y": 0}).Error
	if err != nil {
		return fmt.Errorf("pin unplace: %w", err)
	}
	s.emit(ctx, hook.PinUnplaced, PinEvent{
		Kind: EventUnplaced, PinID: id, OwnerTag: rec.OwnerTag, SceneID: prevScene,
	})
	return nil
}

func (s *GormPinStore) List(ctx context.Context, f PinFilter) ([]Pin, error) {
	q := s.db.WithContext(ctx).Model(&model.PinRecord{})
	if f.OwnerTag != "" {
		q = q.Where("owner_tag = ?", f.OwnerTag)
	}
	switch {
	case f.SceneID != "" && f.IncludeUnplaced:
		q = q.Where("scene_id = ? OR scene_id IS NULL", f.SceneID)
	case f.SceneID != "":
		q = q.Where("scene_id = ?", f.SceneID)
	case !f.IncludeUnplaced:
		// all scenes, placed only
		q = q.Where("scene_id IS NOT NULL")
	}
	var recs []model.PinRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	pins := make([]Pin, 0, len(recs))
	for i := range recs {
		pin, err := fromRecord(&recs[i])
		if err != nil {
			s.logger.Warn("skipping corrupt pin record",
				zap.String("pin_id", recs[i].ID), zap.Error(err))
			continue
		}
		pins = append(pins, *pin)
	}
	return pins, nil
}

func (s *GormPinStore) Exists(ctx context.Context, id string) (bool, error) {
	var recs []model.PinRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&recs).Error; err != nil {
		return false, err
	}
	return len(recs) > 0, nil
}

// Module visibility is a per-user switch kept in the cache; toggling it
// never touches individual pin records.

const visibilityKeyPrefix = "pin_visibility:"

func (s *GormPinStore) SetModuleVisibility(ctx context.Context, userID string, visible bool) error {
	v := "1"
	if !visible {
		v = "0"
	}
	return s.c.Set(ctx, visibilityKeyPrefix+userID, v, 0)
}

func (s *GormPinStore) GetModuleVisibility(ctx context.Context, userID string) (bool, error) {
	v, err := s.c.Get(ctx, visibilityKeyPrefix+userID)
	if err != nil {
		// Unset means visible.
		return true, nil
	}
	return v != "0", nil
}

// ---- helpers ----

func (s *GormPinStore) find(ctx context.Context, id string) (*model.PinRecord, error) {
	var rec model.PinRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *GormPinStore) emit(ctx context.Context, event string, ev PinEvent) {
	if s.hooks == nil {
		return
	}
	if _, err := s.hooks.Trigger(ctx, event, ev); err != nil {
		s.logger.Warn("pin event hook failed", zap.String("event", event), zap.Error(err))
	}
}

func sceneOf(rec *model.PinRecord) string {
	if rec.SceneID == nil {
		return ""
	}
	return *rec.SceneID
}

func placementScene(p *Placement) string {
	if p == nil {
		return ""
	}
	return p.SceneID
}

func toRecord(pin *Pin) (*model.PinRecord, error) {
	style, err := json.Marshal(pin.Style)
	if err != nil {
		return nil, err
	}
	own, err := json.Marshal(pin.Ownership)
	if err != nil {
		return nil, err
	}
	cfg, err := json.Marshal(pin.Config)
	if err != nil {
		return nil, err
	}
	rec := &model.PinRecord{
		ID:        pin.ID,
		OwnerTag:  pin.OwnerTag,
		Type:      string(pin.Type),
		Style:     datatypes.JSON(style),
		Ownership: datatypes.JSON(own),
		Config:    datatypes.JSON(cfg),
	}
	if pin.Placement != nil {
		sceneID := pin.Placement.SceneID
		rec.SceneID = &sceneID
		rec.X = pin.Placement.X
		rec.Y = pin.Placement.Y
	}
	return rec, nil
}

func fromRecord(rec *model.PinRecord) (*Pin, error) {
	pin := &Pin{
		ID:       rec.ID,
		OwnerTag: rec.OwnerTag,
		Type:     PinType(rec.Type),
	}
	if rec.SceneID != nil {
		pin.Placement = &Placement{SceneID: *rec.SceneID, X: rec.X, Y: rec.Y}
	}
	if len(rec.Style) > 0 {
		if err := json.Unmarshal(rec.Style, &pin.Style); err != nil {
			return nil, err
		}
	}
	if len(rec.Ownership) > 0 {
		if err := json.Unmarshal(rec.Ownership, &pin.Ownership); err != nil {
			return nil, err
		}
	}
	if len(rec.Config) > 0 {
		if err := json.Unmarshal(rec.Config, &pin.Config); err != nil {
			return nil, err
		}
	}
	return pin, nil
}
