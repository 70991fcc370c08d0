package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"questlog/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GormDocumentStore is the reference DocumentStore over the journal DB.
type GormDocumentStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormDocumentStore creates a DocumentStore backed by gorm.
func NewGormDocumentStore(db *gorm.DB, logger *zap.Logger) *GormDocumentStore {
	return &GormDocumentStore{db: db, logger: logger}
}

func (s *GormDocumentStore) CreateQuest(ctx context.Context, name, content string) (*Document, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.QuestDocument{}).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("create quest: %w", err)
	}
	rec := &model.QuestDocument{
		ID:      uuid.New().String(),
		Name:    name,
		Index:   int(count) + 1,
		Content: content,
		Flags:   datatypes.JSON([]byte("{}")),
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("create quest: %w", err)
	}
	return questDoc(rec), nil
}

func (s *GormDocumentStore) GetQuest(ctx context.Context, id string) (*Document, error) {
	var rec model.QuestDocument
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return questDoc(&rec), nil
}

func (s *GormDocumentStore) ListQuests(ctx context.Context) ([]Document, error) {
	var recs []model.QuestDocument
	if err := s.db.WithContext(ctx).Order("quest_index").Find(&recs).Error; err != nil {
		return nil, err
	}
	docs := make([]Document, len(recs))
	for i := range recs {
		docs[i] = *questDoc(&recs[i])
	}
	return docs, nil
}

func (s *GormDocumentStore) UpdateContent(ctx context.Context, id, content string) error {
	res := s.db.WithContext(ctx).Model(&model.QuestDocument{}).
		Where("id = ?", id).Update("content", content)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormDocumentStore) CreateScene(ctx context.Context, name string) (*Document, error) {
	rec := &model.SceneDocument{
		ID:    uuid.New().String(),
		Name:  name,
		Flags: datatypes.JSON([]byte("{}")),
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("create scene: %w", err)
	}
	return &Document{ID: rec.ID, Name: rec.Name}, nil
}

func (s *GormDocumentStore) GetScene(ctx context.Context, id string) (*Document, error) {
	var rec model.SceneDocument
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &Document{ID: rec.ID, Name: rec.Name}, nil
}

func (s *GormDocumentStore) ListScenes(ctx context.Context) ([]Document, error) {
	var recs []model.SceneDocument
	if err := s.db.WithContext(ctx).Find(&recs).Error; err != nil {
		return nil, err
	}
	docs := make([]Document, len(recs))
	for i, r := range recs {
		docs[i] = Document{ID: r.ID, Name: r.Name}
	}
	return docs, nil
}

// ---- flags ----

func (s *GormDocumentStore) GetFlag(ctx context.Context, kind DocKind, id, key string, out interface{}) error {
	flags, err := s.loadFlags(ctx, kind, id)
	if err != nil {
		return err
	}
	raw, ok := flags[key]
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

func (s *GormDocumentStore) SetFlag(ctx context.Context, kind DocKind, id, key string, value interface{}) error {
	flags, err := s.loadFlags(ctx, kind, id)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("set flag %s: %w", key, err)
	}
	flags[key] = raw
	return s.saveFlags(ctx, kind, id, flags)
}

func (s *GormDocumentStore) UnsetFlag(ctx context.Context, kind DocKind, id, key string) error {
	flags, err := s.loadFlags(ctx, kind, id)
	if err != nil {
		return err
	}
	if _, ok := flags[key]; !ok {
		return nil
	}
	delete(flags, key)
	return s.saveFlags(ctx, kind, id, flags)
}

// ---- linkage ----

func (s *GormDocumentStore) Linkage(ctx context.Context, questID string) (*Linkage, error) {
	flags, err := s.loadFlags(ctx, DocQuest, questID)
	if err != nil {
		return nil, err
	}
	l := &Linkage{}
	if raw, ok := flags[FlagPinID]; ok {
		_ = json.Unmarshal(raw, &l.PinID)
	}
	if raw, ok := flags[FlagSceneID]; ok {
		_ = json.Unmarshal(raw, &l.SceneID)
	}
	if raw, ok := flags[FlagObjectivePins]; ok {
		if err := json.Unmarshal(raw, &l.ObjectivePins); err != nil {
			s.logger.Warn("corrupt objectivePins flag, resetting",
				zap.String("quest_id", questID), zap.Error(err))
			l.ObjectivePins = nil
		}
	}
	return l, nil
}

func (s *GormDocumentStore) SetLinkage(ctx context.Context, questID string, l *Linkage) error {
	flags, err := s.loadFlags(ctx, DocQuest, questID)
	if err != nil {
		return err
	}
	setOrDelete := func(key string, present bool, value interface{}) {
		if !present {
			delete(flags, key)
			return
		}
		raw, _ := json.Marshal(value)
		flags[key] = raw
	}
	setOrDelete(FlagPinID, l.PinID != "", l.PinID)
	setOrDelete(FlagSceneID, l.SceneID != "", l.SceneID)
	setOrDelete(FlagObjectivePins, len(l.ObjectivePins) > 0, l.ObjectivePins)
	return s.saveFlags(ctx, DocQuest, questID, flags)
}

// ---- helpers ----

func questDoc(rec *model.QuestDocument) *Document {
	return &Document{ID: rec.ID, Name: rec.Name, Index: rec.Index, Content: rec.Content}
}

func (s *GormDocumentStore) loadFlags(ctx context.Context, kind DocKind, id string) (map[string]json.RawMessage, error) {
	var raw datatypes.JSON
	var err error
	switch kind {
	case DocQuest:
		var rec model.QuestDocument
		err = s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
		raw = rec.Flags
	case DocScene:
		var rec model.SceneDocument
		err = s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
		raw = rec.Flags
	default:
		return nil, fmt.Errorf("unknown doc kind %q", kind)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	flags := make(map[string]json.RawMessage)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &flags); err != nil {
			return nil, fmt.Errorf("corrupt flags on %s %s: %w", kind, id, err)
		}
	}
	return flags, nil
}

func (s *GormDocumentStore) saveFlags(ctx context.Context, kind DocKind, id string, flags map[string]json.RawMessage) error {
	raw, err := json.Marshal(flags)
	if err != nil {
		return err
	}
	switch kind {
	case DocQuest:
		return s.db.WithContext(ctx).Model(&model.QuestDocument{}).
			Where("id = ?", id).Update("flags", datatypes.JSON(raw)).Error
	case DocScene:
		return s.db.WithContext(ctx).Model(&model.SceneDocument{}).
			Where("id = ?", id).Update("flags", datatypes.JSON(raw)).Error
	default:
		return fmt.Errorf("unknown doc kind %q", kind)
	}
}
