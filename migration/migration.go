// Package migration converts the legacy per-scene embedded pin arrays
// into records in the pin store. It runs once per scene, guarded by a
// completion marker, and leaves the legacy data in place for manual
// rollback.
package migration

import (
	"context"
	"errors"

	"questlog/markup"
	"questlog/ownership"
	"questlog/pinsync"
	"questlog/quest"
	"questlog/store"

	"go.uber.org/zap"
)

// LegacyPin is one entry of the legacy embedded array, stored on the
// scene document under the questPins flag.
type LegacyPin struct {
	PinID          string  `json:"pinId"`
	QuestID        string  `json:"questId"`
	ObjectiveIndex *int    `json:"objectiveIndex,omitempty"`
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	QuestIndex     int     `json:"questIndex"`
	QuestCategory  string  `json:"questCategory,omitempty"`
	QuestState     string  `json:"questState,omitempty"`
	QuestStatus    string  `json:"questStatus,omitempty"`
}

// Result counts one migration pass.
type Result struct {
	Migrated int `json:"migrated"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

func (r *Result) add(o Result) {
	r.Migrated += o.Migrated
	r.Skipped += o.Skipped
	r.Errors += o.Errors
}

// Service performs the legacy conversion.
type Service struct {
	docs     store.DocumentStore
	quests   *quest.Service
	cap      *store.Capability
	dir      ownership.Directory
	ownerTag string
	logger   *zap.Logger
}

func NewService(docs store.DocumentStore, quests *quest.Service, cap *store.Capability, dir ownership.Directory, ownerTag string, logger *zap.Logger) *Service {
	return &Service{docs: docs, quests: quests, cap: cap, dir: dir, ownerTag: ownerTag, logger: logger}
}

// SceneStatus reports one scene's migration state.
type SceneStatus struct {
	SceneID    string `json:"sceneId"`
	SceneName  string `json:"sceneName,omitempty"`
	Migrated   bool   `json:"migrated"`
	LegacyPins int    `json:"legacyPins"`
}

// Status lists every scene with its completion marker and remaining
// legacy pin count.
func (s *Service) Status(ctx context.Context) ([]SceneStatus, error) {
	scenes, err := s.docs.ListScenes(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SceneStatus, 0, len(scenes))
	for _, sc := range scenes {
		st := SceneStatus{SceneID: sc.ID, SceneName: sc.Name}
		if err := s.docs.GetFlag(ctx, store.DocScene, sc.ID, store.FlagPinsMigrated, &st.Migrated); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		var legacy []LegacyPin
		if err := s.docs.GetFlag(ctx, store.DocScene, sc.ID, store.FlagLegacyPins, &legacy); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		st.LegacyPins = len(legacy)
		out = append(out, st)
	}
	return out, nil
}

// MigrateScene converts one scene's legacy array. A scene already
// carrying the completion marker is a no-op. The marker is set after
// processing whether or not individual records failed; failed records
// are surfaced in the result, not retried.
func (s *Service) MigrateScene(ctx context.Context, sceneID string) (Result, error) {
	var res Result
	if !s.cap.Available() {
		// Without the pin store nothing can be converted; leave the
		// marker unset so a later start retries.
		return res, nil
	}

	var done bool
	err := s.docs.GetFlag(ctx, store.DocScene, sceneID, store.FlagPinsMigrated, &done)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return res, err
	}
	if done {
		return res, nil
	}

	var legacy []LegacyPin
	err = s.docs.GetFlag(ctx, store.DocScene, sceneID, store.FlagLegacyPins, &legacy)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return res, err
	}

	users, err := s.dir.Users(ctx)
	if err != nil {
		return res, err
	}

	for _, lp := range legacy {
		switch outcome := s.migratePin(ctx, sceneID, lp, users); outcome {
		case outcomeMigrated:
			res.Migrated++
		case outcomeSkipped:
			res.Skipped++
		default:
			res.Errors++
		}
	}

	if err := s.docs.SetFlag(ctx, store.DocScene, sceneID, store.FlagPinsMigrated, true); err != nil {
		return res, err
	}
	if res.Migrated+res.Skipped+res.Errors > 0 {
		s.logger.Info("scene migration finished",
			zap.String("scene_id", sceneID),
			zap.Int("migrated", res.Migrated),
			zap.Int("skipped", res.Skipped),
			zap.Int("errors", res.Errors))
	}
	return res, nil
}

type outcome int

const (
	outcomeMigrated outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (s *Service) migratePin(ctx context.Context, sceneID string, lp LegacyPin, users []ownership.User) outcome {
	if lp.PinID == "" || lp.QuestID == "" {
		s.logger.Warn("legacy pin missing identity", zap.String("scene_id", sceneID))
		return outcomeFailed
	}
	pins := s.cap.Pins()

	// Re-running after a lost marker must not duplicate pins.
	exists, err := pins.Exists(ctx, lp.PinID)
	if err != nil {
		s.logger.Warn("legacy pin existence check failed",
			zap.String("pin_id", lp.PinID), zap.Error(err))
		return outcomeFailed
	}
	if exists {
		return outcomeSkipped
	}

	q, err := s.quests.View(ctx, lp.QuestID)
	if errors.Is(err, store.ErrNotFound) {
		// The quest was deleted since the legacy pin was written.
		return outcomeSkipped
	}
	if err != nil {
		s.logger.Warn("legacy pin quest lookup failed",
			zap.String("quest_id", lp.QuestID), zap.Error(err))
		return outcomeFailed
	}

	pin := store.Pin{
		// The original identity is preserved so external references to
		// the id stay valid.
		ID:        lp.PinID,
		OwnerTag:  s.ownerTag,
		Type:      store.PinTypeQuest,
		Placement: &store.Placement{SceneID: sceneID, X: lp.X, Y: lp.Y},
	}
	if lp.ObjectiveIndex != nil {
		if *lp.ObjectiveIndex < 0 || *lp.ObjectiveIndex >= len(q.Objectives) {
			// The objective the legacy record pointed at is gone.
			return outcomeSkipped
		}
		// Current document state wins over the stale legacy copy.
		o := &q.Objectives[*lp.ObjectiveIndex]
		pin.Type = store.PinTypeObjective
		pin.Style = pinsync.ObjectiveStyle(o)
		pin.Ownership = ownership.For(q.Visible, o.State == markup.StateHidden, users)
		pin.Config = pinsync.ObjectiveConfig(q, *lp.ObjectiveIndex)
	} else {
		pin.Style = pinsync.QuestStyle(q)
		pin.Ownership = ownership.For(q.Visible, false, users)
		pin.Config = pinsync.QuestConfig(q)
	}

	if _, err := pins.Create(ctx, pin); err != nil {
		s.logger.Warn("legacy pin create failed",
			zap.String("pin_id", lp.PinID), zap.Error(err))
		return outcomeFailed
	}
	if err := s.link(ctx, lp, sceneID); err != nil {
		s.logger.Warn("legacy pin linkage write failed",
			zap.String("pin_id", lp.PinID), zap.Error(err))
		return outcomeFailed
	}
	return outcomeMigrated
}

func (s *Service) link(ctx context.Context, lp LegacyPin, sceneID string) error {
	l, err := s.docs.Linkage(ctx, lp.QuestID)
	if err != nil {
		return err
	}
	if lp.ObjectiveIndex == nil {
		l.PinID = lp.PinID
		l.SceneID = sceneID
	} else {
		if l.ObjectivePins == nil {
			l.ObjectivePins = map[int]store.ObjectiveLink{}
		}
		l.ObjectivePins[*lp.ObjectiveIndex] = store.ObjectiveLink{PinID: lp.PinID, SceneID: sceneID}
	}
	return s.docs.SetLinkage(ctx, lp.QuestID, l)
}

// MigrateAll runs MigrateScene over every scene document. Called at
// startup; completed scenes cost one flag read each.
func (s *Service) MigrateAll(ctx context.Context) (Result, error) {
	var total Result
	if !s.cap.Available() {
		return total, nil
	}
	scenes, err := s.docs.ListScenes(ctx)
	if err != nil {
		return total, err
	}
	for _, sc := range scenes {
		res, err := s.MigrateScene(ctx, sc.ID)
		if err != nil {
			total.Errors++
			s.logger.Warn("scene migration failed",
				zap.String("scene_id", sc.ID), zap.Error(err))
			continue
		}
		total.add(res)
	}
	return total, nil
}
