// Package pinsync pushes quest and objective state into the external
// pin store and keeps the document's linkage flags pointing at the
// records it created.
package pinsync

import (
	"context"
	"fmt"

	"questlog/markup"
	"questlog/ownership"
	"questlog/quest"
	"questlog/store"

	"go.uber.org/zap"
)

// BatchResult reports a multi-pin operation. Failures never stop the
// rest of the batch; callers surface the counts and rely on
// reconciliation to pick up anything left behind.
type BatchResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Service is the pin-store writer. Every operation is a no-op when the
// startup capability probe failed: the integration is optional and its
// absence is never an error.
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

// OwnerTag is the marker written on every pin this service creates.
func (s *Service) OwnerTag() string {
	return s.ownerTag
}

// CreateQuestPin writes the quest-level pin, unplaced when placement is
// nil, and records its id in the quest's linkage. Returns nil when the
// pin store is unavailable.
func (s *Service) CreateQuestPin(ctx context.Context, questID string, placement *store.Placement) (*store.Pin, error) {
	if !s.cap.Available() {
		return nil, nil
	}
	q, err := s.quests.View(ctx, questID)
	if err != nil {
		return nil, err
	}
	users, err := s.dir.Users(ctx)
	if err != nil {
		return nil, err
	}
	pin := store.Pin{
		OwnerTag:  s.ownerTag,
		Type:      store.PinTypeQuest,
		Placement: placement,
		Style:     QuestStyle(q),
		Ownership: ownership.For(q.Visible, false, users),
		Config:    QuestConfig(q),
	}
	created, err := s.cap.Pins().Create(ctx, pin)
	if err != nil {
		return nil, fmt.Errorf("create quest pin: %w", err)
	}
	l, err := s.docs.Linkage(ctx, questID)
	if err != nil {
		return nil, err
	}
	l.PinID = created.ID
	l.SceneID = ""
	if placement != nil {
		l.SceneID = placement.SceneID
	}
	if err := s.docs.SetLinkage(ctx, questID, l); err != nil {
		return nil, err
	}
	return created, nil
}

// CreateObjectivePin writes one objective's pin. The objective's hidden
// state masks the pin's ownership even when the quest is visible.
func (s *Service) CreateObjectivePin(ctx context.Context, questID string, index int, placement *store.Placement) (*store.Pin, error) {
	if !s.cap.Available() {
		return nil, nil
	}
	q, err := s.quests.View(ctx, questID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(q.Objectives) {
		return nil, markup.ErrIndexOutOfRange
	}
	users, err := s.dir.Users(ctx)
	if err != nil {
		return nil, err
	}
	hidden := q.Objectives[index].State == markup.StateHidden
	pin := store.Pin{
		OwnerTag:  s.ownerTag,
		Type:      store.PinTypeObjective,
		Placement: placement,
		Style:     ObjectiveStyle(&q.Objectives[index]),
		Ownership: ownership.For(q.Visible, hidden, users),
		Config:    ObjectiveConfig(q, index),
	}
	created, err := s.cap.Pins().Create(ctx, pin)
	if err != nil {
		return nil, fmt.Errorf("create objective pin: %w", err)
	}
	l, err := s.docs.Linkage(ctx, questID)
	if err != nil {
		return nil, err
	}
	if l.ObjectivePins == nil {
		l.ObjectivePins = map[int]store.ObjectiveLink{}
	}
	link := store.ObjectiveLink{PinID: created.ID}
	if placement != nil {
		link.SceneID = placement.SceneID
	}
	l.ObjectivePins[index] = link
	if err := s.docs.SetLinkage(ctx, questID, l); err != nil {
		return nil, err
	}
	return created, nil
}

// DeletePins removes the quest pin and every objective pin, scoped to
// one scene or all scenes. Record deletions are best-effort; the
// matching linkage fields are always cleared, even for failed deletes,
// so a retry or reconciliation starts from clean metadata.
func (s *Service) DeletePins(ctx context.Context, questID, sceneScope string) (BatchResult, error) {
	var res BatchResult
	l, err := s.docs.Linkage(ctx, questID)
	if err != nil {
		return res, err
	}
	inScope := func(sceneID string) bool {
		return sceneScope == "" || sceneID == sceneScope
	}
	pins := s.cap.Pins()
	if l.PinID != "" && inScope(l.SceneID) {
		if pins != nil {
			res.Processed++
			if err := pins.Delete(ctx, l.PinID, sceneScope); err != nil {
				res.Failed++
				s.logger.Warn("quest pin delete failed",
					zap.String("quest_id", questID), zap.String("pin_id", l.PinID), zap.Error(err))
			}
		}
		l.PinID = ""
		l.SceneID = ""
	}
	for idx, link := range l.ObjectivePins {
		if !inScope(link.SceneID) {
			continue
		}
		if pins != nil {
			res.Processed++
			if err := pins.Delete(ctx, link.PinID, sceneScope); err != nil {
				res.Failed++
				s.logger.Warn("objective pin delete failed",
					zap.String("quest_id", questID), zap.Int("objective", idx), zap.Error(err))
			}
		}
		delete(l.ObjectivePins, idx)
	}
	return res, s.docs.SetLinkage(ctx, questID, l)
}

// Unplace removes an objective pin's placement (objectiveIndex set) or
// the quest pin's (nil), keeping the record and its linkage id so the
// pin can be re-placed without losing identity.
func (s *Service) Unplace(ctx context.Context, questID string, objectiveIndex *int) error {
	l, err := s.docs.Linkage(ctx, questID)
	if err != nil {
		return err
	}
	var pinID string
	if objectiveIndex == nil {
		pinID = l.PinID
		l.SceneID = ""
	} else {
		link, ok := l.ObjectivePins[*objectiveIndex]
		if !ok {
			return store.ErrNotFound
		}
		pinID = link.PinID
		link.SceneID = ""
		l.ObjectivePins[*objectiveIndex] = link
	}
	if pinID == "" {
		return store.ErrNotFound
	}
	if pins := s.cap.Pins(); pins != nil {
		if err := pins.Unplace(ctx, pinID); err != nil {
			return err
		}
	}
	return s.docs.SetLinkage(ctx, questID, l)
}

// UpdateVisibility recomputes ownership for every existing pin tied to
// the quest and pushes it. A non-empty sceneScope touches only pins
// recorded on that scene. Pins are never created here.
func (s *Service) UpdateVisibility(ctx context.Context, questID, sceneScope string) (BatchResult, error) {
	return s.patchExisting(ctx, questID, sceneScope, func(q *quest.Quest, users []ownership.User, index *int) store.PinPatch {
		hidden := false
		if index != nil && *index < len(q.Objectives) {
			hidden = q.Objectives[*index].State == markup.StateHidden
		}
		return store.PinPatch{Ownership: ownership.For(q.Visible, hidden, users)}
	})
}

// UpdateStyles re-derives appearance and the denormalized config fields
// for every existing pin after a status or objective change.
func (s *Service) UpdateStyles(ctx context.Context, questID string) (BatchResult, error) {
	return s.patchExisting(ctx, questID, "", func(q *quest.Quest, users []ownership.User, index *int) store.PinPatch {
		if index == nil {
			style := QuestStyle(q)
			cfg := QuestConfig(q)
			return store.PinPatch{Style: &style, Config: &cfg}
		}
		if *index >= len(q.Objectives) {
			return store.PinPatch{}
		}
		style := ObjectiveStyle(&q.Objectives[*index])
		cfg := ObjectiveConfig(q, *index)
		return store.PinPatch{Style: &style, Config: &cfg}
	})
}

func (s *Service) patchExisting(ctx context.Context, questID, sceneScope string, build func(q *quest.Quest, users []ownership.User, index *int) store.PinPatch) (BatchResult, error) {
	var res BatchResult
	if !s.cap.Available() {
		return res, nil
	}
	q, err := s.quests.View(ctx, questID)
	if err != nil {
		return res, err
	}
	users, err := s.dir.Users(ctx)
	if err != nil {
		return res, err
	}
	l, err := s.docs.Linkage(ctx, questID)
	if err != nil {
		return res, err
	}
	pins := s.cap.Pins()
	apply := func(pinID string, index *int) {
		patch := build(q, users, index)
		if patch.Style == nil && patch.Ownership == nil && patch.Config == nil {
			return
		}
		res.Processed++
		if err := pins.Update(ctx, pinID, patch); err != nil {
			res.Failed++
			s.logger.Warn("pin patch failed",
				zap.String("quest_id", questID), zap.String("pin_id", pinID), zap.Error(err))
		}
	}
	if l.PinID != "" && (sceneScope == "" || l.SceneID == sceneScope) {
		apply(l.PinID, nil)
	}
	for idx, link := range l.ObjectivePins {
		if sceneScope != "" && link.SceneID != sceneScope {
			continue
		}
		i := idx
		apply(link.PinID, &i)
	}
	return res, nil
}

// SetGlobalVisibility toggles the user's all-pins switch on the pin
// store. Independent of per-pin ownership, so showing the module again
// restores whatever each pin's map allows.
func (s *Service) SetGlobalVisibility(ctx context.Context, userID string, visible bool) error {
	if !s.cap.Available() {
		return nil
	}
	return s.cap.Pins().SetModuleVisibility(ctx, userID, visible)
}

// GetGlobalVisibility reports the switch; false when the pin store is
// unavailable.
func (s *Service) GetGlobalVisibility(ctx context.Context, userID string) (bool, error) {
	if !s.cap.Available() {
		return false, nil
	}
	return s.cap.Pins().GetModuleVisibility(ctx, userID)
}
