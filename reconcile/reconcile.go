// Package reconcile repairs quest linkage metadata against the pin
// store's observed state. It never creates or deletes pins; the pin
// store is authoritative for pin existence, the documents only mirror
// it.
package reconcile

import (
	"context"

	"questlog/hook"
	"questlog/store"

	"go.uber.org/zap"
)

// Result counts one reconciliation pass. Errors are per-quest: one
// quest failing to repair never aborts the rest.
type Result struct {
	Quests   int `json:"quests"`
	Repaired int `json:"repaired"`
	Errors   int `json:"errors"`
}

// Service runs pull-based linkage repair.
type Service struct {
	docs     store.DocumentStore
	cap      *store.Capability
	ownerTag string
	logger   *zap.Logger
}

func NewService(docs store.DocumentStore, cap *store.Capability, ownerTag string, logger *zap.Logger) *Service {
	return &Service{docs: docs, cap: cap, ownerTag: ownerTag, logger: logger}
}

type objectiveKey struct {
	questID string
	index   int
}

// Reconcile scans the pin store for this module's pins in the given
// scene scope (plus all unplaced pins) and rewrites each quest's
// linkage to match. Safe to call at any time, repeatedly, from any
// trigger; with no external change a second run is a no-op.
func (s *Service) Reconcile(ctx context.Context, sceneScope string) (Result, error) {
	var res Result
	if !s.cap.Available() {
		return res, nil
	}
	pins := s.cap.Pins()

	live, err := pins.List(ctx, store.PinFilter{
		OwnerTag:        s.ownerTag,
		SceneID:         sceneScope,
		IncludeUnplaced: true,
	})
	if err != nil {
		return res, err
	}

	questPins := map[string]*store.Pin{}
	objectivePins := map[objectiveKey]*store.Pin{}
	for i := range live {
		p := &live[i]
		switch {
		case p.Type == store.PinTypeQuest:
			questPins[p.Config.QuestID] = p
		case p.Type == store.PinTypeObjective && p.Config.ObjectiveIndex != nil:
			objectivePins[objectiveKey{p.Config.QuestID, *p.Config.ObjectiveIndex}] = p
		}
	}

	quests, err := s.docs.ListQuests(ctx)
	if err != nil {
		return res, err
	}
	for i := range quests {
		res.Quests++
		repaired, err := s.repairQuest(ctx, quests[i].ID, questPins, objectivePins)
		if err != nil {
			res.Errors++
			s.logger.Warn("linkage repair failed",
				zap.String("quest_id", quests[i].ID), zap.Error(err))
			continue
		}
		if repaired {
			res.Repaired++
		}
	}
	return res, nil
}

func (s *Service) repairQuest(ctx context.Context, questID string, questPins map[string]*store.Pin, objectivePins map[objectiveKey]*store.Pin) (bool, error) {
	pins := s.cap.Pins()
	l, err := s.docs.Linkage(ctx, questID)
	if err != nil {
		return false, err
	}
	orig := cloneLinkage(l)

	// Quest pin: a live pin overwrites the recorded values, healing
	// manual external edits. A recorded id with no live pin in scope is
	// kept only if the pin still exists anywhere.
	if p, ok := questPins[questID]; ok {
		l.PinID = p.ID
		l.SceneID = sceneOf(p)
	} else if l.PinID != "" {
		exists, err := pins.Exists(ctx, l.PinID)
		if err != nil {
			return false, err
		}
		if !exists {
			l.PinID = ""
			l.SceneID = ""
		}
	}

	for idx, link := range l.ObjectivePins {
		if p, ok := objectivePins[objectiveKey{questID, idx}]; ok {
			l.ObjectivePins[idx] = store.ObjectiveLink{PinID: p.ID, SceneID: sceneOf(p)}
			continue
		}
		exists, err := pins.Exists(ctx, link.PinID)
		if err != nil {
			return false, err
		}
		if !exists {
			delete(l.ObjectivePins, idx)
		}
	}
	// Live objective pins the document forgot about.
	for key, p := range objectivePins {
		if key.questID != questID {
			continue
		}
		if _, ok := l.ObjectivePins[key.index]; !ok {
			if l.ObjectivePins == nil {
				l.ObjectivePins = map[int]store.ObjectiveLink{}
			}
			l.ObjectivePins[key.index] = store.ObjectiveLink{PinID: p.ID, SceneID: sceneOf(p)}
		}
	}

	if linkageEqual(orig, l) {
		return false, nil
	}
	return true, s.docs.SetLinkage(ctx, questID, l)
}

// RegisterTriggers subscribes reconciliation to pin lifecycle and scene
// events, scoped to the event's scene when one is present.
func (s *Service) RegisterTriggers(hooks *hook.Center) {
	events := []string{
		hook.PinCreated, hook.PinUpdated, hook.PinDeleted,
		hook.PinPlaced, hook.PinUnplaced, hook.PinsDeletedAll,
		hook.SceneChanged,
	}
	for _, event := range events {
		hooks.Register(event, 100, "reconcile", func(ctx context.Context, event string, data interface{}) (interface{}, error) {
			scope := ""
			if ev, ok := data.(store.PinEvent); ok {
				scope = ev.SceneID
			}
			if _, err := s.Reconcile(ctx, scope); err != nil {
				s.logger.Warn("triggered reconcile failed",
					zap.String("event", event), zap.Error(err))
			}
			return data, nil
		})
	}
}

func sceneOf(p *store.Pin) string {
	if p.Placement == nil {
		return ""
	}
	return p.Placement.SceneID
}

func cloneLinkage(l *store.Linkage) *store.Linkage {
	c := &store.Linkage{PinID: l.PinID, SceneID: l.SceneID}
	if l.ObjectivePins != nil {
		c.ObjectivePins = make(map[int]store.ObjectiveLink, len(l.ObjectivePins))
		for k, v := range l.ObjectivePins {
			c.ObjectivePins[k] = v
		}
	}
	return c
}

func linkageEqual(a, b *store.Linkage) bool {
	if a.PinID != b.PinID || a.SceneID != b.SceneID {
		return false
	}
	if len(a.ObjectivePins) != len(b.ObjectivePins) {
		return false
	}
	for k, v := range a.ObjectivePins {
		if b.ObjectivePins[k] != v {
			return false
		}
	}
	return true
}
