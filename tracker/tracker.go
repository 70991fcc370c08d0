// Package tracker enforces the single-active-objective rule: each user
// has at most one (quest, objective) pair marked active at any time.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"

	"questlog/cache"
)

const keyPrefix = "active_objective:"

// Selection is one user's active objective.
type Selection struct {
	QuestID        string `json:"questId"`
	ObjectiveIndex int    `json:"objectiveIndex"`
}

// Tracker stores the per-user selection as a single cache key, so
// setting a new selection implicitly clears the previous one.
type Tracker struct {
	c cache.Cache
}

func New(c cache.Cache) *Tracker {
	return &Tracker{c: c}
}

// SetActive records the selection, overwriting any existing one.
func (t *Tracker) SetActive(ctx context.Context, userID, questID string, objectiveIndex int) error {
	raw, err := json.Marshal(Selection{QuestID: questID, ObjectiveIndex: objectiveIndex})
	if err != nil {
		return err
	}
	return t.c.Set(ctx, keyPrefix+userID, string(raw), 0)
}

// ClearActive clears the selection only if it belongs to questID.
func (t *Tracker) ClearActive(ctx context.Context, userID, questID string) error {
	sel, err := t.Active(ctx, userID)
	if err != nil {
		return err
	}
	if sel == nil || sel.QuestID != questID {
		return nil
	}
	return t.c.Del(ctx, keyPrefix+userID)
}

// ClearAll drops the user's selection unconditionally.
func (t *Tracker) ClearAll(ctx context.Context, userID string) error {
	return t.c.Del(ctx, keyPrefix+userID)
}

// Active returns the current selection, or nil when none is set.
func (t *Tracker) Active(ctx context.Context, userID string) (*Selection, error) {
	raw, err := t.c.Get(ctx, keyPrefix+userID)
	if err != nil {
		if cache.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("tracker: read selection for %s: %w", userID, err)
	}
	var sel Selection
	if err := json.Unmarshal([]byte(raw), &sel); err != nil {
		return nil, fmt.Errorf("tracker: corrupt selection for %s: %w", userID, err)
	}
	return &sel, nil
}
