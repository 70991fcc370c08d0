package quest

import (
	"context"
	"errors"
	"fmt"

	"questlog/markup"
	"questlog/store"

	"go.uber.org/zap"
)

// ErrInvalidStatus is returned by Apply for a status outside the enum.
var ErrInvalidStatus = errors.New("quest: invalid status")

// Notifier receives the completion signal raised on a transition into
// Complete. Exactly one call per transition.
type Notifier interface {
	QuestCompleted(ctx context.Context, q *Quest)
}

// StatusMachine recomputes and applies quest status, keeping category
// and originalCategory in step. It persists the updated labeled lines
// but never touches objectives.
type StatusMachine struct {
	svc    *Service
	docs   store.DocumentStore
	notify Notifier
	logger *zap.Logger
}

// NewStatusMachine builds a machine. notify may be nil.
func NewStatusMachine(svc *Service, docs store.DocumentStore, notify Notifier, logger *zap.Logger) *StatusMachine {
	return &StatusMachine{svc: svc, docs: docs, notify: notify, logger: logger}
}

// Recompute derives status from the objective list after any objective
// state change:
//   - every objective completed (list non-empty, no blank items):
//     Complete,
//     with the completion notification raised once on the transition;
//   - status was Complete but an objective was un-completed: revert to
//     InProgress and restore the remembered category;
//   - any objective resolved while the quest is NotStarted: InProgress.
//
// Manual assignments go through Apply; Recompute never yields Failed.
func (m *StatusMachine) Recompute(ctx context.Context, questID string) (Status, error) {
	q, err := m.svc.View(ctx, questID)
	if err != nil {
		return "", err
	}
	next := m.derive(q)
	if next == q.Status {
		return next, nil
	}
	if err := m.transition(ctx, q, next); err != nil {
		return "", err
	}
	return next, nil
}

func (m *StatusMachine) derive(q *Quest) Status {
	if len(q.Objectives) == 0 {
		return q.Status
	}
	done := 0
	touched := 0
	filled := true
	for _, o := range q.Objectives {
		if o.Text == "" {
			filled = false
		}
		switch o.State {
		case markup.StateCompleted:
			done++
			touched++
		case markup.StateFailed:
			touched++
		}
	}
	// An empty objective is a placeholder, not a finished task.
	if filled && done == len(q.Objectives) {
		return StatusComplete
	}
	if q.Status == StatusComplete {
		return StatusInProgress
	}
	if q.Status == StatusNotStarted && touched > 0 {
		return StatusInProgress
	}
	return q.Status
}

// Apply sets the status directly, regardless of objective completion.
// This is the only path to Failed.
func (m *StatusMachine) Apply(ctx context.Context, questID string, next Status) error {
	if !next.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, next)
	}
	q, err := m.svc.View(ctx, questID)
	if err != nil {
		return err
	}
	if next == q.Status {
		return nil
	}
	return m.transition(ctx, q, next)
}

// transition writes the status line, forces or restores the category,
// and raises the completion notification on entry into Complete.
func (m *StatusMachine) transition(ctx context.Context, q *Quest, next Status) error {
	content := markup.WriteLabeled(q.Content, markup.LabelStatus, string(next))
	category := q.Category

	switch {
	case next.Terminal():
		if normalCategory(q.Category) {
			if err := m.captureOriginal(ctx, q); err != nil {
				return err
			}
		}
		category = forcedCategory(next)
	case q.Status.Terminal():
		restored, err := m.restoreOriginal(ctx, q)
		if err != nil {
			return err
		}
		if restored != "" {
			category = restored
		}
	}
	if category != q.Category {
		content = markup.WriteLabeled(content, markup.LabelCategory, category)
	}
	if err := m.docs.UpdateContent(ctx, q.ID, content); err != nil {
		return err
	}
	m.logger.Info("quest status changed",
		zap.String("quest_id", q.ID),
		zap.String("from", string(q.Status)),
		zap.String("to", string(next)))

	if next == StatusComplete && m.notify != nil {
		q.Status = next
		q.Category = category
		q.Content = content
		m.notify.QuestCompleted(ctx, q)
	}
	return nil
}

// captureOriginal remembers the pre-terminal category, once. A value
// already present is never overwritten, so bouncing between Complete
// and Failed keeps the first capture.
func (m *StatusMachine) captureOriginal(ctx context.Context, q *Quest) error {
	var existing string
	err := m.docs.GetFlag(ctx, store.DocQuest, q.ID, store.FlagOriginalCategory, &existing)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return m.docs.SetFlag(ctx, store.DocQuest, q.ID, store.FlagOriginalCategory, q.Category)
}

// restoreOriginal consumes the remembered category, returning "" when
// none was captured.
func (m *StatusMachine) restoreOriginal(ctx context.Context, q *Quest) (string, error) {
	var original string
	err := m.docs.GetFlag(ctx, store.DocQuest, q.ID, store.FlagOriginalCategory, &original)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if err := m.docs.UnsetFlag(ctx, store.DocQuest, q.ID, store.FlagOriginalCategory); err != nil {
		return "", err
	}
	return original, nil
}
