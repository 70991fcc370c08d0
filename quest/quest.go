// Package quest builds quest views from stored documents and drives
// status/category transitions.
package quest

import (
	"context"
	"errors"

	"questlog/markup"
	"questlog/store"

	"go.uber.org/zap"
)

// Status is the quest lifecycle state.
type Status string

const (
	StatusNotStarted Status = "NotStarted"
	StatusInProgress Status = "InProgress"
	StatusComplete   Status = "Complete"
	StatusFailed     Status = "Failed"
)

// Valid reports whether s is one of the four quest statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusComplete, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s forces the quest's display category.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Built-in categories. Custom values are allowed anywhere a category is
// read; only the two terminal categories are special-cased.
const (
	CategoryMain      = "Main"
	CategorySide      = "Side"
	CategoryCompleted = "Completed"
	CategoryFailed    = "Failed"
)

// forcedCategory is the display category imposed by a terminal status.
func forcedCategory(s Status) string {
	if s == StatusFailed {
		return CategoryFailed
	}
	return CategoryCompleted
}

// normalCategory reports whether c is a category a quest can revert to.
func normalCategory(c string) bool {
	return c != CategoryCompleted && c != CategoryFailed
}

// Quest is the decoded view of one quest document.
type Quest struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Index      int                `json:"index"`
	Status     Status             `json:"status"`
	Category   string             `json:"category"`
	Visible    bool               `json:"visible"`
	Objectives []markup.Objective `json:"objectives"`
	Content    string             `json:"-"`
}

// Service reads quest documents into views.
type Service struct {
	docs   store.DocumentStore
	logger *zap.Logger
}

func NewService(docs store.DocumentStore, logger *zap.Logger) *Service {
	return &Service{docs: docs, logger: logger}
}

// View loads the document and decodes status, category, visibility and
// the objective list. A quest without a task list has no objectives.
func (s *Service) View(ctx context.Context, id string) (*Quest, error) {
	doc, err := s.docs.GetQuest(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.build(ctx, doc)
}

// List returns views for every quest document.
func (s *Service) List(ctx context.Context) ([]Quest, error) {
	docs, err := s.docs.ListQuests(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Quest, 0, len(docs))
	for i := range docs {
		q, err := s.build(ctx, &docs[i])
		if err != nil {
			s.logger.Warn("skipping unreadable quest",
				zap.String("quest_id", docs[i].ID), zap.Error(err))
			continue
		}
		out = append(out, *q)
	}
	return out, nil
}

func (s *Service) build(ctx context.Context, doc *store.Document) (*Quest, error) {
	q := &Quest{
		ID:       doc.ID,
		Name:     doc.Name,
		Index:    doc.Index,
		Status:   StatusNotStarted,
		Category: CategoryMain,
		Visible:  true,
		Content:  doc.Content,
	}
	if v, ok := markup.ReadLabeled(doc.Content, markup.LabelStatus); ok {
		if st := Status(v); st.Valid() {
			q.Status = st
		}
	}
	if v, ok := markup.ReadLabeled(doc.Content, markup.LabelCategory); ok && v != "" {
		q.Category = v
	}
	if err := s.docs.GetFlag(ctx, store.DocQuest, doc.ID, store.FlagVisible, &q.Visible); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		q.Visible = true
	}
	objectives, err := markup.Decode(doc.Content)
	if err != nil && !errors.Is(err, markup.ErrNoTaskList) {
		return nil, err
	}
	q.Objectives = objectives
	return q, nil
}

// SetVisible stores the visibility flag on the quest document.
func (s *Service) SetVisible(ctx context.Context, id string, visible bool) error {
	return s.docs.SetFlag(ctx, store.DocQuest, id, store.FlagVisible, visible)
}
