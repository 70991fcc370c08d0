package pinsync

import (
	"fmt"

	"questlog/markup"
	"questlog/quest"
	"questlog/store"
)

// Fixed color table. Quest pins color by status, objective pins by the
// objective's own state.
var (
	statusFill = map[quest.Status]string{
		quest.StatusNotStarted: "#9e9e9e",
		quest.StatusInProgress: "#f5a623",
		quest.StatusComplete:   "#4caf50",
		quest.StatusFailed:     "#e53935",
	}
	stateFill = map[markup.State]string{
		markup.StateActive:    "#f5a623",
		markup.StateCompleted: "#4caf50",
		markup.StateFailed:    "#e53935",
		markup.StateHidden:    "#607d8b",
	}
)

func QuestStyle(q *quest.Quest) store.PinStyle {
	fill, ok := statusFill[q.Status]
	if !ok {
		fill = statusFill[quest.StatusNotStarted]
	}
	return store.PinStyle{Fill: fill, Stroke: "#263238", Size: 25, Shape: "circle"}
}

func ObjectiveStyle(o *markup.Objective) store.PinStyle {
	fill, ok := stateFill[o.State]
	if !ok {
		fill = stateFill[markup.StateActive]
	}
	return store.PinStyle{Fill: fill, Stroke: "#263238", Size: 20, Shape: "square"}
}

// questLabel combines the stable numeric tag with the title, so a pin
// stays readable without a document lookup.
func questLabel(q *quest.Quest) string {
	return fmt.Sprintf("%d. %s", q.Index, q.Name)
}

func objectiveLabel(q *quest.Quest, o *markup.Objective) string {
	return fmt.Sprintf("%d. %s: %s", q.Index, q.Name, o.Text)
}

func QuestConfig(q *quest.Quest) store.PinConfig {
	return store.PinConfig{
		QuestID:  q.ID,
		Label:    questLabel(q),
		Status:   string(q.Status),
		Category: q.Category,
	}
}

func ObjectiveConfig(q *quest.Quest, index int) store.PinConfig {
	o := &q.Objectives[index]
	idx := index
	return store.PinConfig{
		QuestID:        q.ID,
		ObjectiveIndex: &idx,
		Label:          objectiveLabel(q, o),
		Status:         string(q.Status),
		Category:       q.Category,
		State:          string(o.State),
	}
}
