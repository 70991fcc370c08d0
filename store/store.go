package store

import (
	"context"
	"errors"

	"questlog/ownership"
)

var (
	// ErrNotFound is returned when a referenced document or pin does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrPermissionDenied is returned when the caller's ownership level
	// does not permit the action. Surfaced to the user, never retried.
	ErrPermissionDenied = errors.New("store: permission denied")
)

// DocKind selects which document table a flag operation targets.
type DocKind string

const (
	DocQuest DocKind = "quest"
	DocScene DocKind = "scene"
)

// Flag keys written into a document's namespaced annotation map.
const (
	FlagPinID            = "pinId"
	FlagSceneID          = "sceneId"
	FlagObjectivePins    = "objectivePins"
	FlagVisible          = "visible"
	FlagOriginalCategory = "originalCategory"

	// Scene flags used by the legacy migration.
	FlagLegacyPins   = "questPins"
	FlagPinsMigrated = "pinsMigrated"
)

// Document is the stored view of a quest or scene entry.
type Document struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Index   int    `json:"index,omitempty"` // stable numeric tag (quests only)
	Content string `json:"content,omitempty"`
}

// ObjectiveLink ties one objective index to its pin.
type ObjectiveLink struct {
	PinID   string `json:"pinId"`
	SceneID string `json:"sceneId,omitempty"`
}

// Linkage is the join between a quest's identity and its pins, stored as
// flags on the quest document. It can drift from pin-store reality and is
// what reconciliation repairs.
type Linkage struct {
	PinID         string                `json:"pinId,omitempty"`
	SceneID       string                `json:"sceneId,omitempty"`
	ObjectivePins map[int]ObjectiveLink `json:"objectivePins,omitempty"`
}

// DocumentStore owns quest and scene documents: text content plus a
// namespaced flag map per document. Writes are last-write-wins per
// document; callers issue operations for a single quest sequentially.
type DocumentStore interface {
	CreateQuest(ctx context.Context, name, content string) (*Document, error)
	GetQuest(ctx context.Context, id string) (*Document, error)
	ListQuests(ctx context.Context) ([]Document, error)
	UpdateContent(ctx context.Context, id, content string) error

	CreateScene(ctx context.Context, name string) (*Document, error)
	GetScene(ctx context.Context, id string) (*Document, error)
	ListScenes(ctx context.Context) ([]Document, error)

	// GetFlag unmarshals the flag value into out; ErrNotFound if unset.
	GetFlag(ctx context.Context, kind DocKind, id, key string, out interface{}) error
	SetFlag(ctx context.Context, kind DocKind, id, key string, value interface{}) error
	UnsetFlag(ctx context.Context, kind DocKind, id, key string) error

	// Linkage reads the pin linkage flags as one unit; a quest with no
	// linkage yet yields a zero-value Linkage, not an error.
	Linkage(ctx context.Context, questID string) (*Linkage, error)
	SetLinkage(ctx context.Context, questID string, l *Linkage) error
}

// PinType distinguishes quest-level pins from per-objective pins.
type PinType string

const (
	PinTypeQuest     PinType = "quest"
	PinTypeObjective PinType = "objective"
)

// Placement attaches a pin to coordinates on a scene. A pin without a
// placement is "unplaced" but still exists.
type Placement struct {
	SceneID string  `json:"sceneId"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

// PinStyle is the visual appearance pushed with a pin.
type PinStyle struct {
	Fill   string `json:"fill"`
	Stroke string `json:"stroke"`
	Size   int    `json:"size"`
	Shape  string `json:"shape"`
}

// PinConfig carries back-references to the quest/objective plus
// denormalized display fields so renderers need no second lookup.
type PinConfig struct {
	QuestID        string `json:"questId"`
	ObjectiveIndex *int   `json:"objectiveIndex,omitempty"`
	Label          string `json:"label,omitempty"`
	Status         string `json:"status,omitempty"`
	Category       string `json:"category,omitempty"`
	State          string `json:"state,omitempty"`
}

// Pin is a spatial annotation record.
type Pin struct {
	ID        string        `json:"id"`
	OwnerTag  string        `json:"ownerTag"`
	Type      PinType       `json:"type"`
	Placement *Placement    `json:"placement,omitempty"`
	Style     PinStyle      `json:"style"`
	Ownership ownership.Map `json:"ownership"`
	Config    PinConfig     `json:"config"`
}

// PinPatch updates individual pin attributes; nil fields are left as-is.
type PinPatch struct {
	Style     *PinStyle     `json:"style,omitempty"`
	Ownership ownership.Map `json:"ownership,omitempty"`
	Config    *PinConfig    `json:"config,omitempty"`
}

// PinFilter selects pins for List. SceneID "" means all scenes.
type PinFilter struct {
	OwnerTag        string
	SceneID         string
	IncludeUnplaced bool
}

// EventKind identifies a pin lifecycle event.
type EventKind string

const (
	EventCreated    EventKind = "created"
	EventUpdated    EventKind = "updated"
	EventDeleted    EventKind = "deleted"
	EventPlaced     EventKind = "placed"
	EventUnplaced   EventKind = "unplaced"
	EventDeletedAll EventKind = "deletedAll"
)

// PinEvent is published through the hook center on every mutation, so
// reconciliation can react to changes made by any agent.
type PinEvent struct {
	Kind     EventKind `json:"kind"`
	PinID    string    `json:"pinId,omitempty"`
	OwnerTag string    `json:"ownerTag"`
	SceneID  string    `json:"sceneId,omitempty"`
}

// PinStore is the external annotation service. It may be mutated by
// other agents at any time: nothing here is authoritative for quest
// state, only for pin placement/existence.
type PinStore interface {
	Create(ctx context.Context, pin Pin) (*Pin, error)
	Update(ctx context.Context, id string, patch PinPatch) error
	// Delete removes a pin. A non-empty sceneScope deletes the record
	// only if it is currently placed on that scene.
	Delete(ctx context.Context, id string, sceneScope string) error
	// DeleteAll wipes every pin carrying ownerTag, optionally limited
	// to one scene, and reports how many records went. Emits a single
	// deletedAll event instead of one event per pin.
	DeleteAll(ctx context.Context, ownerTag string, sceneScope string) (int, error)
	Place(ctx context.Context, id string, p Placement) error
	// Unplace removes placement but preserves the record and its config,
	// so the pin can be re-placed later without losing identity.
	Unplace(ctx context.Context, id string) error
	List(ctx context.Context, f PinFilter) ([]Pin, error)
	Exists(ctx context.Context, id string) (bool, error)

	// Per-user, all-pins show/hide switch; independent of ownership.
	SetModuleVisibility(ctx context.Context, userID string, visible bool) error
	GetModuleVisibility(ctx context.Context, userID string) (bool, error)
}
