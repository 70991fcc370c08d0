package pinsync_test

import (
	"context"
	"testing"

	"questlog/ownership"
	"questlog/pinsync"
	"questlog/quest"
	"questlog/store"
	"questlog/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticDirectory []ownership.User

func (d staticDirectory) Users(ctx context.Context) ([]ownership.User, error) {
	return d, nil
}

type fixture struct {
	docs  store.DocumentStore
	pins  store.PinStore
	sync  *pinsync.Service
	quest *store.Document
}

const pinQuestContent = `Category: Side

Tasks:
- Find the key
- *Open the vault*
`

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	logger := testutil.Logger(t)

	docs := store.NewGormDocumentStore(db, logger)
	pins := store.NewGormPinStore(db, nil, c, logger)
	cap := store.ProbeCapability(ctx, pins, logger)
	quests := quest.NewService(docs, logger)
	dir := staticDirectory{{ID: "player"}, {ID: "gm", GM: true}}
	svc := pinsync.NewService(docs, quests, cap, dir, "questlog", logger)

	doc, err := docs.CreateQuest(ctx, "The Vault", pinQuestContent)
	require.NoError(t, err)
	return &fixture{docs: docs, pins: pins, sync: svc, quest: doc}
}

func TestCreateQuestPin(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	pin, err := f.sync.CreateQuestPin(ctx, f.quest.ID, &store.Placement{SceneID: "scene-1", X: 3, Y: 4})
	require.NoError(t, err)
	require.NotNil(t, pin)

	assert.Equal(t, store.PinTypeQuest, pin.Type)
	assert.Equal(t, "questlog", pin.OwnerTag)
	assert.Equal(t, "1. The Vault", pin.Config.Label)
	assert.Equal(t, "NotStarted", pin.Config.Status)
	assert.Equal(t, ownership.LevelObserver, pin.Ownership[ownership.DefaultKey])
	assert.Equal(t, ownership.LevelOwner, pin.Ownership["gm"])

	l, err := f.docs.Linkage(ctx, f.quest.ID)
	require.NoError(t, err)
	assert.Equal(t, pin.ID, l.PinID)
	assert.Equal(t, "scene-1", l.SceneID)
}

func TestCreateQuestPin_UnplacedWithoutPlacement(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	pin, err := f.sync.CreateQuestPin(ctx, f.quest.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, pin)
	assert.Nil(t, pin.Placement)

	l, err := f.docs.Linkage(ctx, f.quest.ID)
	require.NoError(t, err)
	assert.Equal(t, pin.ID, l.PinID)
	assert.Empty(t, l.SceneID)
}

// A hidden objective masks its own pin while the quest pin stays
// observable.
func TestHiddenObjectiveOwnership(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	questPin, err := f.sync.CreateQuestPin(ctx, f.quest.ID, nil)
	require.NoError(t, err)
	hiddenPin, err := f.sync.CreateObjectivePin(ctx, f.quest.ID, 1, nil)
	require.NoError(t, err)

	assert.Equal(t, ownership.LevelObserver, questPin.Ownership["player"])
	assert.Equal(t, ownership.LevelNone, hiddenPin.Ownership["player"])
	assert.Equal(t, ownership.LevelOwner, hiddenPin.Ownership["gm"])
}

func TestCreateObjectivePin_IndexOutOfRange(t *testing.T) {
	f := setup(t)
	_, err := f.sync.CreateObjectivePin(context.Background(), f.quest.ID, 7, nil)
	assert.Error(t, err)
}

func TestDeletePins_ClearsLinkage(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.sync.CreateQuestPin(ctx, f.quest.ID, &store.Placement{SceneID: "scene-1"})
	require.NoError(t, err)
	_, err = f.sync.CreateObjectivePin(ctx, f.quest.ID, 0, &store.Placement{SceneID: "scene-1"})
	require.NoError(t, err)

	res, err := f.sync.DeletePins(ctx, f.quest.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Zero(t, res.Failed)

	l, err := f.docs.Linkage(ctx, f.quest.ID)
	require.NoError(t, err)
	assert.Empty(t, l.PinID)
	assert.Empty(t, l.ObjectivePins)

	got, err := f.pins.List(ctx, store.PinFilter{OwnerTag: "questlog", IncludeUnplaced: true})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDeletePins_SceneScoped(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.sync.CreateQuestPin(ctx, f.quest.ID, &store.Placement{SceneID: "scene-1"})
	require.NoError(t, err)
	objPin, err := f.sync.CreateObjectivePin(ctx, f.quest.ID, 0, &store.Placement{SceneID: "scene-2"})
	require.NoError(t, err)

	_, err = f.sync.DeletePins(ctx, f.quest.ID, "scene-1")
	require.NoError(t, err)

	l, err := f.docs.Linkage(ctx, f.quest.ID)
	require.NoError(t, err)
	assert.Empty(t, l.PinID)
	require.Contains(t, l.ObjectivePins, 0)
	assert.Equal(t, objPin.ID, l.ObjectivePins[0].PinID)
}

func TestUnplace_KeepsLinkageID(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	pin, err := f.sync.CreateQuestPin(ctx, f.quest.ID, &store.Placement{SceneID: "scene-1"})
	require.NoError(t, err)
	require.NoError(t, f.sync.Unplace(ctx, f.quest.ID, nil))

	l, err := f.docs.Linkage(ctx, f.quest.ID)
	require.NoError(t, err)
	assert.Equal(t, pin.ID, l.PinID)
	assert.Empty(t, l.SceneID)

	got, err := f.pins.List(ctx, store.PinFilter{IncludeUnplaced: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Placement)
}

func TestUpdateVisibility_PushesOwnership(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	pin, err := f.sync.CreateQuestPin(ctx, f.quest.ID, &store.Placement{SceneID: "scene-1"})
	require.NoError(t, err)

	require.NoError(t, f.docs.SetFlag(ctx, store.DocQuest, f.quest.ID, store.FlagVisible, false))
	res, err := f.sync.UpdateVisibility(ctx, f.quest.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	got, err := f.pins.List(ctx, store.PinFilter{SceneID: "scene-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pin.ID, got[0].ID)
	assert.Equal(t, ownership.LevelNone, got[0].Ownership["player"])
	assert.Equal(t, ownership.LevelOwner, got[0].Ownership["gm"])
}

func TestUpdateVisibility_SceneScoped(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.sync.CreateQuestPin(ctx, f.quest.ID, &store.Placement{SceneID: "scene-1"})
	require.NoError(t, err)
	_, err = f.sync.CreateObjectivePin(ctx, f.quest.ID, 0, &store.Placement{SceneID: "scene-2"})
	require.NoError(t, err)

	require.NoError(t, f.docs.SetFlag(ctx, store.DocQuest, f.quest.ID, store.FlagVisible, false))
	res, err := f.sync.UpdateVisibility(ctx, f.quest.ID, "scene-2")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	// The quest pin on scene-1 keeps its old ownership.
	got, err := f.pins.List(ctx, store.PinFilter{SceneID: "scene-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ownership.LevelObserver, got[0].Ownership[ownership.DefaultKey])

	got, err = f.pins.List(ctx, store.PinFilter{SceneID: "scene-2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ownership.LevelNone, got[0].Ownership["player"])
}

func TestUpdateStyles_NeverCreates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// No pins yet: nothing to patch, nothing created.
	res, err := f.sync.UpdateStyles(ctx, f.quest.ID)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)

	got, err := f.pins.List(ctx, store.PinFilter{IncludeUnplaced: true})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGlobalVisibility(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	visible, err := f.sync.GetGlobalVisibility(ctx, "player")
	require.NoError(t, err)
	assert.True(t, visible)

	require.NoError(t, f.sync.SetGlobalVisibility(ctx, "player", false))
	visible, err = f.sync.GetGlobalVisibility(ctx, "player")
	require.NoError(t, err)
	assert.False(t, visible)
}

func TestUnavailableStore_NoOps(t *testing.T) {
	ctx := context.Background()
	logger := testutil.Logger(t)
	docs := store.NewGormDocumentStore(testutil.SetupTestDB(t), logger)
	cap := store.ProbeCapability(ctx, nil, logger)
	quests := quest.NewService(docs, logger)
	svc := pinsync.NewService(docs, quests, cap, staticDirectory{}, "questlog", logger)

	doc, err := docs.CreateQuest(ctx, "Q", pinQuestContent)
	require.NoError(t, err)

	pin, err := svc.CreateQuestPin(ctx, doc.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, pin)

	visible, err := svc.GetGlobalVisibility(ctx, "player")
	require.NoError(t, err)
	assert.False(t, visible)
}
