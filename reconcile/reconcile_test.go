package reconcile_test

import (
	"context"
	"testing"

	"questlog/ownership"
	"questlog/pinsync"
	"questlog/quest"
	"questlog/reconcile"
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
	docs store.DocumentStore
	pins store.PinStore
	sync *pinsync.Service
	rec  *reconcile.Service
}

const recQuestContent = `Tasks:
- Step one
- Step two
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
	sync := pinsync.NewService(docs, quests, cap, staticDirectory{}, "questlog", logger)
	rec := reconcile.NewService(docs, cap, "questlog", logger)
	return &fixture{docs: docs, pins: pins, sync: sync, rec: rec}
}

// A pin deleted directly in the pin store leaves a dangling id until
// reconciliation clears it.
func TestDriftRepair_ExternalDelete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	doc, err := f.docs.CreateQuest(ctx, "Q", recQuestContent)
	require.NoError(t, err)
	pin, err := f.sync.CreateQuestPin(ctx, doc.ID, &store.Placement{SceneID: "scene-1"})
	require.NoError(t, err)

	require.NoError(t, f.pins.Delete(ctx, pin.ID, ""))

	l, err := f.docs.Linkage(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, pin.ID, l.PinID)

	res, err := f.rec.Reconcile(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Repaired)
	assert.Zero(t, res.Errors)

	l, err = f.docs.Linkage(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, l.PinID)
	assert.Empty(t, l.SceneID)
}

// An external move overwrites the recorded placement with the live one.
func TestDriftRepair_ExternalMove(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	doc, err := f.docs.CreateQuest(ctx, "Q", recQuestContent)
	require.NoError(t, err)
	pin, err := f.sync.CreateQuestPin(ctx, doc.ID, &store.Placement{SceneID: "scene-1"})
	require.NoError(t, err)

	require.NoError(t, f.pins.Place(ctx, pin.ID, store.Placement{SceneID: "scene-2", X: 1, Y: 1}))

	_, err = f.rec.Reconcile(ctx, "")
	require.NoError(t, err)

	l, err := f.docs.Linkage(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, pin.ID, l.PinID)
	assert.Equal(t, "scene-2", l.SceneID)
}

func TestRepair_ForgottenObjectivePin(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	doc, err := f.docs.CreateQuest(ctx, "Q", recQuestContent)
	require.NoError(t, err)
	pin, err := f.sync.CreateObjectivePin(ctx, doc.ID, 1, &store.Placement{SceneID: "scene-1"})
	require.NoError(t, err)

	// Linkage loses the entry (external flag edit).
	require.NoError(t, f.docs.SetLinkage(ctx, doc.ID, &store.Linkage{}))

	_, err = f.rec.Reconcile(ctx, "")
	require.NoError(t, err)

	l, err := f.docs.Linkage(ctx, doc.ID)
	require.NoError(t, err)
	require.Contains(t, l.ObjectivePins, 1)
	assert.Equal(t, pin.ID, l.ObjectivePins[1].PinID)
	assert.Equal(t, "scene-1", l.ObjectivePins[1].SceneID)
}

func TestReconcile_Idempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	doc, err := f.docs.CreateQuest(ctx, "Q", recQuestContent)
	require.NoError(t, err)
	_, err = f.sync.CreateQuestPin(ctx, doc.ID, &store.Placement{SceneID: "scene-1"})
	require.NoError(t, err)
	pin, err := f.sync.CreateObjectivePin(ctx, doc.ID, 0, &store.Placement{SceneID: "scene-1"})
	require.NoError(t, err)
	require.NoError(t, f.pins.Delete(ctx, pin.ID, ""))

	first, err := f.rec.Reconcile(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Repaired)

	afterFirst, err := f.docs.Linkage(ctx, doc.ID)
	require.NoError(t, err)

	second, err := f.rec.Reconcile(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, second.Repaired)

	afterSecond, err := f.docs.Linkage(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, afterFirst, afterSecond)
}

// Scoped reconciliation leaves pins on other scenes untouched.
func TestReconcile_SceneScope(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	doc, err := f.docs.CreateQuest(ctx, "Q", recQuestContent)
	require.NoError(t, err)
	pin, err := f.sync.CreateQuestPin(ctx, doc.ID, &store.Placement{SceneID: "scene-2"})
	require.NoError(t, err)

	res, err := f.rec.Reconcile(ctx, "scene-1")
	require.NoError(t, err)
	assert.Zero(t, res.Repaired)

	l, err := f.docs.Linkage(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, pin.ID, l.PinID)
}

func TestReconcile_UnavailableStore(t *testing.T) {
	logger := testutil.Logger(t)
	docs := store.NewGormDocumentStore(testutil.SetupTestDB(t), logger)
	cap := store.ProbeCapability(context.Background(), nil, logger)
	rec := reconcile.NewService(docs, cap, "questlog", logger)

	res, err := rec.Reconcile(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, res.Quests)
}
