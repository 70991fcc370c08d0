package migration_test

import (
	"context"
	"testing"

	"questlog/migration"
	"questlog/ownership"
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
	mig   *migration.Service
	quest *store.Document
	scene *store.Document
}

const migQuestContent = `Tasks:
- Cross the bridge
- *Find the toll keeper's ledger*
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
	mig := migration.NewService(docs, quests, cap, staticDirectory{{ID: "player"}, {ID: "gm", GM: true}}, "questlog", logger)

	q, err := docs.CreateQuest(ctx, "The Toll Bridge", migQuestContent)
	require.NoError(t, err)
	sc, err := docs.CreateScene(ctx, "Bridge")
	require.NoError(t, err)
	return &fixture{docs: docs, pins: pins, mig: mig, quest: q, scene: sc}
}

func (f *fixture) setLegacy(t *testing.T, legacy []migration.LegacyPin) {
	t.Helper()
	require.NoError(t, f.docs.SetFlag(context.Background(), store.DocScene, f.scene.ID, store.FlagLegacyPins, legacy))
}

func intp(i int) *int { return &i }

func TestMigrateScene(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.setLegacy(t, []migration.LegacyPin{
		{PinID: "legacy-quest", QuestID: f.quest.ID, X: 10, Y: 20, QuestIndex: 1},
		{PinID: "legacy-obj", QuestID: f.quest.ID, ObjectiveIndex: intp(1), X: 30, Y: 40, QuestIndex: 1},
	})

	res, err := f.mig.MigrateScene(ctx, f.scene.ID)
	require.NoError(t, err)
	assert.Equal(t, migration.Result{Migrated: 2}, res)

	got, err := f.pins.List(ctx, store.PinFilter{SceneID: f.scene.ID})
	require.NoError(t, err)
	require.Len(t, got, 2)

	byID := map[string]store.Pin{}
	for _, p := range got {
		byID[p.ID] = p
	}
	// Identity and coordinates are preserved.
	qp, ok := byID["legacy-quest"]
	require.True(t, ok)
	assert.Equal(t, store.PinTypeQuest, qp.Type)
	assert.Equal(t, 10.0, qp.Placement.X)
	assert.Equal(t, "1. The Toll Bridge", qp.Config.Label)

	// The objective's current (hidden) state wins over the legacy copy.
	op, ok := byID["legacy-obj"]
	require.True(t, ok)
	assert.Equal(t, store.PinTypeObjective, op.Type)
	assert.Equal(t, "hidden", op.Config.State)
	assert.Equal(t, ownership.LevelNone, op.Ownership["player"])
	assert.Equal(t, ownership.LevelOwner, op.Ownership["gm"])

	// Linkage points at the migrated pins.
	l, err := f.docs.Linkage(ctx, f.quest.ID)
	require.NoError(t, err)
	assert.Equal(t, "legacy-quest", l.PinID)
	assert.Equal(t, "legacy-obj", l.ObjectivePins[1].PinID)

	// Legacy data stays for manual rollback.
	var legacy []migration.LegacyPin
	require.NoError(t, f.docs.GetFlag(ctx, store.DocScene, f.scene.ID, store.FlagLegacyPins, &legacy))
	assert.Len(t, legacy, 2)
}

func TestMigrateScene_Idempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.setLegacy(t, []migration.LegacyPin{
		{PinID: "legacy-quest", QuestID: f.quest.ID, X: 1, Y: 2, QuestIndex: 1},
	})

	first, err := f.mig.MigrateScene(ctx, f.scene.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Migrated)

	second, err := f.mig.MigrateScene(ctx, f.scene.ID)
	require.NoError(t, err)
	assert.Equal(t, migration.Result{}, second)

	got, err := f.pins.List(ctx, store.PinFilter{SceneID: f.scene.ID})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMigrateScene_LostMarkerDoesNotDuplicate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.setLegacy(t, []migration.LegacyPin{
		{PinID: "legacy-quest", QuestID: f.quest.ID, X: 1, Y: 2, QuestIndex: 1},
	})

	_, err := f.mig.MigrateScene(ctx, f.scene.ID)
	require.NoError(t, err)
	require.NoError(t, f.docs.UnsetFlag(ctx, store.DocScene, f.scene.ID, store.FlagPinsMigrated))

	res, err := f.mig.MigrateScene(ctx, f.scene.ID)
	require.NoError(t, err)
	assert.Equal(t, migration.Result{Skipped: 1}, res)

	got, err := f.pins.List(ctx, store.PinFilter{SceneID: f.scene.ID})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMigrateScene_SkipsAndErrors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.setLegacy(t, []migration.LegacyPin{
		{PinID: "gone-quest", QuestID: "deleted-quest", X: 1, Y: 2},
		{PinID: "", QuestID: f.quest.ID, X: 1, Y: 2},
		{PinID: "gone-objective", QuestID: f.quest.ID, ObjectiveIndex: intp(9), X: 1, Y: 2},
	})

	res, err := f.mig.MigrateScene(ctx, f.scene.ID)
	require.NoError(t, err)
	assert.Equal(t, migration.Result{Skipped: 2, Errors: 1}, res)

	// The marker is set even though records failed.
	var done bool
	require.NoError(t, f.docs.GetFlag(ctx, store.DocScene, f.scene.ID, store.FlagPinsMigrated, &done))
	assert.True(t, done)
}

func TestMigrateScene_EmptyLegacyMarksComplete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.mig.MigrateScene(ctx, f.scene.ID)
	require.NoError(t, err)
	assert.Equal(t, migration.Result{}, res)

	var done bool
	require.NoError(t, f.docs.GetFlag(ctx, store.DocScene, f.scene.ID, store.FlagPinsMigrated, &done))
	assert.True(t, done)
}

func TestMigrateAll(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	other, err := f.docs.CreateScene(ctx, "Town")
	require.NoError(t, err)
	f.setLegacy(t, []migration.LegacyPin{
		{PinID: "legacy-quest", QuestID: f.quest.ID, X: 1, Y: 2, QuestIndex: 1},
	})
	require.NoError(t, f.docs.SetFlag(ctx, store.DocScene, other.ID, store.FlagLegacyPins, []migration.LegacyPin{
		{PinID: "town-pin", QuestID: f.quest.ID, X: 3, Y: 4, QuestIndex: 1},
	}))

	res, err := f.mig.MigrateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, migration.Result{Migrated: 2}, res)
}

func TestMigrate_UnavailableStoreLeavesMarkerUnset(t *testing.T) {
	logger := testutil.Logger(t)
	docs := store.NewGormDocumentStore(testutil.SetupTestDB(t), logger)
	cap := store.ProbeCapability(context.Background(), nil, logger)
	quests := quest.NewService(docs, logger)
	mig := migration.NewService(docs, quests, cap, staticDirectory{}, "questlog", logger)
	ctx := context.Background()

	sc, err := docs.CreateScene(ctx, "Bridge")
	require.NoError(t, err)

	res, err := mig.MigrateScene(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, migration.Result{}, res)

	var done bool
	err = docs.GetFlag(ctx, store.DocScene, sc.ID, store.FlagPinsMigrated, &done)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
