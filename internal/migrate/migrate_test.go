package migrate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmcnew/migrate-chests/internal/migrate/merge"
	"github.com/gmcnew/migrate-chests/internal/migrate/signs"
	"github.com/gmcnew/migrate-chests/internal/persistence/indexdb"
	"github.com/gmcnew/migrate-chests/internal/persistence/staging"
	"github.com/gmcnew/migrate-chests/internal/world/store"
)

type recordingLedger struct{ runs []indexdb.Run }

func (l *recordingLedger) RecordRun(_ context.Context, r indexdb.Run) (string, error) {
	l.runs = append(l.runs, r)
	return "run-1", nil
}

func chest(x, y, z int, items ...store.Item) store.TileEntity {
	return store.TileEntity{ID: store.KindChest, Pos: store.Vec3i{X: x, Y: y, Z: z}, Items: items}
}

func sign(x, y, z int, lines ...string) store.TileEntity {
	e := store.TileEntity{ID: store.KindSign, Pos: store.Vec3i{X: x, Y: y, Z: z}}
	copy(e.Text[:], lines)
	return e
}

func saveWorld(t *testing.T, path string, chunks map[store.ChunkKey][]store.TileEntity) {
	t.Helper()
	l := store.NewLevel(filepath.Base(path))
	for k, ents := range chunks {
		l.Put(k, ents)
	}
	require.NoError(t, l.SaveAs(path))
}

func loadEntities(t *testing.T, path string, k store.ChunkKey) []*store.TileEntity {
	t.Helper()
	l, err := store.Open(path)
	require.NoError(t, err)
	recs, err := l.Records(k)
	require.NoError(t, err)
	return recs
}

func newMigrator(dir string, ledger Ledger) *Migrator {
	opts := Options{StagingPath: filepath.Join(dir, "raw_items.stage")}
	if ledger != nil {
		opts.Ledger = ledger
	}
	return New(opts)
}

func TestCopyThenMerge_TownMine(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := filepath.Join(dir, "old.world")
	dst := filepath.Join(dir, "new.world")
	k := store.ChunkKey{}

	saveWorld(t, src, map[store.ChunkKey][]store.TileEntity{
		k: {
			chest(1, 64, 1,
				store.Item{ID: 1, Count: 64, Slot: 0},
				store.Item{ID: merge.ItemStoneSlab, Damage: merge.DamageStoneWoodSlab, Count: 10, Slot: 1},
				store.Item{ID: merge.ItemLeaves, Damage: 6, Count: 3, Slot: 2},
			),
			sign(2, 64, 1, "town:mine"),
		},
	})
	saveWorld(t, dst, map[store.ChunkKey][]store.TileEntity{
		k: {chest(5, 70, 5), sign(5, 71, 6, "Town:Mine", "", "", "")},
	})

	ledger := &recordingLedger{}
	m := newMigrator(dir, ledger)

	crep, err := m.CopyFrom(ctx, []string{src})
	require.NoError(t, err)
	require.Len(t, crep.Worlds, 1)
	assert.Equal(t, 1, crep.Worlds[0].Matched)
	assert.Equal(t, 0, crep.Worlds[0].Orphaned)
	assert.Equal(t, 1, crep.Labels)
	assert.Equal(t, 3, crep.Items)

	rem, err := m.Remaining()
	require.NoError(t, err)
	assert.Equal(t, RemainingReport{Labels: []LabelCount{{Label: "town:mine", Items: 3}}, Total: 3}, rem)

	mrep, err := m.MergeInto(ctx, dst)
	require.NoError(t, err)
	assert.True(t, mrep.Saved)
	assert.Equal(t, 3, mrep.Migrated)
	assert.Equal(t, 0, mrep.Remaining)
	require.Len(t, mrep.Labels, 1)
	assert.True(t, mrep.Labels[0].Completed)

	rem, err = m.Remaining()
	require.NoError(t, err)
	assert.Equal(t, RemainingReport{Labels: []LabelCount{{Label: "town:mine", Items: 0}}, Total: 0}, rem)

	recs := loadEntities(t, dst, k)
	require.Len(t, recs, 2)
	assert.Equal(t, []store.Item{
		{ID: merge.ItemLeaves, Damage: 2, Count: 3, Slot: 0},
		{ID: merge.ItemWoodSlab, Damage: 0, Count: 10, Slot: 1},
		{ID: 1, Count: 64, Slot: 2},
	}, recs[0].Items)
	assert.Equal(t, [store.SignLines]string{"Town:Mine", signs.MigratedText, "", ""}, recs[1].Text)

	require.Len(t, ledger.runs, 2)
	assert.Equal(t, indexdb.ModeCopy, ledger.runs[0].Mode)
	assert.Equal(t, indexdb.ModeMerge, ledger.runs[1].Mode)
	assert.Equal(t, 3, ledger.runs[1].Migrated)
}

func TestCopyFrom_RefusesExistingStagingFile(t *testing.T) {
	dir := t.TempDir()
	m := newMigrator(dir, nil)
	require.NoError(t, staging.Save(m.StagingPath(), staging.Pool{}))

	_, err := m.CopyFrom(context.Background(), []string{filepath.Join(dir, "never-opened.world")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStagingFileExists))
}

func TestMergeAndRemaining_RequireStagingFile(t *testing.T) {
	dir := t.TempDir()
	m := newMigrator(dir, nil)

	_, err := m.MergeInto(context.Background(), filepath.Join(dir, "x.world"))
	assert.True(t, errors.Is(err, ErrStagingFileMissing))

	_, err = m.Remaining()
	assert.True(t, errors.Is(err, ErrStagingFileMissing))
}

func TestCopyFrom_OrphansAndEmptyLabelsAreLeftOut(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "old.world")
	saveWorld(t, src, map[store.ChunkKey][]store.TileEntity{
		{CX: 0}: {
			chest(0, 0, 0, store.Item{ID: 3, Count: 1, Slot: 0}),
			chest(100, 0, 0, store.Item{ID: 4, Count: 1, Slot: 0}),
			chest(0, 0, 40),
			sign(1, 0, 0, "a:full"),
			sign(0, 0, 41, "b:empty"),
		},
	})
	m := newMigrator(dir, nil)
	rep, err := m.CopyFrom(context.Background(), []string{src})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Worlds[0].Matched)
	assert.Equal(t, 1, rep.Worlds[0].Orphaned)

	pool, err := staging.Load(m.StagingPath())
	require.NoError(t, err)
	assert.Equal(t, []string{"a:full"}, pool.Labels())
}

func TestCopyFrom_AccumulatesAcrossWorldsInSlotOrder(t *testing.T) {
	dir := t.TempDir()
	w1 := filepath.Join(dir, "w1.world")
	w2 := filepath.Join(dir, "w2.world")
	saveWorld(t, w1, map[store.ChunkKey][]store.TileEntity{
		{}: {chest(0, 0, 0, store.Item{ID: 2, Slot: 5}, store.Item{ID: 1, Slot: 1}), sign(0, 1, 0, "shared:label")},
	})
	saveWorld(t, w2, map[store.ChunkKey][]store.TileEntity{
		{}: {chest(9, 9, 9, store.Item{ID: 3, Slot: 0}), sign(9, 10, 9, "shared:label")},
	})

	m := newMigrator(dir, nil)
	rep, err := m.CopyFrom(context.Background(), []string{w1, w2})
	require.NoError(t, err)
	require.Len(t, rep.Worlds, 2)

	pool, err := staging.Load(m.StagingPath())
	require.NoError(t, err)
	assert.Equal(t, []store.Item{{ID: 1, Slot: 1}, {ID: 2, Slot: 5}, {ID: 3, Slot: 0}}, pool["shared:label"])
}

func TestMergeInto_PartialLeavesSignsAndPersistsLeftovers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dst := filepath.Join(dir, "new.world")
	k := store.ChunkKey{}

	var full []store.Item
	for s := 0; s < merge.SlotCount-2; s++ {
		full = append(full, store.Item{ID: 1, Count: 1, Slot: s})
	}
	saveWorld(t, dst, map[store.ChunkKey][]store.TileEntity{
		k: {chest(0, 0, 0, full...), sign(1, 0, 0, "town:mine")},
	})

	m := newMigrator(dir, nil)
	staged := []store.Item{{ID: 10}, {ID: 11}, {ID: 12}, {ID: 13}}
	require.NoError(t, staging.Save(m.StagingPath(), staging.Pool{"town:mine": staged, "other:label": {{ID: 99}}}))

	rep, err := m.MergeInto(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Migrated)
	assert.Equal(t, 3, rep.Remaining)
	assert.True(t, rep.Saved)

	pool, err := staging.Load(m.StagingPath())
	require.NoError(t, err)
	assert.Equal(t, []store.Item{{ID: 10}, {ID: 11}}, pool["town:mine"])
	assert.Equal(t, []store.Item{{ID: 99}}, pool["other:label"])

	recs := loadEntities(t, dst, k)
	assert.Equal(t, "", recs[1].Text[1])
	assert.Len(t, recs[0].Items, merge.SlotCount)
}

func TestMergeInto_NothingMigratedSavesNothing(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dst := filepath.Join(dir, "new.world")
	saveWorld(t, dst, map[store.ChunkKey][]store.TileEntity{
		{}: {chest(0, 0, 0), sign(1, 0, 0, "unrelated:label")},
	})

	m := newMigrator(dir, nil)
	require.NoError(t, staging.Save(m.StagingPath(), staging.Pool{"town:mine": {{ID: 1}}}))
	before, err := staging.Load(m.StagingPath())
	require.NoError(t, err)

	rep, err := m.MergeInto(ctx, dst)
	require.NoError(t, err)
	assert.False(t, rep.Saved)
	assert.Zero(t, rep.Migrated)
	assert.Equal(t, 1, rep.Remaining)

	after, err := staging.Load(m.StagingPath())
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, loadEntities(t, dst, store.ChunkKey{})[0].Items)
}

func TestRoundTrip_UnlimitedCapacityMovesEverything(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := filepath.Join(dir, "old.world")
	dst := filepath.Join(dir, "new.world")

	labels := []string{"farm:wheat", "farm:carrot", "mine:iron"}
	srcChunks := map[store.ChunkKey][]store.TileEntity{}
	dstChunks := map[store.ChunkKey][]store.TileEntity{}
	staged := 0
	for i, label := range labels {
		k := store.ChunkKey{CX: i * 4}
		base := i * 64 * 4
		var ents []store.TileEntity
		for c := 0; c < 2; c++ {
			var its []store.Item
			for s := 0; s < 10+c*7; s++ {
				its = append(its, store.Item{ID: 1 + s, Count: 1 + c, Slot: s})
			}
			staged += len(its)
			ents = append(ents, chest(base+c, 0, 0, its...))
		}
		srcChunks[k] = append(ents, sign(base, 1, 0, label))

		// Enough empty destination chests for everything.
		var dents []store.TileEntity
		for c := 0; c < 3; c++ {
			dents = append(dents, chest(base+c, 5, 0))
		}
		dstChunks[k] = append(dents, sign(base, 6, 0, label))
	}
	saveWorld(t, src, srcChunks)
	saveWorld(t, dst, dstChunks)

	m := newMigrator(dir, nil)
	crep, err := m.CopyFrom(ctx, []string{src})
	require.NoError(t, err)
	assert.Equal(t, staged, crep.Items)

	mrep, err := m.MergeInto(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, staged, mrep.Migrated)
	assert.Zero(t, mrep.Remaining)
	for _, lr := range mrep.Labels {
		assert.True(t, lr.Completed, lr.Label)
		assert.Equal(t, 1, lr.SignsMarked, lr.Label)
	}

	// A second merge has nothing left to move.
	again, err := m.MergeInto(ctx, dst)
	require.NoError(t, err)
	assert.Zero(t, again.Migrated)
	assert.False(t, again.Saved)
}

func TestMergeInto_BacksUpBeforeWriting(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dst := filepath.Join(dir, "new.world")
	saveWorld(t, dst, map[store.ChunkKey][]store.TileEntity{
		{}: {chest(0, 0, 0), sign(1, 0, 0, "town:mine")},
	})
	original, err := os.ReadFile(dst)
	require.NoError(t, err)

	m := New(Options{StagingPath: filepath.Join(dir, "raw_items.stage"), BackupDir: filepath.Join(dir, "backups")})
	require.NoError(t, staging.Save(m.StagingPath(), staging.Pool{"town:mine": {{ID: 1}}}))

	rep, err := m.MergeInto(ctx, dst)
	require.NoError(t, err)
	require.True(t, rep.Saved)
	require.NotEmpty(t, rep.Backup)

	backedUp, err := os.ReadFile(filepath.Join(rep.Backup, "new.world"))
	require.NoError(t, err)
	assert.Equal(t, original, backedUp)

	old, err := staging.Load(filepath.Join(rep.Backup, "raw_items.stage"))
	require.NoError(t, err)
	assert.Len(t, old["town:mine"], 1)
}

type failingLedger struct{}

func (failingLedger) RecordRun(context.Context, indexdb.Run) (string, error) {
	return "", errors.New("disk full")
}

func TestLedgerFailureDoesNotFailRun(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "old.world")
	saveWorld(t, src, map[store.ChunkKey][]store.TileEntity{
		{}: {chest(0, 0, 0, store.Item{ID: 1, Count: 1}), sign(1, 0, 0, "a:b")},
	})
	m := New(Options{StagingPath: filepath.Join(dir, "raw_items.stage"), Ledger: failingLedger{}})
	rep, err := m.CopyFrom(context.Background(), []string{src})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Items)
}

func TestCopyFrom_WithSQLiteLedger(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := filepath.Join(dir, "old.world")
	saveWorld(t, src, map[store.ChunkKey][]store.TileEntity{
		{}: {chest(0, 0, 0, store.Item{ID: 1, Count: 1}), chest(50, 0, 0), sign(1, 0, 0, "a:b")},
	})
	ledger, err := indexdb.OpenSQLite(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	defer ledger.Close()

	m := New(Options{StagingPath: filepath.Join(dir, "raw_items.stage"), Ledger: ledger})
	_, err = m.CopyFrom(ctx, []string{src})
	require.NoError(t, err)

	runs, err := ledger.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, indexdb.ModeCopy, runs[0].Mode)
	assert.Equal(t, []string{src}, runs[0].Worlds)
	assert.Equal(t, 2, runs[0].Containers)
	assert.Equal(t, 1, runs[0].Matched)
	assert.Equal(t, 1, runs[0].Orphaned)
	assert.Equal(t, 1, runs[0].Remaining)
}

func TestMergeInto_ContainerBetweenTwoLabelsIsShared(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dst := filepath.Join(dir, "new.world")
	k := store.ChunkKey{}
	saveWorld(t, dst, map[store.ChunkKey][]store.TileEntity{
		k: {chest(0, 0, 0), sign(-3, 0, 0, "a:one"), sign(3, 0, 0, "b:two")},
	})

	var one, two []store.Item
	for i := 0; i < 20; i++ {
		one = append(one, store.Item{ID: 1, Count: 1, Slot: i})
	}
	for i := 0; i < 10; i++ {
		two = append(two, store.Item{ID: 2, Count: 1, Slot: i})
	}
	m := newMigrator(dir, nil)
	require.NoError(t, staging.Save(m.StagingPath(), staging.Pool{"a:one": one, "b:two": two}))

	rep, err := m.MergeInto(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Containers)
	assert.Equal(t, 1, rep.Matched)
	assert.Equal(t, 27, rep.Migrated)
	assert.Equal(t, 3, rep.Remaining)
	require.Len(t, rep.Labels, 2)
	assert.Equal(t, merge.LabelResult{Label: "a:one", Migrated: 20, Completed: true, SignsMarked: 1}, rep.Labels[0])
	assert.Equal(t, merge.LabelResult{Label: "b:two", Migrated: 7, Remaining: 3}, rep.Labels[1])

	recs := loadEntities(t, dst, k)
	assert.Len(t, recs[0].Items, merge.SlotCount)
	assert.Equal(t, signs.MigratedText, recs[1].Text[1])
	assert.Equal(t, "", recs[2].Text[1])

	pool, err := staging.Load(m.StagingPath())
	require.NoError(t, err)
	assert.Empty(t, pool["a:one"])
	assert.Len(t, pool["b:two"], 3)
}
