package refs

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/mwantia/vstore/data"
	"github.com/mwantia/vstore/metadata"
	"github.com/mwantia/vstore/metadata/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, paths ...string) (*Engine, *memory.Store, []*metadata.Record) {
	t.Helper()

	store := memory.NewStore()
	records := make([]*metadata.Record, 0, len(paths))
	for _, p := range paths {
		item := data.NewFileItem(p, p, 1, "text/plain", time.Now())
		record := metadata.NewRecord(item, "local")
		require.NoError(t, store.Insert(t.Context(), record))
		records = append(records, record)
	}

	return NewEngine(store), store, records
}

func ids(records []*metadata.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestOrphanedUntilReferenced(t *testing.T) {
	engine, _, records := setup(t, "/report.pdf")
	ctx := t.Context()
	fileID := records[0].ID

	orphaned, err := engine.FindOrphaned(ctx, OrphanFilter{})
	require.NoError(t, err)
	assert.Contains(t, ids(orphaned), fileID)

	ref, err := engine.AddRef(ctx, fileID, Ref{EntityType: "invoice", EntityID: "42"})
	require.NoError(t, err)
	assert.NotEmpty(t, ref.RefID)

	orphaned, err = engine.FindOrphaned(ctx, OrphanFilter{})
	require.NoError(t, err)
	assert.NotContains(t, ids(orphaned), fileID)

	// Removing the last ref makes it orphaned again without a stored status change
	removed, err := engine.RemoveRef(ctx, fileID, ref.RefID)
	require.NoError(t, err)
	assert.True(t, removed)

	refs, err := engine.Refs(ctx, fileID)
	require.NoError(t, err)
	assert.Empty(t, refs)

	orphaned, err = engine.FindOrphaned(ctx, OrphanFilter{})
	require.NoError(t, err)
	require.Len(t, orphaned, 1)
	assert.Equal(t, metadata.StatusActive, orphaned[0].Status)
	assert.Equal(t, metadata.StatusOrphaned, orphaned[0].EffectiveStatus())
}

func TestSoftDeletedIsNeverOrphaned(t *testing.T) {
	engine, _, records := setup(t, "/a.txt", "/b.txt")
	ctx := t.Context()

	deleted, err := engine.SoftDelete(ctx, records[0].ID)
	require.NoError(t, err)
	assert.Equal(t, metadata.StatusSoftDeleted, deleted.Status)
	require.NotNil(t, deleted.DeletedAt)

	orphaned, err := engine.FindOrphaned(ctx, OrphanFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{records[1].ID}, ids(orphaned))

	restored, err := engine.Restore(ctx, records[0].ID)
	require.NoError(t, err)
	assert.Equal(t, metadata.StatusActive, restored.Status)
	assert.Nil(t, restored.DeletedAt)
}

func TestAddRefReactivates(t *testing.T) {
	engine, store, records := setup(t, "/a.txt")
	ctx := t.Context()
	fileID := records[0].ID

	_, err := engine.SoftDelete(ctx, fileID)
	require.NoError(t, err)

	_, err = engine.AddRef(ctx, fileID, Ref{EntityType: "project", EntityID: "p1", Label: "cover"})
	require.NoError(t, err)

	record, err := store.GetByID(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, metadata.StatusActive, record.Status)
	assert.Nil(t, record.DeletedAt)
	assert.Equal(t, "cover", record.FileRefs[0].Label)

	_, err = engine.AddRef(ctx, fileID, Ref{EntityType: "project"})
	assert.ErrorIs(t, err, ErrInvalidRef)

	_, err = engine.AddRef(ctx, "missing", Ref{EntityType: "project", EntityID: "p1"})
	assert.ErrorIs(t, err, metadata.ErrRecordNotFound)
}

func TestRefCountMatchesRefs(t *testing.T) {
	engine, store, records := setup(t, "/a.txt")
	ctx := t.Context()
	fileID := records[0].ID

	rng := rand.New(rand.NewPCG(1, 2))
	refIDs := make([]string, 0)

	for range 200 {
		if len(refIDs) == 0 || rng.IntN(3) > 0 {
			ref, err := engine.AddRef(ctx, fileID, Ref{EntityType: "e", EntityID: "x"})
			require.NoError(t, err)
			refIDs = append(refIDs, ref.RefID)
		} else {
			i := rng.IntN(len(refIDs))
			removed, err := engine.RemoveRef(ctx, fileID, refIDs[i])
			require.NoError(t, err)
			require.True(t, removed)
			refIDs = append(refIDs[:i], refIDs[i+1:]...)
		}

		record, err := store.GetByID(ctx, fileID)
		require.NoError(t, err)
		require.Equal(t, len(record.FileRefs), record.RefCount)
		require.Equal(t, len(refIDs), record.RefCount)
	}

	removed, err := engine.RemoveRef(ctx, fileID, "unknown")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRemoveRefsByCriteria(t *testing.T) {
	build := func(t *testing.T) (*Engine, *memory.Store, []*metadata.Record) {
		engine, store, records := setup(t, "/a.txt", "/b.txt", "/c.txt")
		ctx := t.Context()

		records[2].ScopeID = "tenant-2"
		require.NoError(t, store.Update(ctx, records[2]))

		for _, r := range records {
			_, err := engine.AddRef(ctx, r.ID, Ref{EntityType: "invoice", EntityID: "1"})
			require.NoError(t, err)
			_, err = engine.AddRef(ctx, r.ID, Ref{EntityType: "invoice", EntityID: "2"})
			require.NoError(t, err)
			_, err = engine.AddRef(ctx, r.ID, Ref{EntityType: "project", EntityID: "1"})
			require.NoError(t, err)
		}
		return engine, store, records
	}

	refCount := func(t *testing.T, store *memory.Store, id string) int {
		record, err := store.GetByID(t.Context(), id)
		require.NoError(t, err)
		return record.RefCount
	}

	t.Run("EmptyRemovesNothing", func(t *testing.T) {
		engine, store, records := build(t)

		removed, err := engine.RemoveRefsByCriteria(t.Context(), Criteria{})
		require.NoError(t, err)
		assert.Equal(t, 0, removed)
		for _, r := range records {
			assert.Equal(t, 3, refCount(t, store, r.ID))
		}
	})

	t.Run("EntityAcrossRecords", func(t *testing.T) {
		engine, store, records := build(t)

		removed, err := engine.RemoveRefsByCriteria(t.Context(), Criteria{EntityType: "invoice", EntityID: "1"})
		require.NoError(t, err)
		assert.Equal(t, 3, removed)
		for _, r := range records {
			assert.Equal(t, 2, refCount(t, store, r.ID))
		}
	})

	t.Run("EntityTypeWithinFile", func(t *testing.T) {
		engine, store, records := build(t)

		removed, err := engine.RemoveRefsByCriteria(t.Context(), Criteria{FileID: records[0].ID, EntityType: "invoice"})
		require.NoError(t, err)
		assert.Equal(t, 2, removed)
		assert.Equal(t, 1, refCount(t, store, records[0].ID))
		assert.Equal(t, 3, refCount(t, store, records[1].ID))
	})

	t.Run("WholeFile", func(t *testing.T) {
		engine, store, records := build(t)

		removed, err := engine.RemoveRefsByCriteria(t.Context(), Criteria{FileID: records[1].ID})
		require.NoError(t, err)
		assert.Equal(t, 3, removed)
		assert.Equal(t, 0, refCount(t, store, records[1].ID))
	})

	t.Run("ScopeAndEntity", func(t *testing.T) {
		engine, store, records := build(t)

		removed, err := engine.RemoveRefsByCriteria(t.Context(), Criteria{ScopeID: "tenant-2", EntityType: "project"})
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
		assert.Equal(t, 2, refCount(t, store, records[2].ID))
		assert.Equal(t, 3, refCount(t, store, records[0].ID))
	})

	t.Run("FileAndOtherScope", func(t *testing.T) {
		engine, store, records := build(t)

		removed, err := engine.RemoveRefsByCriteria(t.Context(), Criteria{FileID: records[0].ID, ScopeID: "tenant-2"})
		require.NoError(t, err)
		assert.Equal(t, 0, removed)
		assert.Equal(t, 3, refCount(t, store, records[0].ID))
	})
}

func TestFindByEntity(t *testing.T) {
	engine, _, records := setup(t, "/a.txt", "/b.txt")
	ctx := t.Context()

	_, err := engine.AddRef(ctx, records[1].ID, Ref{EntityType: "invoice", EntityID: "7"})
	require.NoError(t, err)

	found, err := engine.FindByEntity(ctx, "invoice", "7")
	require.NoError(t, err)
	assert.Equal(t, []string{records[1].ID}, ids(found))

	found, err = engine.FindByEntity(ctx, "invoice", "8")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestFindOrphanedFilter(t *testing.T) {
	engine, store, records := setup(t, "/docs/a.txt", "/other/b.txt")
	ctx := t.Context()

	folder := metadata.NewRecord(data.NewFolderItem("/docs", "/docs", time.Now()), "local")
	require.NoError(t, store.Insert(ctx, folder))

	orphaned, err := engine.FindOrphaned(ctx, OrphanFilter{PathPrefix: "/docs"})
	require.NoError(t, err)
	assert.Equal(t, []string{records[0].ID}, ids(orphaned))

	orphaned, err = engine.FindOrphaned(ctx, OrphanFilter{PathPrefix: "/docs", IncludeFolders: true})
	require.NoError(t, err)
	assert.Len(t, orphaned, 2)

	orphaned, err = engine.FindOrphaned(ctx, OrphanFilter{ChangedBefore: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, orphaned)
}

// legacyStore reports a schema that cannot hold refs.
type legacyStore struct {
	*memory.Store
}

func (legacyStore) Generation() metadata.Generation {
	return metadata.Generation1
}

func TestRequiresGeneration2(t *testing.T) {
	store := memory.NewStore()
	item := data.NewFileItem("/a.txt", "/a.txt", 1, "text/plain", time.Now())
	record := metadata.NewRecord(item, "local")
	require.NoError(t, store.Insert(t.Context(), record))

	engine := NewEngine(legacyStore{store})
	ctx := t.Context()

	_, err := engine.AddRef(ctx, record.ID, Ref{EntityType: "doc", EntityID: "1"})
	assert.ErrorIs(t, err, metadata.ErrMigrationRequired)

	_, err = engine.RemoveRef(ctx, record.ID, "ref")
	assert.ErrorIs(t, err, metadata.ErrMigrationRequired)

	_, err = engine.RemoveRefsByCriteria(ctx, Criteria{EntityType: "doc"})
	assert.ErrorIs(t, err, metadata.ErrMigrationRequired)

	_, err = engine.FindByEntity(ctx, "doc", "1")
	assert.ErrorIs(t, err, metadata.ErrMigrationRequired)

	_, err = engine.FindOrphaned(ctx, OrphanFilter{})
	assert.ErrorIs(t, err, metadata.ErrMigrationRequired)

	_, err = engine.SoftDelete(ctx, record.ID)
	assert.ErrorIs(t, err, metadata.ErrMigrationRequired)

	_, err = engine.Restore(ctx, record.ID)
	assert.ErrorIs(t, err, metadata.ErrMigrationRequired)

	// Empty criteria still remove nothing without touching the store
	removed, err := engine.RemoveRefsByCriteria(ctx, Criteria{})
	require.NoError(t, err)
	assert.Zero(t, removed)
}
