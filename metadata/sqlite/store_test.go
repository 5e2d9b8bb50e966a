package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mwantia/vstore/data"
	"github.com/mwantia/vstore/metadata"
	"github.com/mwantia/vstore/metadata/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, dbPath string) *Store {
	t.Helper()

	store, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Open(t.Context()))
	t.Cleanup(func() {
		store.Close(t.Context())
	})

	return store
}

// newLegacyStore opens a store on a table created before generation 2 existed.
func newLegacyStore(t *testing.T, dbPath string) *Store {
	t.Helper()

	store, err := NewStore(dbPath)
	require.NoError(t, err)
	for _, stmt := range metadata.CreateTableStatements(metadata.DialectSQLite, metadata.Generation1) {
		_, err := store.DB().ExecContext(t.Context(), stmt)
		require.NoError(t, err)
	}
	require.NoError(t, store.Open(t.Context()))
	t.Cleanup(func() {
		store.Close(t.Context())
	})

	return store
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) metadata.RecordStore {
		return newTestStore(t, ":memory:")
	})
}

func TestOpenCreatesLatestGeneration(t *testing.T) {
	ctx := t.Context()
	store := newTestStore(t, ":memory:")
	assert.Equal(t, metadata.Generation2, store.Generation())

	item := data.NewFileItem("/new.txt", "/new.txt", 3, "text/plain", time.Now())
	record := metadata.NewRecord(item, "local")
	record.FileHash = "abc"
	record.FileRefs = []metadata.FileRef{{RefID: "r", EntityType: "doc", EntityID: "1"}}
	require.NoError(t, store.Insert(ctx, record))

	got, err := store.Get(ctx, "/new.txt", "local")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.FileHash)
	assert.Equal(t, 1, got.RefCount)

	// Migrating a fresh table changes nothing
	require.NoError(t, store.Migrate(ctx))
	columns, err := store.columns(ctx)
	require.NoError(t, err)
	assert.Len(t, columns, len(metadata.Generation1Columns)+len(metadata.Generation2Columns))
}

func TestGeneration1Compatibility(t *testing.T) {
	ctx := t.Context()
	store := newLegacyStore(t, ":memory:")
	require.Equal(t, metadata.Generation1, store.Generation())

	item := data.NewFileItem("/legacy.txt", "/legacy.txt", 3, "text/plain", time.Now())
	record := metadata.NewRecord(item, "local")
	record.FileHash = "ignored-before-migration"
	record.FileRefs = []metadata.FileRef{{RefID: "r", EntityType: "x", EntityID: "1"}}
	require.NoError(t, store.Insert(ctx, record))

	got, err := store.Get(ctx, "/legacy.txt", "local")
	require.NoError(t, err)
	assert.Equal(t, "legacy.txt", got.Filename)
	assert.Empty(t, got.FileHash)
	assert.Equal(t, 0, got.RefCount)
	assert.Equal(t, metadata.StatusActive, got.Status)

	got.FilePath = "/renamed.txt"
	require.NoError(t, store.Update(ctx, got))
	_, err = store.Get(ctx, "/renamed.txt", "local")
	require.NoError(t, err)
}

func TestMigrateBackfillsExistingRows(t *testing.T) {
	ctx := t.Context()
	dbPath := filepath.Join(t.TempDir(), "metadata.db")

	store := newLegacyStore(t, dbPath)
	require.Equal(t, metadata.Generation1, store.Generation())
	for _, p := range []string{"/a.txt", "/b.txt"} {
		item := data.NewFileItem(p, p, 1, "text/plain", time.Now())
		require.NoError(t, store.Insert(ctx, metadata.NewRecord(item, "local")))
	}

	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx))
	assert.Equal(t, metadata.Generation2, store.Generation())

	var refs, status string
	var refCount int
	row := store.DB().QueryRowContext(ctx, "SELECT file_refs, ref_count, status FROM file_metadata WHERE file_path = '/a.txt'")
	require.NoError(t, row.Scan(&refs, &refCount, &status))
	assert.Equal(t, "[]", refs)
	assert.Equal(t, 0, refCount)
	assert.Equal(t, "active", status)

	columns, err := store.columns(ctx)
	require.NoError(t, err)
	assert.Len(t, columns, len(metadata.Generation1Columns)+len(metadata.Generation2Columns))

	// Reopening detects the migrated schema
	require.NoError(t, store.Close(ctx))
	reopened := newTestStore(t, dbPath)
	assert.Equal(t, metadata.Generation2, reopened.Generation())

	records, err := reopened.Query(ctx, &metadata.RecordQuery{StorageType: "local"})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
