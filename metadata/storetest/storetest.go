// Package storetest holds the behaviour every metadata.RecordStore has to satisfy.
package storetest

import (
	"errors"
	"testing"
	"time"

	"github.com/mwantia/vstore/data"
	"github.com/mwantia/vstore/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an opened, migrated and empty store.
type Factory func(t *testing.T) metadata.RecordStore

func newRecord(p, storageType string) *metadata.Record {
	item := data.NewFileItem(p, p, 5, "text/plain", time.Now())
	r := metadata.NewRecord(item, storageType)
	r.FileHash = "2e1cfa82b035c26c"
	return r
}

// Run executes the conformance suite against stores created by factory.
func Run(t *testing.T, factory Factory) {
	t.Run("InsertGet", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		r := newRecord("/a/b.txt", "local")
		r.FileRefs = []metadata.FileRef{{RefID: "r1", EntityType: "invoice", EntityID: "42", CreatedAt: data.Now()}}
		r.ScopeID = "tenant-1"
		r.FileData = `{"merged_data":{},"raw_data":[]}`
		require.NoError(t, store.Insert(ctx, r))

		got, err := store.Get(ctx, "/a/b.txt", "local")
		require.NoError(t, err)
		assert.Equal(t, r.ID, got.ID)
		assert.Equal(t, "b.txt", got.Filename)
		assert.Equal(t, "2e1cfa82b035c26c", got.FileHash)
		assert.Equal(t, int64(5), got.FileSize)
		assert.Equal(t, 1, got.RefCount)
		assert.Equal(t, "invoice", got.FileRefs[0].EntityType)
		assert.Equal(t, metadata.StatusActive, got.Status)
		assert.Equal(t, "tenant-1", got.ScopeID)
		assert.Equal(t, r.CreatedAt.UnixMilli(), got.CreatedAt.UnixMilli())
		assert.JSONEq(t, r.FileData, got.FileData)
		require.NotNil(t, got.FileChangedAt)
		assert.Nil(t, got.DeletedAt)

		byID, err := store.GetByID(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, "/a/b.txt", byID.FilePath)

		// Other backends may track the same path
		require.NoError(t, store.Insert(ctx, newRecord("/a/b.txt", "cloud")))
	})

	t.Run("UniquePathPerStorage", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		require.NoError(t, store.Insert(ctx, newRecord("/x.txt", "local")))
		err := store.Insert(ctx, newRecord("/x.txt", "local"))
		assert.True(t, errors.Is(err, metadata.ErrRecordExists), "got %v", err)
	})

	t.Run("NotFound", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		_, err := store.Get(ctx, "/missing", "local")
		assert.True(t, errors.Is(err, metadata.ErrRecordNotFound))
		_, err = store.GetByID(ctx, "missing")
		assert.True(t, errors.Is(err, metadata.ErrRecordNotFound))
		assert.True(t, errors.Is(store.Delete(ctx, "missing"), metadata.ErrRecordNotFound))
		assert.True(t, errors.Is(store.Update(ctx, &metadata.Record{ID: "missing", FilePath: "/m"}), metadata.ErrRecordNotFound))
	})

	t.Run("UpdateRecomputesRefCount", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		r := newRecord("/doc.pdf", "local")
		require.NoError(t, store.Insert(ctx, r))

		r.FileRefs = append(r.FileRefs,
			metadata.FileRef{RefID: "1", EntityType: "a", EntityID: "1", CreatedAt: data.Now()},
			metadata.FileRef{RefID: "2", EntityType: "a", EntityID: "2", CreatedAt: data.Now()})
		// A drifted counter is corrected on write
		r.RefCount = 7
		r.FilePath = "/moved/doc.pdf"
		r.Filename = "doc.pdf"
		now := data.Now()
		r.StorageVerifiedAt = &now
		require.NoError(t, store.Update(ctx, r))

		got, err := store.Get(ctx, "/moved/doc.pdf", "local")
		require.NoError(t, err)
		assert.Equal(t, 2, got.RefCount)
		assert.Len(t, got.FileRefs, 2)
		require.NotNil(t, got.StorageVerifiedAt)
		assert.Equal(t, now.UnixMilli(), got.StorageVerifiedAt.UnixMilli())

		_, err = store.Get(ctx, "/doc.pdf", "local")
		assert.True(t, errors.Is(err, metadata.ErrRecordNotFound))
	})

	t.Run("Delete", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		r := newRecord("/gone.txt", "local")
		require.NoError(t, store.Insert(ctx, r))
		require.NoError(t, store.Delete(ctx, r.ID))

		_, err := store.Get(ctx, "/gone.txt", "local")
		assert.True(t, errors.Is(err, metadata.ErrRecordNotFound))

		// The path can be tracked again afterwards
		require.NoError(t, store.Insert(ctx, newRecord("/gone.txt", "local")))
	})

	t.Run("Query", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		for _, p := range []string{"/docs/a.txt", "/docs/sub/b.txt", "/docs-old/c.txt", "/other.txt"} {
			require.NoError(t, store.Insert(ctx, newRecord(p, "local")))
		}
		deleted := newRecord("/docs/deleted.txt", "local")
		deleted.Status = metadata.StatusSoftDeleted
		require.NoError(t, store.Insert(ctx, deleted))
		require.NoError(t, store.Insert(ctx, newRecord("/docs/a.txt", "cloud")))

		records, err := store.Query(ctx, &metadata.RecordQuery{StorageType: "local", PathPrefix: "/docs"})
		require.NoError(t, err)
		assert.Equal(t, []string{"/docs/a.txt", "/docs/deleted.txt", "/docs/sub/b.txt"}, paths(records))

		records, err = store.Query(ctx, &metadata.RecordQuery{
			StorageType: "local",
			Statuses:    []metadata.Status{metadata.StatusSoftDeleted},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"/docs/deleted.txt"}, paths(records))

		records, err = store.Query(ctx, &metadata.RecordQuery{Limit: 2, Offset: 1, SortOrder: metadata.SortDesc})
		require.NoError(t, err)
		assert.Len(t, records, 2)

		all, err := store.Query(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, all, 6)
	})

	t.Run("Migrate", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		require.NoError(t, store.Migrate(ctx))
		require.NoError(t, store.Migrate(ctx))
		assert.Equal(t, metadata.Generation2, store.Generation())
	})
}

func paths(records []*metadata.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.FilePath
	}
	return out
}
