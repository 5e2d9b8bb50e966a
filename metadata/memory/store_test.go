package memory

import (
	"testing"

	"github.com/mwantia/vstore/metadata"
	"github.com/mwantia/vstore/metadata/storetest"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) metadata.RecordStore {
		store := NewStore()
		require.NoError(t, store.Open(t.Context()))
		return store
	})
}

func TestStoreClosed(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Close(t.Context()))

	_, err := store.Query(t.Context(), nil)
	require.ErrorIs(t, err, metadata.ErrStoreClosed)
}
