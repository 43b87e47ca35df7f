package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"buzzdb/storage_engine/file"
)

func TestWriteThenReadEntryRoundTrips(t *testing.T) {
	f := file.NewMemFile(file.WRITE)
	require.NoError(t, WriteEntry(f, 42, 17))

	tableID, pageCount, err := ReadEntry(f)
	require.NoError(t, err)
	require.Equal(t, uint64(42), tableID)
	require.Equal(t, uint64(17), pageCount)
}

func TestCatalogTracksPerTablePageCounts(t *testing.T) {
	c := New()
	require.Equal(t, uint64(0), c.NumHeapPages(1))

	c.SetNumHeapPages(1, 9)
	c.SetNumHeapPages(2, 3)
	require.Equal(t, uint64(9), c.NumHeapPages(1))
	require.Equal(t, uint64(3), c.NumHeapPages(2))
}
