package diskmanager

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteThenReadPageRoundTrips(t *testing.T) {
	dir := t.TempDir()
	d := New(dir, 512, nil)

	data := make([]byte, 512)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, d.WritePage(3, 0, data))

	out := make([]byte, 512)
	require.NoError(t, d.ReadPage(3, 0, out))
	require.Equal(t, data, out)
}

func TestReadPageGrowsFileWithZeroes(t *testing.T) {
	dir := t.TempDir()
	d := New(dir, 256, nil)

	out := make([]byte, 256)
	require.NoError(t, d.ReadPage(1, 4, out))
	for _, b := range out {
		require.Equal(t, byte(0), b)
	}
}

func TestSeparateSegmentsAreIndependent(t *testing.T) {
	dir := t.TempDir()
	d := New(dir, 64, nil)

	a := make([]byte, 64)
	a[0] = 0xAA
	b := make([]byte, 64)
	b[0] = 0xBB
	require.NoError(t, d.WritePage(1, 0, a))
	require.NoError(t, d.WritePage(2, 0, b))

	outA := make([]byte, 64)
	outB := make([]byte, 64)
	require.NoError(t, d.ReadPage(1, 0, outA))
	require.NoError(t, d.ReadPage(2, 0, outB))
	require.Equal(t, byte(0xAA), outA[0])
	require.Equal(t, byte(0xBB), outB[0])
	require.NoError(t, d.CloseAll())
}
