package metaindex

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexis-project/nexispm/internal/types"
)

func openTestIndex(t *testing.T) *MetaIndex {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meta.db")
	m, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func testHash(b byte) types.ContentHash {
	var h types.ContentHash
	h[0] = b
	return h
}

func TestAddAndGetPackage(t *testing.T) {
	m := openTestIndex(t)
	hash := testHash(1)
	pkg := types.StoredPackage{PackageHash: hash, Name: "vim", Version: "9.0", StorePath: "packages/aa/bb/cc-vim"}

	require.NoError(t, m.AddPackage(pkg))

	got, found, err := m.GetPackage(hash)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "vim", got.Name)
	require.Equal(t, uint64(1), got.Refcount)
}

func TestRefcountLifecycle(t *testing.T) {
	m := openTestIndex(t)
	hash := testHash(2)
	require.NoError(t, m.AddPackage(types.StoredPackage{PackageHash: hash, Name: "pkg"}))

	n, err := m.IncrementRefcount(hash)
	require.NoError(t, err)
	require.Equal(t, uint64(2), n)

	n, err = m.DecrementRefcount(hash)
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)

	n, err = m.DecrementRefcount(hash)
	require.NoError(t, err)
	require.Equal(t, uint64(0), n)

	_, err = m.DecrementRefcount(hash)
	require.Error(t, err, "decrementing below zero must fail")
}

func TestCanonicalFileRoundTrip(t *testing.T) {
	m := openTestIndex(t)
	hash := testHash(3)

	_, found, err := m.GetCanonicalFile(hash)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, m.SetCanonicalFile(hash, "/store/files/aa/bb/aabbcc"))
	path, found, err := m.GetCanonicalFile(hash)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "/store/files/aa/bb/aabbcc", path)
}

func TestGenerationLifecycle(t *testing.T) {
	m := openTestIndex(t)

	g1, err := m.CreateGeneration([]types.ContentHash{testHash(1)}, "config-v1")
	require.NoError(t, err)
	require.Equal(t, uint64(1), g1.ID)

	g2, err := m.CreateGeneration([]types.ContentHash{testHash(1), testHash(2)}, "config-v2")
	require.NoError(t, err)
	require.Equal(t, uint64(2), g2.ID, "generation ids are strictly monotonic")

	require.NoError(t, m.RecordCurrentGeneration(g2.ID))
	cur, found, err := m.CurrentGenerationID()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, g2.ID, cur)

	require.NoError(t, m.PinGeneration(g1.ID))
	rec, found, err := m.GetGeneration(g1.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, rec.Pinned)

	require.NoError(t, m.UnpinGeneration(g1.ID))
	rec, _, err = m.GetGeneration(g1.ID)
	require.NoError(t, err)
	require.False(t, rec.Pinned)

	all, err := m.ListGenerations()
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestRemovePackage(t *testing.T) {
	m := openTestIndex(t)
	hash := testHash(9)
	require.NoError(t, m.AddPackage(types.StoredPackage{PackageHash: hash, Name: "gone"}))
	require.NoError(t, m.RemovePackage(hash))

	found, err := m.HasPackage(hash)
	require.NoError(t, err)
	require.False(t, found)

	n, err := m.GetRefcount(hash)
	require.NoError(t, err)
	require.Equal(t, uint64(0), n)
}
