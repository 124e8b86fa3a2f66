package gc

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexis-project/nexispm/internal/metaindex"
	"github.com/nexis-project/nexispm/internal/types"
)

// fakeStore is an in-memory packageStore double so gc tests don't need a
// real content-addressed store on disk.
type fakeStore struct {
	mu      sync.Mutex
	pkgs    map[types.ContentHash]types.StoredPackage
	trash   map[string]types.TrashEntry
	removed map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		pkgs:    map[types.ContentHash]types.StoredPackage{},
		trash:   map[string]types.TrashEntry{},
		removed: map[string]int{},
	}
}

func (f *fakeStore) List() ([]types.StoredPackage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.StoredPackage, 0, len(f.pkgs))
	for _, p := range f.pkgs {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) MarkForDeletion(hash types.ContentHash) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pkgs, hash)
	name := fmt.Sprintf("%s-0", hash)
	f.trash[name] = types.TrashEntry{Name: name}
	return nil
}

func (f *fakeStore) ListTrash() ([]types.TrashEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.TrashEntry, 0, len(f.trash))
	for _, e := range f.trash {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeStore) RemoveTrashEntry(entry types.TrashEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed[entry.Name]++
	delete(f.trash, entry.Name)
	return nil
}

func testHash(b byte) types.ContentHash {
	var h types.ContentHash
	h[0] = b
	return h
}

func openTestMeta(t *testing.T) *metaindex.MetaIndex {
	t.Helper()
	m, err := metaindex.Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestCollectLeavesLivePackagesAlone(t *testing.T) {
	meta := openTestMeta(t)
	st := newFakeStore()

	live := testHash(1)
	dead := testHash(2)
	st.pkgs[live] = types.StoredPackage{PackageHash: live, Size: 10}
	st.pkgs[dead] = types.StoredPackage{PackageHash: dead, Size: 20}

	rec, err := meta.CreateGeneration([]types.ContentHash{live}, "cfg")
	require.NoError(t, err)
	require.NoError(t, meta.RecordCurrentGeneration(rec.ID))

	c := New(meta, st)
	stats, err := c.Collect(false)
	require.NoError(t, err)
	require.Equal(t, 2, stats.PackagesExamined)
	require.Equal(t, 1, stats.PackagesDeleted)
	require.Equal(t, int64(20), stats.BytesFreed)

	_, stillPresent := st.pkgs[live]
	require.True(t, stillPresent)
	_, deadPresent := st.pkgs[dead]
	require.False(t, deadPresent)
}

func TestCollectDryRunDoesNotMutate(t *testing.T) {
	meta := openTestMeta(t)
	st := newFakeStore()
	dead := testHash(3)
	st.pkgs[dead] = types.StoredPackage{PackageHash: dead, Size: 5}

	c := New(meta, st)
	stats, err := c.Collect(true)
	require.NoError(t, err)
	require.Equal(t, 0, stats.PackagesDeleted)
	_, present := st.pkgs[dead]
	require.True(t, present, "dry run must not mark anything for deletion")
}

func TestCollectWarnsOnRefcountMismatch(t *testing.T) {
	meta := openTestMeta(t)
	st := newFakeStore()
	dead := testHash(4)
	st.pkgs[dead] = types.StoredPackage{PackageHash: dead, Refcount: 3}

	c := New(meta, st)
	stats, err := c.Collect(false)
	require.NoError(t, err)
	require.Equal(t, 0, stats.PackagesDeleted)
	require.NotEmpty(t, stats.Warnings)
}

func TestSweepTrashRemovesEveryEntryExactlyOnce(t *testing.T) {
	meta := openTestMeta(t)
	st := newFakeStore()
	for i := 0; i < 100; i++ {
		name := fmt.Sprintf("entry-%d", i)
		st.trash[name] = types.TrashEntry{Name: name}
	}

	c := NewWithWorkerPool(meta, st, 8)
	var stats Stats
	require.NoError(t, c.sweepTrash(&stats))

	require.Empty(t, st.trash)
	require.Len(t, st.removed, 100)
	for name, count := range st.removed {
		require.Equal(t, 1, count, "entry %s removed more than once", name)
	}
}
