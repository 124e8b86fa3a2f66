package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexis-project/nexispm/internal/backend"
	"github.com/nexis-project/nexispm/internal/hasher"
	"github.com/nexis-project/nexispm/internal/layout"
	"github.com/nexis-project/nexispm/internal/metaindex"
	"github.com/nexis-project/nexispm/internal/types"
)

func newTestStore(t *testing.T) (*Store, *layout.Layout) {
	t.Helper()
	root := t.TempDir()
	lay := layout.New(root)
	metaPath := filepath.Join(t.TempDir(), "meta.db")
	meta, err := metaindex.Open(metaPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	be := backend.NewUnchecked(backend.MethodCopy, 1000)
	return New(lay, meta, be), lay
}

func writeStagingTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func TestIngestCommitsPackage(t *testing.T) {
	s, _ := newTestStore(t)
	staging := writeStagingTree(t, map[string]string{
		"bin/hello": "#!/bin/sh\necho hi\n",
		"share/doc": "readme",
	})

	pkg, err := s.Ingest(staging, "hello", "1.0", types.PackageMetadata{BuildSystem: "make"})
	require.NoError(t, err)
	require.Equal(t, uint64(1), pkg.Refcount)
	require.NotEmpty(t, pkg.StorePath)

	path, err := s.GetPath(pkg.PackageHash)
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(path, "bin", "hello"))
	require.NoError(t, err)
	require.Equal(t, "#!/bin/sh\necho hi\n", string(got))
}

func TestIngestIdenticalContentSharesAndIncrementsRefcount(t *testing.T) {
	s, _ := newTestStore(t)
	staging1 := writeStagingTree(t, map[string]string{"lib/x.so": "bytes"})
	staging2 := writeStagingTree(t, map[string]string{"lib/x.so": "bytes"})

	pkg1, err := s.Ingest(staging1, "libx", "1.0", types.PackageMetadata{})
	require.NoError(t, err)
	require.Equal(t, uint64(1), pkg1.Refcount)

	pkg2, err := s.Ingest(staging2, "libx", "1.0", types.PackageMetadata{})
	require.NoError(t, err)
	require.Equal(t, pkg1.PackageHash, pkg2.PackageHash)
	require.Equal(t, uint64(2), pkg2.Refcount)
}

func TestIngestSharesFileContentAcrossPackages(t *testing.T) {
	s, lay := newTestStore(t)
	staging1 := writeStagingTree(t, map[string]string{"share/data": "shared-bytes"})
	staging2 := writeStagingTree(t, map[string]string{"share/data": "shared-bytes", "bin/extra": "more"})

	_, err := s.Ingest(staging1, "pkg-a", "1.0", types.PackageMetadata{})
	require.NoError(t, err)
	_, err = s.Ingest(staging2, "pkg-b", "1.0", types.PackageMetadata{})
	require.NoError(t, err)

	fileHash := hasher.HashBytes([]byte("shared-bytes"))
	canonical, found, err := s.meta.GetCanonicalFile(fileHash)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, lay.FilePath(fileHash), canonical)
}

func TestIngestPreservesSymlinks(t *testing.T) {
	s, _ := newTestStore(t)
	staging := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(staging, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "bin", "real"), []byte("x"), 0o755))
	require.NoError(t, os.Symlink("real", filepath.Join(staging, "bin", "link")))

	pkg, err := s.Ingest(staging, "withlink", "1.0", types.PackageMetadata{})
	require.NoError(t, err)

	path, err := s.GetPath(pkg.PackageHash)
	require.NoError(t, err)
	target, err := os.Readlink(filepath.Join(path, "bin", "link"))
	require.NoError(t, err)
	require.Equal(t, "real", target)
}

func TestMarkForDeletionRequiresZeroRefcount(t *testing.T) {
	s, _ := newTestStore(t)
	staging := writeStagingTree(t, map[string]string{"a": "b"})
	pkg, err := s.Ingest(staging, "p", "1.0", types.PackageMetadata{})
	require.NoError(t, err)

	err = s.MarkForDeletion(pkg.PackageHash)
	require.ErrorIs(t, err, ErrStillReferenced)
}

func TestMarkForDeletionAndEmptyTrash(t *testing.T) {
	s, _ := newTestStore(t)
	staging := writeStagingTree(t, map[string]string{"a": "b"})
	pkg, err := s.Ingest(staging, "p", "1.0", types.PackageMetadata{})
	require.NoError(t, err)

	_, err = s.meta.DecrementRefcount(pkg.PackageHash)
	require.NoError(t, err)

	require.NoError(t, s.MarkForDeletion(pkg.PackageHash))

	has, err := s.Has(pkg.PackageHash)
	require.NoError(t, err)
	require.True(t, has, "metaindex entry persists until trash is swept")

	reaped, err := s.EmptyTrash()
	require.NoError(t, err)
	require.Equal(t, []types.ContentHash{pkg.PackageHash}, reaped)

	has, err = s.Has(pkg.PackageHash)
	require.NoError(t, err)
	require.False(t, has)
}

func TestVerifyDetectsHashMismatch(t *testing.T) {
	s, _ := newTestStore(t)
	staging := writeStagingTree(t, map[string]string{"a": "original"})
	pkg, err := s.Ingest(staging, "p", "1.0", types.PackageMetadata{})
	require.NoError(t, err)

	path, err := s.GetPath(pkg.PackageHash)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(path, "a"), []byte("tampered"), 0o644))

	issues, err := s.Verify(false)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	require.Equal(t, IssueHashMismatch, issues[0].Kind)
	require.False(t, issues[0].Fixed)

	issues, err = s.Verify(true)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	require.True(t, issues[0].Fixed)

	has, err := s.Has(pkg.PackageHash)
	require.NoError(t, err)
	require.False(t, has)
}

func TestVerifyDetectsOrphanStoreDir(t *testing.T) {
	s, lay := newTestStore(t)
	hash := types.ContentHash{0xaa, 0xbb}
	orphanDir := lay.PackagePath(hash, "ghost")
	require.NoError(t, os.MkdirAll(orphanDir, 0o755))

	issues, err := s.Verify(true)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	require.Equal(t, IssueOrphanStoreDir, issues[0].Kind)
	require.True(t, issues[0].Fixed)

	_, statErr := os.Stat(orphanDir)
	require.True(t, os.IsNotExist(statErr))
}
