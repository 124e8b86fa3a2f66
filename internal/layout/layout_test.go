package layout

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexis-project/nexispm/internal/hasher"
)

func TestPackagePathBucketing(t *testing.T) {
	l := New("/store")
	h := hasher.HashBytes([]byte("x"))
	hex := h.String()

	got := l.PackagePath(h, "vim")
	want := "/store/packages/" + hex[0:2] + "/" + hex[2:4] + "/" + hex + "-vim"
	require.Equal(t, want, got)
}

func TestFilePathBucketing(t *testing.T) {
	l := New("/store")
	h := hasher.HashBytes([]byte("y"))
	hex := h.String()

	got := l.FilePath(h)
	want := "/store/files/" + hex[0:2] + "/" + hex[2:4] + "/" + hex
	require.Equal(t, want, got)
}

func TestFixedChildren(t *testing.T) {
	l := New("/store")
	require.Equal(t, "/store/.tmp", l.TmpDir())
	require.Equal(t, "/store/.trash", l.TrashDir())
	require.Equal(t, "/store/meta", l.MetaDir())
	require.Equal(t, "/store/generations", l.GenerationsDir())
	require.Equal(t, "/store/generations/current", l.CurrentLink())
	require.Equal(t, "/store/generations/7", l.GenerationDir(7))
}

func TestCustomBucketDepth(t *testing.T) {
	l := NewWithBucketDepth("/store", 1)
	h := hasher.HashBytes([]byte("z"))
	hex := h.String()
	want := "/store/files/" + hex[0:2] + "/" + hex
	require.Equal(t, want, l.FilePath(h))
}
