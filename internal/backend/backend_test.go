package backend

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaterializeHardlinkSharesInode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("content"), 0o644))

	b := NewUnchecked(MethodHardlink, 1000)
	method, err := b.Materialize(src, dst)
	require.NoError(t, err)
	require.Equal(t, MethodHardlink, method)

	srcInfo, _ := os.Stat(src)
	dstInfo, _ := os.Stat(dst)
	require.True(t, os.SameFile(srcInfo, dstInfo))
	require.Equal(t, Stats{Hardlinks: 1}, b.Stats())
}

func TestMaterializeCopyFallbackWhenCeilingReached(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("content"), 0o644))

	b := NewUnchecked(MethodHardlink, 0) // any ceiling <=0 resets to default...
	// force a ceiling of 1 so source's existing single link already is "at"
	// capacity once we account for the prospective new link.
	bb := b.(*backend)
	bb.hardlinkCeiling = 1

	method, err := b.Materialize(src, dst)
	require.NoError(t, err)
	require.Equal(t, MethodCopy, method)

	srcInfo, _ := os.Stat(src)
	dstInfo, _ := os.Stat(dst)
	require.False(t, os.SameFile(srcInfo, dstInfo))
}

func TestMaterializeCopyStrategy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	b := NewUnchecked(MethodCopy, 1000)
	method, err := b.Materialize(src, dst)
	require.NoError(t, err)
	require.Equal(t, MethodCopy, method)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))
}

func TestMaterializeHashMethodAgnosticism(t *testing.T) {
	// spec.md §8 property 7: a package ingested via any strategy reports the
	// same on-disk content regardless of which Method materialized it.
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.WriteFile(src, []byte("same bytes"), 0o644))

	for _, m := range []Method{MethodHardlink, MethodCopy} {
		dst := filepath.Join(dir, "dst-"+m.String())
		b := NewUnchecked(m, 1000)
		_, err := b.Materialize(src, dst)
		require.NoError(t, err)
		got, err := os.ReadFile(dst)
		require.NoError(t, err)
		require.Equal(t, "same bytes", string(got))
	}
}
