package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexis-project/nexispm/internal/hasher"
)

func TestCacheDisabled(t *testing.T) {
	c, err := Open("")
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	hash := hasher.HashBytes([]byte("payload"))
	require.NoError(t, c.Store("packages/ab/cd/abcd-pkg", 100, time.Now(), hash))

	_, ok, err := c.Lookup("packages/ab/cd/abcd-pkg", 100, time.Now())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCacheRoundTrip(t *testing.T) {
	tmp := t.TempDir()
	cachePath := filepath.Join(tmp, "cache.db")
	ingestedAt := time.Unix(1609459200, 0)
	hash := hasher.HashBytes([]byte("payload"))

	c1, err := Open(cachePath)
	require.NoError(t, err)
	require.NoError(t, c1.Store("packages/ab/cd/abcd-pkg", 1024, ingestedAt, hash))
	require.NoError(t, c1.Close())

	c2, err := Open(cachePath)
	require.NoError(t, err)
	defer func() { _ = c2.Close() }()

	got, ok, err := c2.Lookup("packages/ab/cd/abcd-pkg", 1024, ingestedAt)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, hash, got)
}

func TestCacheMissOnSizeOrIngestTimeChange(t *testing.T) {
	tmp := t.TempDir()
	cachePath := filepath.Join(tmp, "cache.db")
	ingestedAt := time.Unix(1609459200, 0)
	hash := hasher.HashBytes([]byte("payload"))

	c1, err := Open(cachePath)
	require.NoError(t, err)
	require.NoError(t, c1.Store("packages/ab/cd/abcd-pkg", 1024, ingestedAt, hash))
	require.NoError(t, c1.Close())

	c2, err := Open(cachePath)
	require.NoError(t, err)
	defer func() { _ = c2.Close() }()

	_, ok, err := c2.Lookup("packages/ab/cd/abcd-pkg", 2048, ingestedAt)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = c2.Lookup("packages/ab/cd/abcd-pkg", 1024, ingestedAt.Add(time.Second))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSelfCleaning(t *testing.T) {
	tmp := t.TempDir()
	cachePath := filepath.Join(tmp, "cache.db")
	ingestedAt := time.Unix(1609459200, 0)
	hashA := hasher.HashBytes([]byte("a"))
	hashB := hasher.HashBytes([]byte("b"))

	c1, err := Open(cachePath)
	require.NoError(t, err)
	require.NoError(t, c1.Store("pkg-a", 100, ingestedAt, hashA))
	require.NoError(t, c1.Store("pkg-b", 200, ingestedAt, hashB))
	require.NoError(t, c1.Close())

	c2, err := Open(cachePath)
	require.NoError(t, err)
	_, ok, err := c2.Lookup("pkg-a", 100, ingestedAt) // hit; copied to the new db
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, c2.Close())

	c3, err := Open(cachePath)
	require.NoError(t, err)
	defer func() { _ = c3.Close() }()

	_, ok, err = c3.Lookup("pkg-a", 100, ingestedAt)
	require.NoError(t, err)
	require.True(t, ok, "pkg-a should survive self-cleaning")

	_, ok, err = c3.Lookup("pkg-b", 200, ingestedAt)
	require.NoError(t, err)
	require.False(t, ok, "pkg-b was never looked up in the prior run and should have been dropped")
}

func TestCacheDirCreation(t *testing.T) {
	tmp := t.TempDir()
	nested := filepath.Join(tmp, "a", "b", "c", "cache.db")

	c, err := Open(nested)
	require.NoError(t, err)
	require.NoError(t, c.Close())
}
