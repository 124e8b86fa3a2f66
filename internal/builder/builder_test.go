package builder

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexis-project/nexispm/internal/config"
	"github.com/nexis-project/nexispm/internal/hasher"
	"github.com/nexis-project/nexispm/internal/resolver"
)

// fakeFetcher copies a local archive instead of hitting the network.
type fakeFetcher struct {
	archivePath string
	err         error
}

func (f fakeFetcher) Fetch(_ context.Context, _ string, destPath string) error {
	if f.err != nil {
		return f.err
	}
	data, err := os.ReadFile(f.archivePath)
	if err != nil {
		return err
	}
	return os.WriteFile(destPath, data, 0o644)
}

func writeTestArchive(t *testing.T, dir string, files map[string]string) string {
	t.Helper()
	path := filepath.Join(dir, "fixture.tar.gz")
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Mode: 0o644, Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestBuildFromPrebuiltExtractsArchive(t *testing.T) {
	tmp := t.TempDir()
	archive := writeTestArchive(t, tmp, map[string]string{"bin/tool": "#!/bin/sh\necho hi\n"})

	b := New(filepath.Join(tmp, "work"), DefaultTimeouts()).WithArchiveFetcher(fakeFetcher{archivePath: archive})
	resolved := resolver.ResolvedPackage{
		Config:           config.PackageConfig{Name: "tool"},
		ResolvedPrebuilt: "https://example.invalid/tool.tar.gz",
	}

	staging, err := b.Build(context.Background(), resolved)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(staging, "bin/tool"))
	require.NoError(t, err)
	require.Equal(t, "#!/bin/sh\necho hi\n", string(data))
}

func TestBuildFromPrebuiltVerifiesHash(t *testing.T) {
	tmp := t.TempDir()
	archive := writeTestArchive(t, tmp, map[string]string{"bin/tool": "payload"})
	data, err := os.ReadFile(archive)
	require.NoError(t, err)
	correctHash := hasher.HashBytes(data)

	b := New(filepath.Join(tmp, "work"), DefaultTimeouts()).WithArchiveFetcher(fakeFetcher{archivePath: archive})
	resolved := resolver.ResolvedPackage{
		Config:           config.PackageConfig{Name: "tool", Hash: correctHash.String()},
		ResolvedPrebuilt: "https://example.invalid/tool.tar.gz",
	}
	_, err = b.Build(context.Background(), resolved)
	require.NoError(t, err)

	badResolved := resolver.ResolvedPackage{
		Config:           config.PackageConfig{Name: "tool", Hash: hasher.HashBytes([]byte("other")).String()},
		ResolvedPrebuilt: "https://example.invalid/tool.tar.gz",
	}
	_, err = b.Build(context.Background(), badResolved)
	require.Error(t, err)
	var buildErr *BuildError
	require.ErrorAs(t, err, &buildErr)
	require.Equal(t, KindHashMismatch, buildErr.Kind)
}

func TestBuildRemovesStagingDirOnFailure(t *testing.T) {
	tmp := t.TempDir()
	workDir := filepath.Join(tmp, "work")
	b := New(workDir, DefaultTimeouts()).WithArchiveFetcher(fakeFetcher{err: os.ErrNotExist})
	resolved := resolver.ResolvedPackage{
		Config:           config.PackageConfig{Name: "tool"},
		ResolvedPrebuilt: "https://example.invalid/tool.tar.gz",
	}

	_, err := b.Build(context.Background(), resolved)
	require.Error(t, err)

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	require.Empty(t, entries, "staging dir for the failed build must be removed")
}

func TestBuildFallsBackToSourceWhenPrebuiltFailsAndFallbackEnabled(t *testing.T) {
	tmp := t.TempDir()
	b := New(filepath.Join(tmp, "work"), DefaultTimeouts()).WithArchiveFetcher(fakeFetcher{err: os.ErrNotExist})
	resolved := resolver.ResolvedPackage{
		Config: config.PackageConfig{
			Name:             "tool",
			FallbackToSource: true,
			BuildSystem:      config.BuildSystemCustom,
		},
		ResolvedPrebuilt: "https://example.invalid/tool.tar.gz",
		// ResolvedSource left empty: even with fallback enabled, there is
		// nothing to fall back to, so Build must still fail.
	}

	_, err := b.Build(context.Background(), resolved)
	require.Error(t, err)
	var buildErr *BuildError
	require.ErrorAs(t, err, &buildErr)
	require.Equal(t, KindToolchainFailed, buildErr.Kind)
	require.Equal(t, "no prebuilt or source available", buildErr.Detail)
}

func TestBuildWithoutFallbackReturnsPrebuiltError(t *testing.T) {
	tmp := t.TempDir()
	b := New(filepath.Join(tmp, "work"), DefaultTimeouts()).WithArchiveFetcher(fakeFetcher{err: os.ErrNotExist})
	resolved := resolver.ResolvedPackage{
		Config:           config.PackageConfig{Name: "tool", FallbackToSource: false},
		ResolvedPrebuilt: "https://example.invalid/tool.tar.gz",
	}

	_, err := b.Build(context.Background(), resolved)
	require.Error(t, err)
}

func TestToolchainCommandsCoversEveryBuildSystem(t *testing.T) {
	systems := []config.BuildSystem{
		config.BuildSystemMake, config.BuildSystemConfigure, config.BuildSystemCMake,
		config.BuildSystemMeson, config.BuildSystemCargo, config.BuildSystemNPM,
		config.BuildSystemPython, config.BuildSystemCustom,
	}
	for _, sys := range systems {
		_, err := toolchainCommands(sys, nil)
		require.NoErrorf(t, err, "build system %q must be known", sys)
	}
	_, err := toolchainCommands(config.BuildSystem("unknown"), nil)
	require.Error(t, err)
}

func TestBuildEnvIncludesPrefixAndDeclaredVars(t *testing.T) {
	env := buildEnv(map[string]string{"FOO": "bar"}, "/tmp/staging")
	require.Contains(t, env, "FOO=bar")
	require.Contains(t, env, "NEXIS_PREFIX=/tmp/staging")
}
