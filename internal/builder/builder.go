// Package builder implements the build driver (spec.md §4.7): for each
// resolved package, either unpack a verified prebuilt archive or fetch
// source, apply patches, run hooks, and invoke the declared toolchain as a
// subprocess — always into a fresh staging directory that Store.Ingest
// will later consume, and always cleaned up on any error.
package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nexis-project/nexispm/internal/hasher"
	"github.com/nexis-project/nexispm/internal/resolver"
	"github.com/nexis-project/nexispm/internal/types"
)

// Timeouts configures per-operation deadlines (spec.md §5).
type Timeouts struct {
	// Download bounds prebuilt-archive fetches. Default 300s.
	Download time.Duration
	// Build bounds the toolchain invocation. Default 3600s; 0 means
	// unbounded.
	Build time.Duration
}

// DefaultTimeouts returns spec.md §5's default timeout values.
func DefaultTimeouts() Timeouts {
	return Timeouts{Download: 300 * time.Second, Build: 3600 * time.Second}
}

// Builder drives source/prebuilt acquisition and the toolchain subprocess
// for one resolved package at a time.
type Builder struct {
	tmpDir   string
	timeouts Timeouts
	prebuilt ArchiveFetcher
}

// New constructs a Builder staging work under tmpDir (typically
// layout.Layout.TmpDir()).
func New(tmpDir string, timeouts Timeouts) *Builder {
	return &Builder{tmpDir: tmpDir, timeouts: timeouts, prebuilt: HTTPFetcher{}}
}

// WithArchiveFetcher overrides the prebuilt-archive fetcher, mainly for
// tests that substitute a local-file fetch for the network.
func (b *Builder) WithArchiveFetcher(f ArchiveFetcher) *Builder {
	b.prebuilt = f
	return b
}

// Build materializes resolved into a fresh staging directory and returns
// its path. The staging directory is removed on any error; on success it
// is the caller's responsibility (Store.Ingest consumes it, but does not
// delete it — builder leaves that to whatever orchestrates ingest).
func (b *Builder) Build(ctx context.Context, resolved resolver.ResolvedPackage) (string, error) {
	if err := os.MkdirAll(b.tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create builder tmp dir: %w", err)
	}
	work, err := os.MkdirTemp(b.tmpDir, "build-"+resolved.Config.Name+"-")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}

	staging, err := b.build(ctx, resolved, work)
	if err != nil {
		_ = os.RemoveAll(work)
		return "", err
	}
	return staging, nil
}

func (b *Builder) build(ctx context.Context, resolved resolver.ResolvedPackage, work string) (string, error) {
	name := resolved.Config.Name

	if resolved.ResolvedPrebuilt != "" {
		staging, err := b.buildFromPrebuilt(ctx, resolved, work)
		switch {
		case err == nil:
			return staging, nil
		case !resolved.Config.FallbackToSource:
			return "", err
		}
		// fall through to source build
	}

	if resolved.ResolvedSource == "" {
		return "", &BuildError{Kind: KindToolchainFailed, Package: name, Detail: "no prebuilt or source available"}
	}
	return b.buildFromSource(ctx, resolved, work)
}

func (b *Builder) buildFromPrebuilt(ctx context.Context, resolved resolver.ResolvedPackage, work string) (string, error) {
	name := resolved.Config.Name
	downloadCtx, cancel := withTimeout(ctx, b.timeouts.Download)
	defer cancel()

	archivePath := filepath.Join(work, "prebuilt.tar.gz")
	if err := b.prebuilt.Fetch(downloadCtx, resolved.ResolvedPrebuilt, archivePath); err != nil {
		return "", &BuildError{Kind: KindToolchainFailed, Package: name, Detail: "prebuilt fetch failed", Cause: err}
	}

	if resolved.Config.Hash != "" {
		actual, err := hasher.HashFile(archivePath)
		if err != nil {
			return "", &BuildError{Kind: KindToolchainFailed, Package: name, Detail: "hash prebuilt archive", Cause: err}
		}
		expected, err := types.ParseContentHash(resolved.Config.Hash)
		if err != nil {
			return "", &BuildError{Kind: KindHashMismatch, Package: name, Detail: err.Error()}
		}
		if actual != expected {
			return "", &BuildError{Kind: KindHashMismatch, Package: name,
				Detail: fmt.Sprintf("prebuilt archive hash %s does not match expected %s", actual, expected)}
		}
	}

	staging := filepath.Join(work, "install")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return "", &BuildError{Kind: KindToolchainFailed, Package: name, Cause: err}
	}
	if err := extractTarGz(archivePath, staging); err != nil {
		return "", &BuildError{Kind: KindToolchainFailed, Package: name, Detail: "extract prebuilt archive", Cause: err}
	}
	return staging, nil
}

func (b *Builder) buildFromSource(ctx context.Context, resolved resolver.ResolvedPackage, work string) (string, error) {
	name := resolved.Config.Name
	sourceDir := filepath.Join(work, "src")
	staging := filepath.Join(work, "install")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return "", &BuildError{Kind: KindToolchainFailed, Package: name, Cause: err}
	}

	downloadCtx, cancel := withTimeout(ctx, b.timeouts.Download)
	if err := cloneSource(downloadCtx, resolved.ResolvedSource, resolved.ResolvedVersion, sourceDir); err != nil {
		cancel()
		return "", &BuildError{Kind: KindToolchainFailed, Package: name, Detail: "fetch source", Cause: err}
	}
	cancel()

	if err := applyPatches(ctx, name, sourceDir, resolved.Config.Patches); err != nil {
		return "", err
	}

	env := buildEnv(resolved.Config.Env, staging)

	buildCtx, cancel := withTimeout(ctx, b.timeouts.Build)
	defer cancel()

	if resolved.Config.PreBuildScript != "" {
		if err := runCommand(buildCtx, name, sourceDir, []string{resolved.Config.PreBuildScript}, env); err != nil {
			return "", err
		}
	}

	commands, err := toolchainCommands(resolved.Config.BuildSystem, resolved.Config.BuildFlags)
	if err != nil {
		return "", &BuildError{Kind: KindToolchainFailed, Package: name, Cause: err}
	}
	for _, args := range commands {
		if err := runCommand(buildCtx, name, sourceDir, args, env); err != nil {
			return "", err
		}
	}

	if resolved.Config.PostBuildScript != "" {
		if err := runCommand(buildCtx, name, sourceDir, []string{resolved.Config.PostBuildScript}, env); err != nil {
			return "", err
		}
	}

	return staging, nil
}

// applyPatches applies patch files in declared order via "patch -p1".
func applyPatches(ctx context.Context, pkgName, sourceDir string, patches []string) error {
	for _, patch := range patches {
		if err := runCommand(ctx, pkgName, sourceDir, []string{"patch", "-p1", "-i", patch}, nil); err != nil {
			return err
		}
	}
	return nil
}

// buildEnv composes the subprocess environment: the process's own
// environment, the package's declared env overrides, and NEXIS_PREFIX
// pointing at the staging directory (spec.md §6's subprocess contract).
func buildEnv(declared map[string]string, staging string) []string {
	env := os.Environ()
	for k, v := range declared {
		env = append(env, k+"="+v)
	}
	env = append(env, "NEXIS_PREFIX="+staging)
	return env
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
