// Package store implements the content-addressed package store (spec.md
// §4.4): ingesting staged build output into deduplicated, content-addressed
// locations, tracking package membership through the MetaIndex, and
// recording per-file canonical locations so identical file content is
// materialized once and shared via the backend's reflink/hardlink/copy
// chain.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/nexis-project/nexispm/internal/backend"
	"github.com/nexis-project/nexispm/internal/cache"
	"github.com/nexis-project/nexispm/internal/hasher"
	"github.com/nexis-project/nexispm/internal/layout"
	"github.com/nexis-project/nexispm/internal/metaindex"
	"github.com/nexis-project/nexispm/internal/types"
)

// ErrNotFound is returned by GetPath and MarkForDeletion when no package is
// recorded at the requested hash.
var ErrNotFound = errors.New("store: package not found")

// ErrStillReferenced is returned by MarkForDeletion when a package's
// refcount has not yet reached zero.
var ErrStillReferenced = errors.New("store: package still referenced")

// Store is the content-addressed package store: every public method
// composes internal/hasher, internal/layout, internal/backend, and
// internal/metaindex into the ingest/query/reclaim surface of spec.md §4.4.
type Store struct {
	layout    *layout.Layout
	meta      *metaindex.MetaIndex
	be        backend.Backend
	locks     *hashLocks
	hashCache *cache.Cache
}

// New wraps already-opened components into a Store. Callers own the
// lifetime of meta and the filesystem under lay's root.
func New(lay *layout.Layout, meta *metaindex.MetaIndex, be backend.Backend) *Store {
	disabled, _ := cache.Open("")
	return &Store{layout: lay, meta: meta, be: be, locks: newHashLocks(), hashCache: disabled}
}

// WithHashCache attaches a persistent cache of package directory hashes, so
// Verify can skip rehashing packages it has already confirmed (spec.md
// §4.4's append-only guarantee makes this safe for as long as a package's
// MetaIndex record lives). Passing nil disables caching.
func (s *Store) WithHashCache(c *cache.Cache) *Store {
	if c == nil {
		disabled, _ := cache.Open("")
		c = disabled
	}
	s.hashCache = c
	return s
}

// Has reports whether a package with the given content hash is recorded in
// the store.
func (s *Store) Has(hash types.ContentHash) (bool, error) {
	return s.meta.HasPackage(hash)
}

// GetPath returns the absolute on-disk path of a recorded package's store
// directory.
func (s *Store) GetPath(hash types.ContentHash) (string, error) {
	pkg, found, err := s.meta.GetPackage(hash)
	if err != nil {
		return "", err
	}
	if !found {
		return "", errors.Wrapf(ErrNotFound, "hash %s", hash)
	}
	return filepath.Join(s.layout.Root(), pkg.StorePath), nil
}

// List returns every package recorded in the store.
func (s *Store) List() ([]types.StoredPackage, error) {
	return s.meta.ListPackages()
}

// CalculateHash computes the canonical content hash a staging tree would
// receive if ingested, without mutating the store.
func (s *Store) CalculateHash(stagingPath string) (types.ContentHash, error) {
	return hasher.HashDirectory(stagingPath)
}

// Ingest copies a completed build's staging tree into the content-addressed
// store; the staging tree itself is left in place. The ingest pipeline is Scanning -> Hashing -> Deduplicating ->
// Recording -> Committed, matching spec.md §4.4: the staging tree is
// scanned and hashed first (outside any lock, since hashing is pure and
// read-only), then a per-package-hash lock serializes the
// deduplicate-and-record phase against concurrent ingests of identical
// content. A failure during Deduplicating or Recording leaves Failed: no
// packages entry is written (files/ canonical entries already recorded for
// the package's files stay), and any partial store directory is removed
// on a best-effort basis (Verify's orphan sweep is the backstop for
// whatever a crash leaves behind).
func (s *Store) Ingest(stagingPath, name, version string, buildInfo types.PackageMetadata) (types.StoredPackage, error) {
	entries, err := hasher.ScanTree(stagingPath)
	if err != nil {
		return types.StoredPackage{}, errors.Wrap(err, "scan staging tree")
	}
	packageHash := hasher.HashEntries(entries)

	if existing, found, err := s.meta.GetPackage(packageHash); err != nil {
		return types.StoredPackage{}, err
	} else if found {
		return s.shareExisting(existing)
	}

	release := s.locks.Acquire(packageHash)
	defer release()

	// Re-check under lock: another goroutine may have committed the same
	// content while we waited.
	if existing, found, err := s.meta.GetPackage(packageHash); err != nil {
		return types.StoredPackage{}, err
	} else if found {
		return s.shareExisting(existing)
	}

	pkg, err := s.deduplicateAndRecord(stagingPath, packageHash, name, version, buildInfo, entries)
	if err != nil {
		return types.StoredPackage{}, err
	}
	return pkg, nil
}

func (s *Store) shareExisting(existing types.StoredPackage) (types.StoredPackage, error) {
	n, err := s.meta.IncrementRefcount(existing.PackageHash)
	if err != nil {
		return types.StoredPackage{}, err
	}
	existing.Refcount = n
	return existing, nil
}

func (s *Store) deduplicateAndRecord(stagingPath string, packageHash types.ContentHash, name, version string, buildInfo types.PackageMetadata, entries []types.FileEntry) (types.StoredPackage, error) {
	destDir := s.layout.PackagePath(packageHash, name)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return types.StoredPackage{}, fmt.Errorf("create package dir: %w", err)
	}

	var totalSize int64
	if err := s.materializeEntries(stagingPath, destDir, entries, &totalSize); err != nil {
		_ = os.RemoveAll(destDir)
		return types.StoredPackage{}, err
	}

	relStorePath, err := filepath.Rel(s.layout.Root(), destDir)
	if err != nil {
		_ = os.RemoveAll(destDir)
		return types.StoredPackage{}, err
	}

	pkg := types.StoredPackage{
		PackageHash: packageHash,
		Name:        name,
		Version:     version,
		StorePath:   relStorePath,
		Size:        totalSize,
		Files:       entries,
		BuildInfo:   buildInfo,
		IngestedAt:  time.Now().UTC(),
	}

	if err := s.meta.AddPackage(pkg); err != nil {
		_ = os.RemoveAll(destDir)
		return types.StoredPackage{}, errors.Wrap(err, "record package")
	}
	pkg.Refcount = 1
	return pkg, nil
}

// materializeEntries walks the already-sorted entry list, recreating
// directories and symlinks verbatim and deduplicating regular files through
// the files/ canonical-location table and the backend.
func (s *Store) materializeEntries(stagingPath, destDir string, entries []types.FileEntry, totalSize *int64) error {
	for _, e := range entries {
		destPath := filepath.Join(destDir, filepath.FromSlash(e.RelPath))

		switch {
		case e.IsDir:
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return fmt.Errorf("mkdir %s: %w", e.RelPath, err)
			}
		case e.IsSymlink:
			if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
				return fmt.Errorf("mkdir parent of %s: %w", e.RelPath, err)
			}
			if err := os.Symlink(e.SymlinkTarget, destPath); err != nil {
				return fmt.Errorf("symlink %s: %w", e.RelPath, err)
			}
		default:
			if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
				return fmt.Errorf("mkdir parent of %s: %w", e.RelPath, err)
			}
			if err := s.materializeFile(stagingPath, e, destPath); err != nil {
				return err
			}
			*totalSize += e.Size
		}
	}
	return nil
}

// materializeFile ensures a single-file canonical copy exists under files/
// for e.Hash, then asks the backend to dedupe it into destPath. The first
// package to reference a given file-hash pays for a real copy into files/;
// every later reference of the same content shares storage with it through
// whichever strategy the backend prefers.
func (s *Store) materializeFile(stagingPath string, e types.FileEntry, destPath string) error {
	canonical, found, err := s.meta.GetCanonicalFile(e.Hash)
	if err != nil {
		return err
	}
	if !found {
		filePath := s.layout.FilePath(e.Hash)
		if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
			return fmt.Errorf("mkdir files bucket for %s: %w", e.Hash, err)
		}
		srcPath := filepath.Join(stagingPath, filepath.FromSlash(e.RelPath))
		if err := copyPreservingMode(srcPath, filePath, os.FileMode(e.Mode)); err != nil {
			return fmt.Errorf("materialize canonical file %s: %w", e.Hash, err)
		}
		if err := s.meta.SetCanonicalFile(e.Hash, filePath); err != nil {
			return err
		}
		canonical = filePath
	}

	if _, err := s.be.Materialize(canonical, destPath); err != nil {
		return fmt.Errorf("materialize %s: %w", e.RelPath, err)
	}
	return nil
}

// copyPreservingMode performs a byte-wise copy into a fresh file at mode,
// via a tmp-then-rename so a crash mid-copy never leaves a partial file at
// the canonical files/ path.
func copyPreservingMode(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	tmp := dst + ".nexispm.tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := copyBuffered(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
