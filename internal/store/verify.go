package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nexis-project/nexispm/internal/hasher"
	"github.com/nexis-project/nexispm/internal/types"
)

// IssueKind classifies a problem found by Verify.
type IssueKind int

const (
	// IssueOrphanStoreDir is a packages/ directory with no matching
	// MetaIndex entry — the leftover of a crash between mkdir and
	// AddPackage.
	IssueOrphanStoreDir IssueKind = iota
	// IssueHashMismatch is a recorded package whose on-disk content no
	// longer hashes to its recorded PackageHash.
	IssueHashMismatch
	// IssueMissingStoreDir is a recorded package whose store directory is
	// gone entirely.
	IssueMissingStoreDir
	// IssueFileHashMismatch is a files/ canonical entry whose content no
	// longer hashes to its key, or that is missing outright. Verify does
	// not check files/, so it never reports this kind.
	IssueFileHashMismatch
	// IssueOrphanTmp is a stale entry under .tmp/, left by a crashed
	// materialize or build.
	IssueOrphanTmp
	// IssueOrphanActivationTmp is a stale generations/.current.tmp left by
	// a crashed activation (spec.md §8 scenario S5).
	IssueOrphanActivationTmp
)

func (k IssueKind) String() string {
	switch k {
	case IssueOrphanStoreDir:
		return "orphan-store-dir"
	case IssueHashMismatch:
		return "hash-mismatch"
	case IssueMissingStoreDir:
		return "missing-store-dir"
	case IssueFileHashMismatch:
		return "file-hash-mismatch"
	case IssueOrphanTmp:
		return "orphan-tmp"
	case IssueOrphanActivationTmp:
		return "orphan-activation-tmp"
	default:
		return "unknown"
	}
}

// VerifyIssue describes one integrity problem found (and, if fix was
// requested, resolved) by Verify.
type VerifyIssue struct {
	Kind   IssueKind
	Hash   types.ContentHash
	Path   string
	Detail string
	Fixed  bool
}

// orphanTmpMaxAge bounds how old a .tmp/ entry must be before Verify treats
// it as abandoned rather than belonging to an ingest or build in flight.
const orphanTmpMaxAge = 1 * time.Hour

// Verify walks the store checking the invariants of spec.md §3: every live
// package's directory exists and still hashes to its recorded PackageHash,
// and every packages/*/*/* directory on disk has a corresponding MetaIndex
// record. The files/ canonical entries are not checked. With fix=true,
// dangling MetaIndex entries are dropped, corrupt packages have their entry
// dropped and their directory removed, orphaned store directories are
// removed, and stale .tmp/ and
// generations/.current.tmp leftovers are cleaned up. With fix=false, Verify
// only reports.
func (s *Store) Verify(fix bool) ([]VerifyIssue, error) {
	var issues []VerifyIssue

	pkgIssues, err := s.verifyPackages(fix)
	if err != nil {
		return issues, err
	}
	issues = append(issues, pkgIssues...)

	orphanIssues, err := s.verifyOrphanStoreDirs(fix)
	if err != nil {
		return issues, err
	}
	issues = append(issues, orphanIssues...)

	tmpIssues, err := s.verifyTmp(fix)
	if err != nil {
		return issues, err
	}
	issues = append(issues, tmpIssues...)

	return issues, nil
}

func (s *Store) verifyPackages(fix bool) ([]VerifyIssue, error) {
	var issues []VerifyIssue

	packages, err := s.meta.ListPackages()
	if err != nil {
		return nil, err
	}

	for _, pkg := range packages {
		dir := filepath.Join(s.layout.Root(), pkg.StorePath)
		info, statErr := os.Stat(dir)
		switch {
		case os.IsNotExist(statErr):
			issue := VerifyIssue{Kind: IssueMissingStoreDir, Hash: pkg.PackageHash, Path: dir,
				Detail: "recorded package has no store directory"}
			if fix {
				if err := s.meta.RemovePackage(pkg.PackageHash); err == nil {
					issue.Fixed = true
				}
			}
			issues = append(issues, issue)
			continue
		case statErr != nil:
			return issues, fmt.Errorf("stat %s: %w", dir, statErr)
		case !info.IsDir():
			return issues, fmt.Errorf("store path %s is not a directory", dir)
		}

		actual, cached, err := s.hashCache.Lookup(pkg.StorePath, pkg.Size, pkg.IngestedAt)
		if err != nil {
			return issues, fmt.Errorf("hash cache lookup %s: %w", dir, err)
		}
		if !cached {
			actual, err = hasher.HashDirectory(dir)
			if err != nil {
				return issues, fmt.Errorf("rehash %s: %w", dir, err)
			}
			if actual == pkg.PackageHash {
				_ = s.hashCache.Store(pkg.StorePath, pkg.Size, pkg.IngestedAt, actual)
			}
		}
		if actual != pkg.PackageHash {
			issue := VerifyIssue{Kind: IssueHashMismatch, Hash: pkg.PackageHash, Path: dir,
				Detail: fmt.Sprintf("on-disk content now hashes to %s", actual)}
			if fix {
				if err := s.meta.RemovePackage(pkg.PackageHash); err == nil {
					_ = os.RemoveAll(dir)
					issue.Fixed = true
				}
			}
			issues = append(issues, issue)
		}
	}
	return issues, nil
}

// verifyOrphanStoreDirs walks packages/ on disk and flags any directory
// whose name-derived hash has no MetaIndex record: the leftover of a crash
// between mkdir and AddPackage.
func (s *Store) verifyOrphanStoreDirs(fix bool) ([]VerifyIssue, error) {
	var issues []VerifyIssue

	root := s.layout.PackagesDir()
	entries, err := findLeafDirs(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	for _, dir := range entries {
		hash, ok := hashFromDirName(filepath.Base(dir))
		if !ok {
			continue
		}
		found, err := s.meta.HasPackage(hash)
		if err != nil {
			return issues, err
		}
		if found {
			continue
		}
		issue := VerifyIssue{Kind: IssueOrphanStoreDir, Hash: hash, Path: dir,
			Detail: "store directory has no MetaIndex record"}
		if fix {
			if err := os.RemoveAll(dir); err == nil {
				issue.Fixed = true
			}
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// findLeafDirs returns every directory three levels below root (the
// bucket/bucket/entry shape produced by internal/layout).
func findLeafDirs(root string) ([]string, error) {
	var leaves []string
	buckets, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	for _, b1 := range buckets {
		if !b1.IsDir() {
			continue
		}
		inner := filepath.Join(root, b1.Name())
		subBuckets, err := os.ReadDir(inner)
		if err != nil {
			continue
		}
		for _, b2 := range subBuckets {
			if !b2.IsDir() {
				continue
			}
			bucketDir := filepath.Join(inner, b2.Name())
			leafEntries, err := os.ReadDir(bucketDir)
			if err != nil {
				continue
			}
			for _, leaf := range leafEntries {
				if leaf.IsDir() {
					leaves = append(leaves, filepath.Join(bucketDir, leaf.Name()))
				}
			}
		}
	}
	return leaves, nil
}

// hashFromDirName splits a "<hash>-<name>" package directory name and
// parses its hash prefix.
func hashFromDirName(name string) (types.ContentHash, bool) {
	idx := strings.Index(name, "-")
	if idx < 0 {
		idx = len(name)
	}
	hash, err := types.ParseContentHash(name[:idx])
	if err != nil {
		return types.ContentHash{}, false
	}
	return hash, true
}

// verifyTmp reports (and, with fix, removes) stale entries under .tmp/ and
// a dangling generations/.current.tmp left by a crashed activation.
func (s *Store) verifyTmp(fix bool) ([]VerifyIssue, error) {
	var issues []VerifyIssue

	tmpEntries, err := os.ReadDir(s.layout.TmpDir())
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("list tmp dir: %w", err)
	}
	cutoff := time.Now().Add(-orphanTmpMaxAge)
	for _, e := range tmpEntries {
		path := filepath.Join(s.layout.TmpDir(), e.Name())
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		issue := VerifyIssue{Kind: IssueOrphanTmp, Path: path, Detail: "stale .tmp entry"}
		if fix {
			if err := os.RemoveAll(path); err == nil {
				issue.Fixed = true
			}
		}
		issues = append(issues, issue)
	}

	if _, err := os.Lstat(s.layout.CurrentLinkTmp()); err == nil {
		issue := VerifyIssue{Kind: IssueOrphanActivationTmp, Path: s.layout.CurrentLinkTmp(),
			Detail: "crashed activation left a staged symlink"}
		if fix {
			if err := os.Remove(s.layout.CurrentLinkTmp()); err == nil {
				issue.Fixed = true
			}
		}
		issues = append(issues, issue)
	}

	return issues, nil
}
