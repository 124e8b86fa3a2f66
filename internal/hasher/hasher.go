// Package hasher computes content fingerprints over bytes, files, and
// directories using the canonical traversal order pinned by the store's
// directory-hash contract: identical trees must hash identically regardless
// of traversal order, mtimes, or the underlying filesystem.
package hasher

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/nexis-project/nexispm/internal/types"
)

// blockSize is the read buffer size used when streaming file contents.
const blockSize = 64 * 1024

// HashBytes computes the content hash of an in-memory byte slice.
func HashBytes(b []byte) types.ContentHash {
	sum := sha256.Sum256(b)
	return types.ContentHash(sum)
}

// HashFile streams a file's contents through the hasher without loading it
// entirely into memory.
func HashFile(path string) (types.ContentHash, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.ContentHash{}, fmt.Errorf("hash file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return types.ContentHash{}, fmt.Errorf("hash file %s: %w", path, err)
	}

	sum, err := types.ContentHashFromBytes(h.Sum(nil))
	if err != nil {
		return types.ContentHash{}, err
	}
	return sum, nil
}

// ScanTree walks root depth-first, producing a FileEntry per regular file,
// directory, and symlink encountered. Symlinks are recorded by their target
// string; their targets are never dereferenced or followed into. Entries are
// returned already sorted into canonical order (SortEntries), so the result
// can be passed straight to HashEntries, which does not sort its input.
func ScanTree(root string) ([]types.FileEntry, error) {
	var entries []types.FileEntry

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		mode := info.Mode()
		switch {
		case mode&os.ModeSymlink != 0:
			target, linkErr := os.Readlink(path)
			if linkErr != nil {
				return fmt.Errorf("readlink %s: %w", path, linkErr)
			}
			entries = append(entries, types.FileEntry{
				RelPath:       rel,
				IsSymlink:     true,
				SymlinkTarget: target,
			})
			return nil
		case info.IsDir():
			entries = append(entries, types.FileEntry{RelPath: rel, IsDir: true})
			return nil
		case mode.IsRegular():
			hash, hashErr := HashFile(path)
			if hashErr != nil {
				return hashErr
			}
			entries = append(entries, types.FileEntry{
				RelPath:      rel,
				Hash:         hash,
				Size:         info.Size(),
				Mode:         uint32(mode.Perm()),
				IsExecutable: mode.Perm()&0o111 != 0,
			})
			return nil
		default:
			return fmt.Errorf("scan tree: %s: unsupported file type %v", path, mode)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("scan tree %s: %w", root, err)
	}

	SortEntries(entries)
	return entries, nil
}

// SortEntries sorts entries by byte-wise relative-path order in place, as
// required by the canonical traversal contract.
func SortEntries(entries []types.FileEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RelPath < entries[j].RelPath
	})
}

// HashEntries computes the canonical directory hash over an already-sorted
// entry list. Framing per entry: relpath ‖ 0x00 ‖ kind-tag ‖ payload ‖ 0x00,
// where kind-tag is "file"+file-hash for files, "dir" for directories, and
// "symlink:"+target for symlinks. The final digest is a single hash over the
// concatenation of every entry's frame in sorted order.
func HashEntries(entries []types.FileEntry) types.ContentHash {
	h := sha256.New()
	for _, e := range entries {
		_, _ = h.Write([]byte(e.RelPath))
		_, _ = h.Write([]byte{0})
		switch {
		case e.IsSymlink:
			_, _ = h.Write([]byte("symlink:" + e.SymlinkTarget))
		case e.IsDir:
			_, _ = h.Write([]byte("dir"))
		default:
			_, _ = h.Write([]byte("file"))
			_, _ = h.Write(e.Hash.Bytes())
		}
		_, _ = h.Write([]byte{0})
	}
	sum, _ := types.ContentHashFromBytes(h.Sum(nil))
	return sum
}

// HashDirectory computes the canonical directory hash of root by scanning it
// and hashing the resulting entries in canonical order. Equivalent to
// HashEntries(ScanTree(root)) but documents the common case as one call.
func HashDirectory(root string) (types.ContentHash, error) {
	entries, err := ScanTree(root)
	if err != nil {
		return types.ContentHash{}, err
	}
	return HashEntries(entries), nil
}
