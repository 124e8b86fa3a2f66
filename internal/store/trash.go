package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/nexis-project/nexispm/internal/types"
)

// MarkForDeletion renames a zero-refcount package's store directory into
// .trash/, named "<hash>-<unix_ts>". The MetaIndex packages entry is left
// in place until the trash entry is actually swept (RemoveTrashEntry); until
// then Has reports true and GetPath returns the package's original store
// path, which no longer exists after the rename.
func (s *Store) MarkForDeletion(hash types.ContentHash) error {
	refcount, err := s.meta.GetRefcount(hash)
	if err != nil {
		return err
	}
	if refcount != 0 {
		return errors.Wrapf(ErrStillReferenced, "hash %s has refcount %d", hash, refcount)
	}

	pkg, found, err := s.meta.GetPackage(hash)
	if err != nil {
		return err
	}
	if !found {
		return errors.Wrapf(ErrNotFound, "hash %s", hash)
	}

	src := filepath.Join(s.layout.Root(), pkg.StorePath)
	if err := os.MkdirAll(s.layout.TrashDir(), 0o755); err != nil {
		return fmt.Errorf("create trash dir: %w", err)
	}

	dst := filepath.Join(s.layout.TrashDir(), trashName(hash, time.Now()))
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("stage %s for deletion: %w", hash, err)
	}
	return nil
}

func trashName(hash types.ContentHash, at time.Time) string {
	return fmt.Sprintf("%s-%d", hash.String(), at.Unix())
}

// parseTrashName splits a "<hash>-<unix_ts>" trash directory name back into
// its components.
func parseTrashName(name string) (types.ContentHash, time.Time, error) {
	idx := strings.LastIndex(name, "-")
	if idx < 0 {
		return types.ContentHash{}, time.Time{}, fmt.Errorf("malformed trash entry %q", name)
	}
	hash, err := types.ParseContentHash(name[:idx])
	if err != nil {
		return types.ContentHash{}, time.Time{}, fmt.Errorf("malformed trash entry %q: %w", name, err)
	}
	ts, err := strconv.ParseInt(name[idx+1:], 10, 64)
	if err != nil {
		return types.ContentHash{}, time.Time{}, fmt.Errorf("malformed trash entry %q: %w", name, err)
	}
	return hash, time.Unix(ts, 0).UTC(), nil
}

// ListTrash enumerates pending trash entries. The garbage collector uses
// this to fan its sweep worker pool out over RemoveTrashEntry calls.
func (s *Store) ListTrash() ([]types.TrashEntry, error) {
	dirEntries, err := os.ReadDir(s.layout.TrashDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list trash: %w", err)
	}

	out := make([]types.TrashEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		_, scheduledAt, err := parseTrashName(de.Name())
		if err != nil {
			continue // skip anything that doesn't match our naming scheme
		}
		out = append(out, types.TrashEntry{
			Name:         de.Name(),
			OriginalPath: filepath.Join(s.layout.TrashDir(), de.Name()),
			ScheduledAt:  scheduledAt,
		})
	}
	return out, nil
}

// RemoveTrashEntry permanently deletes one trash entry's directory tree and
// finalizes the corresponding MetaIndex bookkeeping by dropping the
// package's packages/metadata/refcounts records.
func (s *Store) RemoveTrashEntry(entry types.TrashEntry) error {
	hash, _, err := parseTrashName(entry.Name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(entry.OriginalPath); err != nil {
		return fmt.Errorf("remove trash entry %s: %w", entry.Name, err)
	}
	return s.meta.RemovePackage(hash)
}

// EmptyTrash removes every pending trash entry sequentially and returns the
// hashes that were reaped. Safe to run concurrently with Ingest: trash
// entries and live package directories never share a path. Callers wanting
// parallel sweeping (internal/gc) should use ListTrash and
// RemoveTrashEntry directly with their own worker pool instead.
func (s *Store) EmptyTrash() ([]types.ContentHash, error) {
	entries, err := s.ListTrash()
	if err != nil {
		return nil, err
	}

	reaped := make([]types.ContentHash, 0, len(entries))
	for _, entry := range entries {
		hash, _, err := parseTrashName(entry.Name)
		if err != nil {
			continue
		}
		if err := s.RemoveTrashEntry(entry); err != nil {
			return reaped, err
		}
		reaped = append(reaped, hash)
	}
	return reaped, nil
}
