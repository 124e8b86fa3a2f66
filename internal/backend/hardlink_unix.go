//go:build unix

package backend

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

// orphanedTmpMaxAge is the minimum age for a .nexispm.tmp file to be
// considered orphaned rather than belonging to an in-flight materialize.
const orphanedTmpMaxAge = 1 * time.Minute

// atomicHardlink creates a hardlink atomically by linking to a temp file
// then renaming over destination. Adapted from the teacher's
// deduper.CreateHardlink: if the temp name is already taken by an orphaned
// leftover from a crashed run, it is cleaned up and the link retried.
func atomicHardlink(source, destination string) error {
	tmp := destination + ".nexispm.tmp"

	err := os.Link(source, tmp)
	if errors.Is(err, syscall.EEXIST) {
		if cleanupErr := tryCleanupOrphanedTmp(tmp, orphanedTmpMaxAge); cleanupErr != nil {
			return fmt.Errorf("tmp file exists and cannot be cleaned: %w", cleanupErr)
		}
		err = os.Link(source, tmp)
	}
	if err != nil {
		return err
	}

	if err := os.Rename(tmp, destination); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// tryCleanupOrphanedTmp removes an orphaned temp file only if it is old
// enough to rule out an in-flight operation, and only if removing it cannot
// lose data (the file has other hardlinks, or is a symlink).
func tryCleanupOrphanedTmp(path string, maxAge time.Duration) error {
	info, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("lstat: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	if info.ModTime().After(cutoff) {
		return fmt.Errorf("file too recent (mtime %v, cutoff %v)", info.ModTime(), cutoff)
	}

	mode := info.Mode()
	if mode&os.ModeSymlink != 0 {
		return os.Remove(path)
	}
	if !mode.IsRegular() {
		return fmt.Errorf("not a regular file or symlink (mode %v)", mode)
	}

	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fmt.Errorf("cannot get syscall.Stat_t")
	}
	if stat.Nlink <= 1 {
		return fmt.Errorf("nlink=%d, may be only copy of data", stat.Nlink)
	}
	return os.Remove(path)
}
