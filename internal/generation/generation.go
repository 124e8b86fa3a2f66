// Package generation implements the GenerationManager (spec.md §4.8):
// immutable snapshots of a resolved package set, identified by monotonic
// ids, with
// atomic activation and rollback driven by a single symlink rename.
package generation

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/nexis-project/nexispm/internal/bootloader"
	"github.com/nexis-project/nexispm/internal/layout"
	"github.com/nexis-project/nexispm/internal/metaindex"
	"github.com/nexis-project/nexispm/internal/types"
)

// packageStore is the subset of *store.Store the GenerationManager needs:
// confirming manifest entries are actually committed before activating
// them. Expressed as an interface so tests can supply a fake without
// standing up a real content-addressed store.
type packageStore interface {
	Has(hash types.ContentHash) (bool, error)
}

// GenerationManager creates, activates, and reaps generation records.
type GenerationManager struct {
	layout *layout.Layout
	meta   *metaindex.MetaIndex
	store  packageStore
	sink   bootloader.Sink
}

// New constructs a GenerationManager. sink may be nil, in which case
// Activate skips the bootloader-sink call (useful for tests and for
// embedding contexts with no bootloader to update).
func New(lay *layout.Layout, meta *metaindex.MetaIndex, st packageStore, sink bootloader.Sink) *GenerationManager {
	return &GenerationManager{layout: lay, meta: meta, store: st, sink: sink}
}

// CreateGeneration allocates the next monotonic id, persists the record,
// writes its config snapshot to generations/<id>/config.toml per the
// on-disk layout (spec.md §6), and increments the refcount of every
// package in the manifest.
func (g *GenerationManager) CreateGeneration(manifest []types.ContentHash, configSnapshot string) (types.GenerationRecord, error) {
	for _, hash := range manifest {
		has, err := g.store.Has(hash)
		if err != nil {
			return types.GenerationRecord{}, err
		}
		if !has {
			return types.GenerationRecord{}, &GenerationError{Kind: KindInvalidManifest, Cause: fmt.Errorf("package %s is not in the store", hash)}
		}
	}

	rec, err := g.meta.CreateGeneration(manifest, configSnapshot)
	if err != nil {
		return types.GenerationRecord{}, err
	}

	for _, hash := range manifest {
		if _, err := g.meta.IncrementRefcount(hash); err != nil {
			return rec, fmt.Errorf("increment refcount for generation %d manifest: %w", rec.ID, err)
		}
	}

	genDir := g.layout.GenerationDir(rec.ID)
	if err := os.MkdirAll(genDir, 0o755); err != nil {
		return rec, fmt.Errorf("create generation dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(genDir, "config.toml"), []byte(configSnapshot), 0o644); err != nil {
		return rec, fmt.Errorf("write config snapshot: %w", err)
	}

	return rec, nil
}

// Activate verifies every manifest entry is committed to the store, then
// atomically retargets generations/current onto generations/<id> via a
// temp-symlink-then-rename, and finally calls the bootloader sink. The
// rename is the sole source of truth for "what is current" — Current()
// resolves it directly — so a crash at any point leaves current/ pointing
// at either the old or the new generation, never a dangling symlink
// (spec.md §8 invariant 4 and scenario S5).
func (g *GenerationManager) Activate(id uint64) error {
	rec, found, err := g.meta.GetGeneration(id)
	if err != nil {
		return err
	}
	if !found {
		return &GenerationError{Kind: KindNotFound, ID: id}
	}

	for _, hash := range rec.Manifest {
		has, err := g.store.Has(hash)
		if err != nil {
			return err
		}
		if !has {
			return &GenerationError{Kind: KindInvalidManifest, ID: id, Cause: fmt.Errorf("package %s missing from store", hash)}
		}
	}

	if err := os.MkdirAll(g.layout.GenerationsDir(), 0o755); err != nil {
		return &GenerationError{Kind: KindActivationFailed, ID: id, Cause: err}
	}

	tmp := g.layout.CurrentLinkTmp()
	_ = os.Remove(tmp) // clear any leftover from a prior crashed activation
	target := strconv.FormatUint(id, 10)
	if err := os.Symlink(target, tmp); err != nil {
		return &GenerationError{Kind: KindActivationFailed, ID: id, Cause: err}
	}
	if err := os.Rename(tmp, g.layout.CurrentLink()); err != nil {
		_ = os.Remove(tmp)
		return &GenerationError{Kind: KindActivationFailed, ID: id, Cause: err}
	}

	// Best-effort mirror for cheap CurrentGenerationID() lookups; the
	// symlink itself remains authoritative, so a failure here does not
	// make activation itself fail.
	_ = g.meta.RecordCurrentGeneration(id)

	if g.sink != nil {
		if err := g.writeBootloaderEntries(); err != nil {
			return &GenerationError{Kind: KindActivationFailed, ID: id, Cause: err}
		}
	}
	return nil
}

func (g *GenerationManager) writeBootloaderEntries() error {
	records, err := g.meta.ListGenerations()
	if err != nil {
		return err
	}
	sortGenerationsDesc(records)

	entries := bootloader.EntriesForGenerations(records,
		func(rec types.GenerationRecord) string {
			return fmt.Sprintf("nexispm generation %d (%s)", rec.ID, rec.CreatedAt.Format(time.RFC3339))
		},
		func(rec types.GenerationRecord) (kernel, initrd, cmdline string) {
			dir := g.layout.GenerationDir(rec.ID)
			return filepath.Join(dir, "vmlinuz"), filepath.Join(dir, "initrd"), "ro quiet"
		},
	)
	return g.sink.Write(entries)
}

// Current resolves generations/current by reading the symlink itself
// rather than trusting the MetaIndex mirror, so it reflects activation's
// single source of truth even across a crash that updated one but not the
// other.
func (g *GenerationManager) Current() (types.GenerationRecord, bool, error) {
	target, err := os.Readlink(g.layout.CurrentLink())
	if err != nil {
		if os.IsNotExist(err) {
			id, found, mErr := g.meta.CurrentGenerationID()
			if mErr != nil || !found {
				return types.GenerationRecord{}, false, mErr
			}
			return g.meta.GetGeneration(id)
		}
		return types.GenerationRecord{}, false, fmt.Errorf("read current generation link: %w", err)
	}

	id, err := strconv.ParseUint(filepath.Base(target), 10, 64)
	if err != nil {
		return types.GenerationRecord{}, false, fmt.Errorf("parse current generation link target %q: %w", target, err)
	}
	return g.meta.GetGeneration(id)
}

// Rollback activates the highest-numbered generation distinct from the
// current one.
func (g *GenerationManager) Rollback() error {
	current, found, err := g.Current()
	if err != nil {
		return err
	}

	records, err := g.meta.ListGenerations()
	if err != nil {
		return err
	}
	sortGenerationsDesc(records)

	for _, rec := range records {
		if !found || rec.ID != current.ID {
			return g.Activate(rec.ID)
		}
	}
	return &GenerationError{Kind: KindNotFound, Cause: fmt.Errorf("no earlier generation to roll back to")}
}

// List returns every generation record, most recent first.
func (g *GenerationManager) List() ([]types.GenerationRecord, error) {
	records, err := g.meta.ListGenerations()
	if err != nil {
		return nil, err
	}
	sortGenerationsDesc(records)
	return records, nil
}

// Pin marks a generation non-collectable.
func (g *GenerationManager) Pin(id uint64) error {
	if err := g.meta.PinGeneration(id); err != nil {
		return &GenerationError{Kind: KindNotFound, ID: id, Cause: err}
	}
	return nil
}

// Unpin clears a generation's pinned flag.
func (g *GenerationManager) Unpin(id uint64) error {
	if err := g.meta.UnpinGeneration(id); err != nil {
		return &GenerationError{Kind: KindNotFound, ID: id, Cause: err}
	}
	return nil
}

// Prune deletes generation records that are neither among the keepLastN
// most recent nor (when olderThanDays is set) within that recency window,
// decrementing the refcount of every package in their manifest. Pinned
// generations and the current generation are never pruned.
func (g *GenerationManager) Prune(keepLastN int, olderThanDays *int) ([]uint64, error) {
	records, err := g.meta.ListGenerations()
	if err != nil {
		return nil, err
	}
	sortGenerationsDesc(records)

	current, currentFound, err := g.Current()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var pruned []uint64
	for i, rec := range records {
		if rec.Pinned {
			continue
		}
		if currentFound && rec.ID == current.ID {
			continue
		}
		if i < keepLastN {
			continue
		}
		if olderThanDays != nil && now.Sub(rec.CreatedAt) <= time.Duration(*olderThanDays)*24*time.Hour {
			continue
		}

		for _, hash := range rec.Manifest {
			if _, err := g.meta.DecrementRefcount(hash); err != nil {
				return pruned, fmt.Errorf("prune generation %d: decrement refcount: %w", rec.ID, err)
			}
		}
		if err := g.meta.DeleteGeneration(rec.ID); err != nil {
			return pruned, fmt.Errorf("prune generation %d: %w", rec.ID, err)
		}
		_ = os.RemoveAll(g.layout.GenerationDir(rec.ID))
		pruned = append(pruned, rec.ID)
	}
	return pruned, nil
}

func sortGenerationsDesc(records []types.GenerationRecord) {
	sort.Slice(records, func(i, j int) bool { return records[i].ID > records[j].ID })
}
