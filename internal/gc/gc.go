// Package gc implements the garbage collector (spec.md §4.9): computing
// the live set from the current and pinned generations, staging
// unreferenced packages to trash, and draining trash with a bounded
// worker pool.
package gc

import (
	"fmt"
	"time"

	"github.com/nexis-project/nexispm/internal/metaindex"
	"github.com/nexis-project/nexispm/internal/types"
)

// packageStore is the subset of *store.Store the collector needs.
type packageStore interface {
	List() ([]types.StoredPackage, error)
	MarkForDeletion(hash types.ContentHash) error
	ListTrash() ([]types.TrashEntry, error)
	RemoveTrashEntry(entry types.TrashEntry) error
}

// Stats summarizes one Collect run (spec.md §4.9 step 5).
type Stats struct {
	PackagesExamined int
	PackagesDeleted  int
	BytesFreed       int64
	Duration         time.Duration
	Warnings         []string
}

// Collector runs mark-and-sweep garbage collection over the store.
type Collector struct {
	meta       *metaindex.MetaIndex
	store      packageStore
	workerPool int
	now        func() time.Time
}

// defaultWorkerPool bounds the trash-sweep concurrency (spec.md §4.9 step 4).
const defaultWorkerPool = 8

// New constructs a Collector with the default worker pool size.
func New(meta *metaindex.MetaIndex, store packageStore) *Collector {
	return &Collector{meta: meta, store: store, workerPool: defaultWorkerPool, now: time.Now}
}

// NewWithWorkerPool constructs a Collector with a custom sweep concurrency.
func NewWithWorkerPool(meta *metaindex.MetaIndex, store packageStore, workerPool int) *Collector {
	if workerPool <= 0 {
		workerPool = defaultWorkerPool
	}
	return &Collector{meta: meta, store: store, workerPool: workerPool, now: time.Now}
}

// Collect computes the live set from the current and pinned generations and
// selects every zero-refcount, non-live package as a candidate. Unless
// dryRun, it marks the candidates for deletion and sweeps the trash
// directory with a bounded worker pool; a dry run marks and sweeps nothing
// and reports only the counts in Stats, not the candidates themselves.
func (c *Collector) Collect(dryRun bool) (Stats, error) {
	start := c.now()

	liveSet, err := c.computeLiveSet()
	if err != nil {
		return Stats{}, fmt.Errorf("compute live set: %w", err)
	}

	packages, err := c.store.List()
	if err != nil {
		return Stats{}, fmt.Errorf("list packages: %w", err)
	}

	stats := Stats{PackagesExamined: len(packages)}

	var candidates []types.StoredPackage
	for _, pkg := range packages {
		if liveSet[pkg.PackageHash] {
			continue
		}
		recounted, err := c.recount(pkg.PackageHash, liveSet)
		if err != nil {
			return Stats{}, err
		}
		if recounted != pkg.Refcount {
			stats.Warnings = append(stats.Warnings, fmt.Sprintf(
				"package %s: refcount %d does not match recount %d, skipped", pkg.PackageHash, pkg.Refcount, recounted))
			continue
		}
		if recounted != 0 {
			continue
		}
		candidates = append(candidates, pkg)
	}

	if dryRun {
		stats.Duration = c.now().Sub(start)
		return stats, nil
	}

	for _, pkg := range candidates {
		if err := c.store.MarkForDeletion(pkg.PackageHash); err != nil {
			stats.Warnings = append(stats.Warnings, fmt.Sprintf("mark %s for deletion: %v", pkg.PackageHash, err))
			continue
		}
		stats.BytesFreed += pkg.Size
		stats.PackagesDeleted++
	}

	if err := c.sweepTrash(&stats); err != nil {
		return stats, err
	}

	stats.Duration = c.now().Sub(start)
	return stats, nil
}

// computeLiveSet returns the union of every package-hash reachable from
// the current generation or any pinned generation (spec.md §4.9 step 1).
func (c *Collector) computeLiveSet() (map[types.ContentHash]bool, error) {
	records, err := c.meta.ListGenerations()
	if err != nil {
		return nil, err
	}

	currentID, hasCurrent, err := c.meta.CurrentGenerationID()
	if err != nil {
		return nil, err
	}

	live := make(map[types.ContentHash]bool)
	for _, rec := range records {
		if rec.Pinned || (hasCurrent && rec.ID == currentID) {
			for _, hash := range rec.Manifest {
				live[hash] = true
			}
		}
	}
	return live, nil
}

// recount derives a package's reference count from the live set rather
// than trusting the stored counter, per spec.md §4.9 step 3's "paranoia
// recount". It returns 1 if the package appears in any live manifest and 0
// otherwise; it does not count how many live manifests reference it. A
// package not appearing in any live manifest recounts to zero regardless of
// what refcounts records.
func (c *Collector) recount(hash types.ContentHash, liveSet map[types.ContentHash]bool) (uint64, error) {
	if liveSet[hash] {
		return 1, nil
	}
	return 0, nil
}

// sweepTrash drains ListTrash with a bounded worker pool, removing every
// entry exactly once (spec.md §8 scenario S6).
func (c *Collector) sweepTrash(stats *Stats) error {
	entries, err := c.store.ListTrash()
	if err != nil {
		return fmt.Errorf("list trash: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	jobs := make(chan types.TrashEntry)
	results := make(chan error, len(entries))

	workers := c.workerPool
	if workers > len(entries) {
		workers = len(entries)
	}
	for i := 0; i < workers; i++ {
		go func() {
			for entry := range jobs {
				results <- c.store.RemoveTrashEntry(entry)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, entry := range entries {
			jobs <- entry
		}
	}()

	for range entries {
		if err := <-results; err != nil {
			stats.Warnings = append(stats.Warnings, fmt.Sprintf("sweep trash entry: %v", err))
		}
	}
	return nil
}
