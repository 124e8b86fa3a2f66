package store

import (
	"sync"

	"github.com/nexis-project/nexispm/internal/types"
)

// lockEntry is a per-package-hash mutex with a reference count so the
// bounding map can reclaim entries once no ingest holds or awaits them
// (spec.md §9: "a bounded mapping with reference counting").
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// hashLocks guards concurrent ingest of the same package-hash: two
// ingests in this process racing to commit identical content serialize
// here, and the later committer observes the earlier's StoredPackage
// (spec.md §5). The map lives in memory and does not serialize separate
// processes.
type hashLocks struct {
	mu      sync.Mutex
	entries map[types.ContentHash]*lockEntry
}

func newHashLocks() *hashLocks {
	return &hashLocks{entries: make(map[types.ContentHash]*lockEntry)}
}

// Acquire blocks until the lock for hash is held and returns a release
// function. The underlying entry is removed from the map once its last
// holder releases it.
func (h *hashLocks) Acquire(hash types.ContentHash) func() {
	h.mu.Lock()
	entry, ok := h.entries[hash]
	if !ok {
		entry = &lockEntry{}
		h.entries[hash] = entry
	}
	entry.refs++
	h.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		h.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(h.entries, hash)
		}
		h.mu.Unlock()
	}
}
