// Package metaindex is the transactional embedded index mapping content
// hashes to store locations, tracking reference counts, and recording
// package/generation membership (spec.md §4.5). It is built atop BoltDB —
// the same embedded KV store the teacher already uses for its hash cache
// (internal/cache) — generalized here into the full five-table schema.
package metaindex

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/nexis-project/nexispm/internal/types"
)

// Bucket names, one per table in spec.md §4.5, plus a small "state" bucket
// for singleton values (the current generation pointer).
const (
	bucketPackages    = "packages"
	bucketFiles       = "files"
	bucketRefcounts   = "refcounts"
	bucketGenerations = "generations"
	bucketMetadata    = "metadata"
	bucketState       = "state"
)

var stateKeyCurrentGeneration = []byte("current_generation")

// MetaIndex wraps a BoltDB handle and exposes the five-table schema.
// All mutations are wrapped in a single bolt.Tx per public operation;
// reads use BoltDB's lock-free MVCC snapshots.
type MetaIndex struct {
	db *bolt.DB
}

// Open opens (creating if absent) the index database at path and ensures all
// buckets exist.
func Open(path string) (*MetaIndex, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open metaindex: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketPackages, bucketFiles, bucketRefcounts, bucketGenerations, bucketMetadata, bucketState} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init metaindex buckets: %w", err)
	}

	return &MetaIndex{db: db}, nil
}

// Close closes the underlying database.
func (m *MetaIndex) Close() error {
	return m.db.Close()
}

func encodeU64(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func decodeU64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// --- packages table -------------------------------------------------------

// AddPackage records a newly ingested package with an initial refcount of 1
// and its build metadata, as a single transaction (spec.md §4.4 step 6).
func (m *MetaIndex) AddPackage(pkg types.StoredPackage) error {
	pkg.Refcount = 1
	return m.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(pkg)
		if err != nil {
			return err
		}
		if err := tx.Bucket([]byte(bucketPackages)).Put(pkg.PackageHash.Bytes(), data); err != nil {
			return err
		}
		metaData, err := json.Marshal(pkg.BuildInfo)
		if err != nil {
			return err
		}
		if err := tx.Bucket([]byte(bucketMetadata)).Put(pkg.PackageHash.Bytes(), metaData); err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketRefcounts)).Put(pkg.PackageHash.Bytes(), encodeU64(1))
	})
}

// GetPackage returns the StoredPackage recorded at hash, if any.
func (m *MetaIndex) GetPackage(hash types.ContentHash) (types.StoredPackage, bool, error) {
	var pkg types.StoredPackage
	found := false
	err := m.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketPackages)).Get(hash.Bytes())
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &pkg)
	})
	if err != nil {
		return types.StoredPackage{}, false, fmt.Errorf("get package %s: %w", hash, err)
	}
	if found {
		pkg.Refcount, _ = m.GetRefcount(hash)
	}
	return pkg, found, nil
}

// HasPackage reports whether a StoredPackage is recorded at hash.
func (m *MetaIndex) HasPackage(hash types.ContentHash) (bool, error) {
	_, found, err := m.GetPackage(hash)
	return found, err
}

// ListPackages returns every recorded StoredPackage.
func (m *MetaIndex) ListPackages() ([]types.StoredPackage, error) {
	var out []types.StoredPackage
	err := m.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketPackages)).ForEach(func(k, v []byte) error {
			var pkg types.StoredPackage
			if err := json.Unmarshal(v, &pkg); err != nil {
				return err
			}
			pkg.Refcount = decodeU64(tx.Bucket([]byte(bucketRefcounts)).Get(k))
			out = append(out, pkg)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	return out, nil
}

// RemovePackage deletes a package's packages/metadata/refcounts entries. It
// is called once the package's store directory has been fully swept from
// trash, and by Store.Verify with fix=true for a package whose store
// directory is missing or whose content no longer matches its hash.
func (m *MetaIndex) RemovePackage(hash types.ContentHash) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(bucketPackages)).Delete(hash.Bytes()); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(bucketMetadata)).Delete(hash.Bytes()); err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketRefcounts)).Delete(hash.Bytes())
	})
}

// --- refcounts table --------------------------------------------------------

// GetRefcount returns the current refcount for hash (0 if absent).
func (m *MetaIndex) GetRefcount(hash types.ContentHash) (uint64, error) {
	var n uint64
	err := m.db.View(func(tx *bolt.Tx) error {
		n = decodeU64(tx.Bucket([]byte(bucketRefcounts)).Get(hash.Bytes()))
		return nil
	})
	return n, err
}

// IncrementRefcount adds one to hash's refcount and returns the new value.
func (m *MetaIndex) IncrementRefcount(hash types.ContentHash) (uint64, error) {
	var n uint64
	err := m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketRefcounts))
		n = decodeU64(b.Get(hash.Bytes())) + 1
		return b.Put(hash.Bytes(), encodeU64(n))
	})
	if err != nil {
		return 0, fmt.Errorf("increment refcount %s: %w", hash, err)
	}
	return n, nil
}

// DecrementRefcount subtracts one from hash's refcount and returns the new
// value. Per spec.md §4.5, reaching zero does not delete anything — it only
// signals the GC is entitled to reap the package.
func (m *MetaIndex) DecrementRefcount(hash types.ContentHash) (uint64, error) {
	var n uint64
	err := m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketRefcounts))
		cur := decodeU64(b.Get(hash.Bytes()))
		if cur == 0 {
			return fmt.Errorf("refcount for %s is already zero", hash)
		}
		n = cur - 1
		return b.Put(hash.Bytes(), encodeU64(n))
	})
	if err != nil {
		return 0, fmt.Errorf("decrement refcount %s: %w", hash, err)
	}
	return n, nil
}

// SetRefcount overwrites hash's refcount outright. Nothing in this
// repository calls it; internal/gc's recount only reads liveness and never
// writes a corrected counter back.
func (m *MetaIndex) SetRefcount(hash types.ContentHash, n uint64) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketRefcounts)).Put(hash.Bytes(), encodeU64(n))
	})
}

// --- files table ------------------------------------------------------------

// SetCanonicalFile records the canonical absolute path for a file-hash.
func (m *MetaIndex) SetCanonicalFile(hash types.ContentHash, path string) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketFiles)).Put(hash.Bytes(), []byte(path))
	})
}

// GetCanonicalFile returns the canonical absolute path recorded for a
// file-hash, if any.
func (m *MetaIndex) GetCanonicalFile(hash types.ContentHash) (string, bool, error) {
	var path string
	found := false
	err := m.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketFiles)).Get(hash.Bytes())
		if v == nil {
			return nil
		}
		found = true
		path = string(v)
		return nil
	})
	return path, found, err
}

// --- generations table -------------------------------------------------------

// CreateGeneration allocates the next monotonic id, persists the record, and
// returns it populated with that id. The caller is responsible for
// incrementing manifest refcounts (spec.md §4.8) — that crosses into the
// packages/refcounts tables and is orchestrated by internal/generation.
func (m *MetaIndex) CreateGeneration(manifest []types.ContentHash, configSnapshot string) (types.GenerationRecord, error) {
	var rec types.GenerationRecord
	err := m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketGenerations))
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		rec = types.GenerationRecord{
			ID:             id,
			CreatedAt:      nowFunc(),
			Manifest:       manifest,
			ConfigSnapshot: configSnapshot,
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(encodeU64(id), data)
	})
	if err != nil {
		return types.GenerationRecord{}, fmt.Errorf("create generation: %w", err)
	}
	return rec, nil
}

// GetGeneration returns the generation recorded at id, if any.
func (m *MetaIndex) GetGeneration(id uint64) (types.GenerationRecord, bool, error) {
	var rec types.GenerationRecord
	found := false
	err := m.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketGenerations)).Get(encodeU64(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return types.GenerationRecord{}, false, fmt.Errorf("get generation %d: %w", id, err)
	}
	return rec, found, nil
}

// ListGenerations returns every recorded generation, ordered by id.
func (m *MetaIndex) ListGenerations() ([]types.GenerationRecord, error) {
	var out []types.GenerationRecord
	err := m.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketGenerations)).ForEach(func(_, v []byte) error {
			var rec types.GenerationRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	return out, nil
}

// DeleteGeneration removes a generation record (used by Prune).
func (m *MetaIndex) DeleteGeneration(id uint64) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketGenerations)).Delete(encodeU64(id))
	})
}

// PinGeneration marks a generation non-collectable.
func (m *MetaIndex) PinGeneration(id uint64) error {
	return m.setPinned(id, true)
}

// UnpinGeneration clears a generation's pinned flag.
func (m *MetaIndex) UnpinGeneration(id uint64) error {
	return m.setPinned(id, false)
}

func (m *MetaIndex) setPinned(id uint64, pinned bool) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketGenerations))
		data := b.Get(encodeU64(id))
		if data == nil {
			return fmt.Errorf("generation %d not found", id)
		}
		var rec types.GenerationRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		rec.Pinned = pinned
		out, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(encodeU64(id), out)
	})
}

// RecordCurrentGeneration records id as the active generation.
func (m *MetaIndex) RecordCurrentGeneration(id uint64) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketState)).Put(stateKeyCurrentGeneration, encodeU64(id))
	})
}

// CurrentGenerationID returns the recorded active generation id, if any has
// ever been recorded.
func (m *MetaIndex) CurrentGenerationID() (uint64, bool, error) {
	var id uint64
	found := false
	err := m.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketState)).Get(stateKeyCurrentGeneration)
		if v == nil {
			return nil
		}
		found = true
		id = decodeU64(v)
		return nil
	})
	return id, found, err
}

// nowFunc is indirected so generation-creation timestamps stay overridable
// in tests without needing wall-clock mocking infrastructure.
var nowFunc = func() time.Time { return time.Now().UTC() }
