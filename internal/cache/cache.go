// Package cache provides persistent caching of package content hashes so
// Store.Verify does not have to rehash every package's tree on every run.
//
// Packages in the store are append-only: once ingested, a package's
// directory never changes until it is removed (spec.md §3). That makes the
// tuple (store path, recorded size, ingest timestamp) a safe cache key for
// as long as the package's MetaIndex record exists — unlike a general
// file-content cache, there is no mtime-based invalidation to get wrong.
package cache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/nexis-project/nexispm/internal/types"
)

const bucketName = "package-hashes"

// Cache caches a package's recomputed directory hash using BoltDB.
// Implements self-cleaning: each run creates a new database, only used
// entries survive, so entries for removed packages don't accumulate.
type Cache struct {
	readDB  *bolt.DB // existing cache, read-only
	writeDB *bolt.DB // new cache, BoltDB's file lock serializes concurrent runs
	path    string   // final path, for the atomic swap on Close
	enabled bool
}

// Open opens an existing cache for reading and creates a new cache file for
// writing. Returns a disabled cache if path is empty.
func Open(path string) (*Cache, error) {
	if path == "" {
		return &Cache{enabled: false}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	c := &Cache{path: path, enabled: true}
	var err error

	if _, statErr := os.Stat(path); statErr == nil {
		c.readDB, err = bolt.Open(path, 0o600, &bolt.Options{ReadOnly: true, Timeout: time.Second})
		if err != nil {
			c.readDB = nil
		}
	}

	newPath := path + ".new"
	c.writeDB, err = bolt.Open(newPath, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("create new cache (locked by another instance?): %w", err)
	}

	if err := c.writeDB.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		_ = c.Close()
		return nil, err
	}

	return c, nil
}

// Close closes both databases and atomically replaces the old cache with
// the new one. Only replaces if the write database closed successfully, to
// avoid losing the prior run's cache on a mid-close failure.
func (c *Cache) Close() error {
	var errs []error
	if c.readDB != nil {
		if err := c.readDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.writeDB != nil {
		if err := c.writeDB.Close(); err != nil {
			errs = append(errs, err)
		} else if err := os.Rename(c.path+".new", c.path); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

const keyVersion byte = 1

// makeKey builds a deterministic key: ver(1) + storePath + NUL + size(8) +
// ingestedAtUnixNano(8).
func makeKey(storePath string, size int64, ingestedAt time.Time) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(keyVersion)
	buf.WriteString(storePath)
	buf.WriteByte(0)
	_ = binary.Write(buf, binary.BigEndian, size)
	_ = binary.Write(buf, binary.BigEndian, ingestedAt.UnixNano())
	return buf.Bytes()
}

// Lookup retrieves a cached hash for a package. Returns ok=false on a miss.
// On a hit, the entry is copied into the new database (self-cleaning).
func (c *Cache) Lookup(storePath string, size int64, ingestedAt time.Time) (hash types.ContentHash, ok bool, err error) {
	if !c.enabled || c.readDB == nil {
		return types.ContentHash{}, false, nil
	}

	key := makeKey(storePath, size, ingestedAt)
	var raw []byte
	err = c.readDB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		if data := b.Get(key); len(data) == types.HashSize {
			raw = append([]byte(nil), data...)
		}
		return nil
	})
	if err != nil {
		return types.ContentHash{}, false, fmt.Errorf("cache lookup: %w", err)
	}
	if raw == nil {
		return types.ContentHash{}, false, nil
	}

	hash, err = types.ContentHashFromBytes(raw)
	if err != nil {
		return types.ContentHash{}, false, nil
	}
	_ = c.Store(storePath, size, ingestedAt, hash)
	return hash, true, nil
}

// Store saves a package's hash to the new database.
func (c *Cache) Store(storePath string, size int64, ingestedAt time.Time, hash types.ContentHash) error {
	if !c.enabled || c.writeDB == nil {
		return nil
	}
	err := c.writeDB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return b.Put(makeKey(storePath, size, ingestedAt), hash.Bytes())
	})
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}
