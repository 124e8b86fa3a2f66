package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nexis-project/nexispm/internal/backend"
	"github.com/nexis-project/nexispm/internal/bootloader"
	"github.com/nexis-project/nexispm/internal/cache"
	"github.com/nexis-project/nexispm/internal/generation"
	"github.com/nexis-project/nexispm/internal/layout"
	"github.com/nexis-project/nexispm/internal/metaindex"
	"github.com/nexis-project/nexispm/internal/store"
)

// engine bundles the opened components a subcommand needs. Close must be
// called once the subcommand is done.
type engine struct {
	layout    *layout.Layout
	meta      *metaindex.MetaIndex
	store     *store.Store
	gen       *generation.GenerationManager
	hashCache *cache.Cache
}

func openEngine(cmd *cobra.Command) (*engine, error) {
	storeRoot, err := cmd.Flags().GetString("store")
	if err != nil || storeRoot == "" {
		return nil, fmt.Errorf("--store is required")
	}
	hardlinkCeiling, _ := cmd.Flags().GetInt("hardlink-ceiling")

	lay := layout.New(storeRoot)
	if err := os.MkdirAll(lay.MetaDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create meta dir: %w", err)
	}

	meta, err := metaindex.Open(lay.MetaDir() + "/index.db")
	if err != nil {
		return nil, fmt.Errorf("open metaindex: %w", err)
	}

	be, err := backend.Probe(storeRoot, hardlinkCeiling)
	if err != nil {
		_ = meta.Close()
		return nil, fmt.Errorf("probe backend: %w", err)
	}

	hashCachePath := lay.MetaDir() + "/verify-cache.db"
	hashCache, err := cache.Open(hashCachePath)
	if err != nil {
		_ = meta.Close()
		return nil, fmt.Errorf("open hash cache: %w", err)
	}

	st := store.New(lay, meta, be).WithHashCache(hashCache)

	bootDir := storeRoot + "/boot"
	if err := os.MkdirAll(bootDir, 0o755); err != nil {
		_ = meta.Close()
		return nil, fmt.Errorf("create boot dir: %w", err)
	}
	gen := generation.New(lay, meta, st, bootloader.NewGRUBWriter(bootDir+"/grub-nexispm.cfg"))

	return &engine{layout: lay, meta: meta, store: st, gen: gen, hashCache: hashCache}, nil
}

func (e *engine) Close() error {
	_ = e.hashCache.Close()
	return e.meta.Close()
}
