// Command nexispm is a thin Cobra-based entrypoint that wires the engine
// packages together for manual exercising. Production deployments are
// expected to drive internal/store, internal/generation, and internal/gc
// directly or through their own front-end (spec.md §1) — this binary is a
// convenience wrapper, not the system's declarative front-end.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:     "nexispm",
		Short:   "Content-addressed package store and generation manager",
		Version: version + " (" + commit + ")",
	}

	root.PersistentFlags().String("store", "", "Path to the store root (required)")
	root.PersistentFlags().Int("hardlink-ceiling", 0, "Max hardlinks to a single file before falling back to copy")
	_ = root.MarkPersistentFlagRequired("store")

	root.AddCommand(
		newGenerateCmd(),
		newActivateCmd(),
		newRollbackCmd(),
		newGCCmd(),
		newVerifyCmd(),
		newGenerationsCmd(),
	)

	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}
