package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nexis-project/nexispm/internal/gc"
)

func newGCCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Reclaim packages unreferenced by the current or any pinned generation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			collector := gc.New(e.meta, e.store)
			stats, err := collector.Collect(dryRun)
			if err != nil {
				return fmt.Errorf("collect: %w", err)
			}

			fmt.Printf("examined %d packages, deleted %d, freed %s in %s\n",
				stats.PackagesExamined, stats.PackagesDeleted,
				humanize.Bytes(uint64(stats.BytesFreed)), stats.Duration)
			for _, w := range stats.Warnings {
				fmt.Printf("warning: %s\n", w)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Select collection candidates without marking or deleting anything (prints counts only, not the candidates)")

	return cmd
}
