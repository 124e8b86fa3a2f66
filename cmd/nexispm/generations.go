package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newGenerationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generations",
		Short: "Inspect and manage recorded generations",
	}
	cmd.AddCommand(newGenerationsListCmd(), newGenerationsPinCmd(), newGenerationsUnpinCmd())
	return cmd
}

func newGenerationsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every recorded generation, most recent first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			records, err := e.gen.List()
			if err != nil {
				return fmt.Errorf("list generations: %w", err)
			}

			current, hasCurrent, err := e.gen.Current()
			if err != nil {
				return fmt.Errorf("read current generation: %w", err)
			}

			for _, rec := range records {
				marker := " "
				if hasCurrent && rec.ID == current.ID {
					marker = "*"
				}
				pinned := ""
				if rec.Pinned {
					pinned = " [pinned]"
				}
				fmt.Printf("%s %d  created %s  %d packages%s\n",
					marker, rec.ID, rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), len(rec.Manifest), pinned)
			}
			return nil
		},
	}
}

func newGenerationsPinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pin <generation-id>",
		Short: "Exempt a generation from GC and pruning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGeneration(cmd, args[0], func(e *engine, id uint64) error {
				return e.gen.Pin(id)
			})
		},
	}
}

func newGenerationsUnpinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unpin <generation-id>",
		Short: "Make a generation eligible for GC and pruning again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGeneration(cmd, args[0], func(e *engine, id uint64) error {
				return e.gen.Unpin(id)
			})
		},
	}
}

func withGeneration(cmd *cobra.Command, idArg string, fn func(*engine, uint64) error) error {
	id, err := strconv.ParseUint(idArg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid generation id %q: %w", idArg, err)
	}

	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	return fn(e, id)
}
