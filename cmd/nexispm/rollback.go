package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback",
		Short: "Activate the most recent generation other than the current one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			if err := e.gen.Rollback(); err != nil {
				return fmt.Errorf("rollback: %w", err)
			}

			rec, _, err := e.gen.Current()
			if err == nil {
				fmt.Printf("rolled back to generation %d\n", rec.ID)
			}
			return nil
		},
	}
}
