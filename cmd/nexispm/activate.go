package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <generation-id>",
		Short: "Atomically switch the current generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid generation id %q: %w", args[0], err)
			}

			e, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			if err := e.gen.Activate(id); err != nil {
				return fmt.Errorf("activate generation %d: %w", id, err)
			}
			fmt.Printf("activated generation %d\n", id)
			return nil
		},
	}
}
