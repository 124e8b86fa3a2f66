package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVerifyCmd() *cobra.Command {
	var fix bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check store integrity: package hashes, orphan directories, stale tmp entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			issues, err := e.store.Verify(fix)
			if err != nil {
				return fmt.Errorf("verify: %w", err)
			}

			for _, issue := range issues {
				status := "found"
				if issue.Fixed {
					status = "fixed"
				}
				fmt.Printf("[%s] %s: %s (%s)\n", status, issue.Kind, issue.Path, issue.Detail)
			}
			if len(issues) == 0 {
				fmt.Println("store is consistent")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "Repair issues instead of only reporting them")

	return cmd
}
