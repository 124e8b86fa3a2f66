package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nexis-project/nexispm/internal/builder"
	"github.com/nexis-project/nexispm/internal/config"
	"github.com/nexis-project/nexispm/internal/resolver"
	"github.com/nexis-project/nexispm/internal/types"
	"github.com/nexis-project/nexispm/internal/vcsprobe"
)

func newGenerateCmd() *cobra.Command {
	var configPath string
	var activate bool

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Build every package in a config and record a new generation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenerate(cmd, configPath, activate)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to config.toml (required)")
	cmd.Flags().BoolVar(&activate, "activate", false, "Activate the new generation immediately")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runGenerate(cmd *cobra.Command, configPath string, activate bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	ctx := context.Background()
	res := resolver.New(vcsprobe.GitProbe{})
	resolved, err := res.ResolveAll(ctx, cfg.Packages)
	if err != nil {
		return fmt.Errorf("resolve packages: %w", err)
	}

	b := builder.New(e.layout.TmpDir(), builder.DefaultTimeouts())
	manifest := make([]types.ContentHash, 0, len(resolved))

	for _, rp := range resolved {
		fmt.Fprintf(os.Stderr, "building %s@%s (%d/%d)\n", rp.Config.Name, rp.ResolvedVersion, rp.BuildOrder+1, len(resolved))

		staging, err := b.Build(ctx, rp)
		if err != nil {
			return fmt.Errorf("build %s: %w", rp.Config.Name, err)
		}

		pkg, err := e.store.Ingest(staging, rp.Config.Name, rp.ResolvedVersion, types.PackageMetadata{
			BuildSystem:     string(rp.Config.BuildSystem),
			BuildFlags:      rp.Config.BuildFlags,
			SourceRef:       rp.ResolvedSource,
			ResolvedVersion: rp.ResolvedVersion,
		})
		_ = os.RemoveAll(staging)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", rp.Config.Name, err)
		}
		manifest = append(manifest, pkg.PackageHash)
	}

	snapshot, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read config snapshot: %w", err)
	}
	rec, err := e.gen.CreateGeneration(manifest, string(snapshot))
	if err != nil {
		return fmt.Errorf("create generation: %w", err)
	}
	fmt.Fprintf(os.Stderr, "created generation %d\n", rec.ID)

	if activate {
		if err := e.gen.Activate(rec.ID); err != nil {
			return fmt.Errorf("activate generation %d: %w", rec.ID, err)
		}
		fmt.Fprintf(os.Stderr, "activated generation %d\n", rec.ID)
	}
	return nil
}
