// Package config defines the Go projection of the declarative configuration
// record described in spec.md §6. Loading, layering, and validating that
// record belongs to an external collaborator (spec.md §1 non-goals); this
// package only carries the shape plus a minimal TOML decoder used by
// cmd/nexispm for local experimentation.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// NexisConfig is the top-level configuration record.
type NexisConfig struct {
	System   SystemConfig            `toml:"system"`
	Packages []PackageConfig          `toml:"packages"`
	GC       GCConfig                 `toml:"gc"`
	Users    map[string]UserConfig    `toml:"users,omitempty"`
	Services map[string]ServiceConfig `toml:"services,omitempty"`
}

// StorageBackend names the filesystem the store root sits on, used only to
// inform backend probe order (spec.md §6).
type StorageBackend string

const (
	StorageBackendExt4 StorageBackend = "ext4"
	StorageBackendXFS  StorageBackend = "xfs"
)

// SystemConfig carries the store-root and filesystem hint.
type SystemConfig struct {
	StorePath      string         `toml:"store_path"`
	StorageBackend StorageBackend `toml:"storage_backend"`
}

// BuildSystem enumerates the toolchains internal/builder knows how to
// invoke as a subprocess.
type BuildSystem string

const (
	BuildSystemMake      BuildSystem = "make"
	BuildSystemConfigure BuildSystem = "configure"
	BuildSystemCMake     BuildSystem = "cmake"
	BuildSystemMeson     BuildSystem = "meson"
	BuildSystemCargo     BuildSystem = "cargo"
	BuildSystemNPM       BuildSystem = "npm"
	BuildSystemPython    BuildSystem = "python"
	BuildSystemCustom    BuildSystem = "custom"
)

// PackageConfig is one declared package entry, as spec.md §6 describes it.
// Version may be an explicit reference (tag, branch, commit) or the literal
// string "latest".
type PackageConfig struct {
	Name              string            `toml:"name"`
	Version           string            `toml:"version"`
	Source            string            `toml:"source,omitempty"`
	Prebuilt          string            `toml:"prebuilt,omitempty"`
	Hash              string            `toml:"hash,omitempty"`
	BuildSystem       BuildSystem       `toml:"build_system,omitempty"`
	BuildFlags        []string          `toml:"build_flags,omitempty"`
	Dependencies      []string          `toml:"dependencies,omitempty"`
	Patches           []string          `toml:"patches,omitempty"`
	PreBuildScript    string            `toml:"pre_build_script,omitempty"`
	PostBuildScript   string            `toml:"post_build_script,omitempty"`
	Env               map[string]string `toml:"env,omitempty"`
	RuntimeDirs       []string          `toml:"runtime_dirs,omitempty"`
	FallbackToSource  bool              `toml:"fallback_to_source,omitempty"`
}

// IsLatest reports whether Version requests resolution against the
// package's VCS tag list.
func (p PackageConfig) IsLatest() bool {
	return p.Version == "latest"
}

// GCConfig carries the garbage collector's retention policy.
type GCConfig struct {
	KeepGenerations int  `toml:"keep_generations"`
	OlderThanDays   *int `toml:"older_than_days,omitempty"`
}

// DefaultKeepGenerations is GCConfig.KeepGenerations's default per spec.md §6.
const DefaultKeepGenerations = 5

// UserConfig and ServiceConfig round out the declarative record for
// completeness; the core engine does not act on them directly (they are
// consumed by whatever applies the generation to a running system), but
// they are part of the record's Go shape so a full config.toml round-trips.
type UserConfig struct {
	Shell  string   `toml:"shell,omitempty"`
	Groups []string `toml:"groups,omitempty"`
}

type ServiceConfig struct {
	Type    string `toml:"type"`
	Command string `toml:"command"`
}

// Load decodes a config.toml file into a NexisConfig. It performs no
// layering, includes, or schema validation beyond what BurntSushi/toml
// itself enforces — those belong to the external collaborator spec.md §1
// names as out of scope.
func Load(path string) (NexisConfig, error) {
	var cfg NexisConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return NexisConfig{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if cfg.GC.KeepGenerations == 0 {
		cfg.GC.KeepGenerations = DefaultKeepGenerations
	}
	return cfg, nil
}
