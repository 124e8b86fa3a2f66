package types

import "time"

// FileEntry describes one file discovered while scanning a staging tree for
// ingest, or recorded as part of a StoredPackage's file list.
type FileEntry struct {
	// RelPath is the path relative to the tree root, using forward slashes.
	RelPath string
	// Hash is the content hash of the file's bytes. Zero for symlinks and
	// directories, which are not content-addressed individually.
	Hash ContentHash
	// Size is the file size in bytes (0 for directories and symlinks).
	Size int64
	// Mode carries the POSIX permission bits.
	Mode uint32
	// IsExecutable is set when any execute bit (owner, group or other) is
	// set, kept as a first-class
	// field because ingest must preserve it independent of platform mode
	// interpretation.
	IsExecutable bool
	// IsDir marks a directory entry (no content, no hash).
	IsDir bool
	// IsSymlink marks a symlink entry; SymlinkTarget is then meaningful.
	IsSymlink bool
	// SymlinkTarget is the verbatim target of a symlink entry.
	SymlinkTarget string
}

// StoredPackage is a package committed to the content-addressed store.
type StoredPackage struct {
	PackageHash ContentHash
	Name        string
	Version     string
	// StorePath is relative to the store root.
	StorePath  string
	Size       int64
	Files      []FileEntry
	BuildInfo  PackageMetadata
	Refcount   uint64
	IngestedAt time.Time
}

// PackageMetadata records provenance for a StoredPackage.
type PackageMetadata struct {
	BuildSystem     string
	BuildFlags      []string
	SourceRef       string
	BuilderHost     string
	ResolvedVersion string
}

// GenerationRecord is an immutable snapshot of a resolved configuration,
// identified by a monotonically increasing id.
type GenerationRecord struct {
	ID             uint64
	CreatedAt      time.Time
	Manifest       []ContentHash
	ConfigSnapshot string
	Pinned         bool
}

// TrashEntry describes a package staged for deletion.
type TrashEntry struct {
	// Name is "<hash>-<unix_ts>", the directory name under .trash/.
	Name         string
	OriginalPath string
	ScheduledAt  time.Time
}
