// Package layout is the single pure function mapping content hashes and
// names to store paths. Every other component computes store paths through
// this package so the on-disk shape (spec.md §6) stays in exactly one place.
package layout

import (
	"path/filepath"
	"strconv"

	"github.com/nexis-project/nexispm/internal/types"
)

// defaultBucketDepth yields 65,536 second-level directories, bounding
// directory fan-out per package/file bucket.
const defaultBucketDepth = 2

// Layout computes on-disk paths rooted at a configurable store root.
type Layout struct {
	root        string
	bucketDepth int
}

// New creates a Layout rooted at root using the default bucket depth.
func New(root string) *Layout {
	return &Layout{root: root, bucketDepth: defaultBucketDepth}
}

// NewWithBucketDepth creates a Layout with a non-default bucket depth
// (number of two-hex-character prefix levels).
func NewWithBucketDepth(root string, bucketDepth int) *Layout {
	return &Layout{root: root, bucketDepth: bucketDepth}
}

// Root returns the store root.
func (l *Layout) Root() string { return l.root }

func (l *Layout) buckets(hexHash string) []string {
	parts := make([]string, 0, l.bucketDepth)
	for i := 0; i < l.bucketDepth; i++ {
		parts = append(parts, hexHash[i*2:i*2+2])
	}
	return parts
}

// PackagePath returns root/packages/H[0:2]/H[2:4]/H-name/.
func (l *Layout) PackagePath(hash types.ContentHash, name string) string {
	hex := hash.String()
	segs := append([]string{l.root, "packages"}, l.buckets(hex)...)
	segs = append(segs, hex+"-"+name)
	return filepath.Join(segs...)
}

// FilePath returns root/files/H[0:2]/H[2:4]/H.
func (l *Layout) FilePath(hash types.ContentHash) string {
	hex := hash.String()
	segs := append([]string{l.root, "files"}, l.buckets(hex)...)
	segs = append(segs, hex)
	return filepath.Join(segs...)
}

// PackagesDir returns root/packages.
func (l *Layout) PackagesDir() string { return filepath.Join(l.root, "packages") }

// FilesDir returns root/files.
func (l *Layout) FilesDir() string { return filepath.Join(l.root, "files") }

// TmpDir returns root/.tmp, for builds in progress.
func (l *Layout) TmpDir() string { return filepath.Join(l.root, ".tmp") }

// TrashDir returns root/.trash, for staged deletes.
func (l *Layout) TrashDir() string { return filepath.Join(l.root, ".trash") }

// MetaDir returns root/meta, for index data.
func (l *Layout) MetaDir() string { return filepath.Join(l.root, "meta") }

// GenerationsDir returns root/generations.
func (l *Layout) GenerationsDir() string { return filepath.Join(l.root, "generations") }

// GenerationDir returns root/generations/<id>.
func (l *Layout) GenerationDir(id uint64) string {
	return filepath.Join(l.GenerationsDir(), strconv.FormatUint(id, 10))
}

// CurrentLink returns root/generations/current.
func (l *Layout) CurrentLink() string { return filepath.Join(l.GenerationsDir(), "current") }

// CurrentLinkTmp returns root/generations/.current.tmp, the staging name for
// the atomic rename that retargets CurrentLink.
func (l *Layout) CurrentLinkTmp() string { return filepath.Join(l.GenerationsDir(), ".current.tmp") }
