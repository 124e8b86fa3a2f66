// Package resolver resolves a set of declared packages (spec.md §4.6)
// into a dependency-ordered list of ResolvedPackage: "latest" version specs
// are resolved against a VCS probe's tag list, template variables in
// source/prebuilt URLs are interpolated, and the result is ordered by
// Kahn's algorithm so every package appears after all of its dependencies.
package resolver

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/nexis-project/nexispm/internal/config"
	"github.com/nexis-project/nexispm/internal/types"
	"github.com/nexis-project/nexispm/internal/vcsprobe"
)

// ResolvedPackage is a PackageConfig with its version spec resolved to a
// concrete reference and its build position fixed by dependency order.
type ResolvedPackage struct {
	Config           config.PackageConfig
	ResolvedVersion  string
	ResolvedSource   string
	ResolvedPrebuilt string
	BuildOrder       int
}

// defaultCacheTTL is the VCS tag-list cache lifetime (spec.md §4.6).
const defaultCacheTTL = 5 * time.Minute

type tagCacheEntry struct {
	tags      []string
	fetchedAt time.Time
}

// Resolver resolves package version specs and orders packages for build,
// caching VCS tag lookups per repository URL.
type Resolver struct {
	probe vcsprobe.Probe
	ttl   time.Duration

	cacheMu sync.Mutex
	cache   map[string]tagCacheEntry
}

// New constructs a Resolver backed by probe, using the default 5-minute
// tag-list cache TTL.
func New(probe vcsprobe.Probe) *Resolver {
	return &Resolver{probe: probe, ttl: defaultCacheTTL, cache: make(map[string]tagCacheEntry)}
}

// NewWithTTL constructs a Resolver with a non-default cache TTL, mainly for
// tests that want to observe cache expiry deterministically.
func NewWithTTL(probe vcsprobe.Probe, ttl time.Duration) *Resolver {
	return &Resolver{probe: probe, ttl: ttl, cache: make(map[string]tagCacheEntry)}
}

// ResolveAll resolves every package's version spec and returns them in
// dependency order: for edge (a depends on b), position(b) < position(a)
// (spec.md §8 invariant 6).
func (r *Resolver) ResolveAll(ctx context.Context, packages []config.PackageConfig) ([]ResolvedPackage, error) {
	resolved := make(map[string]ResolvedPackage, len(packages))
	for _, pkg := range packages {
		rp, err := r.resolveVersion(ctx, pkg)
		if err != nil {
			return nil, fmt.Errorf("resolve package %q: %w", pkg.Name, err)
		}
		resolved[pkg.Name] = rp
	}

	order, err := topologicalOrder(packages)
	if err != nil {
		return nil, err
	}

	out := make([]ResolvedPackage, len(order))
	for i, name := range order {
		rp := resolved[name]
		rp.BuildOrder = i
		out[i] = rp
	}
	return out, nil
}

func (r *Resolver) resolveVersion(ctx context.Context, pkg config.PackageConfig) (ResolvedPackage, error) {
	version := pkg.Version
	if pkg.IsLatest() {
		if pkg.Source == "" {
			return ResolvedPackage{}, &ResolutionError{
				Kind: KindNoValidTags, Package: pkg.Name,
				Detail: "cannot resolve 'latest' version without a source repository",
			}
		}
		resolved, err := r.resolveLatest(ctx, pkg.Name, pkg.Source)
		if err != nil {
			return ResolvedPackage{}, err
		}
		version = resolved
	}

	return ResolvedPackage{
		Config:           pkg,
		ResolvedVersion:  version,
		ResolvedSource:   interpolate(pkg.Source, pkg.Name, version),
		ResolvedPrebuilt: interpolate(pkg.Prebuilt, pkg.Name, version),
	}, nil
}

func (r *Resolver) resolveLatest(ctx context.Context, name, repoURL string) (string, error) {
	tags, err := r.tagsFor(ctx, name, repoURL)
	if err != nil {
		return "", err
	}
	tag, err := latestTag(tags)
	if err != nil {
		return "", &ResolutionError{Kind: KindNoValidTags, Package: name, Detail: err.Error()}
	}
	return tag, nil
}

func (r *Resolver) tagsFor(ctx context.Context, name, repoURL string) ([]string, error) {
	r.cacheMu.Lock()
	if entry, ok := r.cache[repoURL]; ok && time.Since(entry.fetchedAt) < r.ttl {
		r.cacheMu.Unlock()
		return entry.tags, nil
	}
	r.cacheMu.Unlock()

	tags, err := r.probe.ListTags(ctx, repoURL)
	if err != nil {
		return nil, &ResolutionError{Kind: KindNetworkFailure, Package: name, Detail: err.Error(), Cause: err}
	}
	if len(tags) == 0 {
		return nil, &ResolutionError{Kind: KindNoValidTags, Package: name, Detail: "repository has no tags"}
	}

	r.cacheMu.Lock()
	r.cache[repoURL] = tagCacheEntry{tags: tags, fetchedAt: time.Now()}
	r.cacheMu.Unlock()

	return tags, nil
}

// interpolate fills {name}, {version}, {tag}, and {arch} into template. An
// empty template interpolates to empty, so optional URLs stay unset.
func interpolate(template, name, version string) string {
	if template == "" {
		return ""
	}
	replacer := strings.NewReplacer(
		"{name}", name,
		"{version}", version,
		"{tag}", version,
		"{arch}", runtime.GOARCH,
	)
	return replacer.Replace(template)
}
