package resolver

import (
	"fmt"
	"strconv"
	"strings"
)

// semanticVersion is a parsed major.minor.patch[-prerelease] tag, tolerant
// of a leading "v" (spec.md §4.6).
type semanticVersion struct {
	major, minor, patch int
	prerelease          string
	raw                 string
}

// parseSemver parses tag per spec.md §4.6: v-prefix tolerated,
// major.minor[.patch][-prerelease].
func parseSemver(tag string) (semanticVersion, error) {
	trimmed := strings.TrimPrefix(tag, "v")

	core := trimmed
	var prerelease string
	if idx := strings.Index(trimmed, "-"); idx >= 0 {
		core = trimmed[:idx]
		prerelease = trimmed[idx+1:]
	}

	parts := strings.Split(core, ".")
	if len(parts) < 2 {
		return semanticVersion{}, fmt.Errorf("invalid semantic version %q", tag)
	}

	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return semanticVersion{}, fmt.Errorf("invalid semantic version %q: major: %w", tag, err)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return semanticVersion{}, fmt.Errorf("invalid semantic version %q: minor: %w", tag, err)
	}
	patch := 0
	if len(parts) >= 3 {
		patch, err = strconv.Atoi(parts[2])
		if err != nil {
			return semanticVersion{}, fmt.Errorf("invalid semantic version %q: patch: %w", tag, err)
		}
	}

	return semanticVersion{major: major, minor: minor, patch: patch, prerelease: prerelease, raw: tag}, nil
}

// isStable reports whether v carries no prerelease suffix.
func (v semanticVersion) isStable() bool {
	return v.prerelease == ""
}

// less reports whether v sorts before other (v is the older version).
func (v semanticVersion) less(other semanticVersion) bool {
	if v.major != other.major {
		return v.major < other.major
	}
	if v.minor != other.minor {
		return v.minor < other.minor
	}
	if v.patch != other.patch {
		return v.patch < other.patch
	}
	// A prerelease sorts before its corresponding stable release; between
	// two prereleases, fall back to a lexical comparison for determinism.
	if v.prerelease == other.prerelease {
		return false
	}
	if v.prerelease == "" {
		return false
	}
	if other.prerelease == "" {
		return true
	}
	return v.prerelease < other.prerelease
}

// latestTag selects the highest stable tag, falling back to the highest
// prerelease only if no stable tag parses (spec.md §4.6, scenario S4).
func latestTag(tags []string) (string, error) {
	var stable, all []semanticVersion
	for _, t := range tags {
		v, err := parseSemver(t)
		if err != nil {
			continue // not every ref is necessarily a semver tag
		}
		all = append(all, v)
		if v.isStable() {
			stable = append(stable, v)
		}
	}

	candidates := stable
	if len(candidates) == 0 {
		candidates = all
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no valid semantic version tags found")
	}

	best := candidates[0]
	for _, v := range candidates[1:] {
		if best.less(v) {
			best = v
		}
	}
	return best.raw, nil
}
