// Package vcsprobe implements the VCS probe interface from spec.md §6:
// list_tags(repo_url) -> [string], by shelling out to "git ls-remote".
package vcsprobe

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Probe resolves a repository URL's tag names. internal/resolver depends on
// this interface, not on GitProbe, so tests can supply a fixed tag list
// (spec.md §8 scenario S4).
type Probe interface {
	ListTags(ctx context.Context, repoURL string) ([]string, error)
}

// GitProbe runs "git ls-remote --tags --refs <url>" and strips the
// "refs/tags/" prefix from each ref line, per spec.md §6.
type GitProbe struct{}

// ListTags implements Probe.
func (GitProbe) ListTags(ctx context.Context, repoURL string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "ls-remote", "--tags", "--refs", repoURL)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("git ls-remote %s: %w: %s", repoURL, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("git ls-remote %s: %w", repoURL, err)
	}

	var tags []string
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		const prefix = "refs/tags/"
		if tag, ok := strings.CutPrefix(fields[1], prefix); ok {
			tags = append(tags, tag)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse git ls-remote output for %s: %w", repoURL, err)
	}
	return tags, nil
}
