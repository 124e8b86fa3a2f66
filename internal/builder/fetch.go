package builder

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
)

// ArchiveFetcher downloads a prebuilt archive to destPath. The default
// implementation (HTTPFetcher) is a thin net/http client; tests supply a
// fake that copies a local fixture instead of touching the network.
type ArchiveFetcher interface {
	Fetch(ctx context.Context, url, destPath string) error
}

// HTTPFetcher fetches prebuilt archives over plain HTTP(S). Prebuilt
// archives are the only transport this package needs an ad hoc client
// for — source trees are fetched with git, which the resolver's
// internal/vcsprobe package already shells out to (see cloneSource).
type HTTPFetcher struct {
	Client *http.Client
}

// Fetch implements ArchiveFetcher.
func (f HTTPFetcher) Fetch(ctx context.Context, url, destPath string) error {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("write %s: %w", destPath, err)
	}
	return nil
}

// cloneSource fetches a source tree by shelling out to "git clone
// --depth 1 --branch <ref> <url> <dest>", mirroring the git invocation
// pattern internal/vcsprobe already uses for tag listing.
func cloneSource(ctx context.Context, url, ref, dest string) error {
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", "--branch", ref, url, dest)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone %s@%s: %w: %s", url, ref, err, out)
	}
	return nil
}
