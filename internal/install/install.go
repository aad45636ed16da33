// Package install provides the pluggable strategies for placing build
// artifacts into a release directory on the remote host.
package install

import (
	"context"
	"fmt"

	"github.com/schaermu/shipway/internal/remote"
)

// Strategy populates the release directory of a given release ID with
// artifacts. Implementations hold their own immutable configuration and
// are safe to reuse across deploys.
type Strategy interface {
	// Install places artifacts under releases/<releaseID>, creating the
	// directory first if it does not exist.
	Install(ctx context.Context, releaseID string) error
}

// ensureReleaseDir creates the release directory when it is absent. The
// recursive mkdir makes the call idempotent, so concurrent-free repeated
// installs into the same release are safe.
func ensureReleaseDir(ctx context.Context, runner remote.Runner, releasePath string) error {
	exists, err := runner.Exists(ctx, releasePath)
	if err != nil {
		return fmt.Errorf("failed to check release directory %s: %w", releasePath, err)
	}
	if exists {
		return nil
	}

	if _, err := runner.Run(ctx, "mkdir", "-p", releasePath); err != nil {
		return fmt.Errorf("failed to create release directory %s: %w", releasePath, err)
	}
	return nil
}
