package release

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/schaermu/shipway/internal/project"
	"github.com/schaermu/shipway/internal/remote"
)

// DefaultKeep is the number of most recent releases exempt from Cleanup
// pruning when no retention window is configured.
const DefaultKeep = 5

// Manager manipulates the set of releases of a project deployed on a
// remote host. Release ordering relies on releases being named with a
// timestamp-based prefix that sorts naturally, such as the identifiers
// minted by project.NewReleaseID.
type Manager struct {
	paths  project.Paths
	runner remote.Runner
	logger *slog.Logger
}

// NewManager creates a release manager for the project rooted at base.
func NewManager(base string, runner remote.Runner, logger *slog.Logger) (*Manager, error) {
	paths, err := project.NewPaths(base)
	if err != nil {
		return nil, err
	}
	return &Manager{paths: paths, runner: runner, logger: logger}, nil
}

// Current returns the release ID the "current" symlink points at, or the
// empty string when there is no current deployment. A failed resolve is an
// expected state (nothing deployed yet), not an error.
//
// This method performs one remote operation.
func (m *Manager) Current(ctx context.Context) string {
	output, err := m.runner.Run(ctx, "readlink", m.paths.Current)
	if err != nil {
		return ""
	}

	target := strings.TrimSpace(output)
	if target == "" {
		return ""
	}
	return path.Base(target)
}

// List returns all releases, newest first.
//
// This method performs one remote operation.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	output, err := m.runner.Run(ctx, "ls", "-1r", m.paths.Releases)
	if err != nil {
		return nil, fmt.Errorf("failed to list releases: %w", err)
	}
	return project.SplitLines(output), nil
}

// Previous returns the release ID immediately before the current one, or
// the empty string when no previous release can be determined. The lookup
// is positional in the newest-first listing: the entry right after the
// current release is the previous deploy.
//
// This method performs two remote operations.
func (m *Manager) Previous(ctx context.Context) (string, error) {
	releases, err := m.List(ctx)
	if err != nil {
		return "", err
	}
	if len(releases) == 0 {
		return "", nil
	}

	current := m.Current(ctx)
	if current == "" {
		return "", nil
	}

	for i, release := range releases {
		if release == current {
			if i+1 < len(releases) {
				return releases[i+1], nil
			}
			return "", nil
		}
	}
	return "", nil
}

// SetCurrent atomically points the "current" symlink at the given release.
//
// This method performs two remote operations.
func (m *Manager) SetCurrent(ctx context.Context, releaseID string) error {
	return m.setCurrent(ctx, releaseID, uuid.NewString())
}

// setCurrent performs the cutover with a caller-chosen temporary link
// name, so tests can assert the exact commands issued.
func (m *Manager) setCurrent(ctx context.Context, releaseID, rand string) error {
	tmpLink := path.Join(m.paths.Base, rand)
	target := m.paths.Release(releaseID)

	// Create a link under a random name pointing at the new release, then
	// rename it over "current". The rename is atomic at the filesystem
	// level, so observers see either the old or the new release, never an
	// intermediate state. If the rename fails the temporary link is left
	// behind for external recovery; no rollback is attempted.
	if _, err := m.runner.Run(ctx, "ln", "-s", target, tmpLink); err != nil {
		return fmt.Errorf("failed to create release link for %s: %w", releaseID, err)
	}
	if _, err := m.runner.Run(ctx, "mv", "-T", tmpLink, m.paths.Current); err != nil {
		return fmt.Errorf("failed to activate release %s: %w", releaseID, err)
	}

	m.logger.Info("current release updated", "release", releaseID)
	return nil
}

// Cleanup removes all but the keep most recent releases. The release the
// "current" symlink points at is never removed, even when it falls outside
// the retention window. Deletions are independent remote operations; a
// failure partway through leaves the remaining candidates for the next
// Cleanup run.
//
// This method performs N + 2 remote operations where N is the number of
// releases removed.
func (m *Manager) Cleanup(ctx context.Context, keep int) error {
	releases, err := m.List(ctx)
	if err != nil {
		return err
	}
	if keep < 0 {
		keep = 0
	}
	if len(releases) <= keep {
		return nil
	}

	current := m.Current(ctx)

	for _, release := range releases[keep:] {
		if release == current {
			continue
		}

		m.logger.Info("removing old release", "release", release)
		if _, err := m.runner.Run(ctx, "rm", "-rf", m.paths.Release(release)); err != nil {
			return fmt.Errorf("failed to remove release %s: %w", release, err)
		}
	}

	return nil
}
