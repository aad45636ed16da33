package install

import (
	"context"
	"fmt"
	"strings"

	"github.com/schaermu/shipway/internal/project"
	"github.com/schaermu/shipway/internal/remote"
)

// StaticFiles uploads the contents of a local directory into the release
// directory, e.g. a pre-built static site.
type StaticFiles struct {
	paths     project.Paths
	localPath string
	runner    remote.Runner
}

// NewStaticFiles creates a static-file installation for the project rooted
// at base. Trailing glob markers and path separators on localPath are
// stripped, so "site/", "site/*" and "site" are equivalent.
func NewStaticFiles(base, localPath string, runner remote.Runner) (*StaticFiles, error) {
	paths, err := project.NewPaths(base)
	if err != nil {
		return nil, err
	}

	localPath = strings.TrimRight(strings.TrimRight(localPath, "*"), "/")
	if localPath == "" {
		return nil, fmt.Errorf("%w: local path is required", project.ErrInvalidArgument)
	}

	return &StaticFiles{paths: paths, localPath: localPath, runner: runner}, nil
}

// Install uploads the directory contents, not the directory itself, into
// the release directory.
func (s *StaticFiles) Install(ctx context.Context, releaseID string) error {
	releasePath := s.paths.Release(releaseID)
	if err := ensureReleaseDir(ctx, s.runner, releasePath); err != nil {
		return err
	}

	if err := s.runner.Put(ctx, s.localPath+"/*", releasePath, remote.PutOptions{}); err != nil {
		return fmt.Errorf("failed to upload %s: %w", s.localPath, err)
	}
	return nil
}
