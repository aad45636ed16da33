package install

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/schaermu/shipway/internal/project"
	"github.com/schaermu/shipway/internal/remote"
)

// Transfer stages a local build artifact (file or directory) on the remote
// host for the duration of a callback and removes it afterwards. It is
// meant for transient staging, for example uploading a wheel directory a
// VirtualEnv installation then installs from, not for populating release
// directories.
type Transfer struct {
	localPath      string
	remotePath     string
	remoteArtifact string
	runner         remote.Runner
}

// NewTransfer creates a transfer of localPath into the remote directory
// remotePath. Trailing path separators on both inputs are ignored; the
// staged location is always remotePath/basename(localPath).
func NewTransfer(localPath, remotePath string, runner remote.Runner) (*Transfer, error) {
	localPath = strings.TrimRight(localPath, "/")
	remotePath = strings.TrimRight(remotePath, "/")

	if localPath == "" {
		return nil, fmt.Errorf("%w: local path is required", project.ErrInvalidArgument)
	}
	if remotePath == "" {
		return nil, fmt.Errorf("%w: remote path is required", project.ErrInvalidArgument)
	}

	return &Transfer{
		localPath:      localPath,
		remotePath:     remotePath,
		remoteArtifact: path.Join(remotePath, filepath.Base(localPath)),
		runner:         runner,
	}, nil
}

// Do uploads the local path, invokes fn with the staged remote location,
// and removes that location again on every exit path, including an fn
// failure or panic.
func (t *Transfer) Do(ctx context.Context, fn func(ctx context.Context, remotePath string) error) (err error) {
	if _, err := t.runner.Run(ctx, "mkdir", "-p", t.remotePath); err != nil {
		return fmt.Errorf("failed to create staging directory %s: %w", t.remotePath, err)
	}
	if err := t.runner.Put(ctx, t.localPath, t.remotePath, remote.PutOptions{}); err != nil {
		return fmt.Errorf("failed to upload %s: %w", t.localPath, err)
	}

	defer func() {
		if _, cleanupErr := t.runner.Run(ctx, "rm", "-rf", t.remoteArtifact); cleanupErr != nil && err == nil {
			err = fmt.Errorf("failed to remove staged artifact %s: %w", t.remoteArtifact, cleanupErr)
		}
	}()

	return fn(ctx, t.remoteArtifact)
}
