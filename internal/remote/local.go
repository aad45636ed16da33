package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// LocalRunner implements Runner by executing commands on the local
// machine. It backs deploys to a directory on the deploying host itself
// and the integration test tier, where a real SSH target is unavailable.
type LocalRunner struct{}

// NewLocalRunner creates a runner that executes commands locally.
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{}
}

// Run executes the command locally and returns its combined output.
func (r *LocalRunner) Run(ctx context.Context, argv ...string) (string, error) {
	if len(argv) == 0 {
		return "", fmt.Errorf("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("command %q failed: %w: %s",
			strings.Join(argv, " "), err, string(output))
	}
	return string(output), nil
}

// Sudo executes the command locally without privilege elevation. Local
// targets are assumed to be owned by the invoking user already.
func (r *LocalRunner) Sudo(ctx context.Context, argv ...string) (string, error) {
	return r.Run(ctx, argv...)
}

// Exists reports whether the given local path exists.
func (r *LocalRunner) Exists(ctx context.Context, path string) (bool, error) {
	if _, err := os.Lstat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("existence check for %s failed: %w", path, err)
	}
	return true, nil
}

// Put copies a local path into the destination directory, expanding a
// trailing "/*" glob the same way the SSH runner does.
func (r *LocalRunner) Put(ctx context.Context, localPath, remotePath string, opts PutOptions) error {
	sources := []string{localPath}
	if strings.ContainsAny(localPath, "*?[") {
		matches, err := filepath.Glob(localPath)
		if err != nil {
			return fmt.Errorf("invalid glob %q: %w", localPath, err)
		}
		if len(matches) == 0 {
			return fmt.Errorf("glob %q matched no local files", localPath)
		}
		sources = matches
	}

	args := []string{"-r"}
	if opts.PreserveMode {
		args = append(args, "-p")
	}
	args = append(args, sources...)
	args = append(args, remotePath)

	if _, err := r.Run(ctx, append([]string{"cp"}, args...)...); err != nil {
		return fmt.Errorf("copy %s to %s failed: %w", localPath, remotePath, err)
	}
	return nil
}
