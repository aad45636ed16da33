package project

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/schaermu/shipway/internal/remote"
)

// ErrInvalidArgument is returned when a component is constructed with a
// missing or malformed required argument. It is always raised at
// construction time, never deferred to first use.
var ErrInvalidArgument = errors.New("invalid argument")

// Default permission sets applied by Setup.SetPermissions.
const (
	PermsFileDefault = "u+rw,g+rw,o+r"
	PermsDirDefault  = "u+rwx,g+rws,o+rx"
)

// releaseIDFormat is the timestamp layout for release identifiers. The
// zero-padded 14-digit form guarantees that lexicographic order of release
// IDs equals chronological order.
const releaseIDFormat = "20060102150405"

// CurrentPath returns the path of the "current release" symlink for the
// given project base directory. It does not check that the symlink exists.
func CurrentPath(base string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("%w: project base directory is required", ErrInvalidArgument)
	}
	return path.Join(base, "current"), nil
}

// ReleasesPath returns the path of the directory holding all releases for
// the given project base directory. It does not check that the directory
// exists.
func ReleasesPath(base string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("%w: project base directory is required", ErrInvalidArgument)
	}
	return path.Join(base, "releases"), nil
}

// NewReleaseID returns a unique, time-based identifier for a deployment.
// The timestamp component is the current time in UTC. When version is
// non-empty the ID has the form "<timestamp>-<version>", otherwise just
// "<timestamp>". Two calls within the same second without a version
// collide; callers needing disambiguation should supply a version.
func NewReleaseID(version string) string {
	ts := time.Now().UTC().Format(releaseIDFormat)
	if version == "" {
		return ts
	}
	return ts + "-" + version
}

// SplitLines splits remote command output into trimmed lines.
//
// Both \r\n and \n are supported since TTY devices on POSIX systems use
// \r\n in some instances. Empty or whitespace-only input yields nil, and
// input without any newline yields a single-element slice.
func SplitLines(content string) []string {
	stripped := strings.TrimSpace(content)
	if stripped == "" {
		return nil
	}

	sep := "\n"
	if strings.Contains(stripped, "\r\n") {
		sep = "\r\n"
	}

	parts := strings.Split(stripped, sep)
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}

// Paths holds the derived directory layout of a single deployable project.
type Paths struct {
	Base     string
	Current  string
	Releases string
}

// NewPaths derives the current-symlink and releases-directory paths from
// the project base directory.
func NewPaths(base string) (Paths, error) {
	current, err := CurrentPath(base)
	if err != nil {
		return Paths{}, err
	}

	releases, err := ReleasesPath(base)
	if err != nil {
		return Paths{}, err
	}

	return Paths{Base: base, Current: current, Releases: releases}, nil
}

// Release returns the directory path of the given release ID.
func (p Paths) Release(releaseID string) string {
	return path.Join(p.Releases, releaseID)
}

// Setup performs the initial creation of project directories on the remote
// host and assigns ownership and permissions.
type Setup struct {
	paths  Paths
	runner remote.Runner
}

// NewSetup creates a Setup for the given project base directory.
func NewSetup(base string, runner remote.Runner) (*Setup, error) {
	paths, err := NewPaths(base)
	if err != nil {
		return nil, err
	}
	return &Setup{paths: paths, runner: runner}, nil
}

// Directories creates the minimal directory layout required for deploying
// multiple releases of a project. With useSudo the directories are created
// with elevated privileges.
func (s *Setup) Directories(ctx context.Context, useSudo bool) error {
	run := s.runner.Run
	if useSudo {
		run = s.runner.Sudo
	}

	if _, err := run(ctx, "mkdir", "-p", s.paths.Releases); err != nil {
		return fmt.Errorf("failed to create releases directory: %w", err)
	}
	return nil
}

// SetPermissions sets the owner and permissions of the code deploy. The
// owner ("user:group") is applied recursively to the whole base directory,
// directory permissions to the base and releases directories only, and
// file permissions recursively. Empty filePerms or dirPerms fall back to
// the package defaults. Ownership changes are skipped when useSudo is
// false since they would fail for an unprivileged user anyway.
func (s *Setup) SetPermissions(ctx context.Context, owner, filePerms, dirPerms string, useSudo bool) error {
	if filePerms == "" {
		filePerms = PermsFileDefault
	}
	if dirPerms == "" {
		dirPerms = PermsDirDefault
	}

	run := s.runner.Run
	if useSudo {
		run = s.runner.Sudo
	}

	if useSudo {
		if _, err := run(ctx, "chown", "-R", owner, s.paths.Base); err != nil {
			return fmt.Errorf("failed to change ownership: %w", err)
		}
	}

	for _, dir := range []string{s.paths.Base, s.paths.Releases} {
		if _, err := run(ctx, "chmod", dirPerms, dir); err != nil {
			return fmt.Errorf("failed to set directory permissions on %s: %w", dir, err)
		}
	}

	if _, err := run(ctx, "chmod", "-R", filePerms, s.paths.Base); err != nil {
		return fmt.Errorf("failed to set file permissions: %w", err)
	}

	return nil
}
