package install

import (
	"context"
	"fmt"
	"path"

	"github.com/schaermu/shipway/internal/project"
	"github.com/schaermu/shipway/internal/remote"
)

// defaultVenvTool is used to create virtual environments when no explicit
// tool path is configured; it must be on the remote PATH.
const defaultVenvTool = "virtualenv"

// VirtualEnvOptions holds the optional configuration of a VirtualEnv
// installation.
type VirtualEnvOptions struct {
	// Sources are alternative package indexes (URLs or file paths). When
	// non-empty the default index is disabled and every source is passed
	// as a --find-links location. Mutually exclusive with default index
	// use.
	Sources []string
	// VenvPath is the path of the virtualenv tool on the remote host.
	VenvPath string
	// Upgrade re-installs packages at their most recent version even when
	// they are already present in the environment.
	Upgrade bool
}

// VirtualEnv installs one or more packages into a virtual environment
// created at the release path. If the environment does not exist yet it is
// created during the install.
type VirtualEnv struct {
	paths    project.Paths
	packages []string
	opts     VirtualEnvOptions
	runner   remote.Runner
}

// NewVirtualEnv creates a virtual-environment installation for the project
// rooted at base. At least one package is required.
func NewVirtualEnv(base string, packages []string, opts VirtualEnvOptions, runner remote.Runner) (*VirtualEnv, error) {
	paths, err := project.NewPaths(base)
	if err != nil {
		return nil, err
	}

	if len(packages) == 0 {
		return nil, fmt.Errorf("%w: at least one package is required", project.ErrInvalidArgument)
	}

	if opts.VenvPath == "" {
		opts.VenvPath = defaultVenvTool
	}

	return &VirtualEnv{
		paths:    paths,
		packages: append([]string(nil), packages...),
		opts:     opts,
		runner:   runner,
	}, nil
}

// Install creates the virtual environment for the release if needed and
// installs the configured packages into it.
func (v *VirtualEnv) Install(ctx context.Context, releaseID string) error {
	releasePath := v.paths.Release(releaseID)

	exists, err := v.runner.Exists(ctx, releasePath)
	if err != nil {
		return fmt.Errorf("failed to check virtual environment %s: %w", releasePath, err)
	}
	if !exists {
		if _, err := v.runner.Run(ctx, v.opts.VenvPath, releasePath); err != nil {
			return fmt.Errorf("failed to create virtual environment %s: %w", releasePath, err)
		}
	}

	argv := []string{path.Join(releasePath, "bin", "pip"), "install"}
	if v.opts.Upgrade {
		argv = append(argv, "--upgrade")
	}
	argv = append(argv, v.sourceArgs()...)
	argv = append(argv, v.packages...)

	if _, err := v.runner.Run(ctx, argv...); err != nil {
		return fmt.Errorf("failed to install packages into %s: %w", releasePath, err)
	}
	return nil
}

// sourceArgs returns the pip arguments selecting alternative package
// indexes, empty when no sources are configured.
func (v *VirtualEnv) sourceArgs() []string {
	if len(v.opts.Sources) == 0 {
		return nil
	}

	args := []string{"--no-index"}
	for _, source := range v.opts.Sources {
		args = append(args, "--find-links", source)
	}
	return args
}
