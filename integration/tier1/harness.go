//go:build integration

package tier1

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/schaermu/shipway/internal/config"
	"github.com/schaermu/shipway/internal/deploy"
	"github.com/schaermu/shipway/internal/release"
	"github.com/schaermu/shipway/internal/remote"
)

const defaultTimeout = 2 * time.Minute

// Harness drives real deploys against a temporary directory acting as the
// deployment target. Every remote operation runs through the local runner,
// so the full symlink and release-directory semantics are exercised on a
// real filesystem without an SSH server.
type Harness struct {
	t       *testing.T
	cfg     *config.Config
	runner  remote.Runner
	manager *release.Manager
	logger  *slog.Logger

	// Base is the deployment target root, Site the local directory the
	// static files strategy uploads from.
	Base string
	Site string
}

// NewHarness creates a harness rooted in fresh temporary directories.
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	base := filepath.Join(t.TempDir(), "target")
	if err := os.MkdirAll(base, 0o755); err != nil {
		t.Fatalf("create target dir: %v", err)
	}

	site := filepath.Join(t.TempDir(), "site")
	if err := os.MkdirAll(site, 0o755); err != nil {
		t.Fatalf("create site dir: %v", err)
	}

	cfg := &config.Config{
		Target: config.TargetConfig{Local: true, Base: base},
		Deploy: config.DeployConfig{Keep: 2, StateDir: t.TempDir()},
		Install: config.InstallConfig{
			Strategy: config.StrategyStatic,
			Static:   config.StaticConfig{LocalPath: site},
		},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := remote.NewLocalRunner()

	manager, err := release.NewManager(base, runner, logger)
	if err != nil {
		t.Fatalf("create release manager: %v", err)
	}

	return &Harness{
		t:       t,
		cfg:     cfg,
		runner:  runner,
		manager: manager,
		logger:  logger,
		Base:    base,
		Site:    site,
	}
}

// Engine builds a deploy engine for the configured strategy.
func (h *Harness) Engine() *deploy.Engine {
	h.t.Helper()

	strategy, err := deploy.NewStrategy(h.cfg, h.runner, h.logger)
	if err != nil {
		h.t.Fatalf("create strategy: %v", err)
	}
	return deploy.NewEngine(h.cfg, strategy, h.manager, h.logger, false)
}

// Manager returns the release manager bound to the target.
func (h *Harness) Manager() *release.Manager {
	return h.manager
}

// Config returns the harness configuration for test-specific tweaks.
func (h *Harness) Config() *config.Config {
	return h.cfg
}

// WriteSite replaces the static site content with the given files, keyed by
// relative path.
func (h *Harness) WriteSite(files map[string]string) {
	h.t.Helper()

	if err := os.RemoveAll(h.Site); err != nil {
		h.t.Fatalf("clear site dir: %v", err)
	}
	for name, content := range files {
		path := filepath.Join(h.Site, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			h.t.Fatalf("create site subdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			h.t.Fatalf("write site file: %v", err)
		}
	}
}

// CurrentTarget resolves the "current" symlink on the target and returns
// the release directory it points at, or the empty string when the link
// does not exist.
func (h *Harness) CurrentTarget() string {
	h.t.Helper()

	target, err := os.Readlink(filepath.Join(h.Base, "current"))
	if err != nil {
		return ""
	}
	return target
}

// ReleaseDirs lists the release directories on the target, sorted oldest
// first as returned by the filesystem.
func (h *Harness) ReleaseDirs() []string {
	h.t.Helper()

	entries, err := os.ReadDir(filepath.Join(h.Base, "releases"))
	if err != nil {
		h.t.Fatalf("read releases dir: %v", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

// ReadDeployed reads a file from the currently active release through the
// "current" symlink.
func (h *Harness) ReadDeployed(name string) string {
	h.t.Helper()

	data, err := os.ReadFile(filepath.Join(h.Base, "current", name))
	if err != nil {
		h.t.Fatalf("read deployed file %s: %v", name, err)
	}
	return string(data)
}
