package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/schaermu/shipway/internal/config"
	"github.com/schaermu/shipway/internal/install"
	"github.com/schaermu/shipway/internal/project"
	"github.com/schaermu/shipway/internal/release"
	"github.com/schaermu/shipway/internal/remote"
)

// Engine orchestrates the deploy process: mint a release ID, install the
// artifacts, cut the current symlink over, prune old releases, and record
// the deploy in the local history.
type Engine struct {
	cfg      *config.Config
	strategy install.Strategy
	manager  *release.Manager
	logger   *slog.Logger
	dryRun   bool
}

// NewEngine creates a new deploy engine
func NewEngine(cfg *config.Config, strategy install.Strategy, manager *release.Manager, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		cfg:      cfg,
		strategy: strategy,
		manager:  manager,
		logger:   logger,
		dryRun:   dryRun,
	}
}

// Run executes a complete deploy and returns the release ID it activated.
func (e *Engine) Run(ctx context.Context, version string) (string, error) {
	releaseID := project.NewReleaseID(version)

	e.logger.Info("starting deploy",
		"release", releaseID,
		"strategy", string(e.cfg.Install.Strategy),
		"base", e.cfg.Target.Base,
		"dry_run", e.dryRun)

	if e.dryRun {
		e.logger.Info("[dry-run] would install artifacts", "release", releaseID)
		e.logger.Info("[dry-run] would set current release", "release", releaseID)
		e.logger.Info("[dry-run] would prune old releases", "keep", e.cfg.Deploy.Keep)
		e.logger.Info("dry-run complete, no changes applied")
		return releaseID, nil
	}

	if err := e.strategy.Install(ctx, releaseID); err != nil {
		return "", fmt.Errorf("failed to install release %s: %w", releaseID, err)
	}

	if err := e.manager.SetCurrent(ctx, releaseID); err != nil {
		return "", fmt.Errorf("failed to activate release %s: %w", releaseID, err)
	}

	// Pruning runs after a successful cutover; a prune failure leaves old
	// releases behind but must not fail the deploy itself.
	if err := e.manager.Cleanup(ctx, e.cfg.Deploy.Keep); err != nil {
		e.logger.Warn("failed to prune old releases", "error", err)
	}

	e.recordEntry(Entry{
		ReleaseID: releaseID,
		Version:   version,
		Strategy:  string(e.cfg.Install.Strategy),
		Time:      time.Now().UTC(),
	})

	e.logger.Info("deploy completed successfully", "release", releaseID)
	return releaseID, nil
}

// Rollback cuts the current symlink back to the release before the current
// one and returns the release ID it activated.
func (e *Engine) Rollback(ctx context.Context) (string, error) {
	previous, err := e.manager.Previous(ctx)
	if err != nil {
		return "", err
	}
	if previous == "" {
		return "", fmt.Errorf("no previous release to roll back to")
	}

	e.logger.Info("rolling back", "release", previous, "dry_run", e.dryRun)

	if e.dryRun {
		e.logger.Info("[dry-run] would set current release", "release", previous)
		return previous, nil
	}

	if err := e.manager.SetCurrent(ctx, previous); err != nil {
		return "", fmt.Errorf("failed to roll back to release %s: %w", previous, err)
	}

	e.recordEntry(Entry{
		ReleaseID: previous,
		Rollback:  true,
		Time:      time.Now().UTC(),
	})

	e.logger.Info("rollback completed successfully", "release", previous)
	return previous, nil
}

// recordEntry appends an entry to the local deploy history. History is
// best-effort bookkeeping; failures are logged, never fatal.
func (e *Engine) recordEntry(entry Entry) {
	path := e.cfg.HistoryFilePath()
	if path == "" {
		return
	}

	history, err := loadHistory(path)
	if err != nil {
		e.logger.Warn("failed to load deploy history (starting fresh)", "error", err)
		history = &History{}
	}

	history.Entries = append(history.Entries, entry)
	if err := saveHistory(path, history); err != nil {
		e.logger.Warn("failed to save deploy history", "error", err)
	}
}

// LoadHistory reads the deploy history recorded for the configured target.
func LoadHistory(cfg *config.Config) (*History, error) {
	path := cfg.HistoryFilePath()
	if path == "" {
		return &History{}, nil
	}
	return loadHistory(path)
}

// loadHistory loads the history file, tolerating a missing file.
func loadHistory(path string) (*History, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &History{}, nil
		}
		return nil, err
	}

	var history History
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}

	return &history, nil
}

// saveHistory persists the history to disk
func saveHistory(path string, history *History) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// NewRunner creates the remote runner for the configured target.
func NewRunner(cfg *config.Config) (remote.Runner, error) {
	if cfg.Target.Local {
		return remote.NewLocalRunner(), nil
	}
	return remote.NewSSHRunner(cfg.Target.Host, cfg.Target.User, cfg.Target.Port, cfg.Target.IdentityFile)
}

// NewStrategy creates the installation strategy selected by the
// configuration.
func NewStrategy(cfg *config.Config, runner remote.Runner, logger *slog.Logger) (install.Strategy, error) {
	base := cfg.Target.Base

	switch cfg.Install.Strategy {
	case config.StrategyStatic:
		return install.NewStaticFiles(base, cfg.Install.Static.LocalPath, runner)

	case config.StrategyArtifact:
		return install.NewLocalArtifact(base, cfg.Install.Artifact.LocalPath, cfg.Install.Artifact.RemoteName, runner)

	case config.StrategyHTTP:
		return install.NewHTTPArtifact(base, cfg.Install.HTTP.URL, install.HTTPArtifactOptions{
			RemoteName: cfg.Install.HTTP.RemoteName,
			MaxRetries: cfg.Deploy.Retries,
			RetryDelay: cfg.Deploy.RetryDelay.Std(),
		}, runner, logger)

	case config.StrategyVirtualEnv:
		return install.NewVirtualEnv(base, cfg.Install.VirtualEnv.Packages, install.VirtualEnvOptions{
			Sources:  cfg.Install.VirtualEnv.Sources,
			VenvPath: cfg.Install.VirtualEnv.VenvPath,
			Upgrade:  cfg.Install.VirtualEnv.Upgrade,
		}, runner)

	default:
		return nil, fmt.Errorf("unknown install strategy: %s", cfg.Install.Strategy)
	}
}
