package deploy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/schaermu/shipway/internal/config"
	"github.com/schaermu/shipway/internal/install"
	"github.com/schaermu/shipway/internal/release"
	"github.com/schaermu/shipway/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStrategy records the release IDs it was asked to install.
type fakeStrategy struct {
	installed []string
	err       error
}

var _ install.Strategy = (*fakeStrategy)(nil)

func (f *fakeStrategy) Install(_ context.Context, releaseID string) error {
	f.installed = append(f.installed, releaseID)
	return f.err
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Target: config.TargetConfig{Host: "deploy.example.com", Base: "/srv/www/myapp", Port: 22},
		Deploy: config.DeployConfig{Keep: 5, StateDir: t.TempDir()},
		Install: config.InstallConfig{
			Strategy: config.StrategyStatic,
			Static:   config.StaticConfig{LocalPath: "./public"},
		},
	}
}

func newTestEngine(t *testing.T, cfg *config.Config, strategy install.Strategy, runner *testutil.ScriptRunner, dryRun bool) *Engine {
	t.Helper()
	manager, err := release.NewManager(cfg.Target.Base, runner, discardLogger())
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	return NewEngine(cfg, strategy, manager, discardLogger(), dryRun)
}

func TestEngineRun(t *testing.T) {
	cfg := testConfig(t)
	strategy := &fakeStrategy{}
	runner := &testutil.ScriptRunner{}
	engine := newTestEngine(t, cfg, strategy, runner, false)

	releaseID, err := engine.Run(context.Background(), "1.2.3")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if !strings.HasSuffix(releaseID, "-1.2.3") {
		t.Errorf("release ID = %q, want version suffix", releaseID)
	}
	if len(strategy.installed) != 1 || strategy.installed[0] != releaseID {
		t.Errorf("installed = %v, want [%s]", strategy.installed, releaseID)
	}

	// The cutover issues ln -s followed by mv -T.
	var sawLink, sawRename bool
	for _, cmd := range runner.Commands {
		switch cmd[0] {
		case "ln":
			sawLink = true
		case "mv":
			sawRename = true
		}
	}
	if !sawLink || !sawRename {
		t.Errorf("expected symlink cutover, got %v", runner.CommandStrings())
	}

	history, err := LoadHistory(cfg)
	if err != nil {
		t.Fatalf("LoadHistory returned error: %v", err)
	}
	if len(history.Entries) != 1 {
		t.Fatalf("history entries = %d, want 1", len(history.Entries))
	}
	entry := history.Entries[0]
	if entry.ReleaseID != releaseID || entry.Version != "1.2.3" || entry.Rollback {
		t.Errorf("unexpected history entry: %+v", entry)
	}
	if entry.Strategy != string(config.StrategyStatic) {
		t.Errorf("entry strategy = %q", entry.Strategy)
	}
}

func TestEngineRun_DryRun(t *testing.T) {
	cfg := testConfig(t)
	strategy := &fakeStrategy{}
	runner := &testutil.ScriptRunner{}
	engine := newTestEngine(t, cfg, strategy, runner, true)

	releaseID, err := engine.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if releaseID == "" {
		t.Error("expected a minted release ID")
	}

	if len(strategy.installed) != 0 {
		t.Errorf("dry run must not install, got %v", strategy.installed)
	}
	if len(runner.Commands) != 0 {
		t.Errorf("dry run must not touch the target, got %v", runner.CommandStrings())
	}

	history, err := LoadHistory(cfg)
	if err != nil {
		t.Fatalf("LoadHistory returned error: %v", err)
	}
	if len(history.Entries) != 0 {
		t.Errorf("dry run must not record history, got %v", history.Entries)
	}
}

func TestEngineRun_InstallFailure(t *testing.T) {
	cfg := testConfig(t)
	strategy := &fakeStrategy{err: errors.New("upload failed")}
	runner := &testutil.ScriptRunner{}
	engine := newTestEngine(t, cfg, strategy, runner, false)

	if _, err := engine.Run(context.Background(), ""); err == nil {
		t.Fatal("expected install error, got nil")
	}

	// A failed install must not cut the symlink over.
	for _, cmd := range runner.Commands {
		if cmd[0] == "ln" || cmd[0] == "mv" {
			t.Errorf("unexpected cutover command after failed install: %v", cmd)
		}
	}
}

func TestEngineRun_CleanupFailureIsNotFatal(t *testing.T) {
	cfg := testConfig(t)
	strategy := &fakeStrategy{}
	runner := &testutil.ScriptRunner{
		Errs: map[string]error{
			"ls -1r /srv/www/myapp/releases": errors.New("permission denied"),
		},
	}
	engine := newTestEngine(t, cfg, strategy, runner, false)

	if _, err := engine.Run(context.Background(), ""); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestEngineRollback(t *testing.T) {
	cfg := testConfig(t)
	runner := &testutil.ScriptRunner{
		Outputs: map[string]string{
			"ls -1r /srv/www/myapp/releases":  "20141011145205\n20141011120000\n20141010090000\n",
			"readlink /srv/www/myapp/current": "/srv/www/myapp/releases/20141011145205",
		},
	}
	engine := newTestEngine(t, cfg, &fakeStrategy{}, runner, false)

	releaseID, err := engine.Rollback(context.Background())
	if err != nil {
		t.Fatalf("Rollback returned error: %v", err)
	}
	if releaseID != "20141011120000" {
		t.Errorf("rolled back to %q, want %q", releaseID, "20141011120000")
	}

	history, err := LoadHistory(cfg)
	if err != nil {
		t.Fatalf("LoadHistory returned error: %v", err)
	}
	if len(history.Entries) != 1 || !history.Entries[0].Rollback {
		t.Errorf("unexpected history: %+v", history.Entries)
	}
}

func TestEngineRollback_NoPrevious(t *testing.T) {
	cfg := testConfig(t)
	runner := &testutil.ScriptRunner{
		Outputs: map[string]string{
			"ls -1r /srv/www/myapp/releases":  "20141011145205\n",
			"readlink /srv/www/myapp/current": "/srv/www/myapp/releases/20141011145205",
		},
	}
	engine := newTestEngine(t, cfg, &fakeStrategy{}, runner, false)

	if _, err := engine.Rollback(context.Background()); err == nil {
		t.Fatal("expected error when no previous release exists")
	}
}

func TestEngineRollback_DryRun(t *testing.T) {
	cfg := testConfig(t)
	runner := &testutil.ScriptRunner{
		Outputs: map[string]string{
			"ls -1r /srv/www/myapp/releases":  "20141011145205\n20141011120000\n",
			"readlink /srv/www/myapp/current": "/srv/www/myapp/releases/20141011145205",
		},
	}
	engine := newTestEngine(t, cfg, &fakeStrategy{}, runner, true)

	releaseID, err := engine.Rollback(context.Background())
	if err != nil {
		t.Fatalf("Rollback returned error: %v", err)
	}
	if releaseID != "20141011120000" {
		t.Errorf("rolled back to %q", releaseID)
	}

	for _, cmd := range runner.Commands {
		if cmd[0] == "ln" || cmd[0] == "mv" {
			t.Errorf("dry run must not cut over, got %v", cmd)
		}
	}
}

func TestEngineRun_NoStateDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Deploy.StateDir = ""
	engine := newTestEngine(t, cfg, &fakeStrategy{}, &testutil.ScriptRunner{}, false)

	if _, err := engine.Run(context.Background(), ""); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	history, err := LoadHistory(cfg)
	if err != nil {
		t.Fatalf("LoadHistory returned error: %v", err)
	}
	if len(history.Entries) != 0 {
		t.Errorf("expected empty history without a state dir, got %v", history.Entries)
	}
}

func TestLoadHistory_CorruptFile(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(cfg.Deploy.StateDir, "history.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("failed to write history file: %v", err)
	}

	if _, err := LoadHistory(cfg); err == nil {
		t.Fatal("expected error for corrupt history file")
	}
}

func TestHistoryAccumulates(t *testing.T) {
	cfg := testConfig(t)
	engine := newTestEngine(t, cfg, &fakeStrategy{}, &testutil.ScriptRunner{}, false)

	first, err := engine.Run(context.Background(), "1.0.0")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	second, err := engine.Run(context.Background(), "1.0.1")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	history, err := LoadHistory(cfg)
	if err != nil {
		t.Fatalf("LoadHistory returned error: %v", err)
	}
	if len(history.Entries) != 2 {
		t.Fatalf("history entries = %d, want 2", len(history.Entries))
	}
	if history.Entries[0].ReleaseID != first || history.Entries[1].ReleaseID != second {
		t.Errorf("history order wrong: %+v", history.Entries)
	}
}

func TestNewStrategy(t *testing.T) {
	runner := &testutil.ScriptRunner{}
	logger := discardLogger()

	for _, tc := range []struct {
		name   string
		mutate func(*config.Config)
		ok     bool
	}{
		{name: "static", mutate: func(c *config.Config) {}, ok: true},
		{
			name: "artifact",
			mutate: func(c *config.Config) {
				c.Install.Strategy = config.StrategyArtifact
				c.Install.Artifact.LocalPath = "dist/app.jar"
			},
			ok: true,
		},
		{
			name: "http",
			mutate: func(c *config.Config) {
				c.Install.Strategy = config.StrategyHTTP
				c.Install.HTTP.URL = "https://host/path/app.jar"
			},
			ok: true,
		},
		{
			name: "virtualenv",
			mutate: func(c *config.Config) {
				c.Install.Strategy = config.StrategyVirtualEnv
				c.Install.VirtualEnv.Packages = []string{"myapp"}
			},
			ok: true,
		},
		{
			name:   "unknown",
			mutate: func(c *config.Config) { c.Install.Strategy = "rsync" },
			ok:     false,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			tc.mutate(cfg)

			strategy, err := NewStrategy(cfg, runner, logger)
			if tc.ok {
				if err != nil {
					t.Fatalf("NewStrategy returned error: %v", err)
				}
				if strategy == nil {
					t.Fatal("NewStrategy returned nil strategy")
				}
				return
			}
			if err == nil {
				t.Fatal("expected error for unknown strategy")
			}
		})
	}
}

func TestNewRunner(t *testing.T) {
	cfg := testConfig(t)
	if _, err := NewRunner(cfg); err != nil {
		t.Fatalf("NewRunner returned error: %v", err)
	}

	cfg.Target.Host = ""
	cfg.Target.Local = true
	if _, err := NewRunner(cfg); err != nil {
		t.Fatalf("NewRunner (local) returned error: %v", err)
	}
}
