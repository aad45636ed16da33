package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/schaermu/shipway/internal/config"
	"github.com/schaermu/shipway/internal/deploy"
	"github.com/schaermu/shipway/internal/project"
	"github.com/schaermu/shipway/internal/release"
	"github.com/schaermu/shipway/internal/webhook"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string

	// Command flags
	dryRun        bool
	deployVersion string
	cleanupKeep   int
	setupOwner    string
	setupNoSudo   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "shipway",
	Short: "Deploy timestamped releases to a remote host",
	Long: `shipway manages timestamp-ordered releases of a deployed artifact on a
remote host. Every deploy installs into its own releases/<id> directory and
is activated by atomically repointing the "current" symlink, so a rollback
is nothing more than pointing the symlink back at the previous release.

Artifacts are placed using a configurable installation strategy: a local
directory of static files, a single local artifact, an HTTP-downloaded
artifact, or a Python virtualenv package set.`,
	SilenceUsage: true,
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Install a new release and make it current",
	Long: `Deploy mints a new timestamp-based release ID, installs the configured
artifacts into releases/<id> on the target, atomically cuts the "current"
symlink over to it, and prunes releases outside the retention window.`,
	RunE: runDeploy,
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Reactivate the release before the current one",
	RunE:  runRollback,
}

var releasesCmd = &cobra.Command{
	Use:   "releases",
	Short: "List releases on the target, newest first",
	RunE:  runReleases,
}

var currentCmd = &cobra.Command{
	Use:   "current",
	Short: "Print the currently active release",
	RunE:  runCurrent,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove releases outside the retention window",
	Long: `Cleanup removes all but the most recent releases from the target. The
release the "current" symlink points at is never removed, even when it
falls outside the retention window.`,
	RunE: runCleanup,
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the project directory layout on the target",
	Long: `Setup creates the releases directory on the target and, when an owner is
given, assigns ownership and permissions of the project tree.`,
	RunE: runSetup,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the locally recorded deploy history",
	RunE:  runHistory,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the deploy webhook server",
	Long: `Serve starts a long-running HTTP server that listens for publish events
from a CI system and triggers deploys of the published version.

This mode requires additional configuration for the webhook secret and
listen address.`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("shipway %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/shipway/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Command flags
	deployCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	deployCmd.Flags().StringVar(&deployVersion, "version", "", "version suffix for the release ID")
	cleanupCmd.Flags().IntVar(&cleanupKeep, "keep", 0, "number of releases to keep (default from config)")
	setupCmd.Flags().StringVar(&setupOwner, "owner", "", "owner in user:group form to assign to the project tree")
	setupCmd.Flags().BoolVar(&setupNoSudo, "no-sudo", false, "create directories without privilege elevation")

	// Add commands
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(releasesCmd)
	rootCmd.AddCommand(currentCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// deps bundles the collaborators every command needs.
type deps struct {
	cfg     *config.Config
	manager *release.Manager
	engine  *deploy.Engine
}

func buildDeps(logger *slog.Logger) (*deps, error) {
	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	runner, err := deploy.NewRunner(cfg)
	if err != nil {
		return nil, err
	}

	manager, err := release.NewManager(cfg.Target.Base, runner, logger)
	if err != nil {
		return nil, err
	}

	strategy, err := deploy.NewStrategy(cfg, runner, logger)
	if err != nil {
		return nil, err
	}

	return &deps{
		cfg:     cfg,
		manager: manager,
		engine:  deploy.NewEngine(cfg, strategy, manager, logger, dryRun),
	}, nil
}

func runDeploy(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()
	d, err := buildDeps(logger)
	if err != nil {
		return err
	}

	if _, err := d.engine.Run(ctx, deployVersion); err != nil {
		logger.Error("deploy failed", "error", err)
		return err
	}
	return nil
}

func runRollback(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()
	d, err := buildDeps(logger)
	if err != nil {
		return err
	}

	if _, err := d.engine.Rollback(ctx); err != nil {
		logger.Error("rollback failed", "error", err)
		return err
	}
	return nil
}

func runReleases(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()
	d, err := buildDeps(logger)
	if err != nil {
		return err
	}

	releases, err := d.manager.List(ctx)
	if err != nil {
		return err
	}

	current := d.manager.Current(ctx)
	for _, r := range releases {
		marker := "  "
		if r == current {
			marker = "* "
		}
		fmt.Println(marker + r)
	}
	return nil
}

func runCurrent(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()
	d, err := buildDeps(logger)
	if err != nil {
		return err
	}

	current := d.manager.Current(ctx)
	if current == "" {
		return fmt.Errorf("no current release")
	}
	fmt.Println(current)
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()
	d, err := buildDeps(logger)
	if err != nil {
		return err
	}

	keep := resolveKeep(cmd.Flags().Changed("keep"), cleanupKeep, d.cfg.Deploy.Keep)

	return d.manager.Cleanup(ctx, keep)
}

// resolveKeep picks the retention window: the --keep flag when explicitly
// given (including 0), the configured value otherwise.
func resolveKeep(flagSet bool, flagValue, configured int) int {
	if flagSet {
		return flagValue
	}
	return configured
}

func runSetup(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	runner, err := deploy.NewRunner(cfg)
	if err != nil {
		return err
	}

	setup, err := project.NewSetup(cfg.Target.Base, runner)
	if err != nil {
		return err
	}

	useSudo := !setupNoSudo && !cfg.Target.Local
	logger.Info("creating project directories", "base", cfg.Target.Base, "sudo", useSudo)
	if err := setup.Directories(ctx, useSudo); err != nil {
		return err
	}

	if setupOwner != "" {
		logger.Info("assigning ownership and permissions", "owner", setupOwner)
		if err := setup.SetPermissions(ctx, setupOwner, "", "", useSudo); err != nil {
			return err
		}
	}

	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	logger := setupLogger()
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	history, err := deploy.LoadHistory(cfg)
	if err != nil {
		return err
	}

	for _, entry := range history.Entries {
		kind := "deploy"
		if entry.Rollback {
			kind = "rollback"
		}
		fmt.Printf("%s  %-8s  %s", entry.Time.Format("2006-01-02 15:04:05"), kind, entry.ReleaseID)
		if entry.Version != "" {
			fmt.Printf("  (version %s)", entry.Version)
		}
		fmt.Println()
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()
	d, err := buildDeps(logger)
	if err != nil {
		return err
	}

	if !d.cfg.Serve.Enabled {
		return fmt.Errorf("serve is not enabled in the configuration")
	}

	server, err := webhook.NewServer(d.cfg, d.engine, logger)
	if err != nil {
		return err
	}

	return server.Start(ctx)
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// Determine config file path
	configPath := cfgFile
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = fmt.Sprintf("%s/.config/shipway/config.yaml", home)
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"host", cfg.Target.Host,
		"base", cfg.Target.Base,
		"strategy", string(cfg.Install.Strategy),
		"keep", cfg.Deploy.Keep)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
