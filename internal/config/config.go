package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Strategy selects how artifacts are placed into a release directory.
type Strategy string

const (
	StrategyStatic     Strategy = "static"
	StrategyArtifact   Strategy = "artifact"
	StrategyHTTP       Strategy = "http"
	StrategyVirtualEnv Strategy = "virtualenv"
)

// Duration wraps time.Duration with YAML support for values like "5s".
type Duration time.Duration

// UnmarshalYAML parses a duration string such as "500ms" or "5s".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}

	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the complete shipway configuration
type Config struct {
	Target  TargetConfig  `yaml:"target"`
	Deploy  DeployConfig  `yaml:"deploy"`
	Install InstallConfig `yaml:"install"`
	Serve   ServeConfig   `yaml:"serve"`
}

// TargetConfig configures the deploy target host and project location
type TargetConfig struct {
	Host         string `yaml:"host"`
	User         string `yaml:"user"`
	Port         int    `yaml:"port"`
	IdentityFile string `yaml:"identity_file"`
	Base         string `yaml:"base"`
	// Local deploys to a directory on this machine instead of over SSH.
	Local bool `yaml:"local"`
}

// DeployConfig configures deploy behavior
type DeployConfig struct {
	Keep       int      `yaml:"keep"`
	Retries    int      `yaml:"retries"`
	RetryDelay Duration `yaml:"retry_delay"`
	// StateDir holds the local deploy history; history is disabled when
	// it is empty.
	StateDir string `yaml:"state_dir"`
}

// InstallConfig selects and configures the installation strategy
type InstallConfig struct {
	Strategy   Strategy         `yaml:"strategy"`
	Static     StaticConfig     `yaml:"static"`
	Artifact   ArtifactConfig   `yaml:"artifact"`
	HTTP       HTTPConfig       `yaml:"http"`
	VirtualEnv VirtualEnvConfig `yaml:"virtualenv"`
}

// StaticConfig configures the static-file strategy
type StaticConfig struct {
	LocalPath string `yaml:"local_path"`
}

// ArtifactConfig configures the local-artifact strategy
type ArtifactConfig struct {
	LocalPath  string `yaml:"local_path"`
	RemoteName string `yaml:"remote_name"`
}

// HTTPConfig configures the HTTP-artifact strategy
type HTTPConfig struct {
	URL        string `yaml:"url"`
	RemoteName string `yaml:"remote_name"`
}

// VirtualEnvConfig configures the virtual-environment strategy
type VirtualEnvConfig struct {
	Packages []string `yaml:"packages"`
	Sources  []string `yaml:"sources"`
	VenvPath string   `yaml:"venv_path"`
	Upgrade  bool     `yaml:"upgrade"`
}

// ServeConfig configures the deploy webhook server
type ServeConfig struct {
	Enabled           bool     `yaml:"enabled"`
	ListenAddr        string   `yaml:"listen_addr"`
	WebhookSecretFile string   `yaml:"webhook_secret_file"`
	AllowedEvents     []string `yaml:"allowed_events"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Target.Host = os.ExpandEnv(c.Target.Host)
	c.Target.User = os.ExpandEnv(c.Target.User)
	c.Target.IdentityFile = os.ExpandEnv(c.Target.IdentityFile)
	c.Target.Base = os.ExpandEnv(c.Target.Base)
	c.Deploy.StateDir = os.ExpandEnv(c.Deploy.StateDir)
	c.Install.Static.LocalPath = os.ExpandEnv(c.Install.Static.LocalPath)
	c.Install.Artifact.LocalPath = os.ExpandEnv(c.Install.Artifact.LocalPath)
	c.Install.HTTP.URL = os.ExpandEnv(c.Install.HTTP.URL)
	c.Install.VirtualEnv.VenvPath = os.ExpandEnv(c.Install.VirtualEnv.VenvPath)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.WebhookSecretFile = os.ExpandEnv(c.Serve.WebhookSecretFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Target.Port == 0 {
		c.Target.Port = 22
	}
	if c.Deploy.Keep == 0 {
		c.Deploy.Keep = 5
	}
	if c.Deploy.Retries == 0 {
		c.Deploy.Retries = 3
	}
	if c.Deploy.RetryDelay == 0 {
		c.Deploy.RetryDelay = Duration(5 * time.Second)
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// Validate target
	if c.Target.Base == "" {
		return fmt.Errorf("target.base is required")
	}
	if !filepath.IsAbs(c.Target.Base) {
		return fmt.Errorf("target.base must be an absolute path: %s", c.Target.Base)
	}
	if !c.Target.Local && c.Target.Host == "" {
		return fmt.Errorf("target.host is required unless target.local is set")
	}
	if c.Target.Local && c.Target.Host != "" {
		return fmt.Errorf("target: only one of host or local may be set")
	}

	// Validate deploy
	if c.Deploy.Keep < 0 {
		return fmt.Errorf("deploy.keep must not be negative")
	}
	if c.Deploy.Retries < 0 {
		return fmt.Errorf("deploy.retries must not be negative")
	}

	// Validate the selected install strategy
	switch c.Install.Strategy {
	case StrategyStatic:
		if c.Install.Static.LocalPath == "" {
			return fmt.Errorf("install.static.local_path is required for the static strategy")
		}
	case StrategyArtifact:
		if c.Install.Artifact.LocalPath == "" {
			return fmt.Errorf("install.artifact.local_path is required for the artifact strategy")
		}
	case StrategyHTTP:
		if c.Install.HTTP.URL == "" {
			return fmt.Errorf("install.http.url is required for the http strategy")
		}
	case StrategyVirtualEnv:
		if len(c.Install.VirtualEnv.Packages) == 0 {
			return fmt.Errorf("install.virtualenv.packages must list at least one package")
		}
	case "":
		return fmt.Errorf("install.strategy is required")
	default:
		return fmt.Errorf("invalid install.strategy: %s (must be static, artifact, http, or virtualenv)", c.Install.Strategy)
	}

	// Validate serve config if enabled
	if c.Serve.Enabled {
		if c.Serve.ListenAddr == "" {
			return fmt.Errorf("serve.listen_addr is required when serve is enabled")
		}
		if c.Serve.WebhookSecretFile == "" {
			return fmt.Errorf("serve.webhook_secret_file is required when serve is enabled")
		}
	}

	return nil
}

// HistoryFilePath returns the path of the local deploy history file, empty
// when no state directory is configured.
func (c *Config) HistoryFilePath() string {
	if c.Deploy.StateDir == "" {
		return ""
	}
	return filepath.Join(c.Deploy.StateDir, "history.json")
}
