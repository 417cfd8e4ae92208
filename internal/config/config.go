// Package config loads layered configuration for browserkeeper: built-in
// defaults overlaid with a workspace file, an explicit config file, and
// finally CLI flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level browserkeeper config.
	WorkspaceDirName = ".browserkeeper"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the browserkeeper supervisor.
type Config struct {
	Profile    ProfileConfig    `yaml:"profile"`
	Launch     LaunchConfig     `yaml:"launch"`
	Install    InstallConfig    `yaml:"install"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Timeouts   TimeoutsConfig   `yaml:"timeouts"`
	Retries    RetriesConfig    `yaml:"retries"`
	Log        LogConfig        `yaml:"log"`
}

// ProfileConfig selects and shapes the persistent user-data directory.
type ProfileConfig struct {
	// Name identifies the profile directory under the state root (default: "default").
	Name string `yaml:"name"`
	// DebugPort pins the CDP debugging port; 0 selects an ephemeral free port.
	DebugPort int `yaml:"debug_port"`
}

// LaunchConfig configures how the browser process is started.
type LaunchConfig struct {
	// Headless controls windowless launch (default: true).
	Headless *bool `yaml:"headless"`
	// ExtraArgs are appended verbatim to the launcher's flag set.
	ExtraArgs []string `yaml:"extra_args"`
	// BinaryPathOverride bypasses the Finder and forces a specific executable.
	BinaryPathOverride string `yaml:"binary_path_override"`
	// ExistingProcessPolicy controls what happens when a process already
	// owns the profile under a different invocation: reuse-foreign-profile | terminate | fail.
	ExistingProcessPolicy string `yaml:"existing_process_policy"`
}

// InstallConfig controls Finder/Installer behavior.
type InstallConfig struct {
	// Policy: "auto-install" (find-or-install), "use-cached-only" (Finder
	// lookup only, fail instead of installing), "always-verify" (skip the
	// Finder entirely and re-resolve/re-verify the binary's digest against
	// the vendor's known-good metadata on every acquire).
	Policy string `yaml:"policy"`
	// Channel is read from config but not used: the Installer resolves the
	// newest known-good version regardless of it.
	Channel string `yaml:"channel"`
}

// MonitoringConfig controls the Supervisor's health loop.
type MonitoringConfig struct {
	Enabled                 bool `yaml:"enabled"`
	IntervalSeconds         int  `yaml:"interval_seconds"`
	MaxRestartAttempts      int  `yaml:"max_restart_attempts"`
	RecoveryCooldownSeconds int  `yaml:"recovery_cooldown_seconds"`
	StabilityWindowSeconds  int  `yaml:"stability_window_seconds"`
}

// TimeoutsConfig bounds each phase of acquiring a browser.
type TimeoutsConfig struct {
	DownloadSeconds int `yaml:"download_seconds"`
	ProbeSeconds    int `yaml:"probe_seconds"`
	LaunchSeconds   int `yaml:"launch_seconds"`
	GracefulExit    int `yaml:"graceful_exit_seconds"`
}

// RetriesConfig holds retry counts. Only Network is read: it bounds the
// Installer's metadata and download retries. Launch and Restart are not
// read; a launch is attempted once, and restarts are bounded by
// monitoring.max_restart_attempts.
type RetriesConfig struct {
	Network int `yaml:"network"`
	Launch  int `yaml:"launch"`
	Restart int `yaml:"restart"`
}

// LogConfig configures the zap-backed logger.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Profile: ProfileConfig{
			Name:      "default",
			DebugPort: 0,
		},
		Launch: LaunchConfig{
			ExistingProcessPolicy: "terminate",
		},
		Install: InstallConfig{
			Policy:  "auto-install",
			Channel: "stable",
		},
		Monitoring: MonitoringConfig{
			Enabled:                 true,
			IntervalSeconds:         10,
			MaxRestartAttempts:      3,
			RecoveryCooldownSeconds: 30,
			StabilityWindowSeconds:  60,
		},
		Timeouts: TimeoutsConfig{
			DownloadSeconds: 120,
			ProbeSeconds:    10,
			LaunchSeconds:   15,
			GracefulExit:    5,
		},
		Retries: RetriesConfig{
			Network: 3,
			Launch:  2,
			Restart: 3,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .browserkeeper/config.yaml file.
// Returns the workspace root directory (parent of .browserkeeper/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .browserkeeper/config.yaml <- explicit --config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

// InitWorkspace creates a .browserkeeper/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	dirs := []string{
		wsDir,
		filepath.Join(wsDir, "data"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	templateConfig := `# browserkeeper project-level configuration
# Values here override defaults but are overridden by --config and CLI flags.

# profile:
#   name: default
#   debug_port: 0

# launch:
#   headless: false
#   extra_args: ["--disable-gpu"]

# monitoring:
#   enabled: true
#   max_restart_attempts: 3
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignoreContent := "# Runtime data (logs, state) - do not version control\ndata/\n"
	gitignorePath := filepath.Join(wsDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Log.File = resolve(cfg.Log.File)
	return cfg
}

// Validate ensures required fields exist so the supervisor can start deterministically.
func (c *Config) Validate() error {
	if c.Profile.Name == "" {
		return errors.New("profile.name is required")
	}
	switch c.Install.Policy {
	case "auto-install", "use-cached-only", "always-verify":
	default:
		return fmt.Errorf("install.policy must be one of auto-install|use-cached-only|always-verify, got %q", c.Install.Policy)
	}
	switch c.Launch.ExistingProcessPolicy {
	case "reuse-foreign-profile", "terminate", "fail":
	default:
		return fmt.Errorf("launch.existing_process_policy must be one of reuse-foreign-profile|terminate|fail, got %q", c.Launch.ExistingProcessPolicy)
	}
	return nil
}

// IsHeadless returns whether the browser should run headless (default: true).
func (l LaunchConfig) IsHeadless() bool {
	if l.Headless == nil {
		return true
	}
	return *l.Headless
}

// DownloadTimeout returns the parsed download timeout with a sane default.
func (t TimeoutsConfig) DownloadTimeout() time.Duration {
	if t.DownloadSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(t.DownloadSeconds) * time.Second
}

// ProbeTimeout returns the parsed probe timeout with a sane default.
func (t TimeoutsConfig) ProbeTimeout() time.Duration {
	if t.ProbeSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(t.ProbeSeconds) * time.Second
}

// LaunchTimeout returns the parsed launch timeout with a sane default.
func (t TimeoutsConfig) LaunchTimeout() time.Duration {
	if t.LaunchSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(t.LaunchSeconds) * time.Second
}

// GracefulExitTimeout returns the parsed graceful-shutdown timeout with a sane default.
func (t TimeoutsConfig) GracefulExitTimeout() time.Duration {
	if t.GracefulExit <= 0 {
		return 5 * time.Second
	}
	return time.Duration(t.GracefulExit) * time.Second
}

// MonitoringInterval returns the polling interval for the health loop.
func (m MonitoringConfig) MonitoringInterval() time.Duration {
	if m.IntervalSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(m.IntervalSeconds) * time.Second
}

// RecoveryCooldown returns the minimum time between recovery attempts.
func (m MonitoringConfig) RecoveryCooldown() time.Duration {
	if m.RecoveryCooldownSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(m.RecoveryCooldownSeconds) * time.Second
}

// StabilityWindow returns how long health must hold before the restart counter resets.
func (m MonitoringConfig) StabilityWindow() time.Duration {
	if m.StabilityWindowSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(m.StabilityWindowSeconds) * time.Second
}
