package main

import (
	"github.com/urfave/cli/v2"

	"github.com/browserkeeper/browserkeeper/internal/config"
)

// globalFlags are accepted by every subcommand; each overrides the
// layered config (defaults <- workspace file <- --config <- these).
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "explicit config file path"},
		&cli.BoolFlag{Name: "no-workspace", Usage: "skip .browserkeeper/config.yaml discovery"},
		&cli.StringFlag{Name: "workspace-dir", Usage: "use this directory instead of walking up from cwd"},
		&cli.StringFlag{Name: "profile", Usage: "profile name (default: \"default\")"},
		&cli.IntFlag{Name: "debug-port", Usage: "CDP debug port (0 = ephemeral)"},
		&cli.BoolFlag{Name: "headless", Usage: "force headless launch"},
		&cli.BoolFlag{Name: "no-headless", Usage: "force headed launch"},
		&cli.StringFlag{Name: "binary-path", Usage: "use this Chrome-for-Testing binary instead of the Finder"},
		&cli.StringFlag{Name: "install-policy", Usage: "auto-install|use-cached-only|always-verify"},
		&cli.BoolFlag{Name: "json", Usage: "emit structured JSON instead of a table"},
	}
}

// buildConfig loads the layered config and applies this command's flag
// overrides on top, after the layers merged by config.LoadWithWorkspace.
func buildConfig(c *cli.Context) (config.Config, error) {
	cfg, _, err := config.LoadWithWorkspace(c.String("config"), config.WorkspaceOptions{
		Disable:     c.Bool("no-workspace"),
		ExplicitDir: c.String("workspace-dir"),
	})
	if err != nil {
		return config.Config{}, err
	}

	if v := c.String("profile"); v != "" {
		cfg.Profile.Name = v
	}
	if c.IsSet("debug-port") {
		cfg.Profile.DebugPort = c.Int("debug-port")
	}
	if c.Bool("headless") {
		h := true
		cfg.Launch.Headless = &h
	}
	if c.Bool("no-headless") {
		h := false
		cfg.Launch.Headless = &h
	}
	if v := c.String("binary-path"); v != "" {
		cfg.Launch.BinaryPathOverride = v
	}
	if v := c.String("install-policy"); v != "" {
		cfg.Install.Policy = v
	}

	return cfg, cfg.Validate()
}
