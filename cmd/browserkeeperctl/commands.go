package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/browserkeeper/browserkeeper/cmd/browserkeeperctl/render"
	"github.com/browserkeeper/browserkeeper/internal/coreerr"
	"github.com/browserkeeper/browserkeeper/internal/corelog"
	"github.com/browserkeeper/browserkeeper/internal/coresupervisor"
)

// appName roots every per-user directory the Supervisor touches.
const appName = "browserkeeper"

func newSupervisor(c *cli.Context) (*coresupervisor.Supervisor, error) {
	cfg, err := buildConfig(c)
	if err != nil {
		return nil, cli.Exit(err.Error(), 1)
	}
	log := corelog.NewStderr(cfg.Log.Level)
	return coresupervisor.New(appName, log), nil
}

func rendererFor(c *cli.Context) *render.Renderer {
	return render.New(c.Bool("json"), os.Stdout)
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "report supervisor state, binary, endpoint, and recent health samples",
		Flags: globalFlags(),
		Action: func(c *cli.Context) error {
			sup, err := newSupervisor(c)
			if err != nil {
				return err
			}
			cfg, err := buildConfig(c)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.LaunchTimeout()+cfg.Timeouts.ProbeTimeout())
			defer cancel()

			_, acqErr := sup.Acquire(ctx, cfg)
			report := sup.Status()
			if err := rendererFor(c).Render(report); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if acqErr != nil || report.State != coresupervisor.StateAttached {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func browseCommand() *cli.Command {
	return &cli.Command{
		Name:  "browse",
		Usage: "launch (or reuse) the managed browser and exit, leaving it running",
		Flags: globalFlags(),
		Action: func(c *cli.Context) error {
			sup, err := newSupervisor(c)
			if err != nil {
				return err
			}
			cfg, err := buildConfig(c)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.LaunchTimeout()+cfg.Timeouts.DownloadTimeout())
			defer cancel()

			if err := sup.RunBrowserOnly(ctx, cfg); err != nil {
				return cli.Exit(describeErr(err), 1)
			}
			return rendererFor(c).Render(sup.Status())
		},
	}
}

func clearCacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear-cache",
		Usage: "kill managed processes and delete the downloaded binary cache",
		Flags: append(globalFlags(),
			&cli.BoolFlag{Name: "delete-profiles", Usage: "also delete every profile directory and the profile index"},
		),
		Action: func(c *cli.Context) error {
			sup, err := newSupervisor(c)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := sup.ClearCache(ctx, coresupervisor.ClearCacheOptions{DeleteProfiles: c.Bool("delete-profiles")}); err != nil {
				return cli.Exit(describeErr(err), 1)
			}
			return nil
		},
	}
}

func profileCommand() *cli.Command {
	return &cli.Command{
		Name:  "profile",
		Usage: "manipulate the profile index in the State Store",
		Subcommands: []*cli.Command{
			profileListCommand(),
			profileShowCommand(),
			profileCreateCommand(),
			profileDeleteCommand(),
		},
	}
}

func profileListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "list known profiles",
		Flags: globalFlags(),
		Action: func(c *cli.Context) error {
			sup, err := newSupervisor(c)
			if err != nil {
				return err
			}
			return rendererFor(c).Render(sup.ProfileList())
		},
	}
}

func profileShowCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "show one profile",
		ArgsUsage: "<name>",
		Flags:     globalFlags(),
		Action: func(c *cli.Context) error {
			name := c.Args().First()
			if name == "" {
				return cli.Exit("profile show requires a name", 1)
			}
			sup, err := newSupervisor(c)
			if err != nil {
				return err
			}
			entry, err := sup.ProfileShow(name)
			if err != nil {
				return cli.Exit(describeErr(err), exitCodeFor(err))
			}
			return rendererFor(c).Render(entry)
		},
	}
}

func profileCreateCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "create a profile",
		ArgsUsage: "<name>",
		Flags: append(globalFlags(),
			&cli.StringFlag{Name: "label", Usage: "human-readable label"},
			&cli.BoolFlag{Name: "strict", Usage: "fail instead of being idempotent if the profile already exists"},
		),
		Action: func(c *cli.Context) error {
			name := c.Args().First()
			if name == "" {
				return cli.Exit("profile create requires a name", 1)
			}
			sup, err := newSupervisor(c)
			if err != nil {
				return err
			}
			entry, err := sup.ProfileCreate(name, c.String("label"), c.Bool("strict"))
			if err != nil {
				return cli.Exit(describeErr(err), exitCodeFor(err))
			}
			return rendererFor(c).Render(entry)
		},
	}
}

func profileDeleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "delete a profile",
		ArgsUsage: "<name>",
		Flags:     globalFlags(),
		Action: func(c *cli.Context) error {
			name := c.Args().First()
			if name == "" {
				return cli.Exit("profile delete requires a name", 1)
			}
			sup, err := newSupervisor(c)
			if err != nil {
				return err
			}
			if err := sup.ProfileDelete(name); err != nil {
				return cli.Exit(describeErr(err), exitCodeFor(err))
			}
			return nil
		},
	}
}

func diagnoseCommand() *cli.Command {
	return &cli.Command{
		Name:  "diagnose",
		Usage: "report status plus platform checks; always exits 0",
		Flags: append(globalFlags(),
			&cli.DurationFlag{Name: "watch", Usage: "re-run the report on this interval until interrupted"},
		),
		Action: func(c *cli.Context) error {
			sup, err := newSupervisor(c)
			if err != nil {
				return cli.Exit(err.Error(), 0)
			}
			cfg, err := buildConfig(c)
			if err != nil {
				return cli.Exit(err.Error(), 0)
			}
			r := rendererFor(c)

			runOnce := func() error {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ProbeTimeout())
				defer cancel()
				report := diagnoseReport(ctx, sup, cfg)
				if err := r.Render(report); err != nil {
					return cli.Exit(err.Error(), 0)
				}
				return nil
			}

			interval := c.Duration("watch")
			if interval <= 0 {
				return runOnce()
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			if err := runOnce(); err != nil {
				return err
			}
			for range ticker.C {
				if err := runOnce(); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// exitCodeFor maps a structured error to the profile-command exit code
// convention: 2 not found, 3 refused, 1 anything else.
func exitCodeFor(err error) int {
	switch coreerr.KindOf(err) {
	case coreerr.NotFound:
		return 2
	case coreerr.Refused, coreerr.AlreadyExists:
		return 3
	default:
		return 1
	}
}

func describeErr(err error) string {
	return fmt.Sprintf("Error: %v", err)
}
