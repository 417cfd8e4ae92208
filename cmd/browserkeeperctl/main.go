// Command browserkeeperctl is the thin CLI wrapper around the
// browserkeeper Supervisor: status, browse, clear-cache, profile
// management, and diagnose.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:           "browserkeeperctl",
		Usage:          "supervise a managed Chrome-for-Testing browser and broker reusable CDP sessions",
		Version:        "0.1.0",
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			statusCommand(),
			browseCommand(),
			clearCacheCommand(),
			profileCommand(),
			diagnoseCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

// exitErrHandler preserves exit codes from cli.Exit(), so each command's
// own exit-code contract (e.g. profile: 0/2/3) survives urfave/cli's
// error handling instead of collapsing to a generic 1.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
