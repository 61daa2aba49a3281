package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/mender/cli/tui"
)

// WatchCommand launches the live dashboard over a run's state files.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:   "watch",
		Usage:  "Follow a remediation run in a live dashboard",
		Flags:  []cli.Flag{ConfigFlag, RunFlag},
		Action: watchAction,
	}
}

func watchAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	return tui.RunWatch(cfg.RunsDir, c.String("run"))
}
