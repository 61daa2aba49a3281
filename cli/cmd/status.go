package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/mender/cli/render"
	"github.com/justapithecus/mender/log"
	"github.com/justapithecus/mender/monitor"
)

// StatusCommand renders the state of a run, or the run index.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the status of a remediation run",
		Flags: append(ReadOnlyFlags(),
			RunFlag,
			&cli.BoolFlag{
				Name:  "all",
				Usage: "list every recorded run instead of one summary",
			},
		),
		Action: statusAction,
	}
}

func statusAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	if c.Bool("all") {
		index, err := loadRunIndex(cfg.RunsDir)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		return r.Render(index)
	}

	run, err := loadRun(cfg.RunsDir, c.String("run"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	summary := monitor.NewTracker(run, cfg.RunsDir, "", "", log.Nop()).Summary()
	return r.Render(summary)
}
