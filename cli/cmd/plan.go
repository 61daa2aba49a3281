package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/mender/cli/render"
	"github.com/justapithecus/mender/log"
	"github.com/justapithecus/mender/planner"
)

// PlanCommand shows the wave plan a run would execute, without
// dispatching anything.
func PlanCommand() *cli.Command {
	return &cli.Command{
		Name:   "plan",
		Usage:  "Show the wave plan for a findings CSV",
		Flags:  append(ReadOnlyFlags(), CSVFlag, WaveSizeFlag),
		Action: planAction,
	}
}

func planAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	waveSize := cfg.WaveSize
	if c.Int("wave-size") > 0 {
		waveSize = c.Int("wave-size")
	}

	findings, err := loadFindings(c.String("csv"), log.Nop())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return r.Render(planner.CreateWaves(findings, waveSize))
}
