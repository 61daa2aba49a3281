package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/mender/cli/render"
	"github.com/justapithecus/mender/log"
	"github.com/justapithecus/mender/memory"
	"github.com/justapithecus/mender/monitor"
	"github.com/justapithecus/mender/types"
)

// MemoryCommand groups the memory store operations.
func MemoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "memory",
		Usage: "Extract and query remediation memories",
		Subcommands: []*cli.Command{
			memoryExtractCommand(),
			memoryRetrieveCommand(),
		},
	}
}

func memoryExtractCommand() *cli.Command {
	return &cli.Command{
		Name:   "extract",
		Usage:  "Extract memories from a run's settled sessions",
		Flags:  append(ReadOnlyFlags(), RunFlag),
		Action: memoryExtractAction,
	}
}

// extractResult is the rendered outcome of a memory extraction.
type extractResult struct {
	RunID     string `json:"run_id"`
	Extracted int    `json:"extracted"`
}

func memoryExtractAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	run, err := loadRun(cfg.RunsDir, c.String("run"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	logger := log.NewLogger(run.RunID, string(run.DataSource))
	store := memory.NewStore(cfg.MemoryDir, logger)
	tracker := monitor.NewTracker(run, cfg.RunsDir, "", "", logger)

	n, err := tracker.ExtractAndSaveMemories(store)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return r.Render(extractResult{RunID: run.RunID, Extracted: n})
}

func memoryRetrieveCommand() *cli.Command {
	return &cli.Command{
		Name:  "retrieve",
		Usage: "Query memories relevant to a finding shape",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:     "category",
				Usage:    "finding category, e.g. sql_injection",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "service",
				Usage: "service name the finding belongs to",
			},
			&cli.StringFlag{
				Name:  "severity",
				Usage: "finding severity, e.g. critical",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "maximum number of memories to return",
			},
		),
		Action: memoryRetrieveAction,
	}
}

func memoryRetrieveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	f := &types.Finding{
		Category:    types.FindingCategory(c.String("category")),
		ServiceName: c.String("service"),
		Severity:    types.Severity(c.String("severity")),
	}
	store := memory.NewStore(cfg.MemoryDir, log.Nop())
	hits := store.Retrieve(f, memory.RetrieveOptions{MaxResults: c.Int("limit")})
	return r.Render(hits)
}
