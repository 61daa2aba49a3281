package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/mender/cli/render"
	"github.com/justapithecus/mender/ingest"
	"github.com/justapithecus/mender/log"
	"github.com/justapithecus/mender/types"
)

// IngestCommand parses a findings CSV and prints the prioritized list
// without touching any run state.
func IngestCommand() *cli.Command {
	return &cli.Command{
		Name:   "ingest",
		Usage:  "Parse, deduplicate and prioritize a findings CSV",
		Flags:  append(ReadOnlyFlags(), CSVFlag),
		Action: ingestAction,
	}
}

func ingestAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	findings, err := loadFindings(c.String("csv"), log.Nop())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return r.Render(findings)
}

// loadFindings runs the full ingest pipeline: parse, deduplicate,
// prioritize. The returned slice is in dispatch order.
func loadFindings(path string, logger *log.Logger) ([]*types.Finding, error) {
	findings, err := ingest.ParseFile(path, logger)
	if err != nil {
		return nil, err
	}
	findings = ingest.Deduplicate(findings)
	ingest.Prioritize(findings)
	return findings, nil
}
