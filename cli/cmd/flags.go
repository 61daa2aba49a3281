// Package cmd implements the mender CLI commands.
//
// All commands except `run` and `memory extract` are read-only over the
// state files the orchestrator persists.
package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/mender/cli/config"
)

// FormatFlag selects the output format.
var FormatFlag = &cli.StringFlag{
	Name:    "format",
	Aliases: []string{"f"},
	Usage:   "output format: json, table, or yaml (default: table on a TTY, json otherwise)",
}

// ConfigFlag points at a mender.yaml configuration file.
var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "path to mender.yaml (built-in defaults plus environment when omitted)",
}

// CSVFlag names the findings export to ingest.
var CSVFlag = &cli.StringFlag{
	Name:     "csv",
	Usage:    "path to the security findings CSV export",
	Required: true,
}

// WaveSizeFlag overrides the configured wave size.
var WaveSizeFlag = &cli.IntFlag{
	Name:  "wave-size",
	Usage: "findings per wave (overrides config)",
}

// RunFlag names a run; commands default to the most recent run when
// it is omitted.
var RunFlag = &cli.StringFlag{
	Name:  "run",
	Usage: "run ID (defaults to the most recent run)",
}

// ReadOnlyFlags are shared by commands that only render state.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{FormatFlag, ConfigFlag}
}

// loadConfig resolves the effective configuration for a command.
func loadConfig(c *cli.Context) (*config.Config, error) {
	return config.Load(c.String("config"))
}
