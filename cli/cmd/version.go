package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/mender/cli/render"
	"github.com/justapithecus/mender/types"
)

// VersionResponse is the version command output.
type VersionResponse struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// VersionCommand reports the CLI version and build commit.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Flags: []cli.Flag{FormatFlag},
		Action: func(c *cli.Context) error {
			r, err := render.NewRenderer(c)
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			return r.Render(VersionResponse{Version: types.Version, Commit: commit})
		},
	}
}
