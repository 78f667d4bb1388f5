// Package cli implements the objectmap command line: replaying recorded frames through an object
// map and inspecting frame histories.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	flagConfig  = "config"
	flagFrames  = "frames"
	flagExport  = "export"
	flagHistory = "history"
	flagSession = "session"
	flagObject  = "object"
	flagDebug   = "debug"
)

var app = &cli.App{
	Name:            "objectmap",
	Usage:           "build object level TSDF maps from segmented frames",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    flagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "replay",
			Usage:     "integrate a directory of recorded frames",
			UsageText: "objectmap replay --frames <dir> [--config <file>] [--export <dir>] [--history <db>]",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  flagConfig,
					Usage: "load configuration from `FILE` (json or yaml)",
				},
				&cli.PathFlag{
					Name:     flagFrames,
					Required: true,
					Usage:    "directory of frame manifests (*.json) and their segment clouds",
				},
				&cli.PathFlag{
					Name:  flagExport,
					Usage: "write object, map and mesh clouds to this directory when done",
				},
				&cli.PathFlag{
					Name:  flagHistory,
					Usage: "record every frame to this SQLite database, overriding the config",
				},
			},
			Action: ReplayAction,
		},
		{
			Name:  "history",
			Usage: "inspect a frame history database",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     flagHistory,
					Required: true,
					Usage:    "SQLite history database",
				},
				&cli.StringFlag{
					Name:  flagSession,
					Usage: "session to inspect, defaults to the latest",
				},
				&cli.UintFlag{
					Name:  flagObject,
					Usage: "print the trajectory of this object instead of the frame list",
				},
			},
			Action: HistoryAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
