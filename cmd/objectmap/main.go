// Package main is the objectmap command itself.
package main

import (
	"os"

	objectmapcli "go.viam.com/objectmap/cli"
	"go.viam.com/objectmap/logging"
)

func main() {
	app := objectmapcli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		logging.Global().Error(err)
		os.Exit(1)
	}
}
