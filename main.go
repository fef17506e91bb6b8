package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"github.com/dfsbench/dfsbench/pkg/cmd"
	"github.com/dfsbench/dfsbench/pkg/logging"
)

func main() {
	app := cli.NewApp()
	app.Name = "dfsbench"
	app.Usage = "benchmark content retrieval on decentralised file systems across many workers"
	app.Description = "dfsbench runs a coordinator and a set of workers that take turns uploading " +
		"content to IPFS or Swarm and downloading what the others uploaded, measuring every retrieval."
	app.Commands = cmd.RootCommands
	app.Flags = cmd.RootFlags
	// the built-in -v flag (version) collides with the verbosity flags.
	app.HideVersion = true
	app.Before = func(c *cli.Context) error {
		configureLogging(c)
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func configureLogging(c *cli.Context) {
	if logging.IsTerminal() {
		logging.ConsoleMode()
	}

	// The LOG_LEVEL environment variable takes precedence.
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		var l zapcore.Level
		if err := l.UnmarshalText([]byte(level)); err != nil {
			panic(err)
		}
		logging.SetLevel(l)
		return
	}

	switch {
	case c.Bool("v"), c.Bool("vv"):
		logging.SetLevel(zapcore.DebugLevel)
	}
}
