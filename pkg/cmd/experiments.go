package cmd

import (
	"fmt"
	"strings"

	"github.com/logrusorgru/aurora"
	"github.com/mitchellh/go-wordwrap"
	"github.com/urfave/cli/v2"

	"github.com/dfsbench/dfsbench/pkg/experiment"
	"github.com/dfsbench/dfsbench/pkg/logging"
)

var ExperimentsCommand = cli.Command{
	Name:   "experiments",
	Usage:  "list the experiments a worker can run",
	Action: experimentsCommand,
}

func experimentsCommand(c *cli.Context) error {
	au := aurora.NewAurora(logging.IsTerminal())
	for _, i := range experiment.Catalog {
		fmt.Printf("%s (%s)\n", au.Bold(i.Name()), strings.Join(i.Networks, ", "))
		for _, line := range strings.Split(wordwrap.WrapString(i.Description, 76), "\n") {
			fmt.Println("    " + line)
		}
		fmt.Println()
	}
	return nil
}
