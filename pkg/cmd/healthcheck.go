package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/dfsbench/dfsbench/pkg/api"
	"github.com/dfsbench/dfsbench/pkg/dfs"
	"github.com/dfsbench/dfsbench/pkg/healthcheck"
)

var HealthcheckCommand = cli.Command{
	Name:   "healthcheck",
	Usage:  "checks, and optionally heals, the preconditions for a worker to take part in experiments",
	Action: healthcheckCommand,
	Flags: append([]cli.Flag{
		&cli.BoolFlag{
			Name:  "fix",
			Usage: "should try to fix the preconditions",
		},
		&cli.StringFlag{
			Name:  "endpoint",
			Usage: "coordinator address (overrides .env.toml)",
		},
	}, networkFlags...),
}

func healthcheckCommand(c *cli.Context) error {
	ctx := ProcessContext()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	endpoint := cfg.Worker.Endpoint
	if c.IsSet("endpoint") {
		endpoint = c.String("endpoint")
	}

	networks := dfs.NewRegistry()
	if len(selectedNetworks(c)) > 0 {
		if networks, err = networksFromFlags(c, cfg); err != nil {
			return err
		}
	}

	report := healthcheck.Worker(cfg.Dirs(), endpoint, networks).RunChecks(ctx, c.Bool("fix"))
	report.Print(os.Stdout)

	if !healthy(report) {
		return fmt.Errorf("healthcheck failed")
	}
	return nil
}

// healthy returns true if every check passed or was fixed.
func healthy(r *api.HealthcheckReport) bool {
	fixed := make(map[string]bool, len(r.Fixes))
	for _, f := range r.Fixes {
		fixed[f.Name] = f.Status == api.HealthcheckStatusOK
	}
	for _, c := range r.Checks {
		if c.Status != api.HealthcheckStatusOK && !fixed[c.Name] {
			return false
		}
	}
	return true
}
