package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/dfsbench/dfsbench/pkg/config"
	"github.com/dfsbench/dfsbench/pkg/dfs"
)

// networkFlags select the storage networks a worker acts on.
var networkFlags = []cli.Flag{
	&cli.BoolFlag{
		Name:  "ipfs",
		Usage: "run the experiments against the local IPFS node",
	},
	&cli.BoolFlag{
		Name:  "swarm",
		Usage: "run the experiments against the local Swarm (Bee) node",
	},
}

func loadConfig() (*config.EnvConfig, error) {
	cfg := &config.EnvConfig{}
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// selectedNetworks returns the networks chosen with --ipfs and --swarm.
func selectedNetworks(c *cli.Context) []string {
	var names []string
	for _, n := range []string{"ipfs", "swarm"} {
		if c.Bool(n) {
			names = append(names, n)
		}
	}
	return names
}

func networksFromFlags(c *cli.Context, cfg *config.EnvConfig) (*dfs.Registry, error) {
	names := selectedNetworks(c)
	if len(names) == 0 {
		return nil, fmt.Errorf("select at least one network with --ipfs or --swarm")
	}
	return dfs.FromConfig(cfg, names...)
}
