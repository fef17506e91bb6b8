package cmd

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dfsbench/dfsbench/pkg/coordinator"
	"github.com/dfsbench/dfsbench/pkg/dfs"
	"github.com/dfsbench/dfsbench/pkg/logging"
	"github.com/dfsbench/dfsbench/pkg/results"
	"github.com/dfsbench/dfsbench/pkg/state"
)

var CoordinatorCommand = cli.Command{
	Name:   "coordinator",
	Usage:  "start the coordinator that runs experiments across the connected workers",
	Action: coordinatorCommand,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "listen",
			Usage: "address to accept worker channels on (overrides .env.toml)",
		},
		&cli.BoolFlag{
			Name:  "auto",
			Usage: "start automatically once --connections workers are ready",
		},
		&cli.IntFlag{
			Name:  "connections",
			Usage: "number of ready workers that starts an experiment in --auto mode",
		},
		&cli.StringSliceFlag{
			Name:  "precheck",
			Usage: "networks whose local node checks that announced worker nodes are reachable (ipfs, swarm)",
		},
	},
}

func coordinatorCommand(c *cli.Context) error {
	ctx := ProcessContext()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cc := cfg.Coordinator
	if c.IsSet("listen") {
		cc.Listen = c.String("listen")
	}
	if c.IsSet("auto") {
		cc.Auto = c.Bool("auto")
	}
	if c.IsSet("connections") {
		cc.Connections = c.Int("connections")
	}

	store, err := state.Open(filepath.Join(cfg.Dirs().State(), "coordinator"))
	if err != nil {
		return err
	}
	defer store.Close()

	sink := results.Multi{results.NewCSV(cfg.Results.Dir)}
	if cfg.Results.Influx.Addr != "" {
		influx, err := results.NewInflux(cfg.Results.Influx)
		if err != nil {
			return err
		}
		sink = append(sink, influx)
	}
	defer sink.Close()

	var checker coordinator.Prechecker
	if names := c.StringSlice("precheck"); len(names) > 0 {
		reg, err := dfs.FromConfig(cfg, names...)
		if err != nil {
			return err
		}
		checker = reg
	}

	co, err := coordinator.New(coordinator.Config{
		Listen:            cc.Listen,
		Auto:              cc.Auto,
		Connections:       cc.Connections,
		BarrierTimeout:    cc.BarrierTimeout.Duration,
		ReplayGrace:       cc.ReplayGrace.Duration,
		DisconnectTimeout: cc.DisconnectTimeout.Duration,
	}, store, sink, checker)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(co.Serve)
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return co.Shutdown(sctx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logging.S().Infow("coordinator stopped")
	return err
}
