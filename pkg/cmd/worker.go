package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/dfsbench/dfsbench/pkg/dfs"
	"github.com/dfsbench/dfsbench/pkg/retry"
	"github.com/dfsbench/dfsbench/pkg/state"
	"github.com/dfsbench/dfsbench/pkg/worker"
)

var WorkerCommand = cli.Command{
	Name:   "worker",
	Usage:  "take part in experiments run by a coordinator",
	Action: workerCommand,
	Flags: append([]cli.Flag{
		&cli.StringSliceFlag{
			Name:    "experiment",
			Aliases: []string{"e"},
			Usage:   "experiments to run; every experiment the network supports if omitted (see `dfsbench experiments`)",
		},
		&cli.StringFlag{
			Name:  "endpoint",
			Usage: "coordinator address (overrides .env.toml)",
		},
		&cli.StringFlag{
			Name:  "id",
			Usage: "stable worker id; generated and persisted if omitted",
		},
		&cli.StringFlag{
			Name:  "user",
			Usage: "display name of this worker",
		},
		&cli.IntFlag{
			Name:  "times",
			Usage: "number of times each experiment is run",
		},
		&cli.UintFlag{
			Name:  "retries",
			Usage: "attempts of every upload, download and removal",
		},
		&cli.StringFlag{
			Name:  "data-start",
			Usage: "size of the first payload uploaded, e.g. 4kb",
		},
		&cli.StringFlag{
			Name:  "data-max",
			Usage: "size of the largest payload uploaded, e.g. 16mb",
		},
		&cli.Uint64Flag{
			Name:  "data-step",
			Usage: "growth between payload sizes",
		},
		&cli.StringFlag{
			Name:  "data-op",
			Usage: "how payload sizes grow by --data-step: * or +",
		},
		&cli.BoolFlag{
			Name:  "interactive",
			Usage: "ask before starting an experiment the coordinator offers",
		},
	}, networkFlags...),
}

func workerCommand(c *cli.Context) error {
	ctx := ProcessContext()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	wc := cfg.Worker
	if c.IsSet("endpoint") {
		wc.Endpoint = c.String("endpoint")
	}
	if c.IsSet("id") {
		wc.ID = c.String("id")
	}
	if c.IsSet("user") {
		wc.User = c.String("user")
	}
	if c.IsSet("times") {
		wc.Times = c.Int("times")
	}
	if c.IsSet("retries") {
		wc.Retry.MaxAttempts = c.Uint("retries")
	}
	if c.IsSet("data-start") {
		wc.Data.Start = c.String("data-start")
	}
	if c.IsSet("data-max") {
		wc.Data.Max = c.String("data-max")
	}
	if c.IsSet("data-step") {
		wc.Data.Step = c.Uint64("data-step")
	}
	if c.IsSet("data-op") {
		wc.Data.Op = c.String("data-op")
	}

	onFailure, err := retry.ParseOnFailure(wc.Retry.OnFailure)
	if err != nil {
		return err
	}
	data := dfs.DataOptions{Start: wc.Data.Start, Max: wc.Data.Max, Step: wc.Data.Step, Op: wc.Data.Op}
	if _, err := data.Sizes(); err != nil {
		return err
	}

	networks, err := networksFromFlags(c, cfg)
	if err != nil {
		return err
	}
	plan := worker.Plan{
		Experiments: make(map[string][]string),
		Times:       wc.Times,
		Data:        data,
		Retry: retry.Policy{
			MaxAttempts: wc.Retry.MaxAttempts,
			Delay:       wc.Retry.Delay.Duration,
			OnFailure:   onFailure,
		},
	}
	for _, n := range networks.Names() {
		plan.Experiments[n] = c.StringSlice("experiment")
	}

	dirs := cfg.Dirs()
	id, err := worker.ResolveIdentity(wc.ID, wc.User, dirs.WorkerIDFile())
	if err != nil {
		return err
	}

	store, err := state.Open(filepath.Join(dirs.State(), "worker"))
	if err != nil {
		return err
	}
	defer store.Close()

	trigger := worker.Immediately
	if c.Bool("interactive") {
		trigger = worker.Prompt
	}
	agent := worker.New(worker.Config{
		Endpoint:         wc.Endpoint,
		Identity:         id,
		PropagationDelay: wc.PropagationDelay.Duration,
		ReconnectDelay:   wc.ReconnectDelay.Duration,
		Trigger:          trigger,
	}, store)

	if err := agent.Connect(ctx); err != nil {
		return err
	}
	defer agent.Disconnect()

	d := &worker.Driver{Agent: agent, Networks: networks, Store: store}
	err = d.Run(ctx, plan)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("some experiments failed: %w", err)
	}
	return nil
}
