package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/dfsbench/dfsbench/pkg/dfs"
	"github.com/dfsbench/dfsbench/pkg/experiment"
	"github.com/dfsbench/dfsbench/pkg/logging"
	"github.com/dfsbench/dfsbench/pkg/retry"
	"github.com/dfsbench/dfsbench/pkg/state"
)

// Plan lists what a worker process runs: the selected experiments on each
// network, each run Times times.
type Plan struct {
	// Experiments maps a network name to the selected experiment names. An
	// empty selection runs every experiment the network supports.
	Experiments map[string][]string
	Times       int
	Data        dfs.DataOptions
	Retry       retry.Policy
}

// Driver runs a Plan through an Agent, one experiment at a time.
type Driver struct {
	Agent    *Agent
	Networks *dfs.Registry
	Store    *state.Store
}

// Run executes the plan in network name order. Progress is persisted after
// every experiment so a restarted worker only runs what is left. A failed
// experiment is logged and counted as executed; the collected failures are
// returned once the plan completes.
func (d *Driver) Run(ctx context.Context, plan Plan) error {
	if plan.Times < 1 {
		plan.Times = 1
	}

	var merr *multierror.Error
	for _, name := range d.Networks.Names() {
		selected, ok := plan.Experiments[name]
		if !ok {
			continue
		}
		network, _ := d.Networks.Get(name)

		err := d.runNetwork(ctx, network, selected, plan)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled), errors.Is(err, ErrNotConnected):
			return err
		default:
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", name, err))
		}
	}
	return merr.ErrorOrNil()
}

func (d *Driver) runNetwork(ctx context.Context, network dfs.Network, selected []string, plan Plan) error {
	log := logging.S().With("network", network.Name())

	infos, err := experiment.Select(network.Name(), selected...)
	if err != nil {
		return err
	}
	progress := experiment.NewProgress(d.Store, network.Name())
	planned, err := progress.Plan(infos, plan.Times)
	if err != nil {
		return fmt.Errorf("failed to load progress: %w", err)
	}

	address, err := network.ID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get local node address: %w", err)
	}

	session := &experiment.Session{
		Network: network,
		Data:    plan.Data,
		Retry:   plan.Retry,
		Log:     log,
	}

	var merr *multierror.Error
	for _, p := range planned {
		desc := p.Descriptor(network.Name(), address)
		methods := session.Methods(p.Strategy)

		for i := 0; i < p.Remaining; i++ {
			log.Infow("running experiment", "experiment", p.Name(), "remaining", p.Remaining-i)

			// a failed experiment leaves the agent disconnected.
			if err := d.Agent.ensureConnected(ctx); err != nil {
				return err
			}
			err := d.Agent.Run(ctx, desc, methods)
			var failure *FailureError
			switch {
			case err == nil:
				log.Infow("experiment succeeded", "experiment", p.Name())
			case errors.As(err, &failure):
				log.Warnw("experiment failed", "experiment", p.Name(), "reason", failure.Reason)
				merr = multierror.Append(merr, fmt.Errorf("%s: %w", p.Name(), err))
			default:
				return err
			}

			if err := progress.Done(p.Name()); err != nil {
				return fmt.Errorf("failed to record progress: %w", err)
			}
		}
	}

	if err := progress.Clear(); err != nil {
		log.Warnw("failed to clear progress", "error", err)
	}
	if err := network.Clear(ctx); err != nil {
		log.Warnw("failed to clear local node storage", "error", err)
	}
	return merr.ErrorOrNil()
}
