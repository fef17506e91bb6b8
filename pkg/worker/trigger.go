package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/pterm/pterm"

	"github.com/dfsbench/dfsbench/pkg/api"
)

// ErrDeclined is returned by a Trigger when the operator chose not to start.
var ErrDeclined = errors.New("start declined")

// Trigger decides when an interactive worker asks the coordinator to start.
type Trigger interface {
	Wait(ctx context.Context, d api.Descriptor) error
}

// TriggerFunc adapts a function to a Trigger.
type TriggerFunc func(ctx context.Context, d api.Descriptor) error

func (f TriggerFunc) Wait(ctx context.Context, d api.Descriptor) error { return f(ctx, d) }

// Immediately starts without waiting.
var Immediately = TriggerFunc(func(context.Context, api.Descriptor) error { return nil })

// Prompt asks the operator on the terminal.
var Prompt = TriggerFunc(func(ctx context.Context, d api.Descriptor) error {
	answer := make(chan bool, 1)
	go func() {
		ok, _ := pterm.DefaultInteractiveConfirm.
			WithDefaultText(fmt.Sprintf("Start experiment %q on %s now?", d.Name, d.Network)).
			WithDefaultValue(true).
			Show()
		answer <- ok
	}()

	select {
	case ok := <-answer:
		if !ok {
			return ErrDeclined
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
})
