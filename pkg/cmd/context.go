package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dfsbench/dfsbench/pkg/logging"
)

const shutdownTimeout = 30 * time.Second

var (
	processContext     context.Context
	processContextOnce sync.Once
)

// ProcessContext is cancelled on the first interrupt. A second interrupt, or
// a shutdown lasting longer than shutdownTimeout, terminates the process.
func ProcessContext() context.Context {
	processContextOnce.Do(func() {
		var cancel context.CancelFunc
		processContext, cancel = context.WithCancel(context.Background())

		notify := make(chan os.Signal, 2)
		signal.Notify(notify, os.Interrupt, syscall.SIGHUP, syscall.SIGTERM)
		go func() {
			defer signal.Stop(notify)

			sig := <-notify
			logging.S().Infow("shutting down", "signal", sig.String())
			cancel()

			select {
			case <-time.After(shutdownTimeout):
				fmt.Fprintln(os.Stderr, "timed out on shutdown, terminating...")
			case <-notify:
				fmt.Fprintln(os.Stderr, "received another interrupt before graceful shutdown, terminating...")
			}
			os.Exit(1)
		}()
	})
	return processContext
}
