package database

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

var shutdownSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// ShutdownContext derives a context from parent that is canceled on SIGINT or
// SIGTERM. onSignal, when set, runs before the cancel so callers can log which
// signal stopped them. The returned cancel releases the signal subscription.
func ShutdownContext(parent context.Context, onSignal func(os.Signal)) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, shutdownSignals...)

	go func() {
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			if onSignal != nil {
				onSignal(sig)
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
