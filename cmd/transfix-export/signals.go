package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/transfix-export/pkg/progress"
)

// watchSignals turns the first signal into a cooperative cancellation of
// the run and the second into a hard cancel of every request. The returned
// function stops watching.
func watchSignals(sigCh <-chan os.Signal, state *progress.State, hardCancel context.CancelFunc, logger zerolog.Logger) func() {
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-sigCh:
				if !state.Cancelled() {
					logger.Warn().Str("signal", sig.String()).Msg("Cancelling export, finishing units in flight (repeat to abort)")
					state.Cancel()
					continue
				}
				logger.Warn().Str("signal", sig.String()).Msg("Aborting export")
				hardCancel()
				return
			}
		}
	}()
	return func() { close(done) }
}

// notifySignals watches SIGINT and SIGTERM.
func notifySignals(state *progress.State, hardCancel context.CancelFunc, logger zerolog.Logger) func() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	stop := watchSignals(sigCh, state, hardCancel, logger)
	return func() {
		signal.Stop(sigCh)
		stop()
	}
}
