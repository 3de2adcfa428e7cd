package envctl

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/core-tools/hsu-envctl/pkg/logging"
)

// WithSignals returns a context cancelled on the first SIGINT or SIGTERM.
// Cancellation stops dispatching new work; actions already running finish.
// A second signal exits immediately with forceExitCode.
func WithSignals(parent context.Context, forceExitCode int, logger logging.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	sig := make(chan os.Signal, 2)
	if runtime.GOOS == "windows" {
		signal.Notify(sig, os.Interrupt) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	done := make(chan struct{})
	go func() {
		select {
		case received := <-sig:
			logger.Warnf("Received signal: %v, cancelling run, in-flight actions will finish", received)
			cancel()
		case <-done:
			return
		}

		select {
		case received := <-sig:
			logger.Errorf("Received second signal: %v, exiting immediately", received)
			os.Exit(forceExitCode)
		case <-done:
		}
	}()

	return ctx, func() {
		signal.Stop(sig)
		close(done)
		cancel()
	}
}
