package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/libsync/internal/shared"
)

func main() {
	logger := shared.NewLogger(nil)
	runner := NewRunner(RunnerOpts{Logger: logger})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := runner.App().Run(ctx, os.Args)
	stop()
	runner.Close()

	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, shared.ErrNotImplemented):
		logger.Warn("not implemented")
	default:
		logger.Errorf("application error: %v", err)
		os.Exit(1)
	}
}
