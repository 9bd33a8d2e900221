package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rzbill/oplog/internal/cmd/cli"
	logpkg "github.com/rzbill/oplog/pkg/log"
)

func main() {
	// Pebble logs through the standard library logger.
	level, err := logpkg.ParseLevel(os.Getenv("OPLOG_LOG_LEVEL"))
	if err != nil {
		level = logpkg.InfoLevel
	}
	logpkg.RedirectStdLog(logpkg.NewLogger(
		logpkg.WithLevel(level),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cli.NewRoot().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		cancel()
		os.Exit(1)
	}
}
