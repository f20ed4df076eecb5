// Package main is the nect command itself.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/GiovanniPag/pyNect/cli"
	"github.com/GiovanniPag/pyNect/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := cli.NewApp(os.Stdin, os.Stdout, os.Stderr)
	if err := app.RunContext(ctx, os.Args); err != nil {
		logging.Global().Error(err)
		stop()
		//nolint:gocritic
		os.Exit(1)
	}
}
