package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"templater/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Main(ctx, os.Args[1:], cli.DefaultStreams())
	stop()
	os.Exit(code)
}
