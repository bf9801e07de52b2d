// Command stagesync stages a local directory of partitioned data files into
// an S3, MinIO or directory stage. See internal/cli for the commands.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/input-output-hk/catalyst-forge-libs/stagesync/internal/cli"
)

func main() {
	// Cancelling stops dispatch; in-flight uploads finish or stay IN_PROGRESS
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := &cli.App{Stdout: os.Stdout, Stderr: os.Stderr}
	code := app.Run(ctx, os.Args[1:])
	cancel()
	os.Exit(code)
}
