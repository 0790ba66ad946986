// Command obsstore registers sensors, persists observations and streams or
// exports dataset series.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"obsstore/internal/cli"
)

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}
