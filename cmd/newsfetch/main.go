// cmd/newsfetch/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/law-makers/newsfetch/internal/cli"
)

func main() {
	// Cancel in-flight fetches on interrupt so caches are flushed before exit
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx)
	stop()
	os.Exit(code)
}
