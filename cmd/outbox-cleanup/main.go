// Command outbox-cleanup removes dispatched outbox records older than the retention period.
//
// For MongoDB it reconciles the OutboxCleanup TTL index and lets the server expire documents.
// For MySQL it deletes dispatched rows in batches under an advisory lock. Use it from cron or a
// CronJob when the application itself should not run the maintainers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const exitUsage = 2

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := newCommand(Load())
	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(exitCode(err))
	}
}
