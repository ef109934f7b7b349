package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/billsync/backend/internal/domain/shared"
	"github.com/billsync/backend/internal/interfaces/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.Run(ctx, cli.Open, os.Args[1:], os.Stdout); err != nil {
		if ve, ok := shared.AsValidationError(err); ok {
			for _, msg := range ve.Fields.FullMessages() {
				fmt.Fprintln(os.Stderr, "error:", msg)
			}
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		stop()
		os.Exit(1)
	}
}
