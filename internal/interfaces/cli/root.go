// Package cli is the billsync command line. Each invocation opens a Runtime,
// runs one service operation and prints the result as JSON on stdout.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/billsync/backend/internal/infrastructure/logger"
)

type app struct {
	open Opener
	opts GlobalOptions
	rt   *Runtime
	out  io.Writer

	startedAt time.Time
}

// Run executes the command line args and releases the runtime afterwards
func Run(ctx context.Context, open Opener, args []string, out io.Writer) error {
	a := &app{open: open, out: out}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(out)

	err := root.ExecuteContext(ctx)
	if a.rt != nil {
		a.rt.Logger.Debug("Command finished",
			zap.Duration("elapsed", time.Since(a.startedAt)),
			zap.Bool("failed", err != nil))
		err = errors.Join(err, a.rt.Close(context.WithoutCancel(ctx)))
	}
	return err
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "billsync",
		Short: "Keep local billing records and their Stripe resources in step",
		Long: `billsync manages customers, products and subscriptions stored locally
and mirrored to Stripe. Soft deletes cascade through dependent records and
can be restored; hard deletes cancel or remove the remote resources.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.open(cmd.Context(), a.opts)
			if err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			a.rt = rt
			a.startedAt = time.Now()

			ctx, log := logger.WithRequestID(cmd.Context(), rt.Logger, uuid.NewString())
			ctx = logger.WithOperation(ctx, cmd.CommandPath())
			log.Debug("Command started", zap.Strings("args", args))
			cmd.SetContext(ctx)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.opts.ConfigPath, "config", "c", "", "config file path")
	root.PersistentFlags().BoolVarP(&a.opts.Verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		a.customerCommand(),
		a.productCommand(),
		a.subscriptionCommand(),
	)
	return root
}
