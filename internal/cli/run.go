package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mcq_bot/internal/app"
	"mcq_bot/internal/model"
	"mcq_bot/internal/util"

	"github.com/spf13/cobra"
)

func NewRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Send one batch of questions and exit",
		Long: `Connect to WhatsApp, send today's batch and disconnect.

If the device is not paired yet, the pairing code is shown and the command
waits for the connect timeout. When pairing does not finish in time the
command exits 0 and the next run continues with the saved session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.NewApp(ctx, cfg, cmd.OutOrStdout())
			if err != nil {
				return WrapExitError(ExitFailure, "initialize", err)
			}
			defer application.Close()

			report, outcome, err := application.RunOnce(ctx)
			if report != nil {
				if werr := writeReport(cmd.OutOrStdout(), opts.Format, report); werr != nil {
					return werr
				}
			}
			if err != nil {
				var batchErr *util.BatchError
				if errors.As(err, &batchErr) {
					return WrapExitError(ExitFailure, "batch incomplete", err)
				}
				return WrapExitError(ExitFailure, "run failed", err)
			}
			if outcome == model.OutcomePending {
				fmt.Fprintln(cmd.OutOrStdout(), "Not connected yet: scan the pairing code and run again.")
			}
			return nil
		},
	}
}
