package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mcq_bot/internal/app"

	"github.com/spf13/cobra"
)

type StatusOptions struct {
	*RootOptions
	Timeout time.Duration
}

// StatusReport is what status prints.
type StatusReport struct {
	Outcome   string `json:"outcome"`
	State     string `json:"state"`
	Delivered int    `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Test the WhatsApp connection with the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.RootOptions)
			if err != nil {
				return err
			}
			if opts.Timeout > 0 {
				cfg.Session.ConnectTimeout = opts.Timeout
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.NewApp(ctx, cfg, cmd.OutOrStdout())
			if err != nil {
				return WrapExitError(ExitFailure, "initialize", err)
			}
			defer application.Close()

			outcome, connErr := application.Connect(ctx)
			report := StatusReport{
				Outcome:   outcome.String(),
				State:     application.State().String(),
				Delivered: len(application.Delivered()),
			}
			if connErr != nil {
				report.Error = connErr.Error()
			}

			if opts.Format == "json" {
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "session: %s (%s)\ndelivered this cycle: %d\n", report.State, report.Outcome, report.Delivered)
			}

			if connErr != nil {
				return WrapExitError(ExitFailure, "connection test failed", connErr)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "how long to wait for the session to open")
	return cmd
}
