package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mcq_bot/internal/app"
	"mcq_bot/internal/model"

	"github.com/spf13/cobra"
)

type PairOptions struct {
	*RootOptions
	Timeout time.Duration
}

func NewPairCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PairOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Link this bot as a WhatsApp device",
		Long: `Show the pairing QR code (terminal, qr-url.txt, whatsapp-qr.png,
qr-data-url.txt) and wait until it is scanned. Does nothing if the device
is already linked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.RootOptions)
			if err != nil {
				return err
			}
			cfg.Pairing.Terminal = true
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

			outcome, err := application.Connect(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "pairing failed", err)
			}
			if outcome == model.OutcomeOpen {
				fmt.Fprintln(cmd.OutOrStdout(), "Device linked, session saved.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Code not scanned in time; run pair again for a new code.")
			return nil
		},
	}

	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "how long to wait for the scan (default session.connect_timeout)")
	return cmd
}
