package cli

import (
	"os"
	"os/signal"
	"syscall"

	"mcq_bot/internal/app"

	"github.com/spf13/cobra"
)

func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run as a daemon: scheduled batches plus the status API",
		Long: `Keep the WhatsApp session open, send a batch at each of bot.schedule_times
and serve the status API (health, session, pairing code, manual runs,
websocket events, metrics). Batch and schedule settings reload when the
config file changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if err := cfg.ValidateServer(); err != nil {
				return WrapExitError(ExitConfigError, "invalid config", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.NewApp(ctx, cfg, cmd.OutOrStdout())
			if err != nil {
				return WrapExitError(ExitFailure, "initialize", err)
			}
			defer application.Close()

			if err := application.Serve(ctx); err != nil {
				return WrapExitError(ExitFailure, "serve", err)
			}
			return nil
		},
	}
}
