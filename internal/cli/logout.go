package cli

import (
	"fmt"

	"mcq_bot/internal/app"

	"github.com/spf13/cobra"
)

func NewLogoutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Unlink the device and delete the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			// 已登录的会话不会出二维码，避免误触配对
			cfg.Pairing.Terminal = false

			application, err := app.NewApp(cmd.Context(), cfg, cmd.OutOrStdout())
			if err != nil {
				return WrapExitError(ExitFailure, "initialize", err)
			}
			defer application.Close()

			if err := application.Logout(cmd.Context()); err != nil {
				return WrapExitError(ExitFailure, "logout failed", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}
