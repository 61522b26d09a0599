package cli

import (
	"fmt"
	"time"

	"mcq_bot/internal/config"
	"mcq_bot/internal/util"

	"github.com/spf13/cobra"
)

type TokenOptions struct {
	*RootOptions
	Operator string
	TTL      time.Duration
}

func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the status API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(opts.ConfigDir)
			if err != nil {
				return WrapExitError(ExitConfigError, "load config", err)
			}
			if cfg.JWT.Secret == "" {
				return WrapExitError(ExitConfigError, "invalid config",
					&config.ConfigError{Field: "JWT_SECRET", Reason: "must be set"})
			}
			if err := cfg.ValidateServer(); err != nil {
				return WrapExitError(ExitConfigError, "invalid config", err)
			}

			ttl := opts.TTL
			if ttl <= 0 {
				ttl = cfg.JWT.ExpireTime
			}
			token, err := util.GenerateJWT(opts.Operator, cfg.JWT.Secret, ttl)
			if err != nil {
				return WrapExitError(ExitFailure, "sign token", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Operator, "operator", "admin", "name recorded in the token")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 0, "token lifetime (default jwt.expire_time)")
	return cmd
}
