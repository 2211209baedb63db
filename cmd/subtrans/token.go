package main

import (
	"fmt"
	"time"

	"github.com/MimeLyc/subtrans/internal/auth"
	"github.com/spf13/cobra"
)

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue an API token signed with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			svc, err := auth.NewJWTService(cfg.HTTP.JWTSecret, ttl)
			if err != nil {
				return fmt.Errorf("JWT_SECRET must be set to issue tokens: %w", err)
			}
			token, err := svc.GenerateToken(args[0], role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", auth.RoleUser, "Token role (user or admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
