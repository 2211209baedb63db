package main

import (
	"errors"
	"fmt"

	"github.com/MimeLyc/subtrans/internal/notify"
	"github.com/spf13/cobra"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test ntfy notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			err = notify.New(cfg.Notify, nil).SendTest(cmd.Context())
			switch {
			case errors.Is(err, notify.ErrPushDisabled):
				fmt.Fprintln(cmd.OutOrStdout(), "Notification not sent: NTFY_TOPIC is not set")
				return nil
			case err != nil:
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
			return nil
		},
	}
}
