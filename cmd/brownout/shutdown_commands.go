package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"brownout/internal/ipc"
)

func newShutdownCommand(ctx *commandContext) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Arm the shutdown countdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RequestShutdown(reason)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				if !resp.Armed {
					return fmt.Errorf("shutdown not armed")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded in the journal")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel an armed shutdown countdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.CancelShutdown()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				if !resp.Cancelled {
					return fmt.Errorf("nothing cancelled")
				}
				return nil
			})
		},
	}
}
