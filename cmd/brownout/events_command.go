package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"brownout/internal/ipc"
)

func newEventsCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent journal events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Events(limit)
				if err != nil {
					return err
				}
				if len(resp.Events) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no events recorded")
					return nil
				}

				headers := []string{"ID", "Time", "Kind", "Phase", "Step", "Detail"}
				rows := make([][]string, 0, len(resp.Events))
				for _, event := range resp.Events {
					rows = append(rows, []string{
						fmt.Sprintf("%d", event.ID),
						event.CreatedAt.Local().Format(time.RFC3339),
						event.Kind,
						event.Phase,
						event.Step,
						event.Detail,
					})
				}
				aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of events to show")
	return cmd
}
