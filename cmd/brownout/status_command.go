package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"brownout/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and shutdown state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Status()
				if err != nil {
					return err
				}
				for _, line := range renderStatus(resp, stdoutIsTerminal()) {
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
				return nil
			})
		},
	}
}

func renderStatus(resp *ipc.StatusResponse, colorize bool) []string {
	st := resp.Status
	lines := renderSectionHeader("Brownout", colorize)

	lines = append(lines, renderStatusLine("Daemon", statusOK,
		fmt.Sprintf("running (pid %d, up %s)", st.PID, (time.Duration(st.UptimeSecs)*time.Second).String()), colorize))

	phaseKind := statusOK
	phaseMsg := st.Shutdown.Phase
	switch st.Shutdown.Phase {
	case "armed":
		phaseKind = statusWarn
		phaseMsg = fmt.Sprintf("armed, %ds remaining (%s)", st.Shutdown.SecondsRemaining, st.Shutdown.Cause)
	case "committing", "executing":
		phaseKind = statusWarn
		if st.Shutdown.Step != "" {
			phaseMsg = fmt.Sprintf("%s (step %s)", st.Shutdown.Phase, st.Shutdown.Step)
		}
	case "faulted":
		phaseKind = statusError
	}
	lines = append(lines, renderStatusLine("Shutdown", phaseKind, phaseMsg, colorize))

	if st.Power != nil {
		kind := statusOK
		msg := "present"
		if !st.Power.Present {
			kind = statusError
			msg = "absent"
		}
		if st.Power.Stale {
			kind = statusWarn
			msg += " (stale reading)"
		}
		lines = append(lines, renderStatusLine("Power", kind, msg, colorize))
	} else {
		lines = append(lines, renderStatusLine("Power", statusInfo, "no sample yet", colorize))
	}

	wdKind := statusInfo
	wdMsg := "disabled"
	if !st.Shutdown.WatchdogDeadline.IsZero() {
		if st.Shutdown.WatchdogArmed {
			wdKind = statusOK
			wdMsg = fmt.Sprintf("renewing, deadline %s", st.Shutdown.WatchdogDeadline.Format(time.RFC3339))
		} else {
			wdKind = statusWarn
			wdMsg = fmt.Sprintf("committed, expires %s", st.Shutdown.WatchdogDeadline.Format(time.RFC3339))
		}
	}
	lines = append(lines, renderStatusLine("Watchdog", wdKind, wdMsg, colorize))

	svcMsg := "none registered"
	svcKind := statusInfo
	if len(st.Services) > 0 {
		svcKind = statusOK
		svcMsg = strings.Join(st.Services, ", ")
	}
	lines = append(lines, renderStatusLine("Services", svcKind, svcMsg, colorize))

	if st.Shutdown.LastFault != "" {
		lines = append(lines, renderStatusLine("Last fault", statusWarn, st.Shutdown.LastFault, colorize))
	}

	lines = append(lines, renderStatusLine("Journal", statusInfo, st.JournalPath, colorize))
	return lines
}
