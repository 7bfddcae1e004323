package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"brownout/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigShowCommand(ctx))

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				target = expanded
			}

			if _, err := os.Stat(target); err == nil && !overwrite {
				return fmt.Errorf("config file already exists at %s (use --force to overwrite)", target)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("write sample config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sample configuration written to %s\n", target)
			return nil
		},
	}
	cmd.Flags().StringVar(&targetPath, "path", "", "Target path for the sample configuration")
	cmd.Flags().BoolVar(&overwrite, "force", false, "Overwrite an existing file")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "state_dir:        %s\n", cfg.Paths.StateDir)
			fmt.Fprintf(out, "log_dir:          %s\n", cfg.Paths.LogDir)
			fmt.Fprintf(out, "power_source:     %s\n", cfg.Power.Source)
			fmt.Fprintf(out, "debounce_window:  %s\n", cfg.Power.DebounceWindow())
			fmt.Fprintf(out, "poll_interval:    %s\n", cfg.Power.PollInterval())
			fmt.Fprintf(out, "shutdown_delay:   %s\n", cfg.Shutdown.GraceDelay())
			fmt.Fprintf(out, "watchdog:         %s\n", yesNo(cfg.Watchdog.Enabled))
			if cfg.Watchdog.Enabled {
				fmt.Fprintf(out, "watchdog_device:  %s\n", cfg.Watchdog.Device)
			}
			fmt.Fprintf(out, "protected_mounts: %s\n", strings.Join(cfg.Protection.Mounts, ", "))
			for _, ov := range cfg.Protection.Overlays {
				fmt.Fprintf(out, "overlay:          %s (upper %s)\n", ov.Mount, ov.Upper)
			}
			fmt.Fprintf(out, "ntfy:             %s\n", yesNo(strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""))
			fmt.Fprintf(out, "socket:           %s\n", cfg.SocketPath())
			fmt.Fprintf(out, "journal:          %s\n", cfg.JournalPath())
			return nil
		},
	}
}
