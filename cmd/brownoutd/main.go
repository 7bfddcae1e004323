// Command brownoutd runs the power-loss shutdown coordinator daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"brownout/internal/config"
	"brownout/internal/daemonrun"
)

func main() {
	var configPath string
	var logLevel string
	flag.StringVar(&configPath, "config", "", "configuration file path")
	flag.StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	flag.Parse()

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{LogLevel: logLevel}); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
}
