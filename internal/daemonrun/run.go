// Package daemonrun owns the daemon process runtime: signal handling, the
// single-instance lock, logger and journal setup, component wiring, and the
// blocking run loop.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"brownout/internal/config"
	"brownout/internal/daemon"
	"brownout/internal/fsguard"
	"brownout/internal/ipc"
	"brownout/internal/journal"
	"brownout/internal/logging"
	"brownout/internal/notify"
	"brownout/internal/orchestrator"
	"brownout/internal/power"
	"brownout/internal/watchdog"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the coordinator runtime loop and blocks until the process is
// signalled or the shutdown sequence completes.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("brownout-%s.log", runID))

	logger, err := logging.New(logging.Options{
		Level:            opts.LogLevel,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update brownout.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "brownout-*.log", Exclude: []string{logPath}},
	)

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another instance holds %s", cfg.LockPath())
	}
	defer lock.Unlock()

	pidPath := filepath.Join(cfg.Paths.StateDir, "brownoutd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := journal.Open(cfg)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer store.Close()

	if cfg.Logging.RetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -cfg.Logging.RetentionDays)
		if _, err := store.Prune(signalCtx, cutoff); err != nil {
			logger.Warn("journal prune failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "journal_prune_failed"),
				logging.String(logging.FieldErrorHint, "check the state directory for space and permissions"),
				logging.String(logging.FieldImpact, "old journal entries accumulate"),
			)
		}
	}

	guard := fsguard.NewController(cfg, fsguard.SystemMounter{}, logger)
	guard.MountOverlays()

	// The watchdog is the protection guarantee: when enabled, failing to
	// arm it is a startup failure, not a degradation.
	var dog *watchdog.Manager
	if cfg.Watchdog.Enabled {
		device, err := watchdog.OpenDevice(cfg.Watchdog.Device)
		if err != nil {
			return fmt.Errorf("open watchdog: %w", err)
		}
		dog, err = watchdog.NewManager(device, time.Duration(cfg.Watchdog.Timeout)*time.Second, logger)
		if err != nil {
			return fmt.Errorf("arm watchdog: %w", err)
		}
		defer func() {
			if err := dog.Disarm(); err != nil && !errors.Is(err, watchdog.ErrCommitted) {
				logger.Warn("watchdog disarm failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "watchdog_disarm_failed"),
					logging.String(logging.FieldErrorHint, "the driver may not support magic close"),
					logging.String(logging.FieldImpact, "hardware reset will follow this exit"),
				)
			}
		}()
	}

	gateway := notify.NewGateway(logger)
	pusher := notify.NewPusher(cfg)

	source, err := power.NewSourceFromConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("build power source: %w", err)
	}

	orchOpts := orchestrator.Options{
		Config:  cfg,
		Journal: store,
		Guard:   guard,
		Gateway: gateway,
		Pusher:  pusher,
		Logger:  logger,
	}
	if dog != nil {
		orchOpts.Watchdog = dog
	}
	orch := orchestrator.New(orchOpts)

	filter := power.NewFilter(cfg.Power.DebounceWindow(), cfg.Power.StaleAfter())
	monitor := power.NewMonitor(source, filter, cfg.Power.PollInterval(), orch.HandleDecision, logger)

	d := daemon.New(daemon.Options{
		Config:       cfg,
		Journal:      store,
		Guard:        guard,
		Orchestrator: orch,
		Gateway:      gateway,
		Pusher:       pusher,
		Monitor:      monitor,
		Logger:       logger,
	})

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	logger.Info("brownout daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("power_source", source.Describe()),
		logging.String("socket", cfg.SocketPath()),
		logging.Bool("watchdog", cfg.Watchdog.Enabled),
	)

	monitorDone := make(chan error, 1)
	go func() { monitorDone <- monitor.Run(signalCtx) }()

	orchDone := make(chan error, 1)
	go func() { orchDone <- orch.Run(signalCtx) }()

	select {
	case <-signalCtx.Done():
		logger.Info("brownout daemon shutting down",
			logging.String(logging.FieldEventType, "daemon_stopping"))
	case err := <-orchDone:
		// A nil return means the shutdown sequence ran to completion; the
		// power-off call normally kills the process before this point.
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("orchestrator stopped", logging.Error(err))
			return err
		}
	case err := <-monitorDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("power monitor stopped", logging.Error(err))
			return err
		}
	}
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "brownout.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
