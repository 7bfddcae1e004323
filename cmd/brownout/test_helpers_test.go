package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"brownout/internal/config"
	"brownout/internal/daemon"
	"brownout/internal/fsguard"
	"brownout/internal/ipc"
	"brownout/internal/journal"
	"brownout/internal/logging"
	"brownout/internal/notify"
	"brownout/internal/orchestrator"
	"brownout/internal/testsupport"
)

type cliMounter struct{}

func (cliMounter) RemountReadOnly(string) error         { return nil }
func (cliMounter) RemountReadWrite(string) error        { return nil }
func (cliMounter) MountOverlay(_, _, _, _ string) error { return nil }
func (cliMounter) Sync()                                {}

type cliTestEnv struct {
	cfg        *config.Config
	store      *journal.Store
	orch       *orchestrator.Orchestrator
	server     *ipc.Server
	socketPath string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	cfg.Shutdown.Delay = 30

	configPath := filepath.Join(cfg.Paths.StateDir, "config.toml")
	writeTestConfig(t, configPath, cfg)

	logger := logging.NewNop()
	store := testsupport.MustOpenJournal(t, cfg)
	guard := fsguard.NewController(cfg, cliMounter{}, logger)
	gateway := notify.NewGateway(logger)
	pusher := notify.NewPusher(cfg)

	orch := orchestrator.New(orchestrator.Options{
		Config:     cfg,
		Journal:    store,
		Guard:      guard,
		Gateway:    gateway,
		Pusher:     pusher,
		Logger:     logger,
		PowerOff:   func() error { return nil },
		RunCommand: func(context.Context, string) error { return nil },
	})

	ctx, cancel := context.WithCancel(context.Background())
	go orch.Run(ctx)

	d := daemon.New(daemon.Options{
		Config:       cfg,
		Journal:      store,
		Guard:        guard,
		Orchestrator: orch,
		Gateway:      gateway,
		Pusher:       pusher,
		Logger:       logger,
	})

	srv, err := ipc.NewServer(ctx, cfg.SocketPath(), d, logger)
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	time.Sleep(50 * time.Millisecond)

	return &cliTestEnv{
		cfg:        cfg,
		store:      store,
		orch:       orch,
		server:     srv,
		socketPath: cfg.SocketPath(),
		configPath: configPath,
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
state_dir = %q
log_dir = %q

[power]
source = "file"
online_path = %q

[watchdog]
enabled = false

[protection]
mounts = [%q]
`,
		cfg.Paths.StateDir,
		cfg.Paths.LogDir,
		cfg.Power.OnlinePath,
		cfg.Protection.Mounts[0],
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
