// Package testsupport provides shared helpers for package tests.
package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"brownout/internal/config"
	"brownout/internal/journal"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Power.Source = "file"
	cfg.Power.OnlinePath = filepath.Join(base, "online")
	cfg.Watchdog.Enabled = false
	cfg.Protection.Mounts = []string{filepath.Join(base, "data")}

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithMounts overrides the protected mount roots.
func WithMounts(mounts ...string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Protection.Mounts = mounts
	}
}

// WithStopCommands sets the stop_services commands.
func WithStopCommands(commands ...string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Shutdown.StopCommands = commands
	}
}

// MustOpenJournal opens the journal store for a test config and registers
// cleanup.
func MustOpenJournal(t testing.TB, cfg *config.Config) *journal.Store {
	t.Helper()

	store, err := journal.Open(cfg)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close journal: %v", err)
		}
	})
	return store
}

// MustAppend appends a journal entry or fails the test.
func MustAppend(t testing.TB, store *journal.Store, entry journal.Entry) int64 {
	t.Helper()

	id, err := store.Append(context.Background(), entry)
	if err != nil {
		t.Fatalf("append journal entry: %v", err)
	}
	return id
}
