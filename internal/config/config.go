package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Power configures the power signal source and the debounce filter.
type Power struct {
	// Source selects the signal origin: "gpio", "udev", or "file".
	Source string `toml:"source"`
	// GPIOValuePath is the sysfs value file polled by the gpio source.
	GPIOValuePath string `toml:"gpio_value_path"`
	// ActiveLow inverts the gpio reading (0 means power present).
	ActiveLow bool `toml:"active_low"`
	// UdevSupply names the power_supply device matched by the udev source.
	UdevSupply string `toml:"udev_supply"`
	// OnlinePath is the sysfs "online" attribute used by the file source and
	// as the udev source's startup fallback.
	OnlinePath string `toml:"online_path"`

	PollIntervalMS   int `toml:"poll_interval_ms"`
	ReadTimeoutMS    int `toml:"read_timeout_ms"`
	DebounceWindowMS int `toml:"debounce_window_ms"`
	StaleAfterMS     int `toml:"stale_after_ms"`
}

// Shutdown configures the grace countdown and the per-step timeouts of the
// shutdown plan. All values are seconds.
type Shutdown struct {
	Delay               int `toml:"delay"`
	NotifyTimeout       int `toml:"notify_timeout"`
	SyncTimeout         int `toml:"sync_timeout"`
	RemountTimeout      int `toml:"remount_timeout"`
	StopServicesTimeout int `toml:"stop_services_timeout"`
	PoweroffTimeout     int `toml:"poweroff_timeout"`

	// StopCommands run during the stop_services step, in order. Each entry is
	// executed through the shell with the step timeout applied to the batch.
	StopCommands []string `toml:"stop_commands"`
}

// Watchdog configures the hardware watchdog lease.
type Watchdog struct {
	Enabled       bool   `toml:"enabled"`
	Device        string `toml:"device"`
	Timeout       int    `toml:"timeout"`
	RenewInterval int    `toml:"renew_interval"`
}

// Overlay describes one writable upper layer merged over a read-only lower.
type Overlay struct {
	Lower string `toml:"lower"`
	Upper string `toml:"upper"`
	Work  string `toml:"work"`
	Mount string `toml:"mount"`
}

// Protection lists the filesystem regions the coordinator owns.
type Protection struct {
	// Mounts are the protected mount roots remounted read-only on shutdown.
	Mounts []string `toml:"mounts"`
	// Overlays stay writable regardless of the underlying root mode.
	Overlays []Overlay `toml:"overlay"`
}

// Notifications contains configuration for ntfy operator push alerts.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	PowerEvents    bool   `toml:"power_events"`
	Shutdown       bool   `toml:"shutdown"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for brownout.
//
// Configuration sections by subsystem:
//   - Paths: state and log directories
//   - Power: signal source selection and debounce tuning
//   - Shutdown: grace countdown and shutdown plan step timeouts
//   - Watchdog: hardware watchdog device and lease timing
//   - Protection: protected mount roots and overlay layers
//   - Notifications: ntfy operator push alerts
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Power         Power         `toml:"power"`
	Shutdown      Shutdown      `toml:"shutdown"`
	Watchdog      Watchdog      `toml:"watchdog"`
	Protection    Protection    `toml:"protection"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("/etc/brownout/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	systemPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	userPath, err := expandPath("~/.config/brownout/config.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(systemPath); err == nil && !info.IsDir() {
		return systemPath, true, nil
	}
	if info, err := os.Stat(userPath); err == nil && !info.IsDir() {
		return userPath, true, nil
	}

	return systemPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SocketPath returns the control socket location under the state directory.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "brownoutd.sock")
}

// JournalPath returns the event journal database location.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.StateDir, "journal.db")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "brownoutd.lock")
}

// PollInterval returns the source sampling cadence.
func (p Power) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalMS) * time.Millisecond
}

// ReadTimeout bounds a single source sample.
func (p Power) ReadTimeout() time.Duration {
	return time.Duration(p.ReadTimeoutMS) * time.Millisecond
}

// DebounceWindow is the confirmation window for power state transitions.
func (p Power) DebounceWindow() time.Duration {
	return time.Duration(p.DebounceWindowMS) * time.Millisecond
}

// StaleAfter is how long the signal may stay unreadable before it is treated
// as power-absent.
func (p Power) StaleAfter() time.Duration {
	return time.Duration(p.StaleAfterMS) * time.Millisecond
}

// GraceDelay is the cancellable countdown between a confirmed loss and the
// committed shutdown sequence.
func (s Shutdown) GraceDelay() time.Duration {
	return time.Duration(s.Delay) * time.Second
}

// RenewPeriod is the watchdog lease renewal cadence.
func (w Watchdog) RenewPeriod() time.Duration {
	return time.Duration(w.RenewInterval) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
