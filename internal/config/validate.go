package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable. A config that fails
// validation must prevent daemon startup: running without a working signal
// source or watchdog would leave the storage unprotected.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validatePower(); err != nil {
		return err
	}
	if err := c.validateShutdown(); err != nil {
		return err
	}
	if err := c.validateWatchdog(); err != nil {
		return err
	}
	if err := c.validateProtection(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validatePower() error {
	switch c.Power.Source {
	case "gpio":
		if c.Power.GPIOValuePath == "" {
			return errors.New("power.gpio_value_path must be set when power.source is gpio")
		}
	case "udev":
		if c.Power.UdevSupply == "" {
			return errors.New("power.udev_supply must be set when power.source is udev")
		}
	case "file":
		if c.Power.OnlinePath == "" {
			return errors.New("power.online_path must be set when power.source is file")
		}
	default:
		return fmt.Errorf("power.source must be one of gpio, udev, file (got %q)", c.Power.Source)
	}

	if err := ensurePositiveMap(map[string]int{
		"power.poll_interval_ms":   c.Power.PollIntervalMS,
		"power.read_timeout_ms":    c.Power.ReadTimeoutMS,
		"power.debounce_window_ms": c.Power.DebounceWindowMS,
		"power.stale_after_ms":     c.Power.StaleAfterMS,
	}); err != nil {
		return err
	}
	if c.Power.StaleAfterMS < c.Power.PollIntervalMS {
		return errors.New("power.stale_after_ms must be at least power.poll_interval_ms")
	}
	return nil
}

func (c *Config) validateShutdown() error {
	return ensurePositiveMap(map[string]int{
		"shutdown.delay":                 c.Shutdown.Delay,
		"shutdown.notify_timeout":        c.Shutdown.NotifyTimeout,
		"shutdown.sync_timeout":          c.Shutdown.SyncTimeout,
		"shutdown.remount_timeout":       c.Shutdown.RemountTimeout,
		"shutdown.stop_services_timeout": c.Shutdown.StopServicesTimeout,
		"shutdown.poweroff_timeout":      c.Shutdown.PoweroffTimeout,
	})
}

func (c *Config) validateWatchdog() error {
	// Checked regardless of enabled: the interval feeds the orchestrator's
	// heartbeat ticker either way.
	if c.Watchdog.RenewInterval <= 0 {
		return errors.New("watchdog.renew_interval must be positive (seconds)")
	}
	if !c.Watchdog.Enabled {
		return nil
	}
	if c.Watchdog.Device == "" {
		return errors.New("watchdog.device must be set when watchdog.enabled is true")
	}
	if c.Watchdog.Timeout <= 0 {
		return errors.New("watchdog.timeout must be positive (seconds)")
	}
	if c.Watchdog.RenewInterval >= c.Watchdog.Timeout {
		return errors.New("watchdog.renew_interval must be less than watchdog.timeout")
	}
	return nil
}

func (c *Config) validateProtection() error {
	seen := make(map[string]struct{}, len(c.Protection.Mounts))
	for _, mount := range c.Protection.Mounts {
		if _, dup := seen[mount]; dup {
			return fmt.Errorf("protection.mounts lists %q more than once", mount)
		}
		seen[mount] = struct{}{}
	}
	for i, o := range c.Protection.Overlays {
		if o.Lower == "" || o.Upper == "" || o.Work == "" || o.Mount == "" {
			return fmt.Errorf("protection.overlay[%d] must set lower, upper, work, and mount", i)
		}
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
