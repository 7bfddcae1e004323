// Package watchdog manages the hardware watchdog as a dead-man's switch for
// shutdown. While the daemon is healthy the lease is renewed on a fixed
// cadence; once a shutdown commits, renewal stops permanently and the timer
// becomes the guarantee that a hung shutdown still ends in power-off.
package watchdog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"brownout/internal/logging"
)

// ErrCommitted is returned by Renew after Commit has latched.
var ErrCommitted = errors.New("watchdog committed, renewal refused")

// Device abstracts the watchdog hardware so the manager can be tested
// without /dev/watchdog.
type Device interface {
	// SetTimeout programs the hardware expiry and returns the value the
	// driver actually accepted, which may differ from the request.
	SetTimeout(d time.Duration) (time.Duration, error)
	// Kick resets the hardware countdown.
	Kick() error
	// Disarm stops the hardware timer and closes the device. Only valid
	// before Commit.
	Disarm() error
}

// fileDevice drives a Linux watchdog character device.
type fileDevice struct {
	f *os.File
}

// OpenDevice opens a watchdog device node. Opening arms the timer
// immediately on most drivers, so callers must start renewing right away.
func OpenDevice(path string) (Device, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open watchdog %s: %w", path, err)
	}
	return &fileDevice{f: f}, nil
}

func (d *fileDevice) SetTimeout(timeout time.Duration) (time.Duration, error) {
	secs := int(timeout / time.Second)
	if secs < 1 {
		secs = 1
	}
	if err := unix.IoctlSetPointerInt(int(d.f.Fd()), unix.WDIOC_SETTIMEOUT, secs); err != nil {
		return 0, fmt.Errorf("set watchdog timeout: %w", err)
	}
	actual, err := unix.IoctlGetInt(int(d.f.Fd()), unix.WDIOC_GETTIMEOUT)
	if err != nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.Duration(actual) * time.Second, nil
}

func (d *fileDevice) Kick() error {
	if _, err := unix.IoctlGetInt(int(d.f.Fd()), unix.WDIOC_KEEPALIVE); err != nil {
		return fmt.Errorf("kick watchdog: %w", err)
	}
	return nil
}

// Disarm writes the magic close character so the driver stops the timer,
// then closes the node. Without it a clean daemon exit would reboot the
// board when the lease expires.
func (d *fileDevice) Disarm() error {
	if _, err := d.f.Write([]byte("V")); err != nil {
		d.f.Close()
		return fmt.Errorf("write magic close: %w", err)
	}
	return d.f.Close()
}

// Manager owns the renewal cadence and the one-way commit latch.
type Manager struct {
	device  Device
	timeout time.Duration
	logger  *slog.Logger

	mu        sync.Mutex
	committed bool
	deadline  time.Time
}

// NewManager programs the device timeout and returns a manager ready to
// renew. The effective timeout may be adjusted by the driver.
func NewManager(device Device, timeout time.Duration, logger *slog.Logger) (*Manager, error) {
	actual, err := device.SetTimeout(timeout)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		device:  device,
		timeout: actual,
		logger:  logging.NewComponentLogger(logger, "watchdog"),
	}
	if err := m.Renew(); err != nil {
		return nil, err
	}
	m.logger.Info("watchdog armed",
		logging.String(logging.FieldEventType, "watchdog_armed"),
		logging.Duration("timeout", actual),
	)
	return m, nil
}

// Timeout reports the effective hardware timeout.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// Renew kicks the hardware and pushes the deadline out. After Commit it is
// a refused no-op: the deadline must only ever move closer.
func (m *Manager) Renew() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.committed {
		return ErrCommitted
	}
	if err := m.device.Kick(); err != nil {
		return err
	}
	m.deadline = time.Now().Add(m.timeout)
	return nil
}

// Commit latches the manager: the lease will never be renewed again and the
// hardware timer runs down to a guaranteed power cut. Idempotent.
func (m *Manager) Commit() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.committed {
		return
	}
	m.committed = true
	m.logger.Info("watchdog committed, renewal stopped",
		logging.String(logging.FieldEventType, "watchdog_committed"),
		logging.Time("deadline", m.deadline),
	)
}

// Committed reports whether the latch has fired.
func (m *Manager) Committed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed
}

// Deadline reports when the hardware will cut power if not renewed.
func (m *Manager) Deadline() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deadline
}

// Disarm stops the hardware timer for a clean, non-committed daemon exit.
// After Commit it refuses: the power-off guarantee must survive the daemon.
func (m *Manager) Disarm() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.committed {
		return ErrCommitted
	}
	return m.device.Disarm()
}
