package power

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"log/slog"

	"brownout/internal/config"
)

// Source abstracts the origin of the power-presence signal. Sample must
// never block longer than the configured read timeout; on a read failure it
// returns the last-known event tagged stale instead of an error, so the
// filter can degrade conservatively.
type Source interface {
	Sample(ctx context.Context) Event
	Describe() string
}

// NewSourceFromConfig builds the configured signal source.
func NewSourceFromConfig(cfg *config.Config, logger *slog.Logger) (Source, error) {
	switch cfg.Power.Source {
	case "gpio":
		return NewGPIOSource(cfg.Power.GPIOValuePath, cfg.Power.ActiveLow, cfg.Power.ReadTimeout()), nil
	case "file":
		return NewFileSource(cfg.Power.OnlinePath, cfg.Power.ReadTimeout()), nil
	case "udev":
		return NewUdevSource(cfg.Power.UdevSupply, cfg.Power.OnlinePath, cfg.Power.ReadTimeout(), logger), nil
	default:
		return nil, fmt.Errorf("unknown power source %q", cfg.Power.Source)
	}
}

// lineSource samples a sysfs-style file holding "0" or "1".
type lineSource struct {
	path      string
	activeLow bool
	timeout   time.Duration
	label     string

	mu   sync.Mutex
	last Event
	seen bool
}

// NewGPIOSource polls a GPIO value file (e.g. /sys/class/gpio/gpio17/value).
func NewGPIOSource(path string, activeLow bool, timeout time.Duration) Source {
	return &lineSource{path: path, activeLow: activeLow, timeout: timeout, label: "gpio"}
}

// NewFileSource polls a power_supply "online" attribute or any file a UPS
// driver exports with the same 0/1 convention.
func NewFileSource(path string, timeout time.Duration) Source {
	return &lineSource{path: path, timeout: timeout, label: "file"}
}

func (s *lineSource) Describe() string {
	return s.label + ":" + s.path
}

func (s *lineSource) Sample(ctx context.Context) Event {
	now := time.Now()
	raw, err := readLineWithTimeout(ctx, s.path, s.timeout)
	if err != nil {
		return s.staleEvent(now)
	}
	high, err := parseLine(raw)
	if err != nil {
		return s.staleEvent(now)
	}
	present := high != s.activeLow
	evt := Event{Present: present, ObservedAt: now}

	s.mu.Lock()
	s.last = evt
	s.seen = true
	s.mu.Unlock()
	return evt
}

// staleEvent repeats the last-known value tagged stale. Before the first
// successful read the conservative assumption is that power is present: the
// board is running, and a false "lost" at boot would shut it straight back
// down.
func (s *lineSource) staleEvent(now time.Time) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.seen {
		return Event{Present: true, Stale: true, ObservedAt: now}
	}
	return Event{Present: s.last.Present, Stale: true, ObservedAt: now}
}

func parseLine(raw string) (bool, error) {
	switch strings.TrimSpace(raw) {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, fmt.Errorf("unexpected line value %q", raw)
	}
}

// readLineWithTimeout reads a small file without letting a wedged driver
// stall the sampling loop. Sysfs reads normally return immediately; the
// goroutine is abandoned on timeout and its result discarded.
func readLineWithTimeout(ctx context.Context, path string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		data, err := os.ReadFile(path)
		return string(data), err
	}

	type result struct {
		data string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := os.ReadFile(path)
		ch <- result{data: string(data), err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.data, res.err
	case <-timer.C:
		return "", fmt.Errorf("read %s: timeout after %s", path, timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
