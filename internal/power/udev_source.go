package power

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pilebones/go-udev/netlink"

	"brownout/internal/logging"
)

// UdevSource listens for kernel power_supply uevents and caches the latest
// online state, giving interrupt-style latency without polling the kernel.
// Sample only reads the cache. When an online_path fallback is configured it
// seeds the cache at startup, so the source is not blind until the first
// uevent arrives.
type UdevSource struct {
	supply     string
	onlinePath string
	timeout    time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	present bool
	seen    bool
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewUdevSource creates a source watching the named power_supply device.
func NewUdevSource(supply, onlinePath string, timeout time.Duration, logger *slog.Logger) *UdevSource {
	return &UdevSource{
		supply:     supply,
		onlinePath: onlinePath,
		timeout:    timeout,
		logger:     logging.NewComponentLogger(logger, "udev-source"),
	}
}

func (s *UdevSource) Describe() string {
	return "udev:" + s.supply
}

// Start connects to the kernel uevent socket and begins caching state. A
// connect failure is non-fatal: the source degrades to the online_path
// fallback (or stale samples) and the daemon keeps running.
func (s *UdevSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.seedFromFileLocked(ctx)

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		s.logger.Warn("failed to connect to netlink socket; power events will rely on sysfs fallback",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"),
			logging.String(logging.FieldErrorHint, "ensure the daemon has permission to access netlink sockets"),
			logging.String(logging.FieldImpact, "power loss detection latency degrades to the poll interval"),
		)
		return nil
	}

	s.conn = conn
	s.quit = make(chan struct{})
	s.running = true

	quit := s.quit
	go s.monitorLoop(ctx, quit)

	s.logger.Info("udev power monitor started",
		logging.String(logging.FieldEventType, "udev_monitor_started"),
		logging.String("supply", s.supply),
	)
	return nil
}

// Stop shuts down the uevent listener.
func (s *UdevSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	if s.quit != nil {
		close(s.quit)
		s.quit = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.running = false
}

func (s *UdevSource) Sample(ctx context.Context) Event {
	now := time.Now()

	s.mu.Lock()
	present, seen := s.present, s.seen
	s.mu.Unlock()

	if seen {
		return Event{Present: present, ObservedAt: now}
	}

	// No uevent and no seed yet: try the sysfs attribute directly.
	if s.onlinePath != "" {
		if raw, err := readLineWithTimeout(ctx, s.onlinePath, s.timeout); err == nil {
			if online, parseErr := parseLine(raw); parseErr == nil {
				s.mu.Lock()
				s.present = online
				s.seen = true
				s.mu.Unlock()
				return Event{Present: online, ObservedAt: now}
			}
		}
	}
	return Event{Present: true, Stale: true, ObservedAt: now}
}

func (s *UdevSource) seedFromFileLocked(ctx context.Context) {
	if s.onlinePath == "" {
		return
	}
	raw, err := readLineWithTimeout(ctx, s.onlinePath, s.timeout)
	if err != nil {
		return
	}
	if online, parseErr := parseLine(raw); parseErr == nil {
		s.present = online
		s.seen = true
	}
}

func (s *UdevSource) monitorLoop(ctx context.Context, quit <-chan struct{}) {
	events := make(chan netlink.UEvent)
	errs := make(chan error)

	matcher := s.buildMatcher()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	monitorQuit := conn.Monitor(events, errs, matcher)

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-events:
			s.handleEvent(uevent)
		case err := <-errs:
			s.logger.Warn("udev monitor error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "udev_monitor_error"),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "power event latency may degrade"),
			)
		}
	}
}

// buildMatcher matches change events for the configured power_supply device.
func (s *UdevSource) buildMatcher() netlink.Matcher {
	action := "change|add"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "power_supply",
		},
	})
	return rules
}

func (s *UdevSource) handleEvent(uevent netlink.UEvent) {
	name := strings.TrimSpace(uevent.Env["POWER_SUPPLY_NAME"])
	if name != "" && !strings.EqualFold(name, s.supply) {
		return
	}

	online := strings.TrimSpace(uevent.Env["POWER_SUPPLY_ONLINE"])
	if online == "" {
		return
	}
	present := online == "1"

	s.mu.Lock()
	changed := !s.seen || s.present != present
	s.present = present
	s.seen = true
	s.mu.Unlock()

	if changed {
		s.logger.Info("power supply state changed via udev",
			logging.String(logging.FieldEventType, "udev_power_change"),
			logging.String("supply", name),
			logging.Bool("online", present),
		)
	}
}
