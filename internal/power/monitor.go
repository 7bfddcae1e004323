package power

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"brownout/internal/logging"
)

// startable is implemented by sources that own background machinery, such as
// the udev listener.
type startable interface {
	Start(ctx context.Context) error
	Stop()
}

// Monitor drives the sampling loop: it polls the source on a fixed cadence,
// feeds samples through the debounce filter, and invokes the sink for every
// confirmed decision. The sink runs on the monitor goroutine and must not
// block for long.
type Monitor struct {
	source   Source
	filter   *Filter
	interval time.Duration
	sink     func(Decision, Event)
	logger   *slog.Logger

	mu   sync.Mutex
	last Event
	seen bool
}

// NewMonitor wires a source and filter to a decision sink.
func NewMonitor(source Source, filter *Filter, interval time.Duration, sink func(Decision, Event), logger *slog.Logger) *Monitor {
	return &Monitor{
		source:   source,
		filter:   filter,
		interval: interval,
		sink:     sink,
		logger:   logging.NewComponentLogger(logger, "power-monitor"),
	}
}

// Run samples until the context is cancelled. It blocks; callers run it on a
// dedicated goroutine.
func (m *Monitor) Run(ctx context.Context) error {
	if s, ok := m.source.(startable); ok {
		if err := s.Start(ctx); err != nil {
			return err
		}
		defer s.Stop()
	}

	m.logger.Info("power monitoring started",
		logging.String(logging.FieldEventType, "power_monitor_started"),
		logging.String("source", m.source.Describe()),
		logging.Duration("poll_interval", m.interval),
	)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Take one sample immediately so the filter is seeded before the first
	// tick.
	m.step(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.step(ctx)
		}
	}
}

func (m *Monitor) step(ctx context.Context) {
	evt := m.source.Sample(ctx)

	m.mu.Lock()
	m.last = evt
	m.seen = true
	m.mu.Unlock()

	decision := m.filter.Observe(evt)
	if decision == DecisionNone {
		return
	}

	m.logger.Info("power state confirmed",
		logging.String(logging.FieldEventType, "power_decision"),
		logging.String("decision", decision.String()),
		logging.Bool("stale", evt.Stale),
	)
	if m.sink != nil {
		m.sink(decision, evt)
	}
}

// LastSample returns the most recent raw sample, for status reporting.
func (m *Monitor) LastSample() (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.seen
}
