package power_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"brownout/internal/logging"
	"brownout/internal/power"
)

// scriptedSource replays a fixed sequence of present values, holding the last
// one once exhausted.
type scriptedSource struct {
	mu     sync.Mutex
	values []bool
	index  int
}

func (s *scriptedSource) Sample(context.Context) power.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	value := s.values[s.index]
	if s.index < len(s.values)-1 {
		s.index++
	}
	return power.Event{Present: value, ObservedAt: time.Now()}
}

func (s *scriptedSource) Describe() string { return "scripted" }

func TestMonitorConfirmsLossThroughFilter(t *testing.T) {
	source := &scriptedSource{values: []bool{true, false}}
	filter := power.NewFilter(30*time.Millisecond, time.Second)

	decisions := make(chan power.Decision, 4)
	monitor := power.NewMonitor(source, filter, 10*time.Millisecond, func(d power.Decision, _ power.Event) {
		decisions <- d
	}, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Run(ctx)

	select {
	case d := <-decisions:
		if d != power.DecisionLost {
			t.Fatalf("decision = %s, want lost", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no decision within deadline")
	}

	// The confirmed state does not repeat while the signal holds.
	select {
	case d := <-decisions:
		t.Fatalf("unexpected extra decision %s", d)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMonitorTracksLastSample(t *testing.T) {
	source := &scriptedSource{values: []bool{true}}
	filter := power.NewFilter(time.Second, time.Second)
	monitor := power.NewMonitor(source, filter, 10*time.Millisecond, nil, logging.NewNop())

	if _, ok := monitor.LastSample(); ok {
		t.Fatal("sample reported before the monitor ran")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if sample, ok := monitor.LastSample(); ok {
			if !sample.Present {
				t.Fatalf("sample = %+v, want present", sample)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("monitor never recorded a sample")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
