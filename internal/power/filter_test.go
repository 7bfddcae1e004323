package power

import (
	"testing"
	"time"
)

func sample(base time.Time, offset time.Duration, present bool) Event {
	return Event{Present: present, ObservedAt: base.Add(offset)}
}

func staleSample(base time.Time, offset time.Duration, present bool) Event {
	return Event{Present: present, Stale: true, ObservedAt: base.Add(offset)}
}

func TestFilterConfirmsSustainedLoss(t *testing.T) {
	base := time.Now()
	f := NewFilter(2*time.Second, 5*time.Second)

	if got := f.Observe(sample(base, 0, true)); got != DecisionNone {
		t.Fatalf("first sample decision = %v, want none", got)
	}

	offsets := []time.Duration{500 * time.Millisecond, time.Second, 1500 * time.Millisecond}
	for _, offset := range offsets {
		if got := f.Observe(sample(base, offset, false)); got != DecisionNone {
			t.Fatalf("decision at %s = %v, want none", offset, got)
		}
	}

	if got := f.Observe(sample(base, 2500*time.Millisecond, false)); got != DecisionLost {
		t.Fatalf("decision at 2.5s = %v, want lost", got)
	}
	if f.Confirmed() {
		t.Fatal("confirmed power-present after loss")
	}

	// No duplicate decision for continued absence.
	if got := f.Observe(sample(base, 3*time.Second, false)); got != DecisionNone {
		t.Fatalf("decision after loss = %v, want none", got)
	}
}

func TestFilterSuppressesBlip(t *testing.T) {
	base := time.Now()
	f := NewFilter(2*time.Second, 5*time.Second)

	f.Observe(sample(base, 0, true))
	if got := f.Observe(sample(base, time.Second, false)); got != DecisionNone {
		t.Fatalf("suspect decision = %v, want none", got)
	}
	if !f.Suspect() {
		t.Fatal("filter not suspect after contradicting sample")
	}

	// Power comes back inside the window: the flap never happened.
	if got := f.Observe(sample(base, 1800*time.Millisecond, true)); got != DecisionNone {
		t.Fatalf("contradiction decision = %v, want none", got)
	}
	if f.Suspect() {
		t.Fatal("filter still suspect after contradiction")
	}

	// A later sustained loss still confirms normally.
	f.Observe(sample(base, 3*time.Second, false))
	if got := f.Observe(sample(base, 5100*time.Millisecond, false)); got != DecisionLost {
		t.Fatalf("decision after sustained loss = %v, want lost", got)
	}
}

func TestFilterConfirmsRestore(t *testing.T) {
	base := time.Now()
	f := NewFilter(2*time.Second, 5*time.Second)

	f.Observe(sample(base, 0, false))
	f.Observe(sample(base, time.Second, true))
	if got := f.Observe(sample(base, 3100*time.Millisecond, true)); got != DecisionRestored {
		t.Fatalf("decision = %v, want restored", got)
	}
	if !f.Confirmed() {
		t.Fatal("confirmed should report power present")
	}
}

func TestFilterTreatsProlongedStaleAsAbsent(t *testing.T) {
	base := time.Now()
	f := NewFilter(2*time.Second, 5*time.Second)

	f.Observe(sample(base, 0, true))

	// Stale samples repeat the last-known present value; within the stale
	// budget they must not start a suspicion.
	if got := f.Observe(staleSample(base, time.Second, true)); got != DecisionNone {
		t.Fatalf("early stale decision = %v, want none", got)
	}
	if f.Suspect() {
		t.Fatal("suspect during stale grace")
	}

	// Beyond staleAfter the signal is treated as power-absent, so the
	// normal debounce window starts.
	if got := f.Observe(staleSample(base, 6*time.Second, true)); got != DecisionNone {
		t.Fatalf("decision at stale cutoff = %v, want none", got)
	}
	if !f.Suspect() {
		t.Fatal("not suspect once stale budget exhausted")
	}
	if got := f.Observe(staleSample(base, 8100*time.Millisecond, true)); got != DecisionLost {
		t.Fatalf("decision after prolonged stale = %v, want lost", got)
	}
}

func TestFilterStaleRecoveryResetsBudget(t *testing.T) {
	base := time.Now()
	f := NewFilter(2*time.Second, 5*time.Second)

	f.Observe(sample(base, 0, true))
	f.Observe(staleSample(base, time.Second, true))
	// A fresh read resets the stale clock.
	f.Observe(sample(base, 2*time.Second, true))
	if got := f.Observe(staleSample(base, 6*time.Second, true)); got != DecisionNone {
		t.Fatalf("decision = %v, want none while stale budget renews", got)
	}
	if f.Suspect() {
		t.Fatal("suspect despite renewed stale budget")
	}
}
