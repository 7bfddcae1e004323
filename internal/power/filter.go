package power

import "time"

// Filter debounces power events. A state change is confirmed only when the
// new value is sustained for the full window; any contradicting sample inside
// the window discards the suspicion entirely, so an ignition blip produces no
// output at all.
//
// The filter is a pure state machine over event timestamps. It is not safe
// for concurrent use; the Monitor owns it.
type Filter struct {
	window     time.Duration
	staleAfter time.Duration

	initialized bool
	confirmed   bool

	suspect      bool
	suspectValue bool
	suspectSince time.Time

	staleSince time.Time
}

// NewFilter builds a filter with the given confirmation window and stale
// tolerance.
func NewFilter(window, staleAfter time.Duration) *Filter {
	return &Filter{window: window, staleAfter: staleAfter}
}

// Observe feeds one sample through the filter and returns a confirmed
// decision, or DecisionNone while the signal is stable or still suspect.
func (f *Filter) Observe(evt Event) Decision {
	present := f.effectivePresent(evt)

	if !f.initialized {
		f.initialized = true
		f.confirmed = present
		return DecisionNone
	}

	if !f.suspect {
		if present != f.confirmed {
			f.suspect = true
			f.suspectValue = present
			f.suspectSince = evt.ObservedAt
		}
		return DecisionNone
	}

	if present != f.suspectValue {
		// Contradicting sample: the flap never happened.
		f.suspect = false
		return DecisionNone
	}

	if evt.ObservedAt.Sub(f.suspectSince) >= f.window {
		f.suspect = false
		f.confirmed = f.suspectValue
		if f.confirmed {
			return DecisionRestored
		}
		return DecisionLost
	}
	return DecisionNone
}

// effectivePresent applies the conservative stale policy: a signal that has
// been unreadable longer than staleAfter is treated as power-absent.
func (f *Filter) effectivePresent(evt Event) bool {
	if !evt.Stale {
		f.staleSince = time.Time{}
		return evt.Present
	}
	if f.staleSince.IsZero() {
		f.staleSince = evt.ObservedAt
	}
	if f.staleAfter > 0 && evt.ObservedAt.Sub(f.staleSince) >= f.staleAfter {
		return false
	}
	return evt.Present
}

// Confirmed reports the last confirmed power-present value.
func (f *Filter) Confirmed() bool {
	return f.confirmed
}

// Suspect reports whether the filter is currently inside a confirmation
// window.
func (f *Filter) Suspect() bool {
	return f.suspect
}
