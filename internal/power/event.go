package power

import "time"

// Event is a single sample of the power-presence signal. ObservedAt comes
// from time.Now and carries a monotonic reading, so window arithmetic is
// immune to wall-clock jumps.
type Event struct {
	Present    bool
	Stale      bool
	ObservedAt time.Time
}

// Decision is the filter's confirmed output.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionLost
	DecisionRestored
)

func (d Decision) String() string {
	switch d {
	case DecisionLost:
		return "lost"
	case DecisionRestored:
		return "restored"
	default:
		return "none"
	}
}
