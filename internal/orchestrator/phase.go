package orchestrator

// Phase identifies where the state machine is in its lifecycle. Aborted is
// transient: a cancelled countdown records the abort and settles back to
// Idle so the daemon keeps protecting the system.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseArmed
	PhaseCommitting
	PhaseExecuting
	PhasePoweredOff
	PhaseFaulted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseArmed:
		return "armed"
	case PhaseCommitting:
		return "committing"
	case PhaseExecuting:
		return "executing"
	case PhasePoweredOff:
		return "powered_off"
	case PhaseFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Cause records what started a shutdown countdown.
type Cause int

const (
	CauseNone Cause = iota
	CausePowerLoss
	CauseAdminRequest
)

func (c Cause) String() string {
	switch c {
	case CausePowerLoss:
		return "power_loss"
	case CauseAdminRequest:
		return "admin_request"
	default:
		return "none"
	}
}
