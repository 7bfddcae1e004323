package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"brownout/internal/config"
	"brownout/internal/fsguard"
	"brownout/internal/journal"
	"brownout/internal/logging"
	"brownout/internal/notify"
	"brownout/internal/power"
	"brownout/internal/watchdog"
)

// ErrNotArmed is returned by CancelShutdown outside the grace countdown.
var ErrNotArmed = errors.New("no shutdown countdown to cancel")

// ErrAlreadyCommitted is returned by RequestShutdown once the point of no
// return has passed.
var ErrAlreadyCommitted = errors.New("shutdown already committed")

const eventQueueDepth = 16

type eventKind int

const (
	evPowerLost eventKind = iota
	evPowerRestored
	evRequest
	evCancel
)

type event struct {
	kind   eventKind
	reason string
	resp   chan error
}

// Status is a point-in-time snapshot of the state machine, served over the
// control socket.
type Status struct {
	Phase            string    `json:"phase"`
	Cause            string    `json:"cause,omitempty"`
	SecondsRemaining int       `json:"seconds_remaining"`
	Step             string    `json:"step,omitempty"`
	LastFault        string    `json:"last_fault,omitempty"`
	WatchdogArmed    bool      `json:"watchdog_armed"`
	WatchdogDeadline time.Time `json:"watchdog_deadline,omitzero"`
}

// Orchestrator drives the shutdown sequence. All state transitions happen on
// the Run goroutine; external callers interact only through the event queue.
type Orchestrator struct {
	cfg     *config.Config
	store   *journal.Store
	guard   *fsguard.Controller
	dog     watchdogLease
	gateway *notify.Gateway
	pusher  notify.Pusher
	logger  *slog.Logger

	events chan event

	// powerOff and runCommand are swappable for tests.
	powerOff   func() error
	runCommand func(ctx context.Context, command string) error

	mu         sync.Mutex
	phase      Phase
	cause      Cause
	reason     string
	armedUntil time.Time
	step       string
	lastFault  string

	renewFailures int
}

// maxRenewFailures is how many consecutive renewal errors the machine
// tolerates before declaring itself faulted and letting the hardware reset.
const maxRenewFailures = 3

// watchdogLease is the slice of the watchdog manager the orchestrator needs.
// Nil-able: a disabled watchdog leaves every call a no-op.
type watchdogLease interface {
	Renew() error
	Commit()
	Committed() bool
	Deadline() time.Time
}

// Options carries the orchestrator's collaborators.
type Options struct {
	Config   *config.Config
	Journal  *journal.Store
	Guard    *fsguard.Controller
	Watchdog watchdogLease
	Gateway  *notify.Gateway
	Pusher   notify.Pusher
	Logger   *slog.Logger

	// PowerOff overrides the OS power-off call. Nil means the real reboot
	// syscall.
	PowerOff func() error
	// RunCommand overrides stop_services command execution.
	RunCommand func(ctx context.Context, command string) error
}

// New builds an orchestrator in the Idle phase.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		cfg:        opts.Config,
		store:      opts.Journal,
		guard:      opts.Guard,
		dog:        opts.Watchdog,
		gateway:    opts.Gateway,
		pusher:     opts.Pusher,
		logger:     logging.NewComponentLogger(opts.Logger, "orchestrator"),
		events:     make(chan event, eventQueueDepth),
		powerOff:   opts.PowerOff,
		runCommand: opts.RunCommand,
		phase:      PhaseIdle,
	}
	if o.pusher == nil {
		o.pusher = notify.NewPusher(opts.Config)
	}
	if o.powerOff == nil {
		o.powerOff = func() error {
			return unix.Reboot(unix.LINUX_REBOOT_CMD_POWER_OFF)
		}
	}
	if o.runCommand == nil {
		o.runCommand = func(ctx context.Context, command string) error {
			return exec.CommandContext(ctx, "/bin/sh", "-c", command).Run()
		}
	}
	return o
}

// HandleDecision is the sink wired to the power monitor. It never blocks:
// if the queue is full the event is dropped and logged. The filter emits one
// decision per transition, so a dropped decision is not re-sent; a full queue
// means the Run goroutine has stalled, and a stalled Run goroutine stops
// renewing the watchdog lease, so the hardware reset takes over.
func (o *Orchestrator) HandleDecision(decision power.Decision, evt power.Event) {
	var kind eventKind
	switch decision {
	case power.DecisionLost:
		kind = evPowerLost
	case power.DecisionRestored:
		kind = evPowerRestored
	default:
		return
	}
	select {
	case o.events <- event{kind: kind}:
	default:
		o.logger.Warn("event queue full, decision dropped",
			logging.String("decision", decision.String()),
			logging.String(logging.FieldEventType, "event_queue_full"),
			logging.String(logging.FieldErrorHint, "the orchestrator goroutine may be stalled"),
			logging.String(logging.FieldImpact, "reaction to this power change is delayed one poll cycle"),
		)
	}
}

// RequestShutdown arms the countdown as if power had been lost. Valid in
// Idle; a no-op in Armed; refused after commit.
func (o *Orchestrator) RequestShutdown(ctx context.Context, reason string) error {
	if o.committed() {
		return ErrAlreadyCommitted
	}
	return o.submit(ctx, event{kind: evRequest, reason: reason})
}

// CancelShutdown aborts the countdown. Valid only in Armed.
func (o *Orchestrator) CancelShutdown(ctx context.Context) error {
	if o.committed() {
		return ErrAlreadyCommitted
	}
	return o.submit(ctx, event{kind: evCancel})
}

// committed reports whether the point of no return has passed. Past it the
// Run goroutine is walking the plan and no longer serves the event queue, so
// control calls answer directly instead of queueing.
func (o *Orchestrator) committed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.phase {
	case PhaseCommitting, PhaseExecuting, PhasePoweredOff:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) submit(ctx context.Context, ev event) error {
	ev.resp = make(chan error, 1)
	select {
	case o.events <- ev:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-ev.resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reports the current snapshot.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{
		Phase:     o.phase.String(),
		Step:      o.step,
		LastFault: o.lastFault,
	}
	if o.cause != CauseNone {
		st.Cause = o.cause.String()
	}
	if o.phase == PhaseArmed {
		remaining := time.Until(o.armedUntil)
		if remaining < 0 {
			remaining = 0
		}
		st.SecondsRemaining = int(remaining.Round(time.Second) / time.Second)
	}
	if o.dog != nil {
		st.WatchdogArmed = !o.dog.Committed()
		st.WatchdogDeadline = o.dog.Deadline()
	}
	return st
}

// Run processes events until ctx is cancelled or the machine reaches a
// terminal phase. It blocks; the daemon runs it on a dedicated goroutine.
func (o *Orchestrator) Run(ctx context.Context) error {
	// Heartbeat only when there is a lease to renew. A nil channel select
	// case never fires.
	var renewTick <-chan time.Time
	if period := o.cfg.Watchdog.RenewPeriod(); o.dog != nil && period > 0 {
		renew := time.NewTicker(period)
		defer renew.Stop()
		renewTick = renew.C
	}

	// The grace timer exists only while Armed. A nil channel select case
	// never fires.
	var graceTimer *time.Timer
	var graceExpired <-chan time.Time

	stopGrace := func() {
		if graceTimer != nil {
			graceTimer.Stop()
			graceTimer = nil
			graceExpired = nil
		}
	}
	defer stopGrace()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-renewTick:
			o.renewLease()

		case <-graceExpired:
			stopGrace()
			o.commit()
			o.execute(ctx)
			return nil

		case ev := <-o.events:
			switch ev.kind {
			case evPowerLost:
				o.arm(CausePowerLoss, "power lost", &graceTimer, &graceExpired)
				o.reply(ev, nil)
			case evPowerRestored:
				o.powerRestored(stopGrace)
				o.reply(ev, nil)
			case evRequest:
				err := o.handleRequest(ev.reason, &graceTimer, &graceExpired)
				o.reply(ev, err)
			case evCancel:
				err := o.handleCancel("cancelled by operator", stopGrace)
				o.reply(ev, err)
			}
		}
	}
}

func (o *Orchestrator) reply(ev event, err error) {
	if ev.resp != nil {
		ev.resp <- err
	}
}

func (o *Orchestrator) renewLease() {
	if o.dog == nil {
		return
	}
	o.mu.Lock()
	phase := o.phase
	o.mu.Unlock()
	if phase != PhaseIdle && phase != PhaseArmed {
		return
	}
	err := o.dog.Renew()
	if err == nil || errors.Is(err, watchdog.ErrCommitted) {
		o.mu.Lock()
		o.renewFailures = 0
		o.mu.Unlock()
		return
	}

	o.logger.Warn("watchdog renewal failed",
		logging.Error(err),
		logging.String(logging.FieldEventType, "watchdog_renew_failed"),
		logging.String(logging.FieldErrorHint, "check the watchdog device driver"),
		logging.String(logging.FieldImpact, "hardware reset will occur when the lease expires"),
	)

	o.mu.Lock()
	o.renewFailures++
	failures := o.renewFailures
	o.mu.Unlock()

	// Repeated failures mean the lease will expire regardless. Declare the
	// fault and stop pretending: the hardware reset is now the recovery.
	if failures >= maxRenewFailures {
		o.mu.Lock()
		o.phase = PhaseFaulted
		o.lastFault = fmt.Sprintf("watchdog renewal failing: %v", err)
		o.mu.Unlock()
		o.journalEvent(journal.KindFault, "", "watchdog renewal failing, awaiting hardware reset")
		o.pushAsync(func(ctx context.Context) error { return o.pusher.NotifyError(ctx, err, "watchdog lease") })
	}
}

func (o *Orchestrator) handleRequest(reason string, timer **time.Timer, expired *<-chan time.Time) error {
	o.mu.Lock()
	phase := o.phase
	o.mu.Unlock()

	switch phase {
	case PhaseIdle:
		if reason == "" {
			reason = "shutdown requested"
		}
		o.arm(CauseAdminRequest, reason, timer, expired)
		return nil
	case PhaseArmed:
		return nil
	default:
		return ErrAlreadyCommitted
	}
}

func (o *Orchestrator) handleCancel(reason string, stopGrace func()) error {
	o.mu.Lock()
	phase := o.phase
	o.mu.Unlock()

	if phase != PhaseArmed {
		return ErrNotArmed
	}
	o.abort(reason, stopGrace)
	return nil
}

// powerRestored cancels a countdown that was started by power loss. An
// admin-requested countdown keeps running: the operator asked for the
// shutdown regardless of supply state.
func (o *Orchestrator) powerRestored(stopGrace func()) {
	o.journalEvent(journal.KindPowerRestored, "", "external power restored")
	o.pushAsync(func(ctx context.Context) error { return o.pusher.NotifyPowerRestored(ctx) })

	o.mu.Lock()
	cancellable := o.phase == PhaseArmed && o.cause == CausePowerLoss
	o.mu.Unlock()

	if cancellable {
		o.abort("power restored within grace period", stopGrace)
	}
}

func (o *Orchestrator) arm(cause Cause, reason string, timer **time.Timer, expired *<-chan time.Time) {
	o.mu.Lock()
	if o.phase != PhaseIdle {
		o.mu.Unlock()
		return
	}
	delay := o.cfg.Shutdown.GraceDelay()
	o.phase = PhaseArmed
	o.cause = cause
	o.reason = reason
	o.armedUntil = time.Now().Add(delay)
	o.mu.Unlock()

	*timer = time.NewTimer(delay)
	*expired = (*timer).C

	o.logger.Info("shutdown countdown armed",
		logging.String(logging.FieldEventType, "shutdown_armed"),
		logging.String("cause", cause.String()),
		logging.String("reason", reason),
		logging.Duration("delay", delay),
	)
	kind := journal.KindPowerLost
	if cause == CauseAdminRequest {
		kind = journal.KindShutdownRequested
	}
	o.journalEvent(kind, "", reason)
	if cause == CausePowerLoss {
		o.pushAsync(func(ctx context.Context) error { return o.pusher.NotifyPowerLost(ctx) })
	}
}

// abort returns to Idle with no side effects on filesystems or services.
func (o *Orchestrator) abort(reason string, stopGrace func()) {
	stopGrace()

	o.mu.Lock()
	o.phase = PhaseIdle
	o.cause = CauseNone
	o.reason = ""
	o.armedUntil = time.Time{}
	o.mu.Unlock()

	o.logger.Info("shutdown countdown aborted",
		logging.String(logging.FieldEventType, "shutdown_aborted"),
		logging.String("reason", reason),
	)
	o.journalEvent(journal.KindShutdownCancelled, "", reason)
	o.pushAsync(func(ctx context.Context) error { return o.pusher.NotifyShutdownAborted(ctx, reason) })
}

// commit crosses the point of no return: the watchdog lease stops renewing
// and the plan will run to completion no matter what arrives on the queue.
func (o *Orchestrator) commit() {
	o.mu.Lock()
	o.phase = PhaseCommitting
	reason := o.reason
	o.mu.Unlock()

	// Run stops serving the queue from here on. A control call that raced
	// the phase flip may already be queued; answer it so the IPC caller does
	// not hang until poweroff.
	go func() {
		for ev := range o.events {
			o.reply(ev, ErrAlreadyCommitted)
		}
	}()

	if o.dog != nil {
		o.dog.Commit()
	}

	o.logger.Info("shutdown committed",
		logging.String(logging.FieldEventType, "shutdown_committed"),
		logging.String("reason", reason),
	)
	o.journalEvent(journal.KindPhaseChange, "", "committed: "+reason)
	o.pushAsync(func(ctx context.Context) error { return o.pusher.NotifyShutdownCommitted(ctx, reason) })
}

// execute walks the plan strictly in order. Step failures and timeouts are
// recorded and skipped past; stalling is strictly worse than a partial
// shutdown because the watchdog is already counting down.
func (o *Orchestrator) execute(ctx context.Context) {
	o.setPhase(PhaseExecuting)

	for _, step := range o.plan().Steps {
		o.runStep(ctx, step.Name, step.Timeout, step.Run)
	}

	// If the power-off call returned at all, the watchdog finishes the job.
	o.setPhase(PhasePoweredOff)
	o.logger.Info("shutdown sequence complete",
		logging.String(logging.FieldEventType, "shutdown_complete"),
	)
}

func (o *Orchestrator) stepNotify(stepCtx context.Context) error {
	deadline, _ := stepCtx.Deadline()
	summary := o.gateway.NotifyAll(stepCtx, notify.Notice{
		Reason:   o.currentReason(),
		Deadline: deadline,
	})
	o.logger.Info("services notified",
		logging.String(logging.FieldEventType, "services_notified"),
		logging.Int("notified", summary.Notified),
		logging.Int("acked", summary.Acked),
		logging.Int("missed", len(summary.Missed)),
	)
	return nil
}

func (o *Orchestrator) stepSync(stepCtx context.Context) error {
	o.guard.SyncAll()
	return nil
}

func (o *Orchestrator) stepRemountRO(stepCtx context.Context) error {
	err := o.guard.RemountAllReadOnly(stepCtx)
	if errors.Is(err, fsguard.ErrBusyMount) {
		// Accepted data-loss risk: record and keep moving.
		o.recordFault(StepRemountRO, err)
		return nil
	}
	return err
}

func (o *Orchestrator) stepStopServices(stepCtx context.Context) error {
	var firstErr error
	for _, command := range o.cfg.Shutdown.StopCommands {
		if err := o.runCommand(stepCtx, command); err != nil {
			o.logger.Warn("stop command failed",
				logging.Error(err),
				logging.String("command", command),
				logging.String(logging.FieldEventType, "stop_command_failed"),
				logging.String(logging.FieldErrorHint, "verify the command works when run manually"),
				logging.String(logging.FieldImpact, "the service may be killed by power removal"),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (o *Orchestrator) stepPoweroff(context.Context) error {
	return o.powerOff()
}

// runStep executes one plan step under its own timeout. The step function
// runs on a helper goroutine so a wedged OS call cannot stall the sequence;
// on timeout the goroutine is abandoned.
func (o *Orchestrator) runStep(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) {
	o.mu.Lock()
	o.step = name
	o.mu.Unlock()

	o.logger.Info("shutdown step started",
		logging.String(logging.FieldStep, name),
		logging.String(logging.FieldEventType, "step_started"),
		logging.Duration("timeout", timeout),
	)

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- fn(stepCtx) }()

	var err error
	select {
	case err = <-errCh:
	case <-stepCtx.Done():
		err = fmt.Errorf("step %s: %w", name, stepCtx.Err())
	}

	if err != nil {
		o.recordFault(name, err)
		return
	}
	o.journalEvent(journal.KindStepCompleted, name, "")
	o.logger.Info("shutdown step completed",
		logging.String(logging.FieldStep, name),
		logging.String(logging.FieldEventType, "step_completed"),
	)
}

func (o *Orchestrator) recordFault(step string, err error) {
	o.mu.Lock()
	o.lastFault = fmt.Sprintf("%s: %v", step, err)
	o.mu.Unlock()

	o.logger.Warn("shutdown step faulted, continuing",
		logging.Error(err),
		logging.String(logging.FieldStep, step),
		logging.String(logging.FieldEventType, "step_fault"),
		logging.String(logging.FieldErrorHint, "inspect the journal after the next boot"),
		logging.String(logging.FieldImpact, "shutdown continues with this step incomplete"),
	)
	o.journalEvent(journal.KindStepFault, step, err.Error())
	o.pushAsync(func(ctx context.Context) error { return o.pusher.NotifyError(ctx, err, "shutdown step "+step) })
}

func (o *Orchestrator) setPhase(phase Phase) {
	o.mu.Lock()
	o.phase = phase
	o.step = ""
	o.mu.Unlock()
	o.journalEvent(journal.KindPhaseChange, "", phase.String())
}

func (o *Orchestrator) currentReason() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reason
}

// journalEvent best-effort appends; the journal must never block or fail a
// transition.
func (o *Orchestrator) journalEvent(kind journal.Kind, step, detail string) {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	o.mu.Lock()
	phase := o.phase.String()
	o.mu.Unlock()

	if _, err := o.store.Append(ctx, journal.Entry{
		Kind:   kind,
		Phase:  phase,
		Step:   step,
		Detail: detail,
	}); err != nil {
		o.logger.Warn("failed to append journal entry",
			logging.Error(err),
			logging.String(logging.FieldEventType, "journal_append_failed"),
			logging.String(logging.FieldErrorHint, "check the state directory for space and permissions"),
			logging.String(logging.FieldImpact, "this event will be missing from the journal"),
		)
	}
}

// pushAsync sends an operator notification without blocking the state
// machine.
func (o *Orchestrator) pushAsync(fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			o.logger.Warn("operator notification failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "push_failed"),
				logging.String(logging.FieldErrorHint, "check the ntfy topic and network connectivity"),
				logging.String(logging.FieldImpact, "operator was not alerted"),
			)
		}
	}()
}
