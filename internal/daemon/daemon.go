// Package daemon aggregates the coordinator's components behind one facade
// consumed by the IPC layer and the runtime harness.
package daemon

import (
	"context"
	"os"
	"time"

	"log/slog"

	"brownout/internal/config"
	"brownout/internal/fsguard"
	"brownout/internal/journal"
	"brownout/internal/logging"
	"brownout/internal/notify"
	"brownout/internal/orchestrator"
	"brownout/internal/power"
)

// Daemon bundles the running components. It owns no goroutines itself; the
// runtime harness starts the monitor and orchestrator loops.
type Daemon struct {
	cfg          *config.Config
	store        *journal.Store
	guard        *fsguard.Controller
	orchestrator *orchestrator.Orchestrator
	gateway      *notify.Gateway
	pusher       notify.Pusher
	monitor      *power.Monitor
	logger       *slog.Logger
	startedAt    time.Time
}

// Options carries the assembled components into the facade.
type Options struct {
	Config       *config.Config
	Journal      *journal.Store
	Guard        *fsguard.Controller
	Orchestrator *orchestrator.Orchestrator
	Gateway      *notify.Gateway
	Pusher       notify.Pusher
	Monitor      *power.Monitor
	Logger       *slog.Logger
}

// New wraps the components. All fields are required except Pusher, which
// defaults to the configured ntfy pusher.
func New(opts Options) *Daemon {
	pusher := opts.Pusher
	if pusher == nil {
		pusher = notify.NewPusher(opts.Config)
	}
	return &Daemon{
		cfg:          opts.Config,
		store:        opts.Journal,
		guard:        opts.Guard,
		orchestrator: opts.Orchestrator,
		gateway:      opts.Gateway,
		pusher:       pusher,
		monitor:      opts.Monitor,
		logger:       logging.NewComponentLogger(opts.Logger, "daemon"),
		startedAt:    time.Now(),
	}
}

// PowerSample summarizes the most recent raw signal reading.
type PowerSample struct {
	Present    bool      `json:"present"`
	Stale      bool      `json:"stale"`
	ObservedAt time.Time `json:"observed_at"`
}

// Status is the full daemon snapshot served over the control socket.
type Status struct {
	PID         int                 `json:"pid"`
	UptimeSecs  int                 `json:"uptime_secs"`
	Shutdown    orchestrator.Status `json:"shutdown"`
	Power       *PowerSample        `json:"power,omitempty"`
	Services    []string            `json:"services"`
	JournalPath string              `json:"journal_path"`
	SocketPath  string              `json:"socket_path"`
}

// Status assembles the snapshot.
func (d *Daemon) Status(ctx context.Context) Status {
	st := Status{
		PID:         os.Getpid(),
		UptimeSecs:  int(time.Since(d.startedAt) / time.Second),
		Shutdown:    d.orchestrator.Status(),
		Services:    d.gateway.Registered(),
		JournalPath: d.cfg.JournalPath(),
		SocketPath:  d.cfg.SocketPath(),
	}
	if d.monitor != nil {
		if sample, ok := d.monitor.LastSample(); ok {
			st.Power = &PowerSample{
				Present:    sample.Present,
				Stale:      sample.Stale,
				ObservedAt: sample.ObservedAt,
			}
		}
	}
	return st
}

// RequestShutdown starts the grace countdown as an admin request.
func (d *Daemon) RequestShutdown(ctx context.Context, reason string) error {
	return d.orchestrator.RequestShutdown(ctx, reason)
}

// CancelShutdown aborts an armed countdown.
func (d *Daemon) CancelShutdown(ctx context.Context) error {
	return d.orchestrator.CancelShutdown(ctx)
}

// Register adds a dependent service and returns its ack token.
func (d *Daemon) Register(name string) string {
	return d.gateway.Register(name)
}

// Unregister removes a dependent service.
func (d *Daemon) Unregister(token string) {
	d.gateway.Unregister(token)
}

// Ack records a service's acknowledgement during a notification round.
func (d *Daemon) Ack(token string) error {
	return d.gateway.Ack(token)
}

// AwaitNotice blocks until a shutdown notice targets the token's service.
func (d *Daemon) AwaitNotice(ctx context.Context, token string) (notify.Notice, error) {
	return d.gateway.AwaitNotice(ctx, token)
}

// Events returns the most recent journal entries, newest first.
func (d *Daemon) Events(ctx context.Context, limit int) ([]journal.Entry, error) {
	return d.store.Recent(ctx, limit)
}

// JournalHealth runs the journal integrity check.
func (d *Daemon) JournalHealth(ctx context.Context) (journal.DatabaseHealth, error) {
	return d.store.CheckHealth(ctx)
}

// TestNotification pushes a test message through the configured pusher.
func (d *Daemon) TestNotification(ctx context.Context) error {
	return d.pusher.TestNotification(ctx)
}

// AcquireWrite grants a write token on a protected mount, for services that
// funnel their writes through the coordinator.
func (d *Daemon) AcquireWrite(path string) (*fsguard.WriteToken, error) {
	return d.guard.AcquireWrite(path)
}
