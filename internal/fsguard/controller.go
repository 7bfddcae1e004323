package fsguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"brownout/internal/config"
	"brownout/internal/logging"
)

// ErrBusyMount marks a mount that could not be flipped read-only, either
// because writers never drained or because the kernel reported EBUSY. The
// shutdown proceeds anyway; losing one dirty mount beats losing the battery.
var ErrBusyMount = errors.New("mount busy")

// ErrSealed is returned by AcquireWrite once shutdown has begun sealing
// mounts. Services holding existing tokens keep them until Release.
var ErrSealed = errors.New("writes sealed for shutdown")

const drainPollInterval = 50 * time.Millisecond

type mountState struct {
	path     string
	writers  int
	readOnly bool
}

// Controller tracks writer refcounts for each protected mount and performs
// the remount and overlay operations during shutdown. All methods are safe
// for concurrent use.
type Controller struct {
	mounter Mounter
	logger  *slog.Logger

	mu      sync.Mutex
	mounts  map[string]*mountState
	sealed  bool
	busy    []string
	overlay []config.Overlay
}

// NewController builds a controller for the configured protected mounts.
func NewController(cfg *config.Config, mounter Mounter, logger *slog.Logger) *Controller {
	c := &Controller{
		mounter: mounter,
		logger:  logging.NewComponentLogger(logger, "fsguard"),
		mounts:  make(map[string]*mountState),
		overlay: cfg.Protection.Overlays,
	}
	for _, path := range cfg.Protection.Mounts {
		c.mounts[path] = &mountState{path: path}
	}
	return c
}

// WriteToken represents one in-flight write grant on a mount. Release is
// idempotent.
type WriteToken struct {
	ctrl *Controller
	path string
	once sync.Once
}

// Path reports the mount the token covers.
func (t *WriteToken) Path() string { return t.path }

// Release returns the grant. Calling it more than once is a no-op.
func (t *WriteToken) Release() {
	t.once.Do(func() {
		t.ctrl.release(t.path)
	})
}

// AcquireWrite grants a write token on the mount covering path. A mount
// that is currently read-only is remounted read-write first. It fails with
// ErrSealed once shutdown has started flipping mounts read-only, and with an
// error for paths outside the protected set.
func (c *Controller) AcquireWrite(path string) (*WriteToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed {
		return nil, ErrSealed
	}
	state, ok := c.mounts[path]
	if !ok {
		return nil, fmt.Errorf("mount %s is not under protection", path)
	}
	if state.readOnly {
		if err := c.mounter.RemountReadWrite(path); err != nil {
			return nil, err
		}
		state.readOnly = false
	}
	state.writers++
	return &WriteToken{ctrl: c, path: path}, nil
}

func (c *Controller) release(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.mounts[path]
	if !ok || state.writers == 0 {
		return
	}
	state.writers--
}

// Writers reports the current writer count for a mount, for status output.
func (c *Controller) Writers(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.mounts[path]; ok {
		return state.writers
	}
	return 0
}

// Seal stops new write grants. Existing tokens stay valid until released.
func (c *Controller) Seal() {
	c.mu.Lock()
	c.sealed = true
	c.mu.Unlock()
}

// Unseal re-opens write grants after an aborted shutdown.
func (c *Controller) Unseal() {
	c.mu.Lock()
	c.sealed = false
	c.mu.Unlock()
}

// SyncAll flushes dirty pages for every filesystem.
func (c *Controller) SyncAll() {
	c.mounter.Sync()
}

// RemountAllReadOnly seals the controller, waits for writers on each mount
// to drain, and flips the mounts read-only. Mounts whose writers do not
// drain before ctx expires, or whose remount fails, are recorded and the
// method keeps going; the returned error wraps ErrBusyMount when any mount
// was left writable.
func (c *Controller) RemountAllReadOnly(ctx context.Context) error {
	c.Seal()

	var busy []string
	for _, path := range c.mountPaths() {
		if !c.waitDrain(ctx, path) {
			c.logger.Warn("writers did not drain before deadline",
				logging.String("mount", path),
				logging.Int("writers", c.Writers(path)),
				logging.String(logging.FieldEventType, "mount_drain_timeout"),
				logging.String(logging.FieldErrorHint, "a service is holding a write token through shutdown"),
				logging.String(logging.FieldImpact, "mount remains writable and may need fsck after power-off"),
			)
			busy = append(busy, path)
			continue
		}
		if err := c.mounter.RemountReadOnly(path); err != nil {
			c.logger.Warn("failed to remount read-only",
				logging.Error(err),
				logging.String("mount", path),
				logging.String(logging.FieldEventType, "remount_failed"),
				logging.String(logging.FieldErrorHint, "check for open file descriptors with lsof"),
				logging.String(logging.FieldImpact, "mount remains writable and may need fsck after power-off"),
			)
			busy = append(busy, path)
			continue
		}
		c.markReadOnly(path)
		c.logger.Info("mount flipped read-only",
			logging.String("mount", path),
			logging.String(logging.FieldEventType, "mount_read_only"),
		)
	}

	c.mu.Lock()
	c.busy = busy
	c.mu.Unlock()

	if len(busy) > 0 {
		return fmt.Errorf("%w: %v", ErrBusyMount, busy)
	}
	return nil
}

// RestoreReadWrite undoes the read-only flip after an aborted shutdown and
// re-opens write grants. Mounts that were never flipped are skipped.
func (c *Controller) RestoreReadWrite() error {
	var firstErr error
	for _, path := range c.mountPaths() {
		c.mu.Lock()
		flipped := c.mounts[path].readOnly
		c.mu.Unlock()
		if !flipped {
			continue
		}
		if err := c.mounter.RemountReadWrite(path); err != nil {
			c.logger.Warn("failed to restore read-write mount",
				logging.Error(err),
				logging.String("mount", path),
				logging.String(logging.FieldEventType, "remount_restore_failed"),
				logging.String(logging.FieldErrorHint, "remount manually with mount -o remount,rw"),
				logging.String(logging.FieldImpact, "services cannot persist data until the mount is writable"),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		c.mu.Lock()
		c.mounts[path].readOnly = false
		c.mu.Unlock()
	}
	c.Unseal()
	return firstErr
}

// BusyMounts reports the mounts left writable by the last remount pass.
func (c *Controller) BusyMounts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.busy))
	copy(out, c.busy)
	return out
}

// MountOverlays sets up the configured overlay mounts. Called once at daemon
// startup; a failed overlay is logged and skipped so one bad entry does not
// keep the daemon down.
func (c *Controller) MountOverlays() {
	for _, ov := range c.overlay {
		if err := c.mounter.MountOverlay(ov.Lower, ov.Upper, ov.Work, ov.Mount); err != nil {
			c.logger.Warn("failed to mount overlay",
				logging.Error(err),
				logging.String("mount", ov.Mount),
				logging.String(logging.FieldEventType, "overlay_mount_failed"),
				logging.String(logging.FieldErrorHint, "verify lower, upper and work directories exist on the same filesystem"),
				logging.String(logging.FieldImpact, "writes to this path will hit persistent storage directly"),
			)
			continue
		}
		c.logger.Info("overlay mounted",
			logging.String("mount", ov.Mount),
			logging.String(logging.FieldEventType, "overlay_mounted"),
		)
	}
}

func (c *Controller) mountPaths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	paths := make([]string, 0, len(c.mounts))
	for path := range c.mounts {
		paths = append(paths, path)
	}
	return paths
}

func (c *Controller) markReadOnly(path string) {
	c.mu.Lock()
	c.mounts[path].readOnly = true
	c.mu.Unlock()
}

// waitDrain polls until the mount has no writers or ctx expires. Polling
// keeps the wait interruptible without racing the condition variable against
// the context.
func (c *Controller) waitDrain(ctx context.Context, path string) bool {
	for {
		c.mu.Lock()
		writers := c.mounts[path].writers
		c.mu.Unlock()
		if writers == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(drainPollInterval):
		}
	}
}
