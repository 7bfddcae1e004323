package fsguard

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Mounter abstracts the mount syscalls so the controller can be exercised
// without root or real block devices.
type Mounter interface {
	RemountReadOnly(target string) error
	RemountReadWrite(target string) error
	MountOverlay(lower, upper, work, target string) error
	Sync()
}

// SystemMounter issues real mount(2) calls.
type SystemMounter struct{}

func (SystemMounter) RemountReadOnly(target string) error {
	if err := unix.Mount("", target, "", unix.MS_REMOUNT|unix.MS_RDONLY, ""); err != nil {
		return fmt.Errorf("remount %s read-only: %w", target, err)
	}
	return nil
}

func (SystemMounter) RemountReadWrite(target string) error {
	if err := unix.Mount("", target, "", unix.MS_REMOUNT, ""); err != nil {
		return fmt.Errorf("remount %s read-write: %w", target, err)
	}
	return nil
}

func (SystemMounter) MountOverlay(lower, upper, work, target string) error {
	for _, dir := range []string{upper, work} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create overlay dir %s: %w", dir, err)
		}
	}
	opts := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", lower, upper, work)
	if err := unix.Mount("overlay", target, "overlay", 0, opts); err != nil {
		return fmt.Errorf("mount overlay on %s: %w", target, err)
	}
	return nil
}

func (SystemMounter) Sync() {
	unix.Sync()
}
