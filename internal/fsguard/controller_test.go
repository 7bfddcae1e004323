package fsguard

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"brownout/internal/config"
	"brownout/internal/logging"
	"brownout/internal/testsupport"
)

type fakeMounter struct {
	mu        sync.Mutex
	readOnly  map[string]bool
	overlays  []string
	syncCount int
	failRO    map[string]error
}

func newFakeMounter() *fakeMounter {
	return &fakeMounter{
		readOnly: make(map[string]bool),
		failRO:   make(map[string]error),
	}
}

func (m *fakeMounter) RemountReadOnly(target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failRO[target]; err != nil {
		return err
	}
	m.readOnly[target] = true
	return nil
}

func (m *fakeMounter) RemountReadWrite(target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readOnly[target] = false
	return nil
}

func (m *fakeMounter) MountOverlay(lower, upper, work, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overlays = append(m.overlays, target)
	return nil
}

func (m *fakeMounter) Sync() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncCount++
}

func (m *fakeMounter) isReadOnly(target string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readOnly[target]
}

func newController(t *testing.T, mounter Mounter, mounts ...string) *Controller {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithMounts(mounts...))
	return NewController(cfg, mounter, logging.NewNop())
}

func TestAcquireReleaseRefcount(t *testing.T) {
	mounter := newFakeMounter()
	ctrl := newController(t, mounter, "/data")

	const holders = 5
	tokens := make([]*WriteToken, 0, holders)
	for i := 0; i < holders; i++ {
		token, err := ctrl.AcquireWrite("/data")
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		tokens = append(tokens, token)
	}
	if got := ctrl.Writers("/data"); got != holders {
		t.Fatalf("writers = %d, want %d", got, holders)
	}

	for _, token := range tokens {
		token.Release()
	}
	if got := ctrl.Writers("/data"); got != 0 {
		t.Fatalf("writers after release = %d, want 0", got)
	}

	// Double release must not underflow.
	tokens[0].Release()
	if got := ctrl.Writers("/data"); got != 0 {
		t.Fatalf("writers after double release = %d, want 0", got)
	}
}

func TestAcquireUnknownMount(t *testing.T) {
	ctrl := newController(t, newFakeMounter(), "/data")
	if _, err := ctrl.AcquireWrite("/elsewhere"); err == nil {
		t.Fatal("acquire on unprotected mount succeeded")
	}
}

func TestRemountAllReadOnlyDrainsWriters(t *testing.T) {
	mounter := newFakeMounter()
	ctrl := newController(t, mounter, "/data", "/media")

	token, err := ctrl.AcquireWrite("/data")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		token.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ctrl.RemountAllReadOnly(ctx); err != nil {
		t.Fatalf("remount: %v", err)
	}
	for _, mount := range []string{"/data", "/media"} {
		if !mounter.isReadOnly(mount) {
			t.Fatalf("%s not remounted read-only", mount)
		}
	}
}

func TestRemountBusyMountProceeds(t *testing.T) {
	mounter := newFakeMounter()
	ctrl := newController(t, mounter, "/data", "/media")

	// Writer never drains.
	if _, err := ctrl.AcquireWrite("/data"); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := ctrl.RemountAllReadOnly(ctx)
	if !errors.Is(err, ErrBusyMount) {
		t.Fatalf("remount error = %v, want ErrBusyMount", err)
	}

	// The busy mount is reported; the clean one still flipped.
	busy := ctrl.BusyMounts()
	if len(busy) != 1 || busy[0] != "/data" {
		t.Fatalf("busy mounts = %v, want [/data]", busy)
	}
	if !mounter.isReadOnly("/media") {
		t.Fatal("/media not remounted despite busy sibling")
	}
	if mounter.isReadOnly("/data") {
		t.Fatal("/data flipped read-only while a writer held it")
	}
}

func TestRemountKernelBusyProceeds(t *testing.T) {
	mounter := newFakeMounter()
	mounter.failRO["/data"] = fmt.Errorf("device or resource busy")
	ctrl := newController(t, mounter, "/data", "/media")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := ctrl.RemountAllReadOnly(ctx)
	if !errors.Is(err, ErrBusyMount) {
		t.Fatalf("remount error = %v, want ErrBusyMount", err)
	}
	if !mounter.isReadOnly("/media") {
		t.Fatal("/media not remounted")
	}
}

func TestSealBlocksNewAcquires(t *testing.T) {
	ctrl := newController(t, newFakeMounter(), "/data")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ctrl.RemountAllReadOnly(ctx); err != nil {
		t.Fatalf("remount: %v", err)
	}

	if _, err := ctrl.AcquireWrite("/data"); !errors.Is(err, ErrSealed) {
		t.Fatalf("acquire after seal = %v, want ErrSealed", err)
	}
}

func TestRestoreReadWriteAfterAbort(t *testing.T) {
	mounter := newFakeMounter()
	ctrl := newController(t, mounter, "/data")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ctrl.RemountAllReadOnly(ctx); err != nil {
		t.Fatalf("remount: %v", err)
	}
	if err := ctrl.RestoreReadWrite(); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if mounter.isReadOnly("/data") {
		t.Fatal("/data still read-only after restore")
	}
	if _, err := ctrl.AcquireWrite("/data"); err != nil {
		t.Fatalf("acquire after restore: %v", err)
	}
}

func TestAcquireRemountsReadOnlyMount(t *testing.T) {
	mounter := newFakeMounter()
	ctrl := newController(t, mounter, "/data")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ctrl.RemountAllReadOnly(ctx); err != nil {
		t.Fatalf("remount: %v", err)
	}
	ctrl.Unseal()

	token, err := ctrl.AcquireWrite("/data")
	if err != nil {
		t.Fatalf("acquire on read-only mount: %v", err)
	}
	defer token.Release()
	if mounter.isReadOnly("/data") {
		t.Fatal("mount not flipped back read-write for the writer")
	}
}

func TestMountOverlays(t *testing.T) {
	mounter := newFakeMounter()
	base := t.TempDir()
	cfg := testsupport.NewConfig(t)
	cfg.Protection.Overlays = []config.Overlay{{
		Lower: filepath.Join(base, "lower"),
		Upper: filepath.Join(base, "upper"),
		Work:  filepath.Join(base, "work"),
		Mount: filepath.Join(base, "merged"),
	}}
	ctrl := NewController(cfg, mounter, logging.NewNop())

	ctrl.MountOverlays()
	if len(mounter.overlays) != 1 || mounter.overlays[0] != filepath.Join(base, "merged") {
		t.Fatalf("overlays = %v", mounter.overlays)
	}
}

func TestSyncAll(t *testing.T) {
	mounter := newFakeMounter()
	ctrl := newController(t, mounter, "/data")
	ctrl.SyncAll()
	if mounter.syncCount != 1 {
		t.Fatalf("sync count = %d, want 1", mounter.syncCount)
	}
}
