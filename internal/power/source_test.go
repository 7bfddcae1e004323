package power

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSignal(t *testing.T, path, value string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		t.Fatalf("write signal file: %v", err)
	}
}

func TestFileSourceReadsOnlineFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "online")
	src := NewFileSource(path, time.Second)

	writeSignal(t, path, "1\n")
	evt := src.Sample(context.Background())
	if !evt.Present || evt.Stale {
		t.Fatalf("sample = %+v, want present fresh", evt)
	}

	writeSignal(t, path, "0\n")
	evt = src.Sample(context.Background())
	if evt.Present || evt.Stale {
		t.Fatalf("sample = %+v, want absent fresh", evt)
	}
}

func TestGPIOSourceActiveLow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value")
	src := NewGPIOSource(path, true, time.Second)

	// Active-low: line low means power present.
	writeSignal(t, path, "0")
	if evt := src.Sample(context.Background()); !evt.Present {
		t.Fatalf("active-low sample with line 0 = %+v, want present", evt)
	}
	writeSignal(t, path, "1")
	if evt := src.Sample(context.Background()); evt.Present {
		t.Fatalf("active-low sample with line 1 = %+v, want absent", evt)
	}
}

func TestLineSourceStaleFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "online")
	src := NewFileSource(path, time.Second)

	// Before any successful read the conservative assumption is present.
	evt := src.Sample(context.Background())
	if !evt.Present || !evt.Stale {
		t.Fatalf("pre-read sample = %+v, want present stale", evt)
	}

	writeSignal(t, path, "0")
	if evt := src.Sample(context.Background()); evt.Present || evt.Stale {
		t.Fatalf("fresh sample = %+v, want absent fresh", evt)
	}

	// The file disappearing repeats the last-known value tagged stale.
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove signal file: %v", err)
	}
	evt = src.Sample(context.Background())
	if evt.Present || !evt.Stale {
		t.Fatalf("post-removal sample = %+v, want absent stale", evt)
	}
}

func TestLineSourceRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "online")
	src := NewFileSource(path, time.Second)

	writeSignal(t, path, "1")
	src.Sample(context.Background())

	writeSignal(t, path, "not-a-flag")
	evt := src.Sample(context.Background())
	if !evt.Present || !evt.Stale {
		t.Fatalf("garbage sample = %+v, want last-known present stale", evt)
	}
}
