package journal_test

import (
	"context"
	"testing"
	"time"

	"brownout/internal/journal"
	"brownout/internal/testsupport"
)

func TestAppendAndRecent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJournal(t, cfg)
	ctx := context.Background()

	kinds := []journal.Kind{
		journal.KindPowerLost,
		journal.KindPhaseChange,
		journal.KindStepCompleted,
	}
	for _, kind := range kinds {
		testsupport.MustAppend(t, store, journal.Entry{Kind: kind, Phase: "executing"})
	}

	entries, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != len(kinds) {
		t.Fatalf("entries = %d, want %d", len(entries), len(kinds))
	}
	// Newest first.
	if entries[0].Kind != journal.KindStepCompleted {
		t.Fatalf("first entry kind = %s, want step_completed", entries[0].Kind)
	}
	if entries[0].CreatedAt.IsZero() {
		t.Fatal("entry missing created_at")
	}
}

func TestRecentHonorsLimit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJournal(t, cfg)

	for i := 0; i < 5; i++ {
		testsupport.MustAppend(t, store, journal.Entry{Kind: journal.KindPhaseChange})
	}
	entries, err := store.Recent(context.Background(), 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
}

func TestLastFault(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJournal(t, cfg)
	ctx := context.Background()

	fault, err := store.LastFault(ctx)
	if err != nil {
		t.Fatalf("last fault: %v", err)
	}
	if fault != nil {
		t.Fatalf("fault = %+v, want nil on empty journal", fault)
	}

	testsupport.MustAppend(t, store, journal.Entry{Kind: journal.KindStepFault, Step: "remount_ro", Detail: "busy"})
	testsupport.MustAppend(t, store, journal.Entry{Kind: journal.KindStepCompleted, Step: "poweroff"})

	fault, err = store.LastFault(ctx)
	if err != nil {
		t.Fatalf("last fault: %v", err)
	}
	if fault == nil || fault.Step != "remount_ro" || fault.Detail != "busy" {
		t.Fatalf("fault = %+v", fault)
	}
}

func TestPruneRemovesOldEntries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJournal(t, cfg)
	ctx := context.Background()

	testsupport.MustAppend(t, store, journal.Entry{Kind: journal.KindPowerLost})

	removed, err := store.Prune(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	entries, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries after prune = %d, want 0", len(entries))
	}
}

func TestCheckHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJournal(t, cfg)

	testsupport.MustAppend(t, store, journal.Entry{Kind: journal.KindPowerLost})

	health, err := store.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("check health: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.IntegrityCheck {
		t.Fatalf("health = %+v", health)
	}
	if health.TotalEvents != 1 {
		t.Fatalf("total events = %d, want 1", health.TotalEvents)
	}
}
