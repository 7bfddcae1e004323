package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"brownout/internal/logging"
)

func TestNotifyAllCollectsAcks(t *testing.T) {
	gateway := NewGateway(logging.NewNop())

	dashboard := gateway.Register("dashboard")
	recorder := gateway.Register("recorder")

	for _, token := range []string{dashboard, recorder} {
		token := token
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, err := gateway.AwaitNotice(ctx, token); err != nil {
				t.Errorf("await notice: %v", err)
				return
			}
			if err := gateway.Ack(token); err != nil {
				t.Errorf("ack: %v", err)
			}
		}()
	}

	summary := gateway.NotifyAll(context.Background(), Notice{
		Reason:   "power lost",
		Deadline: time.Now().Add(2 * time.Second),
	})
	if summary.Notified != 2 || summary.Acked != 2 {
		t.Fatalf("summary = %+v, want 2 notified 2 acked", summary)
	}
	if len(summary.Missed) != 0 {
		t.Fatalf("missed = %v, want none", summary.Missed)
	}
}

func TestNotifyAllReportsMissedAcks(t *testing.T) {
	gateway := NewGateway(logging.NewNop())

	fast := gateway.Register("fast")
	gateway.Register("slow")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if _, err := gateway.AwaitNotice(ctx, fast); err != nil {
			t.Errorf("await notice: %v", err)
			return
		}
		_ = gateway.Ack(fast)
	}()

	summary := gateway.NotifyAll(context.Background(), Notice{
		Reason:   "power lost",
		Deadline: time.Now().Add(300 * time.Millisecond),
	})
	if summary.Notified != 2 || summary.Acked != 1 {
		t.Fatalf("summary = %+v, want 2 notified 1 acked", summary)
	}
	if len(summary.Missed) != 1 || summary.Missed[0] != "slow" {
		t.Fatalf("missed = %v, want [slow]", summary.Missed)
	}
}

func TestAckOutsideRoundIsNoop(t *testing.T) {
	gateway := NewGateway(logging.NewNop())
	token := gateway.Register("late")

	if err := gateway.Ack(token); err != nil {
		t.Fatalf("ack outside round = %v, want nil", err)
	}
}

func TestAckUnknownToken(t *testing.T) {
	gateway := NewGateway(logging.NewNop())
	if err := gateway.Ack("bogus"); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("ack = %v, want ErrUnknownToken", err)
	}
}

func TestRegisterReplacesExisting(t *testing.T) {
	gateway := NewGateway(logging.NewNop())

	old := gateway.Register("dashboard")
	current := gateway.Register("dashboard")

	if names := gateway.Registered(); len(names) != 1 || names[0] != "dashboard" {
		t.Fatalf("registered = %v, want single dashboard", names)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := gateway.AwaitNotice(ctx, old); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("await on stale token = %v, want ErrUnknownToken", err)
	}
	if err := gateway.Ack(current); err != nil {
		t.Fatalf("ack with current token: %v", err)
	}
}

func TestUnregisterRemovesService(t *testing.T) {
	gateway := NewGateway(logging.NewNop())

	token := gateway.Register("dashboard")
	gateway.Unregister(token)
	if names := gateway.Registered(); len(names) != 0 {
		t.Fatalf("registered = %v, want empty", names)
	}

	summary := gateway.NotifyAll(context.Background(), Notice{Reason: "test"})
	if summary.Notified != 0 {
		t.Fatalf("notified = %d, want 0", summary.Notified)
	}
}

func TestUnregisterOfLastLaggardCompletesRound(t *testing.T) {
	gateway := NewGateway(logging.NewNop())

	fast := gateway.Register("fast")
	laggard := gateway.Register("laggard")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := gateway.AwaitNotice(ctx, fast); err != nil {
			t.Errorf("await notice: %v", err)
			return
		}
		_ = gateway.Ack(fast)
		gateway.Unregister(laggard)
	}()

	start := time.Now()
	summary := gateway.NotifyAll(context.Background(), Notice{
		Reason:   "power lost",
		Deadline: time.Now().Add(5 * time.Second),
	})
	if summary.Notified != 2 {
		t.Fatalf("summary = %+v, want 2 notified", summary)
	}
	if len(summary.Missed) != 0 {
		t.Fatalf("missed = %v, want none", summary.Missed)
	}
	// The round must end when the last pending service leaves, not at the
	// deadline.
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("round took %s after the last laggard unregistered", elapsed)
	}
}

func TestAwaitNoticeDeliversReason(t *testing.T) {
	gateway := NewGateway(logging.NewNop())
	token := gateway.Register("dashboard")

	deadline := time.Now().Add(time.Second)
	go gateway.NotifyAll(context.Background(), Notice{Reason: "power lost", Deadline: deadline})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	notice, err := gateway.AwaitNotice(ctx, token)
	if err != nil {
		t.Fatalf("await notice: %v", err)
	}
	if notice.Reason != "power lost" {
		t.Fatalf("reason = %q", notice.Reason)
	}
	if !notice.Deadline.Equal(deadline) {
		t.Fatalf("deadline = %v, want %v", notice.Deadline, deadline)
	}
	_ = gateway.Ack(token)
}
