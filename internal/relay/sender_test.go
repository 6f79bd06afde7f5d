package relay

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"dmrelay/internal/settings"
	"dmrelay/internal/transport"
	"dmrelay/pkg/logx"
)

type noThrottle struct{ waits int }

func (n *noThrottle) Wait(ctx context.Context) error {
	n.waits++
	return ctx.Err()
}

// failAt fails the attempt with 1-based index `at` and records how many
// attempts were made.
type failAt struct {
	at       int
	err      error
	attempts int
}

func (f *failAt) SendDM(ctx context.Context, userID int64, text string) error {
	f.attempts++
	if f.at > 0 && f.attempts == f.at {
		return f.err
	}
	return nil
}

func TestSendAllSucceed(t *testing.T) {
	t.Parallel()
	d := &failAt{}
	th := &noThrottle{}
	rep := Send(context.Background(), d, th, Request{AuthorID: 1, TargetID: 2, Text: "x", Count: 4}, logx.Nop())

	if rep.Sent != 4 || rep.Failed != 0 || rep.Cause != CauseNone {
		t.Fatalf("report = %+v", rep)
	}
	if !rep.Completed() {
		t.Fatal("Completed() should be true")
	}
	if th.waits != 4 {
		t.Fatalf("waits = %d, want 4 (one before every attempt)", th.waits)
	}
}

func TestSendAbortsOnFirstFailure(t *testing.T) {
	t.Parallel()
	d := &failAt{at: 3, err: fmt.Errorf("boom: %w", transport.ErrForbidden)}
	rep := Send(context.Background(), d, &noThrottle{}, Request{AuthorID: 1, TargetID: 2, Text: "x", Count: 5}, logx.Nop())

	if rep.Sent != 2 {
		t.Fatalf("sent = %d, want 2", rep.Sent)
	}
	if rep.Failed != 3 {
		t.Fatalf("failed = %d, want 3", rep.Failed)
	}
	if d.attempts != 3 {
		t.Fatalf("attempts = %d; no delivery may follow the failure", d.attempts)
	}
	if rep.Cause != CauseForbidden {
		t.Fatalf("cause = %q", rep.Cause)
	}
	if rep.Completed() {
		t.Fatal("Completed() should be false")
	}
}

func TestSendSingle(t *testing.T) {
	t.Parallel()
	d := &failAt{}
	th := &noThrottle{}
	rep := Send(context.Background(), d, th, Request{AuthorID: 1, TargetID: 2, Text: "x", Count: 1}, logx.Nop())
	if rep.Sent != 1 || rep.Failed != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if th.waits != 1 {
		t.Fatalf("waits = %d, want 1 (the banked token makes it free)", th.waits)
	}
}

func TestSendCancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := &failAt{}
	rep := Send(ctx, d, &noThrottle{}, Request{AuthorID: 1, TargetID: 2, Text: "x", Count: 3}, logx.Nop())

	// The throttle reports cancellation before the first delivery.
	if rep.Sent != 0 || rep.Failed != 3 || rep.Cause != CauseOther {
		t.Fatalf("report = %+v", rep)
	}
	if d.attempts != 0 {
		t.Fatalf("attempts = %d, want 0", d.attempts)
	}
}

// The store-backed throttle must suspend between attempt 1 and attempt 2
// even though its limiter banks one token while the job is idle: the
// banked token is spent on the first attempt, never on a gap.
func TestSendPaysDelayBetweenAttempts(t *testing.T) {
	t.Parallel()
	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.json"), logx.Nop())
	if err != nil {
		t.Fatalf("settings.Open: %v", err)
	}
	if err := store.SetDelay(300 * time.Millisecond); err != nil {
		t.Fatalf("SetDelay: %v", err)
	}

	d := &failAt{}
	start := time.Now()
	rep := Send(context.Background(), d, store, Request{AuthorID: 1, TargetID: 2, Text: "x", Count: 2}, logx.Nop())
	elapsed := time.Since(start)

	if rep.Sent != 2 || rep.Failed != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if elapsed < 250*time.Millisecond {
		t.Fatalf("count=2 job took %v; the gap before attempt 2 must pay the full delay", elapsed)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want FailureCause
	}{
		{name: "nil", err: nil, want: CauseNone},
		{name: "rate limited", err: fmt.Errorf("w: %w", transport.ErrRateLimited), want: CauseRateLimited},
		{name: "forbidden", err: transport.ErrForbidden, want: CauseForbidden},
		{name: "other", err: errors.New("tls handshake"), want: CauseOther},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify = %q, want %q", got, tt.want)
			}
		})
	}
}
