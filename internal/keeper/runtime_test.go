package keeper

import (
	"testing"
	"time"

	"optionsfi-keeper/internal/guard"
)

func TestRuntimeTryAcquire(t *testing.T) {
	r := NewRuntime(nil)
	release, ok := r.TryAcquire("NVDAx")
	if !ok {
		t.Fatalf("expected first acquire")
	}
	if _, ok := r.TryAcquire("NVDAx"); ok {
		t.Fatalf("expected second acquire to fail")
	}
	if _, ok := r.TryAcquire("TSLAx"); !ok {
		t.Fatalf("expected independent vault to acquire")
	}
	release()
	release()
	if _, ok := r.TryAcquire("NVDAx"); !ok {
		t.Fatalf("expected acquire after release")
	}
}

func TestRuntimeRateLimit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := NewRuntime(guard.NewRateLimiter(time.Minute, func() time.Time { return now }))
	if !r.Allow("roll:NVDAx") {
		t.Fatalf("expected first allow")
	}
	if r.Allow("roll:NVDAx") {
		t.Fatalf("expected second allow to be limited")
	}
	if got := r.Remaining("roll:NVDAx"); got != time.Minute {
		t.Fatalf("expected 1m remaining, got %s", got)
	}
}

func TestRuntimePause(t *testing.T) {
	r := NewRuntime(nil)
	if before := r.SetPaused(true); before {
		t.Fatalf("expected unpaused before")
	}
	if !r.Paused() {
		t.Fatalf("expected paused")
	}
}

func TestEventsRingKeepsNewest(t *testing.T) {
	e := NewEvents(3)
	for i := 0; i < 5; i++ {
		e.Add(Event{Kind: "roll", Message: string(rune('a' + i))})
	}
	got := e.List()
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].Message != "c" || got[2].Message != "e" {
		t.Fatalf("unexpected order %+v", got)
	}
}
