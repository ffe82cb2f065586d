package flow

import (
	"errors"
	"testing"
	"time"
)

func TestBroadcastTransitions(t *testing.T) {
	for _, to := range []string{Confirmed, Cancelled, Expired} {
		if !CanTransition(Proposed, to) {
			t.Fatalf("expected %s -> %s", Proposed, to)
		}
	}
	for _, from := range []string{Confirmed, Cancelled, Expired} {
		if !IsTerminal(from) {
			t.Fatalf("expected %s terminal", from)
		}
		if _, err := Next(from, EventConfirm); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected invalid transition from %s, got %v", from, err)
		}
	}
	if IsTerminal(Proposed) {
		t.Fatal("proposed must not be terminal")
	}
}

func TestVerificationTransitions(t *testing.T) {
	state, err := Next(VerifyStarted, EventRequestComplete)
	if err != nil || state != VerifyCompletionRequested {
		t.Fatalf("unexpected %s %v", state, err)
	}
	state, err = Next(state, EventCompleteVerified)
	if err != nil || state != VerifyCompleted || !IsTerminal(state) {
		t.Fatalf("unexpected %s %v", state, err)
	}
	if _, err := Next(VerifyStarted, EventCompleteVerified); err == nil {
		t.Fatal("completion must be requested first")
	}
	if _, err := Next(VerifyStarted, Event("BOGUS")); err == nil {
		t.Fatal("expected error for unknown event")
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Now()
	if IsExpired(now, time.Time{}) {
		t.Fatal("zero expiry never expires")
	}
	if !IsExpired(now, now.Add(-time.Second)) || IsExpired(now, now.Add(time.Second)) {
		t.Fatal("unexpected expiry evaluation")
	}
}
