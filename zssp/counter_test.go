package zssp

import (
	"errors"
	"testing"

	"github.com/vl1proto/vl1-go/vl1err"
)

func TestReplayWindowAcceptsInOrder(t *testing.T) {
	var w ReplayWindow
	for i := uint64(0); i < 10; i++ {
		if err := w.Accept(i); err != nil {
			t.Fatalf("counter %d rejected: %v", i, err)
		}
	}
	if w.Highest() != 9 {
		t.Fatalf("expected highest 9, got %d", w.Highest())
	}
}

func TestReplayWindowAcceptsReorderedWithinWindow(t *testing.T) {
	var w ReplayWindow
	if err := w.Accept(10); err != nil {
		t.Fatalf("accept 10: %v", err)
	}
	if err := w.Accept(5); err != nil {
		t.Fatalf("accept 5 (reordered, within window): %v", err)
	}
	if err := w.Accept(9); err != nil {
		t.Fatalf("accept 9 (reordered, within window): %v", err)
	}
}

func TestReplayWindowRejectsDuplicate(t *testing.T) {
	var w ReplayWindow
	if err := w.Accept(3); err != nil {
		t.Fatalf("accept 3: %v", err)
	}
	if err := w.Accept(3); !errors.Is(err, vl1err.AuthenticationFailed) {
		t.Fatalf("expected duplicate counter 3 to fail authentication, got %v", err)
	}
}

func TestReplayWindowRejectsTooFarBehind(t *testing.T) {
	var w ReplayWindow
	if err := w.Accept(1000); err != nil {
		t.Fatalf("accept 1000: %v", err)
	}
	stale := uint64(1000) - CounterWindowMaxOOO
	if err := w.Accept(stale); !errors.Is(err, vl1err.AuthenticationFailed) {
		t.Fatalf("expected counter %d to be rejected as too far behind, got %v", stale, err)
	}
}

func TestReplayWindowRejectsSkipTooFarAhead(t *testing.T) {
	var w ReplayWindow
	if err := w.Accept(1); err != nil {
		t.Fatalf("accept 1: %v", err)
	}
	tooFar := uint64(1) + CounterWindowMaxSkipAhead + 1
	if err := w.Accept(tooFar); !errors.Is(err, vl1err.AuthenticationFailed) {
		t.Fatalf("expected counter %d to be rejected as too far ahead, got %v", tooFar, err)
	}
}

func TestReplayWindowFirstCounterZeroAccepted(t *testing.T) {
	var w ReplayWindow
	if err := w.Accept(0); err != nil {
		t.Fatalf("first counter 0 should be accepted: %v", err)
	}
	if err := w.Accept(0); err == nil {
		t.Fatalf("replaying counter 0 should be rejected")
	}
}

func TestReplayWindowLargeForwardJumpResetsWindow(t *testing.T) {
	var w ReplayWindow
	if err := w.Accept(1); err != nil {
		t.Fatalf("accept 1: %v", err)
	}
	jump := uint64(1) + CounterWindowMaxOOO + 5
	if err := w.Accept(jump); err != nil {
		t.Fatalf("accept %d (forward jump within skip-ahead bound): %v", jump, err)
	}
	// The old counter 1 is now far behind the new highest and must be
	// rejected rather than silently accepted from a stale window slot.
	if err := w.Accept(1); !errors.Is(err, vl1err.AuthenticationFailed) {
		t.Fatalf("expected counter 1 to be rejected after window advanced past it, got %v", err)
	}
}
