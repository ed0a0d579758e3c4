package zssp

import (
	"fmt"
	"sync"

	"github.com/vl1proto/vl1-go/vl1err"
)

// ReplayWindow is the receive-side out-of-order/replay filter for a ZSSP
// data channel (§4.6): it accepts any counter within CounterWindowMaxOOO
// positions behind the highest seen so far, rejects duplicates and
// anything older, and rejects a counter that would jump the window ahead
// by more than CounterWindowMaxSkipAhead (guarding against a corrupted
// counter field effectively replay-disabling the session).
type ReplayWindow struct {
	mu      sync.Mutex
	highest uint64
	seen    uint64 // bitmask: bit i set means (highest - i) has been seen
}

// Accept reports whether counter is acceptable per the window rules above,
// and if so marks it seen so a later duplicate is rejected.
func (w *ReplayWindow) Accept(counter uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if counter > w.highest {
		advance := counter - w.highest
		if w.highest != 0 && advance > CounterWindowMaxSkipAhead {
			return fmt.Errorf("zssp: counter %d skips too far ahead of highest %d: %w", counter, w.highest, vl1err.AuthenticationFailed)
		}
		if advance >= CounterWindowMaxOOO {
			w.seen = 1
		} else {
			w.seen = (w.seen << advance) | 1
		}
		w.highest = counter
		return nil
	}

	behind := w.highest - counter
	if behind >= CounterWindowMaxOOO {
		return fmt.Errorf("zssp: counter %d is too far behind highest %d: %w", counter, w.highest, vl1err.AuthenticationFailed)
	}
	bit := uint64(1) << behind
	if w.seen&bit != 0 {
		return fmt.Errorf("zssp: counter %d already seen (replay): %w", counter, vl1err.AuthenticationFailed)
	}
	w.seen |= bit
	return nil
}

// Highest returns the highest counter accepted so far.
func (w *ReplayWindow) Highest() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.highest
}
