package node

import "sync"

// PathRef is a generational weak reference to a slot in Arena: Index
// identifies the slot, Generation must match the slot's current generation
// for the reference to still be valid. This is the generational-index
// technique §9 prescribes for languages without native weak references:
// "an arena of paths + 64-bit generation; resolve weak references by
// checking the generation on each use."
type PathRef struct {
	Index      int
	Generation uint64
}

type pathSlot struct {
	path       *Path
	generation uint64
	occupied   bool
}

// Arena is the node's strong, authoritative table of Paths. Peers reference
// entries only through PathRef, never through *Path directly, so that
// Release can free a slot (and bump its generation) the instant no peer
// needs it, without those peers needing to coordinate.
type Arena struct {
	mu    sync.Mutex
	slots []pathSlot
	free  []int
}

// NewArena creates an empty path arena.
func NewArena() *Arena {
	return &Arena{}
}

// Insert adds a path to the arena and returns a weak reference to it.
func (a *Arena) Insert(p *Path) PathRef {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		slot := &a.slots[idx]
		slot.path = p
		slot.occupied = true
		return PathRef{Index: idx, Generation: slot.generation}
	}

	a.slots = append(a.slots, pathSlot{path: p, occupied: true})
	return PathRef{Index: len(a.slots) - 1, Generation: 0}
}

// Resolve returns the path behind ref if it is still current, or
// (nil, false) if the slot has since been released and possibly reused.
func (a *Arena) Resolve(ref PathRef) (*Path, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ref.Index < 0 || ref.Index >= len(a.slots) {
		return nil, false
	}
	slot := &a.slots[ref.Index]
	if !slot.occupied || slot.generation != ref.Generation {
		return nil, false
	}
	return slot.path, true
}

// Release frees the slot behind ref, bumping its generation so any
// remaining weak references fail Resolve. It is a no-op if ref is already
// stale (double-release safe).
func (a *Arena) Release(ref PathRef) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ref.Index < 0 || ref.Index >= len(a.slots) {
		return
	}
	slot := &a.slots[ref.Index]
	if !slot.occupied || slot.generation != ref.Generation {
		return
	}
	slot.path = nil
	slot.occupied = false
	slot.generation++
	a.free = append(a.free, ref.Index)
}

// Len reports the number of occupied slots (for tests and diagnostics).
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, s := range a.slots {
		if s.occupied {
			n++
		}
	}
	return n
}
