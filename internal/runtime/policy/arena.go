package policy

import "sync"

// Handle is a non-owning reference to a Processor registered in an Arena.
// A handle becomes stale once released; resolving it then fails.
type Handle struct {
	index      int
	generation uint64
}

type arenaSlot struct {
	processor  Processor
	generation uint64
	live       bool
}

// Arena owns processors that policies reference through handles.
type Arena struct {
	mu    sync.RWMutex
	slots []arenaSlot
	free  []int
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// Register stores p and returns a handle to it.
func (a *Arena) Register(p Processor) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		slot := &a.slots[idx]
		slot.generation++
		slot.processor = p
		slot.live = true
		return Handle{index: idx, generation: slot.generation}
	}
	a.slots = append(a.slots, arenaSlot{processor: p, generation: 1, live: true})
	return Handle{index: len(a.slots) - 1, generation: 1}
}

// Resolve returns the processor behind h if it is still registered.
func (a *Arena) Resolve(h Handle) (Processor, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if h.index < 0 || h.index >= len(a.slots) {
		return nil, false
	}
	slot := a.slots[h.index]
	if !slot.live || slot.generation != h.generation {
		return nil, false
	}
	return slot.processor, true
}

// Release drops the processor behind h. It reports false for stale handles.
func (a *Arena) Release(h Handle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if h.index < 0 || h.index >= len(a.slots) {
		return false
	}
	slot := &a.slots[h.index]
	if !slot.live || slot.generation != h.generation {
		return false
	}
	slot.live = false
	slot.processor = nil
	a.free = append(a.free, h.index)
	return true
}

// Len returns the number of live processors.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.slots) - len(a.free)
}
