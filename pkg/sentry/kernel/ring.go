// Copyright 2026 The Iris Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kernel

import (
	"fmt"

	"iris.dev/iris/pkg/sync"
)

// ProcessHandle is a stable reference to a slot in a Ring. A handle outlives
// the process it named: once the process is removed, the slot's generation
// advances and the handle no longer resolves.
type ProcessHandle struct {
	index uint32
	gen   uint32
}

// noSlot terminates free lists and marks an empty ring.
const noSlot = ^uint32(0)

type ringSlot struct {
	p    *Process
	gen  uint32
	prev uint32
	next uint32
}

// Ring is the circular list of runnable processes that every CPU walks in
// round-robin order. Processes live in an arena of slots linked through
// their indices; tail.next is always head while the ring is non-empty.
//
// All methods with a Locked suffix require mu to be held.
type Ring struct {
	mu sync.Mutex

	// The following fields are protected by mu.
	slots []ringSlot
	free  []uint32
	head  uint32
	len   int
}

func newRing() *Ring {
	return &Ring{head: noSlot}
}

// Lock locks the ring.
func (r *Ring) Lock() {
	r.mu.Lock()
}

// Unlock unlocks the ring.
func (r *Ring) Unlock() {
	r.mu.Unlock()
}

// Len returns the number of processes in the ring.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.len
}

// LenLocked returns the number of processes in the ring.
func (r *Ring) LenLocked() int {
	return r.len
}

// AddLocked appends p at the tail of the ring and returns its handle.
func (r *Ring) AddLocked(p *Process) ProcessHandle {
	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		idx = uint32(len(r.slots))
		r.slots = append(r.slots, ringSlot{})
	}
	s := &r.slots[idx]
	s.p = p
	if r.head == noSlot {
		s.prev, s.next = idx, idx
		r.head = idx
	} else {
		tail := r.slots[r.head].prev
		s.prev, s.next = tail, r.head
		r.slots[tail].next = idx
		r.slots[r.head].prev = idx
	}
	r.len++
	return ProcessHandle{index: idx, gen: s.gen}
}

// RemoveLocked unlinks the process named by h. The predecessor is found by
// walking forward from head; a walk that comes back around without finding
// h means the links are corrupt.
//
// Preconditions: h resolves to a process in the ring.
func (r *Ring) RemoveLocked(h ProcessHandle) {
	if _, ok := r.GetLocked(h); !ok {
		panic(fmt.Sprintf("removing stale process handle %+v", h))
	}
	if r.len == 1 {
		if r.head != h.index || r.slots[h.index].next != h.index {
			panic(fmt.Sprintf("corrupt ring: sole process %d is not head %d", h.index, r.head))
		}
		r.head = noSlot
	} else {
		pred := r.head
		for r.slots[pred].next != h.index {
			pred = r.slots[pred].next
			if pred == r.head {
				panic(fmt.Sprintf("corrupt ring: process %d not reachable from head %d", h.index, r.head))
			}
		}
		s := &r.slots[h.index]
		if s.prev != pred {
			panic(fmt.Sprintf("corrupt ring: process %d has prev %d, want %d", h.index, s.prev, pred))
		}
		r.slots[pred].next = s.next
		r.slots[s.next].prev = pred
		if r.head == h.index {
			r.head = s.next
		}
	}
	s := &r.slots[h.index]
	s.p = nil
	s.gen++
	s.prev, s.next = noSlot, noSlot
	r.free = append(r.free, h.index)
	r.len--
}

// GetLocked returns the process named by h, if it is still in the ring.
func (r *Ring) GetLocked(h ProcessHandle) (*Process, bool) {
	if h.index >= uint32(len(r.slots)) {
		return nil, false
	}
	s := &r.slots[h.index]
	if s.p == nil || s.gen != h.gen {
		return nil, false
	}
	return s.p, true
}

// HeadLocked returns the handle of the first process in the ring.
//
// Preconditions: the ring is non-empty.
func (r *Ring) HeadLocked() ProcessHandle {
	if r.head == noSlot {
		panic("head of empty ring")
	}
	return ProcessHandle{index: r.head, gen: r.slots[r.head].gen}
}

// NextLocked returns the handle following h in ring order.
//
// Preconditions: h resolves to a process in the ring.
func (r *Ring) NextLocked(h ProcessHandle) ProcessHandle {
	if _, ok := r.GetLocked(h); !ok {
		panic(fmt.Sprintf("next of stale process handle %+v", h))
	}
	next := r.slots[h.index].next
	return ProcessHandle{index: next, gen: r.slots[next].gen}
}

// ForEachLocked calls f for each process in ring order starting at head.
// f must not add or remove processes.
func (r *Ring) ForEachLocked(f func(p *Process)) {
	if r.head == noSlot {
		return
	}
	idx := r.head
	for i := 0; i < r.len; i++ {
		f(r.slots[idx].p)
		idx = r.slots[idx].next
	}
}
