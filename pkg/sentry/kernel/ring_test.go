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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newRingWith(n int) (*Ring, []ProcessHandle) {
	r := newRing()
	var hs []ProcessHandle
	for i := 1; i <= n; i++ {
		hs = append(hs, r.AddLocked(&Process{pid: ThreadID(i)}))
	}
	return r, hs
}

// walk follows n links from head and returns the pids visited and the
// handle reached.
func walk(r *Ring, n int) ([]ThreadID, ProcessHandle) {
	h := r.HeadLocked()
	var pids []ThreadID
	for i := 0; i < n; i++ {
		p, ok := r.GetLocked(h)
		if !ok {
			return pids, h
		}
		pids = append(pids, p.pid)
		h = r.NextLocked(h)
	}
	return pids, h
}

func TestRingTraversalReturnsToStart(t *testing.T) {
	for n := 1; n <= 5; n++ {
		r, hs := newRingWith(n)
		pids, end := walk(r, n)
		if end != hs[0] {
			t.Errorf("n=%d: %d steps from head reached %+v, want head %+v", n, n, end, hs[0])
		}
		var want []ThreadID
		for i := 1; i <= n; i++ {
			want = append(want, ThreadID(i))
		}
		if diff := cmp.Diff(want, pids); diff != "" {
			t.Errorf("n=%d: traversal mismatch (-want +got):\n%s", n, diff)
		}
	}
}

func TestRingRemove(t *testing.T) {
	for _, tc := range []struct {
		name   string
		remove int
		want   []ThreadID
	}{
		{name: "head", remove: 0, want: []ThreadID{2, 3, 4}},
		{name: "middle", remove: 2, want: []ThreadID{1, 2, 4}},
		{name: "tail", remove: 3, want: []ThreadID{1, 2, 3}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r, hs := newRingWith(4)
			r.RemoveLocked(hs[tc.remove])

			if r.LenLocked() != 3 {
				t.Errorf("LenLocked() = %d, want 3", r.LenLocked())
			}
			pids, end := walk(r, 3)
			if diff := cmp.Diff(tc.want, pids); diff != "" {
				t.Errorf("traversal mismatch (-want +got):\n%s", diff)
			}
			if end != r.HeadLocked() {
				t.Errorf("3 steps did not return to head")
			}
			if _, ok := r.GetLocked(hs[tc.remove]); ok {
				t.Errorf("removed handle still resolves")
			}

			// The freed slot is reused under a new generation.
			h := r.AddLocked(&Process{pid: 9})
			if h == hs[tc.remove] {
				t.Errorf("reused slot kept its generation")
			}
			if _, ok := r.GetLocked(hs[tc.remove]); ok {
				t.Errorf("stale handle resolves after slot reuse")
			}
			if p, ok := r.GetLocked(h); !ok || p.pid != 9 {
				t.Errorf("GetLocked(new handle) = %v, %t", p, ok)
			}
		})
	}
}

func TestRingRemoveDuringTraversal(t *testing.T) {
	r, hs := newRingWith(5)
	var visited []ThreadID
	h := r.HeadLocked()
	for n := r.LenLocked(); n > 0; n-- {
		p, _ := r.GetLocked(h)
		next := r.NextLocked(h)
		visited = append(visited, p.pid)
		if p.pid%2 == 0 {
			r.RemoveLocked(h)
		}
		h = next
	}
	if diff := cmp.Diff([]ThreadID{1, 2, 3, 4, 5}, visited); diff != "" {
		t.Errorf("visited mismatch (-want +got):\n%s", diff)
	}
	pids, end := walk(r, 3)
	if diff := cmp.Diff([]ThreadID{1, 3, 5}, pids); diff != "" {
		t.Errorf("remaining mismatch (-want +got):\n%s", diff)
	}
	if end != hs[0] {
		t.Errorf("ring is not circular after removals")
	}
}

func TestRingRemoveSole(t *testing.T) {
	r, hs := newRingWith(1)
	r.RemoveLocked(hs[0])
	if r.LenLocked() != 0 {
		t.Errorf("LenLocked() = %d, want 0", r.LenLocked())
	}
	mustPanic(t, "HeadLocked on an empty ring", func() { r.HeadLocked() })
	h := r.AddLocked(&Process{pid: 2})
	if r.HeadLocked() != h || r.NextLocked(h) != h {
		t.Errorf("single process ring is not circular")
	}
}

func TestRingCorruptionPanics(t *testing.T) {
	r, hs := newRingWith(3)
	// Make head point to itself so the tail is unreachable.
	r.slots[hs[0].index].next = hs[0].index
	mustPanic(t, "RemoveLocked of an unreachable process", func() { r.RemoveLocked(hs[2]) })
}

func TestRingStaleHandlePanics(t *testing.T) {
	r, hs := newRingWith(2)
	r.RemoveLocked(hs[1])
	mustPanic(t, "RemoveLocked of a stale handle", func() { r.RemoveLocked(hs[1]) })
	mustPanic(t, "NextLocked of a stale handle", func() { r.NextLocked(hs[1]) })
}

func TestRingForEach(t *testing.T) {
	r, _ := newRingWith(3)
	var pids []ThreadID
	r.ForEachLocked(func(p *Process) { pids = append(pids, p.pid) })
	if diff := cmp.Diff([]ThreadID{1, 2, 3}, pids); diff != "" {
		t.Errorf("ForEachLocked mismatch (-want +got):\n%s", diff)
	}
	newRing().ForEachLocked(func(*Process) { t.Errorf("callback on empty ring") })
}
