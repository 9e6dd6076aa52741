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
	"iris.dev/iris/pkg/sentry/kernel/block"
	"iris.dev/iris/pkg/sentry/ktime"
)

// CPU is a scheduling context. Each CPU must be stepped by at most one
// goroutine at a time; distinct CPUs may step concurrently.
type CPU struct {
	k  *Kernel
	id int

	// current is the process this CPU last ran; the next scan starts after
	// it. Owned by the goroutine stepping the CPU, written under the ring
	// lock.
	current    ProcessHandle
	hasCurrent bool

	// Statistics, owned by the goroutine stepping the CPU.
	steps  uint64
	idle   uint64
	quanta uint64
}

// ID returns the CPU number.
func (c *CPU) ID() int {
	return c.id
}

// CPUStats are counters for a CPU.
type CPUStats struct {
	// Quanta is the number of tasks dispatched.
	Quanta uint64

	// Steps is the number of RunState steps executed.
	Steps uint64

	// Idle is the number of quanta in which nothing was runnable.
	Idle uint64
}

// Stats returns c's counters.
func (c *CPU) Stats() CPUStats {
	return CPUStats{Quanta: c.quanta, Steps: c.steps, Idle: c.idle}
}

// Step runs one scheduling quantum on c: it chooses a task with RunNext and
// dispatches it. It returns false if nothing was runnable.
func (c *CPU) Step() bool {
	t := c.k.RunNext(c)
	if t == nil {
		c.idle++
		return false
	}
	c.quanta++
	c.dispatch(t)
	return true
}

// RunNext chooses the next task for c and marks it Running.
//
// It first delivers pending signals to every process, then walks the ring
// once starting after c's current process. Along the way it reaps exited
// processes that are off every CPU and wakes waiters whose deadline has
// passed. The first Ready task of a process that is not stopped wins. If
// none is found, RunNext returns nil and c idles for this quantum.
//
// RunNext panics if the ring is empty.
func (k *Kernel) RunNext(c *CPU) *Task {
	r := k.ring
	r.Lock()
	defer r.Unlock()

	if r.LenLocked() == 0 {
		panic("RunNext with an empty process ring")
	}

	k.deliverSignalsLocked()

	now := k.clock.Now()
	var h ProcessHandle
	if _, ok := r.GetLocked(c.current); c.hasCurrent && ok {
		h = r.NextLocked(c.current)
	} else {
		h = r.HeadLocked()
	}

	for n := r.LenLocked(); n > 0; n-- {
		p, _ := r.GetLocked(h)
		next := r.NextLocked(h)
		if k.reapableLocked(p) {
			k.reapLocked(p)
			if r.LenLocked() == 0 {
				return nil
			}
			h = next
			continue
		}
		if t := p.pickLocked(now); t != nil {
			c.current, c.hasCurrent = h, true
			return t
		}
		h = next
	}
	return nil
}

// pickLocked wakes p's tasks whose deadline has passed and returns a Ready
// task, now Running, if p may run.
//
// Preconditions: the kernel ring lock is held.
func (p *Process) pickLocked(now ktime.Time) *Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exiting {
		return nil
	}
	for _, t := range p.tasks {
		if t.state.waiting() && block.Expired(t.blocker, now) {
			t.wakeLocked(block.TimeoutResult(t.blocker))
		}
	}
	if p.stopped {
		return nil
	}
	t := p.runnableTaskLocked()
	if t == nil {
		return nil
	}
	t.state = TaskRunning
	t.onCPU = true
	p.onCPU++
	return t
}
