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
	"slices"

	"iris.dev/iris/pkg/abi/linux"
	"iris.dev/iris/pkg/sentry/fs"
	"iris.dev/iris/pkg/sentry/kernel/auth"
	"iris.dev/iris/pkg/sentry/kernel/futex"
	"iris.dev/iris/pkg/sentry/limits"
	"iris.dev/iris/pkg/sentry/mm"
	"iris.dev/iris/pkg/sync"
)

// Process is a group of tasks sharing an address space, file table,
// credentials and signal dispositions.
type Process struct {
	k   *Kernel
	pid ThreadID

	// handle names p's slot in the kernel ring. It is set when p is linked
	// and immutable afterwards.
	handle ProcessHandle

	// The following fields are protected by the kernel ring lock.

	// parent is the process that forked p. It is cleared when the parent is
	// reaped.
	parent *Process

	// children is the set of live processes forked by p.
	children map[*Process]struct{}

	// pgid and sid are the process group and session.
	pgid ProcessGroupID
	sid  SessionID

	// usedUserMutexes are the user mutexes p created, torn down when p is
	// reaped. It has its own lock.
	usedUserMutexes futex.OwnedSet

	mu sync.Mutex

	// The following fields are protected by mu.

	// tasks are p's tasks; tasks[0] is the main task.
	tasks []*Task

	// nextTask is where the next scheduling scan of tasks starts.
	nextTask int

	// onCPU counts tasks being dispatched.
	onCPU int

	creds    *auth.Credentials
	priority int
	umask    uint

	pending    linux.SignalSet
	signalMask linux.SignalSet
	actions    map[linux.Signal]SignalAction

	// stopped is true between a stop signal and SIGCONT.
	stopped bool

	// exiting is set once, when p exits; exitStatus is then valid.
	exiting    bool
	exitStatus int

	// The following fields are immutable until p is reaped.
	fdTable *fs.FDTable
	mm      *mm.MemoryManager
	limits  *limits.LimitSet
}

// SignalAction is the disposition of a signal. The zero value is the
// default action.
type SignalAction struct {
	// Handler, if set, runs in task context on the next dispatch of the
	// task chosen to handle the signal.
	Handler func(t *Task, sig linux.Signal)

	// Ignore discards the signal.
	Ignore bool
}

// PID returns p's process ID.
func (p *Process) PID() ThreadID {
	return p.pid
}

// Kernel returns the kernel p belongs to.
func (p *Process) Kernel() *Kernel {
	return p.k
}

// Parent returns p's parent, or nil if p is an orphan.
func (p *Process) Parent() *Process {
	p.k.ring.Lock()
	defer p.k.ring.Unlock()
	return p.parent
}

// Children returns the pids of p's live children in ascending order.
func (p *Process) Children() []ThreadID {
	p.k.ring.Lock()
	defer p.k.ring.Unlock()
	pids := make([]ThreadID, 0, len(p.children))
	for c := range p.children {
		pids = append(pids, c.pid)
	}
	slices.Sort(pids)
	return pids
}

// ProcessGroup returns p's process group ID.
func (p *Process) ProcessGroup() ProcessGroupID {
	p.k.ring.Lock()
	defer p.k.ring.Unlock()
	return p.pgid
}

// Session returns p's session ID.
func (p *Process) Session() SessionID {
	p.k.ring.Lock()
	defer p.k.ring.Unlock()
	return p.sid
}

// Tasks returns p's tasks, main task first.
func (p *Process) Tasks() []*Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Task(nil), p.tasks...)
}

// MainTask returns p's main task.
func (p *Process) MainTask() *Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tasks[0]
}

// Credentials returns p's credentials. The returned value must not be
// modified.
func (p *Process) Credentials() *auth.Credentials {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creds
}

// Priority returns p's scheduling priority.
func (p *Process) Priority() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.priority
}

// SetPriority sets p's scheduling priority.
func (p *Process) SetPriority(prio int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.priority = prio
}

// Umask returns p's file mode creation mask.
func (p *Process) Umask() uint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.umask
}

// SetUmask sets p's file mode creation mask and returns the old one.
func (p *Process) SetUmask(umask uint) uint {
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.umask
	p.umask = umask & 0777
	return old
}

// PendingSignals returns the signals sent to p but not yet delivered.
func (p *Process) PendingSignals() linux.SignalSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// SignalMask returns p's blocked signals.
func (p *Process) SignalMask() linux.SignalSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signalMask
}

// Stopped returns true if p is group-stopped.
func (p *Process) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// ExitStatus returns p's exit status and whether p has exited.
func (p *Process) ExitStatus() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitStatus, p.exiting
}

// FDTable returns p's file descriptor table.
func (p *Process) FDTable() *fs.FDTable {
	return p.fdTable
}

// MemoryManager returns p's address space.
func (p *Process) MemoryManager() *mm.MemoryManager {
	return p.mm
}

// Limits returns p's resource limits.
func (p *Process) Limits() *limits.LimitSet {
	return p.limits
}

// UserMutexes returns the number of user mutexes p has created that are
// still contended.
func (p *Process) UserMutexes() int {
	return p.usedUserMutexes.Len()
}

// String implements fmt.Stringer.
func (p *Process) String() string {
	return fmt.Sprintf("process %d", p.pid)
}

// runnableTaskLocked returns the next Ready task of p that is not already
// on a CPU, rotating through p's tasks.
//
// Preconditions: p.mu is locked.
func (p *Process) runnableTaskLocked() *Task {
	n := len(p.tasks)
	for i := 0; i < n; i++ {
		t := p.tasks[(p.nextTask+i)%n]
		if t.state == TaskReady && !t.onCPU {
			p.nextTask = (p.nextTask + i + 1) % n
			return t
		}
	}
	return nil
}
