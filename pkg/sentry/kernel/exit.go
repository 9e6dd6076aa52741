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
	"iris.dev/iris/pkg/abi/linux"
	"iris.dev/iris/pkg/log"
)

// Exit ends t's process with status. Every task of the process becomes
// Exiting; the process is torn down when RunNext next finds it off every
// CPU. The returned RunState must be returned from the caller's Execute.
func (t *Task) Exit(status int) RunState {
	t.p.mu.Lock()
	t.p.exitLocked(status)
	t.p.mu.Unlock()
	return runExited{}
}

// ExitThread ends t alone. If t is the last live task, the process exits
// with status.
func (t *Task) ExitThread(status int) RunState {
	p := t.p
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, other := range p.tasks {
		if other != t && other.state != TaskExiting {
			t.state = TaskExiting
			t.blocker = nil
			log.Debugf("%v exited", t)
			return runExited{}
		}
	}
	p.exitLocked(status)
	return runExited{}
}

// exitLocked marks p and all its tasks exiting. Only the first call has an
// effect.
//
// Preconditions: p.mu is locked.
func (p *Process) exitLocked(status int) {
	if p.exiting {
		return
	}
	p.exiting = true
	p.exitStatus = status
	p.stopped = false
	p.pending = 0
	for _, t := range p.tasks {
		t.state = TaskExiting
		t.blocker = nil
		t.wakeErr = nil
		t.queued = nil
	}
	log.Debugf("%v exiting with status %d", p, status)
}

// Preconditions: k.ring.mu is locked.
func (k *Kernel) reapableLocked(p *Process) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exiting && p.onCPU == 0
}

// reapLocked tears down an exited process and unlinks it from the ring: it
// withdraws its tasks from every wait, releases the user mutexes it
// created, its files, its address space and its thread IDs, notifies the
// parent with SIGCHLD and orphans its children.
//
// Preconditions: k.ring.mu is locked. p is exiting and off every CPU.
func (k *Kernel) reapLocked(p *Process) {
	p.mu.Lock()
	tasks := p.tasks
	status := p.exitStatus
	p.mu.Unlock()

	for _, t := range tasks {
		t.unregisterWaits()
		if t.futexWaiter != nil {
			k.futexes.Cancel(t.futexWaiter)
		}
	}
	if n := k.futexes.ReleaseOwned(&p.usedUserMutexes); n > 0 {
		k.warnings.Warningf("%v exited owning contended user mutexes; %d waiters released", p, n)
	}
	p.fdTable.DecRef()
	p.mm.Release()

	k.ring.RemoveLocked(p.handle)
	for _, t := range tasks {
		k.releaseTID(t.tid)
	}

	if parent := p.parent; parent != nil {
		delete(parent.children, p)
		p.parent = nil
		parent.mu.Lock()
		if !parent.exiting {
			parent.pending |= linux.SignalSetOf(linux.SIGCHLD)
		}
		parent.mu.Unlock()
	}
	for c := range p.children {
		c.parent = nil
	}
	p.children = nil

	k.reaped = append(k.reaped, ExitRecord{PID: p.pid, Status: status})
	log.Debugf("Reaped %v, status %d", p, status)
}
