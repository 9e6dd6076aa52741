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
	"time"

	"iris.dev/iris/pkg/errors/linuxerr"
	"iris.dev/iris/pkg/sentry/kernel/block"
	"iris.dev/iris/pkg/sentry/ktime"
	"iris.dev/iris/pkg/waiter"
)

// ResumeFunc continues a blocking call once the task is woken. err is nil
// if the wait completed, or the error the call site observes: EINTR for an
// interrupted wait, ETIMEDOUT for an elapsed deadline, EOWNERDEAD for a user
// mutex torn down with its creator.
type ResumeFunc func(t *Task, err error) RunState

// blockedState is the RunState of a task parked in Block.
type blockedState struct {
	resume ResumeFunc
}

// Execute implements RunState.Execute.
func (b *blockedState) Execute(t *Task) RunState {
	t.p.mu.Lock()
	err := t.wakeErr
	t.wakeErr = nil
	t.p.mu.Unlock()
	t.unregisterWaits()
	return b.resume(t, err)
}

// Block parks t on d. The returned RunState must be returned from the
// caller's Execute; resume runs when t is next dispatched after being woken.
//
// An interruptible wait ends early with EINTR when a signal is delivered
// to the process. If d is already satisfied, t is made Ready immediately and
// only gives up the rest of its quantum.
//
// Preconditions: t is being dispatched. No process or ring lock is held.
func (t *Task) Block(d block.Descriptor, interruptible bool, resume ResumeFunc) RunState {
	p := t.p
	p.mu.Lock()
	if t.state != TaskRunning {
		state := t.state
		p.mu.Unlock()
		if state == TaskExiting {
			return runExited{}
		}
		panic(fmt.Sprintf("%v blocking in state %v", t, state))
	}
	t.blocker = d
	t.wakeErr = nil
	t.state = taskStateOf(block.WaitState(d, interruptible))
	p.mu.Unlock()

	if len(t.entries) != 0 {
		panic(fmt.Sprintf("%v blocking with %d stale registrations", t, len(t.entries)))
	}
	for _, in := range d.Interests() {
		e := &waiter.Entry{Callback: &taskWaker{t: t, d: d}}
		in.Resource.EventRegister(e, in.Events)
		t.entries = append(t.entries, waitRegistration{res: in.Resource, entry: e})
	}

	// The condition may have become true before the registrations above.
	t.wakeIf(d, nil, d.Satisfied)
	return &blockedState{resume: resume}
}

// unregisterWaits removes the registrations of t's last blocking call.
func (t *Task) unregisterWaits() {
	for _, r := range t.entries {
		r.res.EventUnregister(r.entry)
	}
	t.entries = nil
}

// taskWaker wakes a task when a resource it waits on becomes ready.
type taskWaker struct {
	t *Task
	d block.Descriptor
}

// Callback implements waiter.EntryCallback.Callback.
func (w *taskWaker) Callback(_ *waiter.Entry, _ waiter.EventMask) {
	w.t.wakeIf(w.d, nil, w.d.Satisfied)
}

// wakeLocked makes a waiting t Ready. err is delivered to the blocked call
// site.
//
// Preconditions: t.p.mu is locked. t is waiting.
func (t *Task) wakeLocked(err error) {
	if !t.state.waiting() {
		panic(fmt.Sprintf("waking %v in state %v", t, t.state))
	}
	t.state = TaskReady
	t.blocker = nil
	t.wakeErr = err
}

// wakeIf wakes t with err if t is still waiting on d and cond, if non-nil,
// holds. Any other wake attempt is a no-op.
func (t *Task) wakeIf(d block.Descriptor, err error, cond func() bool) bool {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	return t.wakeIfLocked(d, err, cond)
}

// Preconditions: t.p.mu is locked.
func (t *Task) wakeIfLocked(d block.Descriptor, err error, cond func() bool) bool {
	if !t.state.waiting() || t.blocker != d {
		return false
	}
	if cond != nil && !cond() {
		return false
	}
	t.wakeLocked(err)
	return true
}

// interruptLocked ends an interruptible wait with EINTR.
//
// Preconditions: t.p.mu is locked.
func (t *Task) interruptLocked() bool {
	if !t.state.interruptible() {
		return false
	}
	t.wakeLocked(linuxerr.EINTR)
	return true
}

// Notify wakes every task waiting on res for an event in mask whose
// condition now holds. It returns the number of tasks woken.
//
// Resources that keep a waiter.Queue wake their waiters without Notify;
// Notify serves completions signalled from outside the resource, such as
// an interrupt handler.
func (k *Kernel) Notify(res waiter.Waitable, mask waiter.EventMask) int {
	return k.wakeMatching(func(d block.Descriptor) bool {
		return block.Matches(d, res, mask) && d.Satisfied()
	})
}

// Recheck re-evaluates the predicates of tasks blocked on block.Custom and
// wakes those that now hold. It returns the number of tasks woken.
//
// Predicates run with kernel locks held and must not block.
func (k *Kernel) Recheck() int {
	return k.wakeMatching(func(d block.Descriptor) bool {
		_, ok := d.(*block.Custom)
		return ok && d.Satisfied()
	})
}

func (k *Kernel) wakeMatching(match func(block.Descriptor) bool) int {
	k.ring.Lock()
	defer k.ring.Unlock()
	woken := 0
	k.ring.ForEachLocked(func(p *Process) {
		p.mu.Lock()
		defer p.mu.Unlock()
		for _, t := range p.tasks {
			if t.state.waiting() && match(t.blocker) {
				t.wakeLocked(nil)
				woken++
			}
		}
	})
	return woken
}

// WakeTask wakes t if it is waiting on d and d's condition holds. A wake
// naming a descriptor other than t's current one is a no-op.
func (k *Kernel) WakeTask(t *Task, d block.Descriptor) bool {
	return t.wakeIf(d, nil, func() bool {
		return block.ShouldUnblock(d, k.clock.Now())
	})
}

func (t *Task) deadline(timeout time.Duration) ktime.Time {
	return t.k.clock.Now().Add(timeout)
}

// BlockSleep sleeps interruptibly for d.
func (t *Task) BlockSleep(d time.Duration, resume ResumeFunc) RunState {
	return t.Block(&block.Sleep{Until: t.deadline(d)}, true, resume)
}

// BlockInodeReadable waits until inode is readable.
func (t *Task) BlockInodeReadable(inode waiter.Waitable, resume ResumeFunc) RunState {
	return t.Block(&block.InodeReadable{Inode: inode}, true, resume)
}

// BlockPipeReadable waits until pipe has data or its writers are gone.
func (t *Task) BlockPipeReadable(pipe waiter.Waitable, resume ResumeFunc) RunState {
	return t.Block(&block.PipeReadable{Pipe: pipe}, true, resume)
}

// BlockSocketConnected waits until an outgoing connection completes.
func (t *Task) BlockSocketConnected(socket waiter.Waitable, resume ResumeFunc) RunState {
	return t.Block(&block.SocketConnected{Socket: socket}, true, resume)
}

// BlockInodeReadableOrTimeout waits until inode is readable or timeout
// elapses.
func (t *Task) BlockInodeReadableOrTimeout(inode waiter.Waitable, timeout time.Duration, resume ResumeFunc) RunState {
	return t.Block(&block.InodeReadableOrTimeout{Until: t.deadline(timeout), Inode: inode}, true, resume)
}

// BlockInodeWritable waits until inode is writable.
func (t *Task) BlockInodeWritable(inode waiter.Waitable, resume ResumeFunc) RunState {
	return t.Block(&block.InodeWritable{Inode: inode}, true, resume)
}

// BlockSocketHasConnection waits until a listening socket has a pending
// connection.
func (t *Task) BlockSocketHasConnection(socket waiter.Waitable, resume ResumeFunc) RunState {
	return t.Block(&block.SocketHasConnection{Socket: socket}, true, resume)
}

// BlockSocketReadable waits until socket is readable.
func (t *Task) BlockSocketReadable(socket waiter.Waitable, resume ResumeFunc) RunState {
	return t.Block(&block.SocketReadable{Socket: socket}, true, resume)
}

// BlockSocketReadableWithTimeout waits until socket is readable or timeout
// elapses.
func (t *Task) BlockSocketReadableWithTimeout(socket waiter.Waitable, timeout time.Duration, resume ResumeFunc) RunState {
	return t.Block(&block.SocketReadableWithTimeout{Until: t.deadline(timeout), Socket: socket}, true, resume)
}

// BlockSelect waits until any file in sets is ready.
func (t *Task) BlockSelect(sets block.FDSets, resume ResumeFunc) RunState {
	return t.Block(&block.Select{Sets: sets}, true, resume)
}

// BlockSelectTimeout waits until any file in sets is ready or timeout
// elapses.
func (t *Task) BlockSelectTimeout(sets block.FDSets, timeout time.Duration, resume ResumeFunc) RunState {
	return t.Block(&block.SelectTimeout{Until: t.deadline(timeout), Sets: sets}, true, resume)
}

// BlockCustom waits until pred holds. pred is evaluated by Kernel.Recheck.
func (t *Task) BlockCustom(pred func() bool, resume ResumeFunc) RunState {
	return t.Block(&block.Custom{Predicate: pred}, true, resume)
}
