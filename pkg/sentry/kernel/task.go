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

	"iris.dev/iris/pkg/abi/linux"
	"iris.dev/iris/pkg/sentry/arch"
	"iris.dev/iris/pkg/sentry/kernel/block"
	"iris.dev/iris/pkg/sentry/kernel/futex"
	"iris.dev/iris/pkg/waiter"
)

// ThreadID is a thread identifier. The ThreadID of a process's main task is
// the process ID.
type ThreadID int32

// ProcessGroupID is a process group identifier.
type ProcessGroupID int32

// SessionID is a session identifier.
type SessionID int32

// TaskState is the scheduling state of a task. A task is in exactly one
// state at a time.
type TaskState int

const (
	// TaskReady tasks may be chosen by RunNext.
	TaskReady TaskState = iota

	// TaskRunning tasks are executing on a CPU.
	TaskRunning

	// TaskWaiting tasks are blocked on a descriptor and can be interrupted
	// by signals.
	TaskWaiting

	// TaskWaitingUninterruptible tasks are blocked on a descriptor and
	// ignore signals.
	TaskWaitingUninterruptible

	// TaskSleeping tasks are in an interruptible timed sleep.
	TaskSleeping

	// TaskExiting tasks belong to a process that has exited and are waiting
	// to be reaped.
	TaskExiting
)

// String implements fmt.Stringer.
func (s TaskState) String() string {
	switch s {
	case TaskReady:
		return "Ready"
	case TaskRunning:
		return "Running"
	case TaskWaiting:
		return "Waiting"
	case TaskWaitingUninterruptible:
		return "WaitingUninterruptible"
	case TaskSleeping:
		return "Sleeping"
	case TaskExiting:
		return "Exiting"
	default:
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
}

func (s TaskState) waiting() bool {
	return s == TaskWaiting || s == TaskWaitingUninterruptible || s == TaskSleeping
}

func (s TaskState) interruptible() bool {
	return s == TaskWaiting || s == TaskSleeping
}

func taskStateOf(s block.TaskState) TaskState {
	switch s {
	case block.StateWaiting:
		return TaskWaiting
	case block.StateWaitingUninterruptible:
		return TaskWaitingUninterruptible
	case block.StateSleeping:
		return TaskSleeping
	default:
		panic(fmt.Sprintf("unknown wait state %d", s))
	}
}

// Task represents a thread of execution in a process.
type Task struct {
	k   *Kernel
	p   *Process
	tid ThreadID

	// The following fields are protected by p.mu.

	// state is the scheduling state.
	state TaskState

	// blocker is the descriptor the task waits on. It is non-nil iff state
	// is a waiting state.
	blocker block.Descriptor

	// wakeErr is the result the blocked call site observes on resumption.
	wakeErr error

	// onCPU is true while a CPU is dispatching the task.
	onCPU bool

	// queued are signals whose handlers run on the task's next dispatch.
	queued []linux.Signal

	// The following fields are owned by whichever goroutine dispatches the
	// task, or by the reaper once the process is off every CPU.

	// runState is the continuation executed on the task's next step.
	runState RunState

	// arch holds the register and floating point state.
	arch *arch.Context

	// entries are the waiter registrations of the current blocking call.
	entries []waitRegistration

	// futexWaiter is reused across user mutex waits.
	futexWaiter *futex.Waiter

	// endQuantum is set when the task gives up the rest of its quantum.
	endQuantum bool

	// yields counts voluntary yields.
	yields uint64
}

type waitRegistration struct {
	res   waiter.Waitable
	entry *waiter.Entry
}

// Kernel returns the kernel t belongs to.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// Process returns the process t belongs to.
func (t *Task) Process() *Process {
	return t.p
}

// ThreadID returns t's thread ID.
func (t *Task) ThreadID() ThreadID {
	return t.tid
}

// Arch returns t's register state.
//
// Preconditions: the caller is dispatching t, or t has not been started.
func (t *Task) Arch() *arch.Context {
	return t.arch
}

// State returns t's scheduling state.
func (t *Task) State() TaskState {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	return t.state
}

// Blocker returns the descriptor t is waiting on, or nil.
func (t *Task) Blocker() block.Descriptor {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	return t.blocker
}

// Yields returns the number of times t gave up its quantum voluntarily.
//
// Preconditions: the caller is dispatching t, or t is not on a CPU.
func (t *Task) Yields() uint64 {
	return t.yields
}

// String implements fmt.Stringer.
func (t *Task) String() string {
	return fmt.Sprintf("task %d (pid %d)", t.tid, t.p.pid)
}
