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

// Package block defines the descriptors that record why a task is
// suspended.
//
// A Descriptor is a closed sum type: one struct per kind, all implementing
// Descriptor through pointer receivers. Code that needs per-kind behavior
// switches on the concrete type; every switch in this package is exhaustive
// and panics on an unknown kind.
package block

import (
	"fmt"

	"iris.dev/iris/pkg/errors/linuxerr"
	"iris.dev/iris/pkg/sentry/ktime"
	"iris.dev/iris/pkg/waiter"
)

// Kind identifies the variant of a Descriptor.
type Kind int

// Descriptor kinds.
const (
	KindSleep Kind = iota
	KindInodeReadable
	KindPipeReadable
	KindSocketConnected
	KindInodeReadableOrTimeout
	KindInodeWritable
	KindSocketHasConnection
	KindSocketReadable
	KindSocketReadableWithTimeout
	KindSelect
	KindSelectTimeout
	KindCustom
	KindUserMutex
	KindStopped
)

var kindNames = [...]string{
	KindSleep:                     "Sleep",
	KindInodeReadable:             "InodeReadable",
	KindPipeReadable:              "PipeReadable",
	KindSocketConnected:           "SocketConnected",
	KindInodeReadableOrTimeout:    "InodeReadableOrTimeout",
	KindInodeWritable:             "InodeWritable",
	KindSocketHasConnection:       "SocketHasConnection",
	KindSocketReadable:            "SocketReadable",
	KindSocketReadableWithTimeout: "SocketReadableWithTimeout",
	KindSelect:                    "Select",
	KindSelectTimeout:             "SelectTimeout",
	KindCustom:                    "Custom",
	KindUserMutex:                 "UserMutex",
	KindStopped:                   "Stopped",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Interest is a resource and the events on it that satisfy a wait.
type Interest struct {
	Resource waiter.Waitable
	Events   waiter.EventMask
}

// Descriptor describes the condition a waiting task is suspended on.
type Descriptor interface {
	// Kind returns the variant of the descriptor.
	Kind() Kind

	// Deadline returns the instant at which the wait times out. ok is false
	// for waits without a timeout.
	Deadline() (deadline ktime.Time, ok bool)

	// Interests returns the resources whose notifications may end the
	// wait. The kernel registers for these while the task waits.
	Interests() []Interest

	// Satisfied reports whether the condition (ignoring the deadline)
	// currently holds.
	Satisfied() bool

	isDescriptor()
}

// Events that satisfy each resource wait.
const (
	readableEvents   = waiter.EventIn | waiter.EventHUp | waiter.EventErr
	writableEvents   = waiter.EventOut | waiter.EventErr
	connectedEvents  = waiter.EventOut | waiter.EventHUp | waiter.EventErr
	connectionEvents = waiter.EventIn | waiter.EventHUp | waiter.EventErr
)

func ready(r waiter.Waitable, mask waiter.EventMask) bool {
	return r.Readiness(mask)&mask != 0
}

func one(r waiter.Waitable, mask waiter.EventMask) []Interest {
	return []Interest{{Resource: r, Events: mask}}
}

// noDeadline is embedded by descriptors without a timeout.
type noDeadline struct{}

// Deadline implements Descriptor.Deadline.
func (noDeadline) Deadline() (ktime.Time, bool) { return ktime.Time{}, false }

// Sleep waits until a deadline passes.
type Sleep struct {
	Until ktime.Time
}

// Deadline implements Descriptor.Deadline.
func (d *Sleep) Deadline() (ktime.Time, bool) { return d.Until, true }

// Kind implements Descriptor.Kind.
func (*Sleep) Kind() Kind { return KindSleep }

// Interests implements Descriptor.Interests.
func (*Sleep) Interests() []Interest { return nil }

// Satisfied implements Descriptor.Satisfied.
func (*Sleep) Satisfied() bool { return false }

func (*Sleep) isDescriptor() {}

// InodeReadable waits until an inode has data.
type InodeReadable struct {
	noDeadline
	Inode waiter.Waitable
}

// Kind implements Descriptor.Kind.
func (*InodeReadable) Kind() Kind { return KindInodeReadable }

// Interests implements Descriptor.Interests.
func (d *InodeReadable) Interests() []Interest { return one(d.Inode, readableEvents) }

// Satisfied implements Descriptor.Satisfied.
func (d *InodeReadable) Satisfied() bool { return ready(d.Inode, readableEvents) }

func (*InodeReadable) isDescriptor() {}

// PipeReadable waits until a pipe has data or its last writer is gone.
type PipeReadable struct {
	noDeadline
	Pipe waiter.Waitable
}

// Kind implements Descriptor.Kind.
func (*PipeReadable) Kind() Kind { return KindPipeReadable }

// Interests implements Descriptor.Interests.
func (d *PipeReadable) Interests() []Interest { return one(d.Pipe, readableEvents) }

// Satisfied implements Descriptor.Satisfied.
func (d *PipeReadable) Satisfied() bool { return ready(d.Pipe, readableEvents) }

func (*PipeReadable) isDescriptor() {}

// SocketConnected waits for an outgoing connection to complete.
type SocketConnected struct {
	noDeadline
	Socket waiter.Waitable
}

// Kind implements Descriptor.Kind.
func (*SocketConnected) Kind() Kind { return KindSocketConnected }

// Interests implements Descriptor.Interests.
func (d *SocketConnected) Interests() []Interest { return one(d.Socket, connectedEvents) }

// Satisfied implements Descriptor.Satisfied.
func (d *SocketConnected) Satisfied() bool { return ready(d.Socket, connectedEvents) }

func (*SocketConnected) isDescriptor() {}

// InodeReadableOrTimeout waits until an inode has data or a deadline passes.
type InodeReadableOrTimeout struct {
	Until ktime.Time
	Inode waiter.Waitable
}

// Deadline implements Descriptor.Deadline.
func (d *InodeReadableOrTimeout) Deadline() (ktime.Time, bool) { return d.Until, true }

// Kind implements Descriptor.Kind.
func (*InodeReadableOrTimeout) Kind() Kind { return KindInodeReadableOrTimeout }

// Interests implements Descriptor.Interests.
func (d *InodeReadableOrTimeout) Interests() []Interest { return one(d.Inode, readableEvents) }

// Satisfied implements Descriptor.Satisfied.
func (d *InodeReadableOrTimeout) Satisfied() bool { return ready(d.Inode, readableEvents) }

func (*InodeReadableOrTimeout) isDescriptor() {}

// InodeWritable waits until an inode can accept data.
type InodeWritable struct {
	noDeadline
	Inode waiter.Waitable
}

// Kind implements Descriptor.Kind.
func (*InodeWritable) Kind() Kind { return KindInodeWritable }

// Interests implements Descriptor.Interests.
func (d *InodeWritable) Interests() []Interest { return one(d.Inode, writableEvents) }

// Satisfied implements Descriptor.Satisfied.
func (d *InodeWritable) Satisfied() bool { return ready(d.Inode, writableEvents) }

func (*InodeWritable) isDescriptor() {}

// SocketHasConnection waits for a listening socket to have a pending
// connection.
type SocketHasConnection struct {
	noDeadline
	Socket waiter.Waitable
}

// Kind implements Descriptor.Kind.
func (*SocketHasConnection) Kind() Kind { return KindSocketHasConnection }

// Interests implements Descriptor.Interests.
func (d *SocketHasConnection) Interests() []Interest { return one(d.Socket, connectionEvents) }

// Satisfied implements Descriptor.Satisfied.
func (d *SocketHasConnection) Satisfied() bool { return ready(d.Socket, connectionEvents) }

func (*SocketHasConnection) isDescriptor() {}

// SocketReadable waits until a socket has data.
type SocketReadable struct {
	noDeadline
	Socket waiter.Waitable
}

// Kind implements Descriptor.Kind.
func (*SocketReadable) Kind() Kind { return KindSocketReadable }

// Interests implements Descriptor.Interests.
func (d *SocketReadable) Interests() []Interest { return one(d.Socket, readableEvents) }

// Satisfied implements Descriptor.Satisfied.
func (d *SocketReadable) Satisfied() bool { return ready(d.Socket, readableEvents) }

func (*SocketReadable) isDescriptor() {}

// SocketReadableWithTimeout waits until a socket has data or a deadline
// passes.
type SocketReadableWithTimeout struct {
	Until  ktime.Time
	Socket waiter.Waitable
}

// Deadline implements Descriptor.Deadline.
func (d *SocketReadableWithTimeout) Deadline() (ktime.Time, bool) { return d.Until, true }

// Kind implements Descriptor.Kind.
func (*SocketReadableWithTimeout) Kind() Kind { return KindSocketReadableWithTimeout }

// Interests implements Descriptor.Interests.
func (d *SocketReadableWithTimeout) Interests() []Interest { return one(d.Socket, readableEvents) }

// Satisfied implements Descriptor.Satisfied.
func (d *SocketReadableWithTimeout) Satisfied() bool { return ready(d.Socket, readableEvents) }

func (*SocketReadableWithTimeout) isDescriptor() {}

// SelectEntry is one file of a select(2) call and the events it is polled
// for.
type SelectEntry struct {
	FD     int32
	File   waiter.Waitable
	Events waiter.EventMask
}

// FDSets are the files of a select(2) call.
type FDSets []SelectEntry

// interests returns one Interest per entry.
func (s FDSets) interests() []Interest {
	in := make([]Interest, 0, len(s))
	for _, e := range s {
		in = append(in, Interest{Resource: e.File, Events: e.Events})
	}
	return in
}

// Ready returns the entries whose files are ready, with Events narrowed to
// the ready events.
func (s FDSets) Ready() FDSets {
	var r FDSets
	for _, e := range s {
		if m := e.File.Readiness(e.Events) & e.Events; m != 0 {
			e.Events = m
			r = append(r, e)
		}
	}
	return r
}

// Select waits until any file in a set is ready.
type Select struct {
	noDeadline
	Sets FDSets
}

// Kind implements Descriptor.Kind.
func (*Select) Kind() Kind { return KindSelect }

// Interests implements Descriptor.Interests.
func (d *Select) Interests() []Interest { return d.Sets.interests() }

// Satisfied implements Descriptor.Satisfied.
func (d *Select) Satisfied() bool { return len(d.Sets.Ready()) > 0 }

func (*Select) isDescriptor() {}

// SelectTimeout waits until any file in a set is ready or a deadline passes.
type SelectTimeout struct {
	Until ktime.Time
	Sets  FDSets
}

// Deadline implements Descriptor.Deadline.
func (d *SelectTimeout) Deadline() (ktime.Time, bool) { return d.Until, true }

// Kind implements Descriptor.Kind.
func (*SelectTimeout) Kind() Kind { return KindSelectTimeout }

// Interests implements Descriptor.Interests.
func (d *SelectTimeout) Interests() []Interest { return d.Sets.interests() }

// Satisfied implements Descriptor.Satisfied.
func (d *SelectTimeout) Satisfied() bool { return len(d.Sets.Ready()) > 0 }

func (*SelectTimeout) isDescriptor() {}

// Custom waits until a predicate holds. The predicate is evaluated with no
// kernel locks held other than the waiting process's, and must not block.
type Custom struct {
	noDeadline
	Predicate func() bool
}

// Kind implements Descriptor.Kind.
func (*Custom) Kind() Kind { return KindCustom }

// Interests implements Descriptor.Interests.
func (*Custom) Interests() []Interest { return nil }

// Satisfied implements Descriptor.Satisfied.
func (d *Custom) Satisfied() bool { return d.Predicate() }

func (*Custom) isDescriptor() {}

// UserMutex waits for ownership of a contended user mutex. It is only
// satisfied by an explicit wake from the mutex.
type UserMutex struct {
	noDeadline
	// Key is the physical address of the mutex word.
	Key uint64
}

// Kind implements Descriptor.Kind.
func (*UserMutex) Kind() Kind { return KindUserMutex }

// Interests implements Descriptor.Interests.
func (*UserMutex) Interests() []Interest { return nil }

// Satisfied implements Descriptor.Satisfied.
func (*UserMutex) Satisfied() bool { return false }

func (*UserMutex) isDescriptor() {}

// Stopped is the wait of a task in a stopped process. It is only satisfied
// by SIGCONT or SIGKILL.
type Stopped struct {
	noDeadline
}

// Kind implements Descriptor.Kind.
func (*Stopped) Kind() Kind { return KindStopped }

// Interests implements Descriptor.Interests.
func (*Stopped) Interests() []Interest { return nil }

// Satisfied implements Descriptor.Satisfied.
func (*Stopped) Satisfied() bool { return false }

func (*Stopped) isDescriptor() {}

// Expired reports whether d has a deadline at or before now.
func Expired(d Descriptor, now ktime.Time) bool {
	deadline, ok := d.Deadline()
	return ok && !now.Before(deadline)
}

// ShouldUnblock reports whether a task waiting on d may run at now: either
// its condition holds or its deadline has passed.
func ShouldUnblock(d Descriptor, now ktime.Time) bool {
	return d.Satisfied() || Expired(d, now)
}

// Matches reports whether a notification of mask on res concerns d.
func Matches(d Descriptor, res waiter.Waitable, mask waiter.EventMask) bool {
	for _, in := range d.Interests() {
		if in.Resource == res && in.Events&mask != 0 {
			return true
		}
	}
	return false
}

// TimeoutResult is the outcome the woken call site observes when d ends by
// its deadline: a completed Sleep succeeds, every other timed wait fails
// with ETIMEDOUT.
func TimeoutResult(d Descriptor) error {
	switch d.(type) {
	case *Sleep:
		return nil
	case *InodeReadableOrTimeout, *SocketReadableWithTimeout, *SelectTimeout:
		return linuxerr.ETIMEDOUT
	case *InodeReadable, *PipeReadable, *SocketConnected, *InodeWritable,
		*SocketHasConnection, *SocketReadable, *Select, *Custom, *UserMutex, *Stopped:
		panic(fmt.Sprintf("timeout of %v wait, which has no deadline", d.Kind()))
	default:
		panic(fmt.Sprintf("unknown descriptor %T", d))
	}
}

// TaskState is the scheduling state a task takes while waiting on d.
type TaskState int

// Waiting states.
const (
	StateWaiting TaskState = iota
	StateWaitingUninterruptible
	StateSleeping
)

// WaitState returns the state a task blocked on d enters.
func WaitState(d Descriptor, interruptible bool) TaskState {
	switch d.(type) {
	case *Sleep:
		if interruptible {
			return StateSleeping
		}
		return StateWaitingUninterruptible
	case *UserMutex:
		return StateWaitingUninterruptible
	case *InodeReadable, *PipeReadable, *SocketConnected, *InodeReadableOrTimeout,
		*InodeWritable, *SocketHasConnection, *SocketReadable, *SocketReadableWithTimeout,
		*Select, *SelectTimeout, *Custom, *Stopped:
		if interruptible {
			return StateWaiting
		}
		return StateWaitingUninterruptible
	default:
		panic(fmt.Sprintf("unknown descriptor %T", d))
	}
}
