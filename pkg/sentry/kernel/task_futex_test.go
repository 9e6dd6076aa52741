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
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"iris.dev/iris/pkg/abi/linux"
	"iris.dev/iris/pkg/errors/linuxerr"
	"iris.dev/iris/pkg/hostarch"
	"iris.dev/iris/pkg/sentry/kernel/block"
)

func loadWord(t *testing.T, p *Process, addr hostarch.Addr) uint32 {
	t.Helper()
	v, err := p.MemoryManager().LoadUint32(addr)
	if err != nil {
		t.Fatalf("LoadUint32(%v): %v", addr, err)
	}
	return v
}

// TestUserMutexHandoff has T1 hold a mutex that T2 then contends on. When
// T1 unlocks, T2 owns the mutex without the word ever reading unlocked, and
// the kernel's entry for it is gone.
func TestUserMutexHandoff(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	lock := userBase
	var events []string

	t2 := RunFunc(func(t *Task) RunState {
		return t.UserMutexLock(lock, func(t *Task, err error) RunState {
			events = append(events, "T2 locked: "+errString(err))
			return t.Yield(RunFunc(func(t *Task) RunState {
				if err := t.UserMutexUnlock(lock); err != nil {
					return t.Exit(1)
				}
				events = append(events, "T2 unlocked")
				return t.Exit(0)
			}))
		})
	})
	var childPID ThreadID
	t1 := RunFunc(func(t *Task) RunState {
		pid, err := t.Fork(t2)
		if err != nil {
			return t.Exit(1)
		}
		childPID = pid
		return t.UserMutexLock(lock, func(t *Task, err error) RunState {
			events = append(events, "T1 locked: "+errString(err))
			return t.Yield(RunFunc(func(t *Task) RunState {
				if err := t.UserMutexUnlock(lock); err != nil {
					return t.Exit(1)
				}
				events = append(events, "T1 unlocked")
				return t.Yield(parkForever())
			}))
		})
	})
	p1 := createProcess(t, k, t1)
	mapShared(t, p1)

	// T1 forks T2 and takes the uncontended lock.
	k.CPU(0).Step()
	if k.Futexes().Len() != 0 {
		t.Errorf("uncontended lock created a kernel entry")
	}
	p2 := k.ProcessByPID(childPID)
	if p2 == nil {
		t.Fatalf("child %d not found", childPID)
	}
	task2 := p2.MainTask()

	// T2 contends and waits.
	k.CPU(0).Step()
	if got := task2.State(); got != TaskWaitingUninterruptible {
		t.Fatalf("T2 state = %v, want WaitingUninterruptible", got)
	}
	if _, ok := task2.Blocker().(*block.UserMutex); !ok {
		t.Fatalf("T2 blocker = %#v, want UserMutex", task2.Blocker())
	}
	if k.Futexes().Len() != 1 || p2.UserMutexes() != 1 {
		t.Errorf("contended lock: %d entries, %d owned by T2's process; want 1 and 1", k.Futexes().Len(), p2.UserMutexes())
	}

	// T1 unlocks, handing the mutex to T2.
	k.CPU(0).Step()
	if got := task2.State(); got != TaskReady {
		t.Errorf("T2 state after unlock = %v, want Ready", got)
	}
	if got := loadWord(t, p1, lock); got != userMutexLocked {
		t.Errorf("lock word after hand-off = %d, want %d", got, userMutexLocked)
	}
	if k.Futexes().Len() != 0 || p2.UserMutexes() != 0 {
		t.Errorf("drained mutex survives: %d entries, %d owned", k.Futexes().Len(), p2.UserMutexes())
	}

	stepUntil(t, k, func() bool { return k.ProcessCount() == 1 })
	want := []string{"T1 locked: <nil>", "T1 unlocked", "T2 locked: <nil>", "T2 unlocked"}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if got := loadWord(t, p1, lock); got != userMutexUnlocked {
		t.Errorf("lock word at end = %d, want %d", got, userMutexUnlocked)
	}
}

// TestUserMutexCreatorExit kills the process that first contended a mutex
// while another waiter is queued behind it. The survivor is released, waits
// again under a mutex of its own and acquires the lock when the holder
// unlocks.
func TestUserMutexCreatorExit(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	lock := userBase
	var release atomic.Bool
	var acquired atomic.Bool

	waiterProg := func(record bool) RunState {
		return RunFunc(func(t *Task) RunState {
			return t.UserMutexLock(lock, func(t *Task, err error) RunState {
				if err != nil {
					return t.Exit(1)
				}
				if record {
					acquired.Store(true)
				}
				t.UserMutexUnlock(lock)
				return t.Exit(0)
			})
		})
	}
	var pids []ThreadID
	holder := createProcess(t, k, RunFunc(func(t *Task) RunState {
		for _, record := range []bool{false, true} {
			pid, err := t.Fork(waiterProg(record))
			if err != nil {
				return t.Exit(1)
			}
			pids = append(pids, pid)
		}
		return t.UserMutexLock(lock, func(t *Task, err error) RunState {
			return t.BlockCustom(release.Load, func(t *Task, err error) RunState {
				t.UserMutexUnlock(lock)
				return parkForever()
			})
		})
	}))
	mapShared(t, holder)

	k.CPU(0).Step() // holder forks both waiters, locks and waits.
	k.CPU(0).Step() // first waiter contends and creates the entry.
	k.CPU(0).Step() // second waiter queues behind it.
	creator := k.ProcessByPID(pids[0])
	survivor := k.ProcessByPID(pids[1])
	if creator.UserMutexes() != 1 || survivor.UserMutexes() != 0 {
		t.Fatalf("owned mutexes: creator %d, survivor %d; want 1 and 0", creator.UserMutexes(), survivor.UserMutexes())
	}

	if err := k.SignalProcess(creator.PID(), linux.SIGKILL); err != nil {
		t.Fatalf("SignalProcess: %v", err)
	}
	stepUntil(t, k, func() bool { return survivor.UserMutexes() == 1 })
	if got := survivor.MainTask().State(); got != TaskWaitingUninterruptible {
		t.Errorf("survivor state = %v, want WaitingUninterruptible", got)
	}
	if diff := cmp.Diff([]ExitRecord{{PID: pids[0], Status: 128 + int(linux.SIGKILL)}}, k.Reaped()); diff != "" {
		t.Errorf("Reaped() mismatch (-want +got):\n%s", diff)
	}

	release.Store(true)
	k.Recheck()
	stepUntil(t, k, func() bool { return k.ProcessCount() == 1 })
	if !acquired.Load() {
		t.Errorf("survivor never acquired the mutex")
	}
	if n := k.Futexes().Len(); n != 0 {
		t.Errorf("%d user mutexes left", n)
	}
}

func TestUserMutexFaults(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	var lockErr, unlockErr error
	createProcess(t, k, RunFunc(func(t *Task) RunState {
		unlockErr = t.UserMutexUnlock(userBase)
		return t.UserMutexLock(userBase+2, func(t *Task, err error) RunState {
			lockErr = err
			return parkForever()
		})
	}))
	k.CPU(0).Step()
	if unlockErr != linuxerr.EFAULT {
		t.Errorf("unlock of unmapped word: got %v, want EFAULT", unlockErr)
	}
	if lockErr != linuxerr.EINVAL {
		t.Errorf("lock of unaligned word: got %v, want EINVAL", lockErr)
	}
}
