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
	"iris.dev/iris/pkg/errors/linuxerr"
	"iris.dev/iris/pkg/hostarch"
	"iris.dev/iris/pkg/sentry/kernel/block"
	"iris.dev/iris/pkg/sentry/kernel/futex"
)

// User mutex words hold one of these values.
const (
	userMutexUnlocked = 0
	userMutexLocked   = 1
)

// UserMutexWake implements futex.Sleeper.UserMutexWake.
func (t *Task) UserMutexWake(_ *futex.Waiter, err error) bool {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	if t.state != TaskWaitingUninterruptible {
		return false
	}
	if _, ok := t.blocker.(*block.UserMutex); !ok {
		return false
	}
	t.wakeLocked(err)
	return true
}

// UserMutexLock acquires the user mutex at addr and continues with resume.
// An uncontended lock completes without entering the kernel's mutex table.
// A contended lock waits uninterruptibly until an unlocking task hands the
// mutex over.
//
// If the process that first contended the mutex exits, its waiters are
// released with EOWNERDEAD and retry the acquisition.
func (t *Task) UserMutexLock(addr hostarch.Addr, resume ResumeFunc) RunState {
	as := t.p.mm
	prev, err := as.CompareAndSwapUint32(addr, userMutexUnlocked, userMutexLocked)
	if err != nil || prev == userMutexUnlocked {
		return resume(t, err)
	}

	um, err := t.k.futexes.LockOrCreate(as, addr, &t.p.usedUserMutexes)
	if err != nil {
		return resume(t, err)
	}
	// The holder may have released the word before the entry existed.
	prev, err = as.CompareAndSwapUint32(addr, userMutexUnlocked, userMutexLocked)
	if err != nil || prev == userMutexUnlocked {
		um.Unlock()
		return resume(t, err)
	}

	if t.futexWaiter == nil {
		t.futexWaiter = futex.NewWaiter(t)
	}
	um.Enqueue(t.futexWaiter)
	rs := t.Block(&block.UserMutex{Key: uint64(um.Key())}, false, func(t *Task, err error) RunState {
		if err == linuxerr.EOWNERDEAD {
			t.k.warnings.Warningf("%v: user mutex at %v released by exiting owner, retrying", t, addr)
			return t.UserMutexLock(addr, resume)
		}
		return resume(t, err)
	})
	um.Unlock()
	return rs
}

// UserMutexUnlock releases the user mutex at addr. If tasks are waiting,
// ownership passes directly to the first waiter and the word stays locked.
func (t *Task) UserMutexUnlock(addr hostarch.Addr) error {
	as := t.p.mm
	um, err := t.k.futexes.LockIfContendedElseWrite(as, addr, userMutexUnlocked)
	if um == nil {
		return err
	}
	if um.Wake(1) == 0 {
		err = as.StoreUint32(addr, userMutexUnlocked)
	}
	um.Unlock()
	return err
}
