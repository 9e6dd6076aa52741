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

// Package futex implements user mutexes shared between processes.
//
// A user mutex is a 32-bit word in user memory. While it is uncontended the
// word is the only state. When a task has to wait for it, the Manager
// materializes a UserMutex keyed by the physical address of the word, so
// that processes mapping the same page at different virtual addresses find
// the same wait queue. The UserMutex exists exactly as long as it has
// waiters: it is destroyed when its wait list is observed empty under its
// own lock.
//
// Lock order:
//
//	UserMutex.mu
//		Manager.mu
//		OwnedSet.mu
//		Sleeper.UserMutexWake implementations
//
// A UserMutex that has not been published in Manager.entries yet may be
// locked while holding Manager.mu.
package futex

import (
	"fmt"
	"sync/atomic"

	"iris.dev/iris/pkg/errors/linuxerr"
	"iris.dev/iris/pkg/hostarch"
	"iris.dev/iris/pkg/ilist"
	"iris.dev/iris/pkg/sentry/mm"
	"iris.dev/iris/pkg/sync"
)

// Key identifies a user mutex: the physical address of its word.
type Key = mm.PhysAddr

// Translator abstracts the address space of the calling task.
// *mm.MemoryManager implements Translator.
type Translator interface {
	// Translate returns the physical address backing addr.
	Translate(addr hostarch.Addr) (mm.PhysAddr, error)

	// StoreUint32 atomically stores val at addr.
	StoreUint32(addr hostarch.Addr, val uint32) error
}

// getKey returns the Key for the word at addr.
func getKey(t Translator, addr hostarch.Addr) (Key, error) {
	// Ensure the address is aligned.
	// It must be a DWORD boundary.
	if addr&0x3 != 0 {
		return 0, linuxerr.EINVAL
	}
	return t.Translate(addr)
}

// Sleeper is the task side of a Waiter.
type Sleeper interface {
	// UserMutexWake makes the waiting task runnable. err is nil if the
	// task was handed the mutex, or EOWNERDEAD if the mutex was torn down
	// with its creator. It returns false if the task can no longer run
	// (it is exiting), in which case the wake is not counted.
	//
	// Preconditions: the UserMutex the waiter was queued on is locked.
	// Implementations must not call back into this package.
	UserMutexWake(w *Waiter, err error) bool
}

// Waiter is a task queued on a UserMutex.
type Waiter struct {
	// Synchronization:
	//
	// - A Waiter that is not enqueued is exclusively owned.
	//
	// - Once enqueued, waiterEntry is protected by the lock of the
	// UserMutex that mutex points to. mutex is only written under that
	// lock, but may be loaded without it, in which case it must be
	// rechecked after locking; see Manager.Cancel.
	ilist.Entry[*Waiter]

	mutex atomic.Pointer[UserMutex]

	sleeper Sleeper
}

// NewWaiter returns an unqueued Waiter for s.
func NewWaiter(s Sleeper) *Waiter {
	return &Waiter{sleeper: s}
}

// Queued returns true if w is currently on a wait list.
func (w *Waiter) Queued() bool {
	return w.mutex.Load() != nil
}

// UserMutex is the kernel object of a contended user mutex.
type UserMutex struct {
	mu sync.Mutex

	// key is immutable.
	key Key

	// manager is immutable.
	manager *Manager

	// owner is the set of the process that created the mutex. It is
	// immutable and may be nil.
	owner *OwnedSet

	// The following fields are protected by mu.

	// waiters is the FIFO wait list.
	waiters ilist.List[*Waiter]

	// dead is set when the mutex has been removed from manager. A dead
	// mutex must be looked up again.
	dead bool
}

// Key returns the physical address the mutex is bound to.
func (um *UserMutex) Key() Key {
	return um.key
}

// Len returns the number of waiters.
//
// Preconditions: um is locked.
func (um *UserMutex) Len() int {
	return um.waiters.Len()
}

// Enqueue appends w to the wait list.
//
// Preconditions: um is locked. w is not queued.
func (um *UserMutex) Enqueue(w *Waiter) {
	if um.dead {
		panic(fmt.Sprintf("Enqueue on destroyed user mutex %v", um.key))
	}
	if w.Queued() {
		panic("Enqueue of a queued waiter")
	}
	um.waiters.PushBack(w)
	w.mutex.Store(um)
}

// Wake wakes up to n waiters in the order they were enqueued and returns the
// number woken. Waiters whose tasks decline the wake are dropped from the
// list and not counted. If the wait list becomes empty the mutex is
// destroyed before Wake returns; um remains locked either way.
//
// Preconditions: um is locked.
func (um *UserMutex) Wake(n int) int {
	done := um.wakeLocked(n, nil)
	if um.waiters.Empty() {
		um.destroyLocked()
	}
	return done
}

func (um *UserMutex) wakeLocked(n int, err error) int {
	done := 0
	for done < n {
		w := um.waiters.PopFront()
		if w == nil {
			break
		}
		w.mutex.Store(nil)
		if w.sleeper.UserMutexWake(w, err) {
			done++
		}
	}
	return done
}

// Unlock releases um. If the wait list is empty the mutex is destroyed
// first, so that the word in user memory is again the only state.
//
// Preconditions: um is locked.
func (um *UserMutex) Unlock() {
	if !um.dead && um.waiters.Empty() {
		um.destroyLocked()
	}
	um.mu.Unlock()
}

// destroyLocked removes um from its manager and its owner's set.
//
// Preconditions: um is locked and not dead.
func (um *UserMutex) destroyLocked() {
	if um.dead {
		return
	}
	um.dead = true
	m := um.manager
	m.mu.Lock()
	if m.entries[um.key] == um {
		delete(m.entries, um.key)
	}
	m.mu.Unlock()
	if um.owner != nil {
		um.owner.remove(um)
	}
}

// OwnedSet is the set of user mutexes a process created. The zero value is
// an empty set.
type OwnedSet struct {
	mu      sync.Mutex
	mutexes map[*UserMutex]struct{}
}

func (s *OwnedSet) add(um *UserMutex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mutexes == nil {
		s.mutexes = make(map[*UserMutex]struct{})
	}
	s.mutexes[um] = struct{}{}
}

func (s *OwnedSet) remove(um *UserMutex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mutexes, um)
}

// take empties the set and returns its previous contents.
func (s *OwnedSet) take() []*UserMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	ums := make([]*UserMutex, 0, len(s.mutexes))
	for um := range s.mutexes {
		ums = append(ums, um)
	}
	s.mutexes = nil
	return ums
}

// Len returns the number of live mutexes in the set.
func (s *OwnedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mutexes)
}

// Manager holds the user mutexes of a kernel. It is shared by every process,
// since mutexes are keyed by physical address.
type Manager struct {
	mu      sync.Mutex
	entries map[Key]*UserMutex
}

// NewManager returns an initialized Manager.
func NewManager() *Manager {
	return &Manager{
		entries: make(map[Key]*UserMutex),
	}
}

// LockOrCreate returns the locked UserMutex for the word at addr, creating
// it on behalf of owner if none exists. owner may be nil.
//
// A new UserMutex is locked before it is published, so no other task can
// observe it unlocked between creation and return.
func (m *Manager) LockOrCreate(t Translator, addr hostarch.Addr, owner *OwnedSet) (*UserMutex, error) {
	key, err := getKey(t, addr)
	if err != nil {
		return nil, err
	}
	for {
		m.mu.Lock()
		um, ok := m.entries[key]
		if !ok {
			um = &UserMutex{
				key:     key,
				manager: m,
				owner:   owner,
			}
			um.mu.Lock()
			m.entries[key] = um
			m.mu.Unlock()
			if owner != nil {
				owner.add(um)
			}
			return um, nil
		}
		m.mu.Unlock()

		um.mu.Lock()
		if !um.dead {
			return um, nil
		}
		// Destroyed between lookup and locking; look again.
		um.mu.Unlock()
	}
}

// LockIfContendedElseWrite is the unlock path of a user mutex. If the mutex
// has waiters, it is returned locked and the caller must wake them.
// Otherwise value is stored to addr, any empty UserMutex is destroyed, and
// nil is returned.
func (m *Manager) LockIfContendedElseWrite(t Translator, addr hostarch.Addr, value uint32) (*UserMutex, error) {
	key, err := getKey(t, addr)
	if err != nil {
		return nil, err
	}
	for {
		m.mu.Lock()
		um, ok := m.entries[key]
		if !ok {
			// The store happens under m.mu so that a locker creating the
			// mutex concurrently either is seen here or sees value.
			err := t.StoreUint32(addr, value)
			m.mu.Unlock()
			return nil, err
		}
		m.mu.Unlock()

		um.mu.Lock()
		if um.dead {
			um.mu.Unlock()
			continue
		}
		if um.waiters.Empty() {
			err := t.StoreUint32(addr, value)
			um.Unlock()
			return nil, err
		}
		return um, nil
	}
}

// Cancel removes w from the wait list it is queued on, if any. It returns
// true if w was queued. The UserMutex is destroyed if w was its last waiter.
func (m *Manager) Cancel(w *Waiter) bool {
	for {
		um := w.mutex.Load()
		if um == nil {
			return false
		}
		um.mu.Lock()
		// Recheck: a waker may have dequeued w before we locked.
		if w.mutex.Load() != um {
			um.mu.Unlock()
			continue
		}
		um.waiters.Remove(w)
		w.mutex.Store(nil)
		um.Unlock()
		return true
	}
}

// ReleaseOwned destroys every mutex in set, waking their remaining waiters
// with EOWNERDEAD. It returns the number of waiters woken.
func (m *Manager) ReleaseOwned(set *OwnedSet) int {
	woken := 0
	for _, um := range set.take() {
		um.mu.Lock()
		if !um.dead {
			for !um.waiters.Empty() {
				woken += um.wakeLocked(1, linuxerr.EOWNERDEAD)
			}
			um.destroyLocked()
		}
		um.mu.Unlock()
	}
	return woken
}

// Contended returns true if a UserMutex exists for key.
func (m *Manager) Contended(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok
}

// Len returns the number of live user mutexes.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
