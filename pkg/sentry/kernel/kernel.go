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

// Package kernel implements the task scheduling and blocking core: the
// round-robin process ring, blocking on descriptors, user mutexes, fork,
// exit and signal delivery.
//
// Lock order:
//
//	Ring.mu
//		futex.UserMutex.mu
//			futex.Manager.mu
//			futex.OwnedSet.mu
//				Process.mu
//					resource locks taken by readiness checks
//
// Process.mu is never held while calling into the futex package, and no
// kernel lock is held across Task.Block.
package kernel

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"iris.dev/iris/pkg/bitmap"
	"iris.dev/iris/pkg/errors/linuxerr"
	"iris.dev/iris/pkg/hostarch"
	"iris.dev/iris/pkg/log"
	"iris.dev/iris/pkg/sentry/kernel/futex"
	"iris.dev/iris/pkg/sentry/ktime"
	"iris.dev/iris/pkg/sentry/mm"
	"iris.dev/iris/pkg/sync"
)

// Defaults for Config fields left zero.
const (
	DefaultCPUs           = 1
	DefaultQuantumSteps   = 16
	DefaultMaxProcesses   = 1024
	DefaultPhysicalFrames = 4096
)

// KernelStackSize is the size of the kernel region allocated for each task.
const KernelStackSize = hostarch.PageSize

// Config configures a Kernel.
type Config struct {
	// CPUs is the number of CPUs that may step concurrently.
	CPUs int

	// QuantumSteps is the number of RunState steps a task may execute
	// before it is preempted.
	QuantumSteps int

	// MaxProcesses bounds the pid space. Pids are 1..MaxProcesses.
	MaxProcesses int

	// PhysicalFrames is the number of page frames shared by all address
	// spaces.
	PhysicalFrames uint32

	// Clock drives deadlines. If nil, the real clock is used.
	Clock clockwork.Clock
}

func (c *Config) setDefaults() error {
	if c.CPUs == 0 {
		c.CPUs = DefaultCPUs
	}
	if c.QuantumSteps == 0 {
		c.QuantumSteps = DefaultQuantumSteps
	}
	if c.MaxProcesses == 0 {
		c.MaxProcesses = DefaultMaxProcesses
	}
	if c.PhysicalFrames == 0 {
		c.PhysicalFrames = DefaultPhysicalFrames
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	switch {
	case c.CPUs < 0:
		return fmt.Errorf("invalid CPU count %d", c.CPUs)
	case c.QuantumSteps < 0:
		return fmt.Errorf("invalid quantum %d", c.QuantumSteps)
	case c.MaxProcesses < 0:
		return fmt.Errorf("invalid process limit %d", c.MaxProcesses)
	}
	return nil
}

// Kernel holds the scheduler state shared by all CPUs.
type Kernel struct {
	cfg Config

	// ring holds every live process.
	ring *Ring

	clock   *ktime.MonotonicClock
	frames  *mm.FrameAllocator
	futexes *futex.Manager
	cpus    []*CPU

	// warnings are rate limited so a misbehaving workload cannot flood the
	// log.
	warnings log.Logger

	pidMu sync.Mutex
	// pids has a bit set for every thread ID in use. Bit 0 is reserved.
	pids bitmap.Bitmap

	// reaped records exited processes in reap order. Protected by ring.mu.
	reaped []ExitRecord
}

// ExitRecord describes a reaped process.
type ExitRecord struct {
	PID    ThreadID
	Status int
}

// New returns a kernel with an empty process ring.
func New(cfg Config) (*Kernel, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	k := &Kernel{
		cfg:      cfg,
		ring:     newRing(),
		clock:    ktime.NewMonotonicClock(cfg.Clock),
		frames:   mm.NewFrameAllocator(cfg.PhysicalFrames),
		futexes:  futex.NewManager(),
		warnings: log.BasicRateLimitedLogger(time.Second),
		pids:     bitmap.New(uint32(cfg.MaxProcesses) + 1),
	}
	k.pids.Add(0)
	for i := 0; i < cfg.CPUs; i++ {
		k.cpus = append(k.cpus, &CPU{k: k, id: i})
	}
	log.Debugf("Kernel created: %d CPUs, quantum %d steps, %d pids, %d frames", cfg.CPUs, cfg.QuantumSteps, cfg.MaxProcesses, cfg.PhysicalFrames)
	return k, nil
}

// Config returns the kernel's configuration with defaults applied.
func (k *Kernel) Config() Config {
	return k.cfg
}

// Clock returns the kernel's monotonic clock.
func (k *Kernel) Clock() *ktime.MonotonicClock {
	return k.clock
}

// Now returns the current kernel time.
func (k *Kernel) Now() ktime.Time {
	return k.clock.Now()
}

// Frames returns the physical frame allocator.
func (k *Kernel) Frames() *mm.FrameAllocator {
	return k.frames
}

// Futexes returns the user mutex manager.
func (k *Kernel) Futexes() *futex.Manager {
	return k.futexes
}

// Ring returns the process ring.
func (k *Kernel) Ring() *Ring {
	return k.ring
}

// CPUs returns the kernel's CPUs.
func (k *Kernel) CPUs() []*CPU {
	return k.cpus
}

// CPU returns CPU i.
func (k *Kernel) CPU(i int) *CPU {
	return k.cpus[i]
}

// ProcessCount returns the number of processes in the ring, including
// exited processes not yet reaped.
func (k *Kernel) ProcessCount() int {
	return k.ring.Len()
}

// ProcessByPID returns the live process with the given pid, or nil.
func (k *Kernel) ProcessByPID(pid ThreadID) *Process {
	k.ring.Lock()
	defer k.ring.Unlock()
	return k.processByPIDLocked(pid)
}

// Preconditions: k.ring.mu is locked.
func (k *Kernel) processByPIDLocked(pid ThreadID) *Process {
	var found *Process
	k.ring.ForEachLocked(func(p *Process) {
		if p.pid == pid {
			found = p
		}
	})
	return found
}

// Reaped returns the processes reaped so far, in reap order.
func (k *Kernel) Reaped() []ExitRecord {
	k.ring.Lock()
	defer k.ring.Unlock()
	return append([]ExitRecord(nil), k.reaped...)
}

// allocTID returns an unused thread ID, or ENOMEM if the space is exhausted.
func (k *Kernel) allocTID() (ThreadID, error) {
	k.pidMu.Lock()
	defer k.pidMu.Unlock()
	id, err := k.pids.FirstZero(1)
	if err != nil {
		return 0, linuxerr.ENOMEM
	}
	k.pids.Add(id)
	return ThreadID(id), nil
}

func (k *Kernel) releaseTID(tid ThreadID) {
	k.pidMu.Lock()
	defer k.pidMu.Unlock()
	k.pids.Remove(uint32(tid))
}
