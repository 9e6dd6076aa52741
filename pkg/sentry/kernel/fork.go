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
	"maps"

	"iris.dev/iris/pkg/abi/linux"
	"iris.dev/iris/pkg/cleanup"
	"iris.dev/iris/pkg/errors/linuxerr"
	"iris.dev/iris/pkg/log"
	"iris.dev/iris/pkg/sentry/arch"
	"iris.dev/iris/pkg/sentry/fs"
	"iris.dev/iris/pkg/sentry/kernel/auth"
	"iris.dev/iris/pkg/sentry/limits"
	"iris.dev/iris/pkg/sentry/mm"
)

// ProcessConfig configures a process created by Kernel.CreateProcess.
type ProcessConfig struct {
	// Credentials of the process. If nil, root credentials are used.
	Credentials *auth.Credentials

	// Limits of the process. If nil, Linux defaults with ProcessCount
	// capped at the kernel's pid space are used.
	Limits *limits.LimitSet

	// FDTable is the initial file table; the process takes a reference. If
	// nil, the process starts with no files.
	FDTable *fs.FDTable

	// Umask is the file mode creation mask.
	Umask uint

	// Priority is the scheduling priority.
	Priority int

	// Arch is the register layout of the main task.
	Arch arch.Arch

	// Program is the main task's first RunState.
	Program RunState
}

// CreateProcess creates a process in a new session and process group and
// links it into the ring, Ready to run.
func (k *Kernel) CreateProcess(cfg ProcessConfig) (*Process, error) {
	creds := cfg.Credentials
	if creds == nil {
		creds = auth.NewRootCredentials()
	}
	ls := cfg.Limits
	if ls == nil {
		var err error
		if ls, err = limits.NewProcessLimitSet(uint64(k.cfg.MaxProcesses)); err != nil {
			return nil, err
		}
	}
	fdt := cfg.FDTable
	if fdt == nil {
		fdt = fs.NewFDTable()
	} else {
		fdt.IncRef()
	}
	cu := cleanup.Make(fdt.DecRef)
	defer cu.Clean()

	pid, err := k.allocTID()
	if err != nil {
		return nil, err
	}
	cu.Add(func() { k.releaseTID(pid) })

	as := mm.NewMemoryManager(k.frames)
	cu.Add(as.Release)
	stack, err := as.AllocateKernelRegion(KernelStackSize)
	if err != nil {
		return nil, err
	}
	ac := arch.New(cfg.Arch)
	ac.SetStack(uintptr(stack.End))

	p := &Process{
		k:        k,
		pid:      pid,
		children: make(map[*Process]struct{}),
		pgid:     ProcessGroupID(pid),
		sid:      SessionID(pid),
		creds:    creds,
		priority: cfg.Priority,
		umask:    cfg.Umask & 0777,
		actions:  make(map[linux.Signal]SignalAction),
		fdTable:  fdt,
		mm:       as,
		limits:   ls,
	}
	p.tasks = []*Task{{
		k:        k,
		p:        p,
		tid:      pid,
		state:    TaskReady,
		runState: cfg.Program,
		arch:     ac,
	}}

	k.ring.Lock()
	if err := k.checkProcessCountLocked(creds, ls); err != nil {
		k.ring.Unlock()
		return nil, err
	}
	p.handle = k.ring.AddLocked(p)
	k.ring.Unlock()
	cu.Release()

	log.Debugf("Created %v", p)
	return p, nil
}

// checkProcessCountLocked returns EAGAIN if creating a process for creds
// would exceed its ProcessCount limit.
//
// Preconditions: k.ring.mu is locked.
func (k *Kernel) checkProcessCountLocked(creds *auth.Credentials, ls *limits.LimitSet) error {
	if creds.HasCapability(auth.CAP_SYS_RESOURCE) {
		return nil
	}
	max := ls.Get(limits.ProcessCount).Cur
	if max == limits.Infinity {
		return nil
	}
	var n uint64
	k.ring.ForEachLocked(func(p *Process) {
		p.mu.Lock()
		if p.creds.RealKUID == creds.RealKUID {
			n++
		}
		p.mu.Unlock()
	})
	if n >= max {
		return linuxerr.EAGAIN
	}
	return nil
}

// Fork creates a child process that is a copy of t's process, with t as its
// only task. The child resumes at cont with a return register of 0; t's
// return register is set to the child's pid, which Fork also returns.
//
// Fork fails with ENOMEM if the pid space or physical memory is exhausted,
// with EAGAIN if the caller's ProcessCount limit is reached, and with ESRCH
// if the caller's process is exiting. A failed Fork leaves no trace.
//
// Preconditions: t is being dispatched.
func (t *Task) Fork(cont RunState) (ThreadID, error) {
	k := t.k
	parent := t.p

	pid, err := k.allocTID()
	if err != nil {
		k.warnings.Warningf("%v: fork failed: out of pids", t)
		return 0, err
	}
	cu := cleanup.Make(func() { k.releaseTID(pid) })
	defer cu.Clean()

	parent.mu.Lock()
	if parent.exiting {
		parent.mu.Unlock()
		return 0, linuxerr.ESRCH
	}
	child := &Process{
		k:        k,
		pid:      pid,
		children: make(map[*Process]struct{}),
		creds:    parent.creds.Fork(),
		priority: parent.priority,
		umask:    parent.umask,
		// A fork never inherits pending signals.
		signalMask: parent.signalMask,
		actions:    maps.Clone(parent.actions),
		limits:     parent.limits.GetCopy(),
	}
	as, err := parent.mm.Fork()
	if err != nil {
		parent.mu.Unlock()
		k.warnings.Warningf("%v: fork failed: %v", t, err)
		return 0, err
	}
	cu.Add(as.Release)
	child.mm = as
	child.fdTable = parent.fdTable.Fork()
	cu.Add(child.fdTable.DecRef)
	ac := t.arch.Fork()
	parent.mu.Unlock()

	ac.SetReturn(0)
	child.tasks = []*Task{{
		k:        k,
		p:        child,
		tid:      pid,
		state:    TaskReady,
		runState: cont,
		arch:     ac,
	}}

	// The child becomes visible to RunNext only here, fully initialized.
	k.ring.Lock()
	parent.mu.Lock()
	exiting := parent.exiting
	parent.mu.Unlock()
	if exiting {
		// Killed by another CPU since the copy above.
		k.ring.Unlock()
		return 0, linuxerr.ESRCH
	}
	if err := k.checkProcessCountLocked(child.creds, child.limits); err != nil {
		k.ring.Unlock()
		k.warnings.Warningf("%v: fork failed: process limit reached", t)
		return 0, err
	}
	child.pgid = parent.pgid
	child.sid = parent.sid
	child.parent = parent
	parent.children[child] = struct{}{}
	child.handle = k.ring.AddLocked(child)
	k.ring.Unlock()
	cu.Release()

	t.arch.SetReturn(uintptr(pid))
	log.Debugf("%v forked %v", t, child)
	return pid, nil
}

// Clone creates a new task in t's process sharing its address space, files
// and signal dispositions. The new task starts at cont with a return
// register of 0 and its own kernel stack.
//
// Preconditions: t is being dispatched.
func (t *Task) Clone(cont RunState) (ThreadID, error) {
	k := t.k
	p := t.p

	tid, err := k.allocTID()
	if err != nil {
		return 0, err
	}
	cu := cleanup.Make(func() { k.releaseTID(tid) })
	defer cu.Clean()

	stack, err := p.mm.AllocateKernelRegion(KernelStackSize)
	if err != nil {
		return 0, err
	}
	ac := t.arch.Fork()
	ac.SetReturn(0)
	ac.SetStack(uintptr(stack.End))

	p.mu.Lock()
	if p.exiting {
		p.mu.Unlock()
		return 0, linuxerr.ESRCH
	}
	p.tasks = append(p.tasks, &Task{
		k:        k,
		p:        p,
		tid:      tid,
		state:    TaskReady,
		runState: cont,
		arch:     ac,
	})
	p.mu.Unlock()
	cu.Release()

	t.arch.SetReturn(uintptr(tid))
	log.Debugf("%v cloned task %d", t, tid)
	return tid, nil
}

// SetSID makes p the leader of a new session and process group, as
// setsid(2). It fails with EPERM if p already leads a process group.
func (p *Process) SetSID() (SessionID, error) {
	p.k.ring.Lock()
	defer p.k.ring.Unlock()
	if p.pgid == ProcessGroupID(p.pid) {
		return 0, linuxerr.EPERM
	}
	p.pgid = ProcessGroupID(p.pid)
	p.sid = SessionID(p.pid)
	return p.sid, nil
}

// SetPGID moves p into process group pgid, or into a new group led by p if
// pgid is 0, as setpgid(2). The group must exist in p's session, and a
// session leader cannot move.
func (p *Process) SetPGID(pgid ProcessGroupID) error {
	if pgid < 0 {
		return linuxerr.EINVAL
	}
	p.k.ring.Lock()
	defer p.k.ring.Unlock()
	if p.sid == SessionID(p.pid) {
		return linuxerr.EPERM
	}
	if pgid == 0 || pgid == ProcessGroupID(p.pid) {
		p.pgid = ProcessGroupID(p.pid)
		return nil
	}
	found := false
	p.k.ring.ForEachLocked(func(q *Process) {
		if q.pgid == pgid && q.sid == p.sid {
			found = true
		}
	})
	if !found {
		return linuxerr.EPERM
	}
	p.pgid = pgid
	return nil
}
