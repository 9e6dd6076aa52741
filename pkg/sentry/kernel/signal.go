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
	"iris.dev/iris/pkg/errors/linuxerr"
	"iris.dev/iris/pkg/log"
	"iris.dev/iris/pkg/sentry/kernel/auth"
	"iris.dev/iris/pkg/sentry/kernel/block"
)

// defaultIgnored are the signals whose default action is to do nothing.
var defaultIgnored = linux.MakeSignalSet(linux.SIGCHLD, linux.SIGURG, linux.SIGWINCH, linux.SIGCONT)

// exitStatusForSignal is the exit status of a process killed by sig.
func exitStatusForSignal(sig linux.Signal) int {
	return 128 + int(sig)
}

// deliverSignalsLocked applies every deliverable pending signal of every
// process, lowest numbered first.
//
// Preconditions: k.ring.mu is locked.
func (k *Kernel) deliverSignalsLocked() {
	k.ring.ForEachLocked(func(p *Process) {
		p.mu.Lock()
		defer p.mu.Unlock()
		for !p.exiting {
			blocked := p.signalMask &^ linux.UnblockableSignals
			sig := (p.pending &^ blocked).Lowest()
			if sig == 0 {
				return
			}
			p.pending &^= linux.SignalSetOf(sig)
			p.applyLocked(sig)
		}
	})
}

// applyLocked carries out the disposition of sig for p.
//
// Preconditions: p.mu is locked.
func (p *Process) applyLocked(sig linux.Signal) {
	switch sig {
	case linux.SIGKILL:
		log.Debugf("%v killed by %v", p, sig)
		p.exitLocked(exitStatusForSignal(sig))
		return
	case linux.SIGSTOP:
		p.groupStopLocked()
		return
	case linux.SIGCONT:
		// Continuing happens whatever the disposition.
		p.groupContinueLocked()
	}

	act := p.actions[sig]
	switch {
	case act.Ignore:
	case act.Handler != nil:
		t := p.signalTaskLocked()
		if t == nil {
			return
		}
		t.queued = append(t.queued, sig)
		t.interruptLocked()
		log.Debugf("%v: %v queued for handler", t, sig)
	case defaultIgnored&linux.SignalSetOf(sig) != 0:
	case linux.StopSignals&linux.SignalSetOf(sig) != 0:
		p.groupStopLocked()
	default:
		log.Debugf("%v terminated by %v", p, sig)
		p.exitLocked(exitStatusForSignal(sig))
	}
}

// signalTaskLocked returns the task that runs a handler for a
// process-directed signal: the main task if it is live, else the first live
// task.
//
// Preconditions: p.mu is locked.
func (p *Process) signalTaskLocked() *Task {
	for _, t := range p.tasks {
		if t.state != TaskExiting {
			return t
		}
	}
	return nil
}

// groupStopLocked stops p. Ready tasks wait on a Stopped descriptor at once;
// running tasks do so when their quantum ends; blocked tasks keep waiting
// and are not scheduled until p is continued.
//
// Preconditions: p.mu is locked.
func (p *Process) groupStopLocked() {
	if p.stopped {
		return
	}
	p.stopped = true
	for _, t := range p.tasks {
		if t.state == TaskReady {
			t.stopLocked()
		}
	}
	log.Debugf("%v stopped", p)
}

// stopLocked parks t on a Stopped descriptor. The result of any earlier
// wait is kept for t's resumption.
//
// Preconditions: p.mu is locked.
func (t *Task) stopLocked() {
	t.blocker = &block.Stopped{}
	t.state = taskStateOf(block.WaitState(t.blocker, false))
}

// groupContinueLocked resumes a stopped p.
//
// Preconditions: p.mu is locked.
func (p *Process) groupContinueLocked() {
	if !p.stopped {
		return
	}
	p.stopped = false
	for _, t := range p.tasks {
		if _, ok := t.blocker.(*block.Stopped); ok {
			t.state = TaskReady
			t.blocker = nil
		}
	}
	log.Debugf("%v continued", p)
}

// signalAction returns the action for sig.
func (p *Process) signalAction(sig linux.Signal) SignalAction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.actions[sig]
}

// SetSignalAction sets the action for sig and returns the previous one.
// SIGKILL and SIGSTOP cannot be caught or ignored. Ignoring a signal
// discards it if pending.
func (p *Process) SetSignalAction(sig linux.Signal, act SignalAction) (SignalAction, error) {
	if !sig.IsValid() || linux.UnblockableSignals&linux.SignalSetOf(sig) != 0 {
		return SignalAction{}, linuxerr.EINVAL
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.actions[sig]
	if act.Handler == nil && !act.Ignore {
		delete(p.actions, sig)
	} else {
		p.actions[sig] = act
	}
	if act.Ignore {
		p.pending &^= linux.SignalSetOf(sig)
	}
	return old, nil
}

// SetSignalMask changes the blocked signals of t's process as
// rt_sigprocmask(2) and returns the previous mask. SIGKILL and SIGSTOP are
// never blocked.
func (t *Task) SetSignalMask(how int, set linux.SignalSet) (linux.SignalSet, error) {
	p := t.p
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.signalMask
	switch how {
	case linux.SIG_BLOCK:
		p.signalMask |= set
	case linux.SIG_UNBLOCK:
		p.signalMask &^= set
	case linux.SIG_SETMASK:
		p.signalMask = set
	default:
		return 0, linuxerr.EINVAL
	}
	p.signalMask &^= linux.UnblockableSignals
	return old, nil
}

// SignalProcess sends sig to the process with the given pid, as kill(2). A
// zero sig only checks that the process exists and may be signalled. The
// signal is delivered by the next RunNext on any CPU; if t signals its own
// process, t's quantum ends when its current step returns so that delivery
// happens before t runs again.
func (t *Task) SignalProcess(pid ThreadID, sig linux.Signal) error {
	return t.signal(sig, func(p *Process) bool { return p.pid == pid })
}

// SignalProcessGroup sends sig to every process in group pgid, or in t's
// own group if pgid is 0, as kill(2) with a negative pid.
func (t *Task) SignalProcessGroup(pgid ProcessGroupID, sig linux.Signal) error {
	if pgid == 0 {
		pgid = t.p.ProcessGroup()
	}
	return t.signal(sig, func(p *Process) bool { return p.pgid == pgid })
}

func (t *Task) signal(sig linux.Signal, match func(*Process) bool) error {
	self, err := t.k.sendSignal(t.p.Credentials(), t.p, sig, match)
	if err != nil {
		return err
	}
	if self && sig != 0 {
		t.endQuantum = true
		t.yields++
	}
	return nil
}

// SignalProcess sends sig to the process with the given pid from kernel
// context, without permission checks.
func (k *Kernel) SignalProcess(pid ThreadID, sig linux.Signal) error {
	_, err := k.sendSignal(nil, nil, sig, func(p *Process) bool { return p.pid == pid })
	return err
}

// SignalProcessGroup sends sig to every process in group pgid from kernel
// context, without permission checks.
func (k *Kernel) SignalProcessGroup(pgid ProcessGroupID, sig linux.Signal) error {
	_, err := k.sendSignal(nil, nil, sig, func(p *Process) bool { return p.pgid == pgid })
	return err
}

// sendSignal marks sig pending for every process matched that creds may
// signal; nil creds may signal anything. It reports whether sender was
// among the targets. It fails with ESRCH if nothing matched and with EPERM
// if nothing matched could be signalled.
func (k *Kernel) sendSignal(creds *auth.Credentials, sender *Process, sig linux.Signal, match func(*Process) bool) (bool, error) {
	if sig != 0 && !sig.IsValid() {
		return false, linuxerr.EINVAL
	}
	k.ring.Lock()
	defer k.ring.Unlock()
	found, permitted, self := 0, 0, false
	k.ring.ForEachLocked(func(p *Process) {
		if !match(p) {
			return
		}
		found++
		p.mu.Lock()
		defer p.mu.Unlock()
		if creds != nil && !creds.CanSignal(p.creds) {
			return
		}
		permitted++
		if sig != 0 && !p.exiting {
			p.pending |= linux.SignalSetOf(sig)
		}
		if p == sender {
			self = true
		}
	})
	switch {
	case found == 0:
		return false, linuxerr.ESRCH
	case permitted == 0:
		return false, linuxerr.EPERM
	}
	return self, nil
}
