// Copyright 2018 Google LLC
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

// Package linux contains the constants and types needed to interface with the
// signal ABI exposed by the Iris kernel.
package linux

import (
	"fmt"
	"math/bits"

	"golang.org/x/sys/unix"
)

const (
	// SignalMaximum is the highest valid signal number.
	SignalMaximum = 64

	// LastStdSignal is the highest standard signal number.
	LastStdSignal = 31

	// FirstRTSignal is the lowest real-time signal number.
	FirstRTSignal = 32
)

// Signal is a signal number.
type Signal int

// IsValid returns true if s is a valid standard or realtime signal. (0 is not
// considered valid; interfaces special-casing signal number 0 should check for
// 0 first before asserting validity.)
func (s Signal) IsValid() bool {
	return s > 0 && s <= SignalMaximum
}

// IsStandard returns true if s is a standard signal.
//
// Preconditions: s.IsValid().
func (s Signal) IsStandard() bool {
	return s <= LastStdSignal
}

// Index returns the index for signal s into signal masks.
//
// Preconditions: s.IsValid().
func (s Signal) Index() int {
	return int(s - 1)
}

// String implements fmt.Stringer.
func (s Signal) String() string {
	if s.IsValid() && s.IsStandard() {
		if name := unix.SignalName(unix.Signal(s)); name != "" {
			return name
		}
	}
	return fmt.Sprintf("signal %d", int(s))
}

// Signals.
const (
	SIGABRT   = Signal(unix.SIGABRT)
	SIGALRM   = Signal(unix.SIGALRM)
	SIGBUS    = Signal(unix.SIGBUS)
	SIGCHLD   = Signal(unix.SIGCHLD)
	SIGCONT   = Signal(unix.SIGCONT)
	SIGFPE    = Signal(unix.SIGFPE)
	SIGHUP    = Signal(unix.SIGHUP)
	SIGILL    = Signal(unix.SIGILL)
	SIGINT    = Signal(unix.SIGINT)
	SIGIO     = Signal(unix.SIGIO)
	SIGKILL   = Signal(unix.SIGKILL)
	SIGPIPE   = Signal(unix.SIGPIPE)
	SIGPROF   = Signal(unix.SIGPROF)
	SIGPWR    = Signal(unix.SIGPWR)
	SIGQUIT   = Signal(unix.SIGQUIT)
	SIGSEGV   = Signal(unix.SIGSEGV)
	SIGSTKFLT = Signal(unix.SIGSTKFLT)
	SIGSTOP   = Signal(unix.SIGSTOP)
	SIGSYS    = Signal(unix.SIGSYS)
	SIGTERM   = Signal(unix.SIGTERM)
	SIGTRAP   = Signal(unix.SIGTRAP)
	SIGTSTP   = Signal(unix.SIGTSTP)
	SIGTTIN   = Signal(unix.SIGTTIN)
	SIGTTOU   = Signal(unix.SIGTTOU)
	SIGURG    = Signal(unix.SIGURG)
	SIGUSR1   = Signal(unix.SIGUSR1)
	SIGUSR2   = Signal(unix.SIGUSR2)
	SIGVTALRM = Signal(unix.SIGVTALRM)
	SIGWINCH  = Signal(unix.SIGWINCH)
	SIGXCPU   = Signal(unix.SIGXCPU)
	SIGXFSZ   = Signal(unix.SIGXFSZ)
)

// SignalSet is a signal mask with a bit corresponding to each signal.
type SignalSet uint64

// MakeSignalSet returns SignalSet with the bit corresponding to each of the
// given signals set.
func MakeSignalSet(sigs ...Signal) SignalSet {
	var set SignalSet
	for _, sig := range sigs {
		set |= SignalSetOf(sig)
	}
	return set
}

// SignalSetOf returns a SignalSet with a single signal set.
func SignalSetOf(sig Signal) SignalSet {
	return SignalSet(1) << uint(sig.Index())
}

// ForEachSignal invokes f for each signal set in the given mask.
func ForEachSignal(mask SignalSet, f func(sig Signal)) {
	for m := uint64(mask); m != 0; m &= m - 1 {
		f(Signal(bits.TrailingZeros64(m) + 1))
	}
}

// Lowest returns the lowest numbered signal in mask, or 0 if mask is empty.
func (mask SignalSet) Lowest() Signal {
	if mask == 0 {
		return 0
	}
	return Signal(bits.TrailingZeros64(uint64(mask)) + 1)
}

// UnblockableSignals contains the set of signals which cannot be blocked.
var UnblockableSignals = MakeSignalSet(SIGKILL, SIGSTOP)

// StopSignals is the set of signals whose default action is SignalActionStop.
var StopSignals = MakeSignalSet(SIGSTOP, SIGTSTP, SIGTTIN, SIGTTOU)

// 'how' values for rt_sigprocmask(2).
const (
	// SIG_BLOCK blocks the signals in the set.
	SIG_BLOCK = 0

	// SIG_UNBLOCK unblocks the signals in the set.
	SIG_UNBLOCK = 1

	// SIG_SETMASK sets the signal mask to set.
	SIG_SETMASK = 2
)

// Signal actions for rt_sigaction(2), from uapi/asm-generic/signal-defs.h.
const (
	// SIG_DFL performs the default action.
	SIG_DFL = 0

	// SIG_IGN ignores the signal.
	SIG_IGN = 1
)
