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
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"iris.dev/iris/pkg/hostarch"
	"iris.dev/iris/pkg/sentry/mm"
)

// userBase is where tests map user memory.
const userBase hostarch.Addr = 0x10000

// newTestKernel returns a kernel driven by a fake clock, and a function
// advancing that clock.
func newTestKernel(t *testing.T, cfg Config) (*Kernel, func(time.Duration)) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	cfg.Clock = clock
	k, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return k, clock.Advance
}

func createProcess(t *testing.T, k *Kernel, prog RunState) *Process {
	t.Helper()
	p, err := k.CreateProcess(ProcessConfig{Program: prog})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	return p
}

// mapShared maps one writable shared page at userBase in p.
func mapShared(t *testing.T, p *Process) {
	t.Helper()
	if _, err := p.MemoryManager().MMap(userBase, hostarch.PageSize, mm.MMapOpts{Writable: true, Shared: true}); err != nil {
		t.Fatalf("MMap: %v", err)
	}
}

// parkForever blocks interruptibly on a condition that never holds.
func parkForever() RunState {
	return RunFunc(func(t *Task) RunState {
		return t.BlockCustom(func() bool { return false }, func(t *Task, _ error) RunState {
			return parkForever()
		})
	})
}

// spin yields on every step, calling f first if it is non-nil.
func spin(f func(t *Task)) RunState {
	var rs RunFunc
	rs = func(t *Task) RunState {
		if f != nil {
			f(t)
		}
		return t.Yield(rs)
	}
	return rs
}

// stepUntil steps CPU 0 until cond holds.
func stepUntil(t *testing.T, k *Kernel, cond func() bool) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		if cond() {
			return
		}
		k.CPU(0).Step()
	}
	t.Fatalf("condition not reached after 1000 quanta")
}

func mustPanic(t *testing.T, name string, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s did not panic", name)
		}
	}()
	f()
}

func TestNewAppliesDefaults(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	cfg := k.Config()
	if cfg.CPUs != DefaultCPUs || cfg.QuantumSteps != DefaultQuantumSteps || cfg.MaxProcesses != DefaultMaxProcesses || cfg.PhysicalFrames != DefaultPhysicalFrames {
		t.Errorf("Config() = %+v, want defaults", cfg)
	}
	if got := len(k.CPUs()); got != DefaultCPUs {
		t.Errorf("len(CPUs()) = %d, want %d", got, DefaultCPUs)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	for _, cfg := range []Config{
		{CPUs: -1},
		{QuantumSteps: -2},
		{MaxProcesses: -3},
	} {
		if _, err := New(cfg); err == nil {
			t.Errorf("New(%+v) succeeded", cfg)
		}
	}
}

func TestCreateProcess(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	p := createProcess(t, k, parkForever())
	if p.PID() != 1 {
		t.Errorf("first pid = %d, want 1", p.PID())
	}
	if got, want := p.ProcessGroup(), ProcessGroupID(p.PID()); got != want {
		t.Errorf("ProcessGroup() = %d, want %d", got, want)
	}
	if got, want := p.Session(), SessionID(p.PID()); got != want {
		t.Errorf("Session() = %d, want %d", got, want)
	}
	task := p.MainTask()
	if task.ThreadID() != p.PID() {
		t.Errorf("main task tid = %d, want %d", task.ThreadID(), p.PID())
	}
	if task.State() != TaskReady {
		t.Errorf("new task state = %v, want Ready", task.State())
	}
	if task.Arch().Stack() == 0 {
		t.Errorf("main task has no kernel stack")
	}
	if k.ProcessByPID(1) != p {
		t.Errorf("ProcessByPID(1) did not find the process")
	}
}
