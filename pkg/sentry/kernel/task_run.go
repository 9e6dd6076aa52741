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

import "fmt"

// A RunState is a reified state in the task's run loop. The dispatcher
// executes the current RunState and replaces it with the one returned, until
// the task blocks, yields, exits or uses up its quantum.
//
// A RunState that performs a blocking operation returns the RunState
// produced by Task.Block; one that exits returns the result of Task.Exit.
type RunState interface {
	// Execute executes the code associated with this state and returns
	// the next state.
	Execute(t *Task) RunState
}

// RunFunc adapts an ordinary function to a RunState.
type RunFunc func(t *Task) RunState

// Execute implements RunState.Execute.
func (f RunFunc) Execute(t *Task) RunState {
	return f(t)
}

// runExited is the state of a task whose process has exited. The task is
// never dispatched again.
type runExited struct{}

// Execute implements RunState.Execute.
func (runExited) Execute(t *Task) RunState {
	panic(fmt.Sprintf("%v dispatched after exit", t))
}

// runExiting is the implicit end of a program that returned nil from a
// step that also ended its quantum.
type runExiting struct{}

// Execute implements RunState.Execute.
func (runExiting) Execute(t *Task) RunState {
	return t.Exit(0)
}

// Yield ends t's quantum. next is executed when t is next dispatched.
func (t *Task) Yield(next RunState) RunState {
	t.endQuantum = true
	t.yields++
	return next
}

// dispatch runs t until it stops being runnable or its quantum expires.
//
// Preconditions: RunNext chose t for c.
func (c *CPU) dispatch(t *Task) {
	p := t.p
	t.endQuantum = false

	p.mu.Lock()
	handlers := t.queued
	t.queued = nil
	p.mu.Unlock()
	for _, sig := range handlers {
		if act := p.signalAction(sig); act.Handler != nil && !act.Ignore {
			act.Handler(t, sig)
		}
	}

	for steps := 0; steps < c.k.cfg.QuantumSteps && !t.endQuantum; steps++ {
		if !t.running() {
			break
		}
		next := t.runState.Execute(t)
		if next == nil {
			if t.endQuantum {
				// The step yielded, e.g. after signalling itself. The
				// exit waits for the next dispatch so that pending
				// signals are delivered first.
				next = runExiting{}
			} else {
				next = t.Exit(0)
			}
		}
		t.runState = next
		c.steps++
	}

	p.mu.Lock()
	t.onCPU = false
	p.onCPU--
	if t.state == TaskRunning {
		if p.stopped {
			t.stopLocked()
		} else {
			t.state = TaskReady
		}
	}
	p.mu.Unlock()
}

// running returns true if t may execute another step in this quantum.
func (t *Task) running() bool {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	return t.state == TaskRunning && !t.p.stopped
}
