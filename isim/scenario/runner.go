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

package scenario

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"iris.dev/iris/pkg/abi/linux"
	"iris.dev/iris/pkg/hostarch"
	"iris.dev/iris/pkg/log"
	"iris.dev/iris/pkg/sentry/fs"
	"iris.dev/iris/pkg/sentry/kernel"
	"iris.dev/iris/pkg/sentry/kernel/pipe"
	"iris.dev/iris/pkg/sentry/mm"
	"iris.dev/iris/pkg/sync"
)

// ErrStuck is returned by Run when processes remain after the last round.
var ErrStuck = errors.New("scenario did not finish")

// Options control a run.
type Options struct {
	// Tick is how far the simulated clock advances before each round.
	Tick time.Duration

	// MaxRounds bounds the run.
	MaxRounds int
}

// Exit describes a process that ran to completion.
type Exit struct {
	PID    kernel.ThreadID `yaml:"pid"`
	Name   string          `yaml:"name"`
	Status int             `yaml:"status"`
}

// Report is the outcome of a run.
type Report struct {
	// Rounds is the number of scheduling rounds run, not counting the one
	// that starts the scenario's processes.
	Rounds int `yaml:"rounds"`

	// Exits lists reaped processes by pid. A reused pid appears once per
	// process, in reap order.
	Exits []Exit `yaml:"exits"`

	// Remaining names the processes still alive when the run stopped.
	Remaining []string `yaml:"remaining,omitempty"`

	// Signals lists caught signals as "name: SIGNAL" in the order handlers
	// ran.
	Signals []string `yaml:"signals,omitempty"`

	// PipeData holds everything read from each pipe.
	PipeData map[string]string `yaml:"pipe_data,omitempty"`

	// ForkFailures counts failed fork steps.
	ForkFailures int `yaml:"fork_failures,omitempty"`

	// CPUs holds per-CPU scheduling statistics.
	CPUs []kernel.CPUStats `yaml:"cpus"`
}

type pipeEnds struct {
	name string
	p    *pipe.Pipe
	r    *fs.File
	w    *fs.File
}

// run is the state of one scenario execution shared by its processes.
type run struct {
	k     *kernel.Kernel
	sc    *Scenario
	pipes map[string]*pipeEnds

	// setupErr is set by the init process if a scenario process could not
	// be started.
	setupErr error

	// mu protects the fields below. Process steps run concurrently on all
	// CPUs.
	mu   sync.Mutex
	pids map[string]kernel.ThreadID

	// names lists the names a pid was given, oldest first. Pids are reused
	// once reaped.
	names    map[kernel.ThreadID][]string
	signals  []string
	pipeData map[string][]byte
	forkFail int
}

func newRun(k *kernel.Kernel, sc *Scenario) *run {
	r := &run{
		k:        k,
		sc:       sc,
		pipes:    make(map[string]*pipeEnds),
		pids:     make(map[string]kernel.ThreadID),
		names:    make(map[kernel.ThreadID][]string),
		pipeData: make(map[string][]byte),
	}
	for _, name := range sc.Pipes {
		p := pipe.NewPipe(pipe.DefaultPipeSize, pipe.AtomicIOBytes)
		r.pipes[name] = &pipeEnds{name: name, p: p, r: p.ROpen(), w: p.WOpen()}
	}
	return r
}

func (r *run) release() {
	for _, pe := range r.pipes {
		pe.r.DecRef()
		pe.w.DecRef()
	}
}

// register records pid as name. Only target names can be looked up.
func (r *run) register(name string, pid kernel.ThreadID, target bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[pid] = append(r.names[pid], name)
	if target {
		r.pids[name] = pid
	}
}

// lookup returns the pid of target, or 0 if it has not started.
func (r *run) lookup(target string) kernel.ThreadID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pids[target]
}

func (r *run) recordSignal(name string, sig linux.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, fmt.Sprintf("%s: %v", name, sig))
}

func (r *run) recordRead(name string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipeData[name] = append(r.pipeData[name], data...)
}

func (r *run) recordForkFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forkFail++
}

// initProgram starts the scenario's processes, then parks forever so that
// the process ring is never empty.
func (r *run) initProgram() kernel.RunState {
	return kernel.RunFunc(func(t *kernel.Task) kernel.RunState {
		for _, spec := range r.sc.Processes {
			if err := r.startProcess(t, spec); err != nil {
				r.setupErr = fmt.Errorf("starting process %q: %w", spec.Name, err)
				break
			}
		}
		return parked()
	})
}

func (r *run) startProcess(t *kernel.Task, spec Process) error {
	pid, err := t.Fork(r.start(spec.Name, spec.Program))
	if err != nil {
		return err
	}
	r.register(spec.Name, pid, true)
	p := r.k.ProcessByPID(pid)
	p.SetPriority(spec.Priority)
	var pgid kernel.ProcessGroupID
	if spec.Group != "" {
		pgid = r.k.ProcessByPID(r.lookup(spec.Group)).ProcessGroup()
	}
	return p.SetPGID(pgid)
}

func parked() kernel.RunState {
	return kernel.RunFunc(func(t *kernel.Task) kernel.RunState {
		return t.BlockCustom(func() bool { return false }, func(*kernel.Task, error) kernel.RunState {
			return parked()
		})
	})
}

// Run executes sc on a new kernel configured by kc, whose clock is replaced
// by a fake one advanced by opts.Tick before every round. In each round
// every CPU steps once, concurrently.
//
// The run ends when every scenario process has been reaped. If that has not
// happened after opts.MaxRounds rounds, Run returns the report so far and
// an error wrapping ErrStuck.
func Run(ctx context.Context, kc kernel.Config, sc *Scenario, opts Options) (*Report, error) {
	clock := clockwork.NewFakeClock()
	kc.Clock = clock
	k, err := kernel.New(kc)
	if err != nil {
		return nil, err
	}
	r := newRun(k, sc)
	defer r.release()

	initProc, err := k.CreateProcess(kernel.ProcessConfig{Program: r.initProgram()})
	if err != nil {
		return nil, fmt.Errorf("creating init: %w", err)
	}
	if _, err := initProc.MemoryManager().MMap(SharedBase, hostarch.PageSize, mm.MMapOpts{Writable: true, Shared: true}); err != nil {
		return nil, fmt.Errorf("mapping shared page: %w", err)
	}
	r.register("init", initProc.PID(), false)

	// Init is alone in the ring, so the first quantum starts every
	// scenario process before any of them runs.
	k.CPU(0).Step()
	if r.setupErr != nil {
		return nil, r.setupErr
	}
	log.Infof("Scenario %q: %d processes started", sc.Name, len(sc.Processes))

	rounds := 0
	for k.ProcessCount() > 1 {
		if rounds == opts.MaxRounds {
			rep := r.report(rounds)
			return rep, fmt.Errorf("%w: %d processes left after %d rounds", ErrStuck, len(rep.Remaining), rounds)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rounds++
		clock.Advance(opts.Tick)
		if n := k.Recheck(); n > 0 {
			log.Debugf("Round %d: %d custom waits satisfied", rounds, n)
		}
		var g errgroup.Group
		for _, c := range k.CPUs() {
			g.Go(func() error {
				c.Step()
				return nil
			})
		}
		g.Wait()
	}
	log.Infof("Scenario %q finished after %d rounds", sc.Name, rounds)
	return r.report(rounds), nil
}

func (r *run) report(rounds int) *Report {
	rep := &Report{Rounds: rounds}
	r.mu.Lock()
	defer r.mu.Unlock()
	lives := make(map[kernel.ThreadID]int)
	for _, rec := range r.k.Reaped() {
		var name string
		if names := r.names[rec.PID]; lives[rec.PID] < len(names) {
			name = names[lives[rec.PID]]
		}
		lives[rec.PID]++
		rep.Exits = append(rep.Exits, Exit{PID: rec.PID, Name: name, Status: rec.Status})
	}
	sort.SliceStable(rep.Exits, func(i, j int) bool { return rep.Exits[i].PID < rep.Exits[j].PID })
	for pid, names := range r.names {
		if lives[pid] < len(names) && names[len(names)-1] != "init" && r.k.ProcessByPID(pid) != nil {
			rep.Remaining = append(rep.Remaining, names[len(names)-1])
		}
	}
	sort.Strings(rep.Remaining)
	rep.Signals = append(rep.Signals, r.signals...)
	if len(r.pipeData) > 0 {
		rep.PipeData = make(map[string]string)
		for name, data := range r.pipeData {
			rep.PipeData[name] = string(data)
		}
	}
	rep.ForkFailures = r.forkFail
	for _, c := range r.k.CPUs() {
		rep.CPUs = append(rep.CPUs, c.Stats())
	}
	return rep
}
