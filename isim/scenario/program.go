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
	"time"

	"iris.dev/iris/pkg/abi/linux"
	"iris.dev/iris/pkg/errors/linuxerr"
	"iris.dev/iris/pkg/hostarch"
	"iris.dev/iris/pkg/log"
	"iris.dev/iris/pkg/sentry/kernel"
	"iris.dev/iris/pkg/sentry/kernel/pipe"
)

// SharedBase is the address of the page every scenario process shares.
// Lock and unlock steps address mutex words by their offset in it.
const SharedBase hostarch.Addr = 0x10000

// FaultStatus is the exit status of a process whose step failed, as if it
// had been killed by SIGSEGV.
const FaultStatus = 128 + int(linux.SIGSEGV)

// start returns the first RunState of process name running program prog.
// It installs the program's signal dispositions before the first step.
func (r *run) start(name, prog string) kernel.RunState {
	p := r.sc.Programs[prog]
	return kernel.RunFunc(func(t *kernel.Task) kernel.RunState {
		proc := t.Process()
		for _, s := range p.Handle {
			sig, _ := ParseSignal(s)
			proc.SetSignalAction(sig, kernel.SignalAction{Handler: func(t *kernel.Task, sig linux.Signal) {
				r.recordSignal(name, sig)
			}})
		}
		for _, s := range p.Ignore {
			sig, _ := ParseSignal(s)
			proc.SetSignalAction(sig, kernel.SignalAction{Ignore: true})
		}
		return r.step(name, p.Steps, 0)
	})
}

// step returns the RunState executing steps[i] of process name. Running off
// the end of the program exits with status 0.
func (r *run) step(name string, steps []Step, i int) kernel.RunState {
	if i == len(steps) {
		return nil
	}
	st := steps[i]
	next := func() kernel.RunState { return r.step(name, steps, i+1) }

	switch st.Op {
	case OpCompute:
		left := st.Count
		var rs kernel.RunFunc
		rs = func(t *kernel.Task) kernel.RunState {
			if left--; left > 0 {
				return rs
			}
			return next()
		}
		return rs

	case OpSleep:
		d, _ := time.ParseDuration(st.Duration)
		return kernel.RunFunc(func(t *kernel.Task) kernel.RunState {
			return t.BlockSleep(d, func(*kernel.Task, error) kernel.RunState {
				return next()
			})
		})

	case OpLock:
		addr := SharedBase + hostarch.Addr(st.Addr)
		return kernel.RunFunc(func(t *kernel.Task) kernel.RunState {
			return t.UserMutexLock(addr, func(t *kernel.Task, err error) kernel.RunState {
				if err != nil {
					log.Warningf("%s: lock %v: %v", name, addr, err)
					return t.Exit(FaultStatus)
				}
				return next()
			})
		})

	case OpUnlock:
		addr := SharedBase + hostarch.Addr(st.Addr)
		return kernel.RunFunc(func(t *kernel.Task) kernel.RunState {
			if err := t.UserMutexUnlock(addr); err != nil {
				log.Warningf("%s: unlock %v: %v", name, addr, err)
				return t.Exit(FaultStatus)
			}
			return next()
		})

	case OpFork:
		child := st.Name
		if child == "" {
			child = name + "/" + st.Program
		}
		return kernel.RunFunc(func(t *kernel.Task) kernel.RunState {
			pid, err := t.Fork(r.start(child, st.Program))
			if err != nil {
				log.Infof("%s: fork: %v", name, err)
				r.recordForkFailure()
			} else {
				r.register(child, pid, st.Name != "")
			}
			return next()
		})

	case OpKill:
		sig, _ := ParseSignal(st.Signal)
		return kernel.RunFunc(func(t *kernel.Task) kernel.RunState {
			pid := t.Process().PID()
			if st.Target != "" {
				pid = r.lookup(st.Target)
			}
			if err := t.SignalProcess(pid, sig); err != nil {
				log.Debugf("%s: kill(%d, %v): %v", name, pid, sig, err)
			}
			return next()
		})

	case OpKillPG:
		sig, _ := ParseSignal(st.Signal)
		return kernel.RunFunc(func(t *kernel.Task) kernel.RunState {
			var pgid kernel.ProcessGroupID
			if st.Target != "" {
				p := r.k.ProcessByPID(r.lookup(st.Target))
				if p == nil {
					log.Debugf("%s: killpg: %s is gone", name, st.Target)
					return next()
				}
				pgid = p.ProcessGroup()
			}
			if err := t.SignalProcessGroup(pgid, sig); err != nil {
				log.Debugf("%s: killpg(%d, %v): %v", name, pgid, sig, err)
			}
			return next()
		})

	case OpPipeWrite:
		pe := r.pipes[st.Pipe]
		return kernel.RunFunc(func(t *kernel.Task) kernel.RunState {
			return r.pipeWrite(t, name, pe, []byte(st.Data), next)
		})

	case OpPipeRead:
		pe := r.pipes[st.Pipe]
		count := st.Count
		if count == 0 {
			count = pipe.AtomicIOBytes
		}
		return kernel.RunFunc(func(t *kernel.Task) kernel.RunState {
			return r.pipeRead(t, name, pe, count, next)
		})

	case OpYield:
		return kernel.RunFunc(func(t *kernel.Task) kernel.RunState {
			return t.Yield(next())
		})

	case OpExit:
		return kernel.RunFunc(func(t *kernel.Task) kernel.RunState {
			return t.Exit(st.Status)
		})
	}
	panic("unknown op " + string(st.Op))
}

func (r *run) pipeWrite(t *kernel.Task, name string, pe *pipeEnds, data []byte, next func() kernel.RunState) kernel.RunState {
	for len(data) > 0 {
		n, err := pe.p.Write(data)
		data = data[n:]
		switch {
		case err == nil:
		case err == linuxerr.EWOULDBLOCK:
			return t.BlockInodeWritable(pe.w, func(t *kernel.Task, _ error) kernel.RunState {
				return r.pipeWrite(t, name, pe, data, next)
			})
		default:
			log.Warningf("%s: write to pipe %s: %v", name, pe.name, err)
			return t.Exit(FaultStatus)
		}
	}
	return next()
}

func (r *run) pipeRead(t *kernel.Task, name string, pe *pipeEnds, count int, next func() kernel.RunState) kernel.RunState {
	buf := make([]byte, count)
	n, err := pe.p.Read(buf)
	switch {
	case err == linuxerr.EWOULDBLOCK:
		// Interrupted waits retry the read.
		return t.BlockPipeReadable(pe.r, func(t *kernel.Task, _ error) kernel.RunState {
			return r.pipeRead(t, name, pe, count, next)
		})
	case err != nil:
		log.Warningf("%s: read from pipe %s: %v", name, pe.name, err)
		return t.Exit(FaultStatus)
	}
	r.recordRead(pe.name, buf[:n])
	return next()
}
