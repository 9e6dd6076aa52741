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

// Package scenario describes simulated workloads for the Iris kernel and
// runs them.
//
// A scenario names a set of programs, each a list of steps, and the
// processes that run them at startup. Scenarios are read from TOML or YAML
// files.
package scenario

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
	"iris.dev/iris/pkg/abi/linux"
	"iris.dev/iris/pkg/hostarch"
)

// Format is a scenario file encoding.
type Format int

// Supported formats.
const (
	TOML Format = iota
	YAML
)

// String implements fmt.Stringer.String.
func (f Format) String() string {
	switch f {
	case TOML:
		return "toml"
	case YAML:
		return "yaml"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Op is the kind of a program step.
type Op string

// Step kinds.
const (
	// OpCompute runs Count steps without blocking.
	OpCompute Op = "compute"
	// OpSleep sleeps for Duration.
	OpSleep Op = "sleep"
	// OpLock acquires the user mutex at offset Addr of the shared page.
	OpLock Op = "lock"
	// OpUnlock releases the user mutex at offset Addr of the shared page.
	OpUnlock Op = "unlock"
	// OpFork forks a child running Program, optionally registered as Name.
	OpFork Op = "fork"
	// OpKill sends Signal to the process Target, or to itself.
	OpKill Op = "kill"
	// OpKillPG sends Signal to the process group of Target, or to its own.
	OpKillPG Op = "killpg"
	// OpPipeWrite writes Data to Pipe.
	OpPipeWrite Op = "pipe-write"
	// OpPipeRead reads up to Count bytes from Pipe, waiting for data.
	OpPipeRead Op = "pipe-read"
	// OpYield ends the quantum.
	OpYield Op = "yield"
	// OpExit exits with Status.
	OpExit Op = "exit"
)

// Scenario is a parsed scenario file.
type Scenario struct {
	// Name is a description of the scenario.
	Name string `toml:"name" yaml:"name"`

	// Pipes are created before any process starts and stay open for the
	// whole run.
	Pipes []string `toml:"pipes" yaml:"pipes"`

	// Programs maps program names to their definitions.
	Programs map[string]*Program `toml:"programs" yaml:"programs"`

	// Processes start in order when the run begins.
	Processes []Process `toml:"processes" yaml:"processes"`
}

// Program is a list of steps and the signal dispositions a process running
// it starts with.
type Program struct {
	// Handle lists signals caught by a handler that records them.
	Handle []string `toml:"handle" yaml:"handle"`

	// Ignore lists ignored signals.
	Ignore []string `toml:"ignore" yaml:"ignore"`

	Steps []Step `toml:"steps" yaml:"steps"`
}

// Process is a process started at the beginning of a run.
type Process struct {
	// Name identifies the process to kill and killpg steps. It must be
	// unique.
	Name string `toml:"name" yaml:"name"`

	// Program is the name of the program the process runs.
	Program string `toml:"program" yaml:"program"`

	// Group is the name of an earlier process whose process group this one
	// joins. By default each process leads its own group.
	Group string `toml:"group" yaml:"group"`

	Priority int `toml:"priority" yaml:"priority"`
}

// Step is one instruction of a program. Which fields apply depends on Op.
type Step struct {
	Op       Op     `toml:"op" yaml:"op"`
	Count    int    `toml:"count" yaml:"count"`
	Duration string `toml:"duration" yaml:"duration"`
	Addr     uint32 `toml:"addr" yaml:"addr"`
	Program  string `toml:"program" yaml:"program"`
	Name     string `toml:"name" yaml:"name"`
	Target   string `toml:"target" yaml:"target"`
	Signal   string `toml:"signal" yaml:"signal"`
	Pipe     string `toml:"pipe" yaml:"pipe"`
	Data     string `toml:"data" yaml:"data"`
	Status   int    `toml:"status" yaml:"status"`
}

// Load reads and validates the scenario at path. The format is chosen by
// the file extension: .toml, or .yaml and .yml.
func Load(path string) (*Scenario, error) {
	var format Format
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		format = TOML
	case ".yaml", ".yml":
		format = YAML
	default:
		return nil, fmt.Errorf("scenario %q: unknown extension %q", path, ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	s, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a scenario. Unknown keys are errors.
func Parse(data []byte, format Format) (*Scenario, error) {
	s := &Scenario{}
	switch format {
	case TOML:
		md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(s)
		if err != nil {
			return nil, fmt.Errorf("decoding toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("decoding toml: unknown key %q", undecoded[0].String())
		}
	case YAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(s); err != nil {
			return nil, fmt.Errorf("decoding yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown format %v", format)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that every reference in s resolves and every step is
// well formed.
func (s *Scenario) Validate() error {
	if len(s.Processes) == 0 {
		return fmt.Errorf("no processes")
	}

	pipes := make(map[string]bool)
	for _, name := range s.Pipes {
		if name == "" || pipes[name] {
			return fmt.Errorf("invalid or duplicate pipe name %q", name)
		}
		pipes[name] = true
	}

	// Targets may be started processes or named fork children.
	names := make(map[string]bool)
	for i, p := range s.Processes {
		if p.Name == "" || names[p.Name] {
			return fmt.Errorf("process %d: invalid or duplicate name %q", i, p.Name)
		}
		if _, ok := s.Programs[p.Program]; !ok {
			return fmt.Errorf("process %q: unknown program %q", p.Name, p.Program)
		}
		if p.Group != "" && !names[p.Group] {
			return fmt.Errorf("process %q: group %q does not name an earlier process", p.Name, p.Group)
		}
		names[p.Name] = true
	}
	for pname, prog := range s.Programs {
		if prog == nil {
			return fmt.Errorf("program %q: empty definition", pname)
		}
		for _, st := range prog.Steps {
			if st.Op != OpFork || st.Name == "" {
				continue
			}
			if names[st.Name] {
				return fmt.Errorf("program %q: duplicate process name %q", pname, st.Name)
			}
			names[st.Name] = true
		}
	}

	for pname, prog := range s.Programs {
		for _, sig := range append(append([]string(nil), prog.Handle...), prog.Ignore...) {
			if _, err := ParseSignal(sig); err != nil {
				return fmt.Errorf("program %q: %w", pname, err)
			}
		}
		for i, st := range prog.Steps {
			if err := s.validateStep(st, names, pipes); err != nil {
				return fmt.Errorf("program %q step %d (%s): %w", pname, i, st.Op, err)
			}
		}
	}
	return nil
}

func (s *Scenario) validateStep(st Step, names, pipes map[string]bool) error {
	switch st.Op {
	case OpCompute:
		if st.Count <= 0 {
			return fmt.Errorf("count must be positive")
		}
	case OpSleep:
		d, err := time.ParseDuration(st.Duration)
		if err != nil {
			return err
		}
		if d <= 0 {
			return fmt.Errorf("duration must be positive")
		}
	case OpLock, OpUnlock:
		if st.Addr%4 != 0 || st.Addr >= hostarch.PageSize {
			return fmt.Errorf("address %#x is not an aligned offset in the shared page", st.Addr)
		}
	case OpFork:
		if _, ok := s.Programs[st.Program]; !ok {
			return fmt.Errorf("unknown program %q", st.Program)
		}
	case OpKill, OpKillPG:
		if st.Target != "" && !names[st.Target] {
			return fmt.Errorf("unknown target %q", st.Target)
		}
		if _, err := ParseSignal(st.Signal); err != nil {
			return err
		}
	case OpPipeWrite, OpPipeRead:
		if !pipes[st.Pipe] {
			return fmt.Errorf("unknown pipe %q", st.Pipe)
		}
		if st.Op == OpPipeWrite && st.Data == "" {
			return fmt.Errorf("nothing to write")
		}
		if st.Op == OpPipeRead && st.Count < 0 {
			return fmt.Errorf("negative count")
		}
	case OpYield:
	case OpExit:
		if st.Status < 0 || st.Status > 255 {
			return fmt.Errorf("status %d out of range", st.Status)
		}
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
	return nil
}

// ParseSignal parses a signal given by number or by name, with or without
// the SIG prefix.
func ParseSignal(s string) (linux.Signal, error) {
	if n, err := strconv.Atoi(s); err == nil {
		sig := linux.Signal(n)
		if !sig.IsValid() {
			return 0, fmt.Errorf("invalid signal %q", s)
		}
		return sig, nil
	}
	name := strings.ToUpper(s)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	if n := unix.SignalNum(name); n != 0 {
		return linux.Signal(n), nil
	}
	return 0, fmt.Errorf("unknown signal %q", s)
}
