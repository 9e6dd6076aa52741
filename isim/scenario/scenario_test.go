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
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"iris.dev/iris/pkg/abi/linux"
)

const mutexTOML = `
name = "two workers"

[programs.worker]
handle = ["USR1"]
steps = [
  { op = "lock", addr = 8 },
  { op = "compute", count = 2 },
  { op = "unlock", addr = 8 },
]

[[processes]]
name = "a"
program = "worker"

[[processes]]
name = "b"
program = "worker"
group = "a"
priority = 3
`

const mutexYAML = `
name: two workers
programs:
  worker:
    handle: [USR1]
    steps:
      - {op: lock, addr: 8}
      - {op: compute, count: 2}
      - {op: unlock, addr: 8}
processes:
  - {name: a, program: worker}
  - {name: b, program: worker, group: a, priority: 3}
`

func TestParseFormats(t *testing.T) {
	want := &Scenario{
		Name: "two workers",
		Programs: map[string]*Program{
			"worker": {
				Handle: []string{"USR1"},
				Steps: []Step{
					{Op: OpLock, Addr: 8},
					{Op: OpCompute, Count: 2},
					{Op: OpUnlock, Addr: 8},
				},
			},
		},
		Processes: []Process{
			{Name: "a", Program: "worker"},
			{Name: "b", Program: "worker", Group: "a", Priority: 3},
		},
	}
	for _, tc := range []struct {
		format Format
		data   string
	}{
		{TOML, mutexTOML},
		{YAML, mutexYAML},
	} {
		t.Run(tc.format.String(), func(t *testing.T) {
			got, err := Parse([]byte(tc.data), tc.format)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Parse mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	for _, name := range []string{"mutex.toml", "pipeline.yaml", "deadlock.toml", "killpg.yaml"} {
		if _, err := Load(filepath.Join("testdata", name)); err != nil {
			t.Errorf("Load(%s): %v", name, err)
		}
	}
	if _, err := Load("testdata/mutex.json"); err == nil || !strings.Contains(err.Error(), "unknown extension") {
		t.Errorf("Load(.json) = %v, want an unknown extension error", err)
	}
	if _, err := Load("testdata/missing.toml"); err == nil {
		t.Errorf("Load of a missing file succeeded")
	}
}

func TestValidateErrors(t *testing.T) {
	// worker wraps one step in a program run by a single process.
	worker := func(step string) string {
		return `
pipes = ["p"]
[programs.w]
steps = [` + step + `]
[[processes]]
name = "w"
program = "w"
`
	}
	for _, tc := range []struct {
		name  string
		toml  string
		error string
	}{
		{"no processes", `[programs.w]`, "no processes"},
		{"unknown program", "[[processes]]\nname = \"a\"\nprogram = \"x\"", `unknown program "x"`},
		{"duplicate process", "[programs.w]\n[[processes]]\nname = \"a\"\nprogram = \"w\"\n[[processes]]\nname = \"a\"\nprogram = \"w\"", "duplicate name"},
		{"later group", "[programs.w]\n[[processes]]\nname = \"a\"\nprogram = \"w\"\ngroup = \"b\"\n[[processes]]\nname = \"b\"\nprogram = \"w\"", "earlier process"},
		{"unknown key", "colour = 1\n" + worker(`{ op = "yield" }`), "unknown key"},
		{"unknown op", worker(`{ op = "spin" }`), `unknown op "spin"`},
		{"compute", worker(`{ op = "compute" }`), "count must be positive"},
		{"sleep", worker(`{ op = "sleep", duration = "soon" }`), "duration"},
		{"misaligned lock", worker(`{ op = "lock", addr = 6 }`), "not an aligned offset"},
		{"lock out of page", worker(`{ op = "unlock", addr = 4096 }`), "not an aligned offset"},
		{"fork", worker(`{ op = "fork", program = "nope" }`), `unknown program "nope"`},
		{"duplicate fork name", worker(`{ op = "fork", program = "w", name = "w" }`), "duplicate process name"},
		{"kill target", worker(`{ op = "kill", target = "nobody", signal = "TERM" }`), `unknown target "nobody"`},
		{"kill signal", worker(`{ op = "killpg", signal = "SIGFOO" }`), "unknown signal"},
		{"pipe", worker(`{ op = "pipe-read", pipe = "q" }`), `unknown pipe "q"`},
		{"empty write", worker(`{ op = "pipe-write", pipe = "p" }`), "nothing to write"},
		{"exit status", worker(`{ op = "exit", status = 300 }`), "out of range"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.toml), TOML)
			if err == nil || !strings.Contains(err.Error(), tc.error) {
				t.Errorf("Parse() = %v, want error containing %q", err, tc.error)
			}
		})
	}
}

func TestYAMLRejectsUnknownFields(t *testing.T) {
	data := mutexYAML + "extra: true\n"
	if _, err := Parse([]byte(data), YAML); err == nil {
		t.Errorf("Parse accepted an unknown field")
	}
}

func TestParseSignal(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want linux.Signal
		ok   bool
	}{
		{"TERM", linux.SIGTERM, true},
		{"sigusr1", linux.SIGUSR1, true},
		{"SIGKILL", linux.SIGKILL, true},
		{"9", linux.SIGKILL, true},
		{"0", 0, false},
		{"65", 0, false},
		{"9x", 0, false},
		{"FOO", 0, false},
	} {
		got, err := ParseSignal(tc.in)
		if (err == nil) != tc.ok || got != tc.want {
			t.Errorf("ParseSignal(%q) = %v, %v; want %v, ok %t", tc.in, got, err, tc.want, tc.ok)
		}
	}
}
