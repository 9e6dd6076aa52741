// Copyright 2020 The gVisor Authors.
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

package config

import (
	"flag"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"iris.dev/iris/pkg/sentry/kernel"
)

func TestDefault(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	// All defaults don't require setting flags.
	if flags := c.ToFlags(); len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
	kc := c.KernelConfig()
	want := kernel.Config{
		CPUs:           kernel.DefaultCPUs,
		QuantumSteps:   kernel.DefaultQuantumSteps,
		MaxProcesses:   kernel.DefaultMaxProcesses,
		PhysicalFrames: kernel.DefaultPhysicalFrames,
	}
	if diff := cmp.Diff(want, kc); diff != "" {
		t.Errorf("KernelConfig() mismatch (-want +got):\n%s", diff)
	}
}

func TestFromFlags(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	if err := testFlags.Parse([]string{"--debug", "--cpus=4", "--tick=1ms", "--physical-frames=64"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if want := true; c.Debug != want {
		t.Errorf("Debug=%v, want: %v", c.Debug, want)
	}
	if want := 4; c.CPUs != want {
		t.Errorf("CPUs=%v, want: %v", c.CPUs, want)
	}
	if want := time.Millisecond; c.Tick != want {
		t.Errorf("Tick=%v, want: %v", c.Tick, want)
	}
	if want := uint(64); c.PhysicalFrames != want {
		t.Errorf("PhysicalFrames=%v, want: %v", c.PhysicalFrames, want)
	}
}

func TestToFlagsFromFlags(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	orig, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	orig.Debug = true
	orig.LogFormat = "json"
	orig.QuantumSteps = 3
	orig.MaxRounds = 7

	flags := orig.ToFlags()
	want := []string{"--log-format=json", "--debug=true", "--quantum-steps=3", "--max-rounds=7"}
	if diff := cmp.Diff(want, flags); diff != "" {
		t.Errorf("ToFlags() mismatch (-want +got):\n%s", diff)
	}

	testFlags = flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	if err := testFlags.Parse(flags); err != nil {
		t.Fatalf("Parse(%v): %v", flags, err)
	}
	got, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(orig, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestInvalidFlags(t *testing.T) {
	for _, tc := range []struct {
		args  []string
		error string
	}{
		{args: []string{"--log-format=xml"}, error: "invalid log format"},
		{args: []string{"--cpus=0"}, error: "--cpus"},
		{args: []string{"--quantum-steps=-1"}, error: "--quantum-steps"},
		{args: []string{"--max-processes=1"}, error: "--max-processes"},
		{args: []string{"--physical-frames=0"}, error: "--physical-frames"},
		{args: []string{"--tick=0s"}, error: "--tick"},
		{args: []string{"--max-rounds=0"}, error: "--max-rounds"},
	} {
		t.Run(strings.Join(tc.args, " "), func(t *testing.T) {
			testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
			RegisterFlags(testFlags)
			if err := testFlags.Parse(tc.args); err != nil {
				t.Fatalf("Parse: %v", err)
			}
			_, err := NewFromFlags(testFlags)
			if err == nil || !strings.Contains(err.Error(), tc.error) {
				t.Errorf("NewFromFlags() = %v, want error containing %q", err, tc.error)
			}
		})
	}
}
