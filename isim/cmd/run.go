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

// Package cmd holds implementations of the isim commands.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/google/subcommands"
	"gopkg.in/yaml.v3"
	"iris.dev/iris/isim/cmd/util"
	"iris.dev/iris/isim/config"
	"iris.dev/iris/isim/scenario"
	"iris.dev/iris/pkg/log"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	// format is the report format: "table" or "yaml".
	format string
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "run a scenario on a simulated kernel and report how its processes exited"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] <scenario file> - run a scenario.

The scenario file is TOML (.toml) or YAML (.yaml, .yml). Machine settings come
from the global flags, e.g. "isim --cpus=4 run mutex.toml".
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.format, "format", "table", "report format: table or yaml.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if r.format != "table" && r.format != "yaml" {
		return util.Errorf("invalid report format %q, must be 'table' or 'yaml'", r.format)
	}
	conf := args[0].(*config.Config)

	s, err := scenario.Load(f.Arg(0))
	if err != nil {
		return util.Errorf("%v", err)
	}
	kc := conf.KernelConfig()
	opts := scenario.Options{Tick: conf.Tick, MaxRounds: conf.MaxRounds}
	rep, runErr := scenario.Run(ctx, kc, s, opts)
	if rep != nil {
		if err := printReport(os.Stdout, r.format, rep); err != nil {
			return util.Errorf("writing report: %v", err)
		}
	}
	switch {
	case errors.Is(runErr, scenario.ErrStuck):
		log.Warningf("%v", runErr)
		return util.Errorf("%v: processes are blocked or still running, try a larger --max-rounds", runErr)
	case runErr != nil:
		return util.Errorf("running scenario: %v", runErr)
	}
	return subcommands.ExitSuccess
}

func printReport(w io.Writer, format string, rep *scenario.Report) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return err
		}
		return enc.Close()
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "PID\tNAME\tSTATUS\n")
	for _, e := range rep.Exits {
		fmt.Fprintf(tw, "%d\t%s\t%d\n", e.PID, e.Name, e.Status)
	}
	for _, name := range rep.Remaining {
		fmt.Fprintf(tw, "-\t%s\trunning\n", name)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, sig := range rep.Signals {
		fmt.Fprintf(w, "caught %s\n", sig)
	}
	for _, name := range slices.Sorted(maps.Keys(rep.PipeData)) {
		fmt.Fprintf(w, "pipe %s: %q\n", name, rep.PipeData[name])
	}
	if rep.ForkFailures > 0 {
		fmt.Fprintf(w, "%d forks failed\n", rep.ForkFailures)
	}
	for i, c := range rep.CPUs {
		fmt.Fprintf(w, "cpu%d: %d quanta, %d steps, %d idle\n", i, c.Quanta, c.Steps, c.Idle)
	}
	_, err := fmt.Fprintf(w, "%d rounds\n", rep.Rounds)
	return err
}
