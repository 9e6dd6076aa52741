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

package cmd

import (
	"context"
	"flag"
	"sort"
	"strings"

	"github.com/google/subcommands"
	"iris.dev/iris/isim/cmd/util"
	"iris.dev/iris/isim/scenario"
)

// Validate implements subcommands.Command for the "validate" command.
type Validate struct{}

// Name implements subcommands.Command.Name.
func (*Validate) Name() string {
	return "validate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Validate) Synopsis() string {
	return "check that scenario files parse and are consistent"
}

// Usage implements subcommands.Command.Usage.
func (*Validate) Usage() string {
	return `validate <scenario file>... - check scenarios without running them.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Validate) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Validate) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	status := subcommands.ExitSuccess
	for _, path := range f.Args() {
		s, err := scenario.Load(path)
		if err != nil {
			status = util.Errorf("%v", err)
			continue
		}
		programs := make([]string, 0, len(s.Programs))
		for name := range s.Programs {
			programs = append(programs, name)
		}
		sort.Strings(programs)
		util.Infof("%s: ok, %d processes, programs %s", path, len(s.Processes), strings.Join(programs, ", "))
	}
	return status
}
