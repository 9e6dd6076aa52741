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

package linux

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestForEachSignal(t *testing.T) {
	set := MakeSignalSet(SIGTERM, SIGHUP, SIGUSR1)
	var got []Signal
	ForEachSignal(set, func(sig Signal) {
		got = append(got, sig)
	})
	want := []Signal{SIGHUP, SIGUSR1, SIGTERM}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ForEachSignal mismatch (-want +got):\n%s", diff)
	}
}

func TestLowest(t *testing.T) {
	for _, tc := range []struct {
		set  SignalSet
		want Signal
	}{
		{0, 0},
		{SignalSetOf(SIGKILL), SIGKILL},
		{MakeSignalSet(SIGTERM, SIGINT), SIGINT},
		{SignalSetOf(Signal(SignalMaximum)), Signal(SignalMaximum)},
	} {
		if got := tc.set.Lowest(); got != tc.want {
			t.Errorf("%#x.Lowest() = %v, want %v", uint64(tc.set), got, tc.want)
		}
	}
}

func TestSignalString(t *testing.T) {
	if got, want := SIGKILL.String(), "SIGKILL"; got != want {
		t.Errorf("SIGKILL.String() = %q, want %q", got, want)
	}
	if got, want := Signal(40).String(), "signal 40"; got != want {
		t.Errorf("Signal(40).String() = %q, want %q", got, want)
	}
}
