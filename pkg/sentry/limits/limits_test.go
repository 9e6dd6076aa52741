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

package limits

import (
	"testing"

	"iris.dev/iris/pkg/errors/linuxerr"
)

func TestSet(t *testing.T) {
	testCases := []struct {
		limit       Limit
		privileged  bool
		expectedErr error
	}{
		{limit: Limit{Cur: 50, Max: 50}, privileged: false, expectedErr: nil},
		{limit: Limit{Cur: 20, Max: 50}, privileged: false, expectedErr: nil},
		{limit: Limit{Cur: 20, Max: 60}, privileged: false, expectedErr: linuxerr.EPERM},
		{limit: Limit{Cur: 60, Max: 50}, privileged: false, expectedErr: linuxerr.EINVAL},
		{limit: Limit{Cur: 11, Max: 10}, privileged: false, expectedErr: linuxerr.EINVAL},
		{limit: Limit{Cur: 20, Max: 60}, privileged: true, expectedErr: nil},
	}

	ls := NewLimitSet()
	for _, tc := range testCases {
		if _, err := ls.Set(1, tc.limit, tc.privileged); err != tc.expectedErr {
			t.Fatalf("Tried to set Limit to %+v and privilege %t: got %v, wanted %v", tc.limit, tc.privileged, err, tc.expectedErr)
		}
	}
}

func TestGetCopyIsIndependent(t *testing.T) {
	ls := NewLimitSet()
	ls.SetUnchecked(ProcessCount, Limit{Cur: 4, Max: 4})
	c := ls.GetCopy()
	ls.SetUnchecked(ProcessCount, Limit{Cur: 8, Max: 8})
	if got := c.Get(ProcessCount); got != (Limit{Cur: 4, Max: 4}) {
		t.Errorf("copy ProcessCount = %+v, want {4 4}", got)
	}
	if got := ls.Get(Nice); got != (Limit{Cur: Infinity, Max: Infinity}) {
		t.Errorf("unset limit = %+v, want infinite", got)
	}
}

func TestNewProcessLimitSet(t *testing.T) {
	ls, err := NewProcessLimitSet(16)
	if err != nil {
		t.Fatalf("NewProcessLimitSet: %v", err)
	}
	if got := ls.Get(ProcessCount).Cur; got != 16 {
		t.Errorf("ProcessCount.Cur = %d, want 16", got)
	}
	if got := ls.Get(NumberOfFiles).Cur; got != 1024 {
		t.Errorf("NumberOfFiles.Cur = %d, want 1024", got)
	}
	if got := ls.GetCapped(CPU, 10); got != 10 {
		t.Errorf("GetCapped(CPU, 10) = %d, want 10", got)
	}
}
