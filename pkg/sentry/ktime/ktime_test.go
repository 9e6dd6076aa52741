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

package ktime

import (
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestAddSaturates(t *testing.T) {
	for _, tc := range []struct {
		name string
		t    Time
		d    time.Duration
		want Time
	}{
		{"plain", FromNanoseconds(5), 10, FromNanoseconds(15)},
		{"overflow", FromNanoseconds(math.MaxInt64 - 1), 10, MaxTime},
		{"underflow", FromNanoseconds(math.MinInt64 + 1), -10, MinTime},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.t.Add(tc.d); got != tc.want {
				t.Errorf("%v.Add(%v) = %v, want %v", tc.t, tc.d, got, tc.want)
			}
		})
	}
}

func TestSub(t *testing.T) {
	a, b := FromNanoseconds(100), FromNanoseconds(40)
	if got := a.Sub(b); got != 60 {
		t.Errorf("Sub = %v, want 60ns", got)
	}
	if got := MinTime.Sub(MaxTime); got != MinDuration {
		t.Errorf("MinTime.Sub(MaxTime) = %v, want MinDuration", got)
	}
}

func TestMonotonicClockFollowsSource(t *testing.T) {
	fake := clockwork.NewFakeClock()
	c := NewMonotonicClock(fake)
	if got := c.Now(); !got.IsZero() {
		t.Fatalf("initial Now() = %v, want 0", got)
	}
	fake.Advance(3 * time.Millisecond)
	if got, want := c.Now(), FromNanoseconds(int64(3*time.Millisecond)); got != want {
		t.Errorf("Now() = %v, want %v", got, want)
	}
}
