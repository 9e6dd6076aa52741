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

package block

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"iris.dev/iris/pkg/errors/linuxerr"
	"iris.dev/iris/pkg/sentry/ktime"
	"iris.dev/iris/pkg/waiter"
)

// resource is a Waitable whose readiness is set directly.
type resource struct {
	waiter.Queue
	ready waiter.EventMask
}

func (r *resource) Readiness(mask waiter.EventMask) waiter.EventMask {
	return mask & r.ready
}

func allKinds(r waiter.Waitable, deadline ktime.Time) []Descriptor {
	sets := FDSets{{FD: 3, File: r, Events: waiter.EventIn}}
	return []Descriptor{
		&Sleep{Until: deadline},
		&InodeReadable{Inode: r},
		&PipeReadable{Pipe: r},
		&SocketConnected{Socket: r},
		&InodeReadableOrTimeout{Inode: r, Until: deadline},
		&InodeWritable{Inode: r},
		&SocketHasConnection{Socket: r},
		&SocketReadable{Socket: r},
		&SocketReadableWithTimeout{Socket: r, Until: deadline},
		&Select{Sets: sets},
		&SelectTimeout{Sets: sets, Until: deadline},
		&Custom{Predicate: func() bool { return false }},
		&UserMutex{Key: 0x1000},
		&Stopped{},
	}
}

func TestKinds(t *testing.T) {
	var got []Kind
	for _, d := range allKinds(&resource{}, ktime.ZeroTime) {
		got = append(got, d.Kind())
	}
	want := []Kind{
		KindSleep, KindInodeReadable, KindPipeReadable, KindSocketConnected,
		KindInodeReadableOrTimeout, KindInodeWritable, KindSocketHasConnection,
		KindSocketReadable, KindSocketReadableWithTimeout, KindSelect,
		KindSelectTimeout, KindCustom, KindUserMutex, KindStopped,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}
	if got := KindSocketReadableWithTimeout.String(); got != "SocketReadableWithTimeout" {
		t.Errorf("String() = %q", got)
	}
}

func TestDeadlines(t *testing.T) {
	deadline := ktime.FromNanoseconds(100)
	before, after := ktime.FromNanoseconds(99), ktime.FromNanoseconds(100)
	for _, d := range allKinds(&resource{}, deadline) {
		t.Run(d.Kind().String(), func(t *testing.T) {
			_, timed := d.Deadline()
			if Expired(d, before) {
				t.Errorf("Expired before the deadline")
			}
			if got := Expired(d, after); got != timed {
				t.Errorf("Expired at the deadline = %t, want %t", got, timed)
			}
			if !timed {
				return
			}
			wantErr := error(linuxerr.ETIMEDOUT)
			if d.Kind() == KindSleep {
				wantErr = nil
			}
			if err := TimeoutResult(d); err != wantErr {
				t.Errorf("TimeoutResult = %v, want %v", err, wantErr)
			}
		})
	}
}

func TestSatisfiedFollowsReadiness(t *testing.T) {
	for _, tc := range []struct {
		name  string
		ready waiter.EventMask
		want  map[Kind]bool
	}{
		{
			name:  "readable",
			ready: waiter.EventIn,
			want: map[Kind]bool{
				KindInodeReadable: true, KindPipeReadable: true,
				KindInodeReadableOrTimeout: true, KindSocketHasConnection: true,
				KindSocketReadable: true, KindSocketReadableWithTimeout: true,
				KindSelect: true, KindSelectTimeout: true,
			},
		},
		{
			name:  "writable",
			ready: waiter.EventOut,
			want: map[Kind]bool{
				KindSocketConnected: true, KindInodeWritable: true,
			},
		},
		{
			name:  "nothing",
			ready: 0,
			want:  map[Kind]bool{},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := &resource{ready: tc.ready}
			for _, d := range allKinds(r, ktime.MaxTime) {
				if got := d.Satisfied(); got != tc.want[d.Kind()] {
					t.Errorf("%v.Satisfied() = %t, want %t", d.Kind(), got, tc.want[d.Kind()])
				}
			}
		})
	}
}

func TestMatchesIgnoresOtherResources(t *testing.T) {
	r, other := &resource{}, &resource{}
	d := &PipeReadable{Pipe: r}
	if !Matches(d, r, waiter.EventIn) {
		t.Errorf("Matches(own pipe, EventIn) = false")
	}
	if Matches(d, r, waiter.EventOut) {
		t.Errorf("Matches(own pipe, EventOut) = true")
	}
	if Matches(d, other, waiter.EventIn) {
		t.Errorf("Matches(other pipe, EventIn) = true")
	}
	if Matches(&Sleep{}, r, waiter.EventIn) {
		t.Errorf("Sleep matched a resource")
	}
}

func TestShouldUnblock(t *testing.T) {
	r := &resource{}
	d := &InodeReadableOrTimeout{Inode: r, Until: ktime.FromNanoseconds(10)}
	if ShouldUnblock(d, ktime.FromNanoseconds(5)) {
		t.Errorf("ShouldUnblock before deadline with no data")
	}
	if !ShouldUnblock(d, ktime.FromNanoseconds(10)) {
		t.Errorf("!ShouldUnblock at deadline")
	}
	r.ready = waiter.EventIn
	if !ShouldUnblock(d, ktime.FromNanoseconds(5)) {
		t.Errorf("!ShouldUnblock with data")
	}
	flag := false
	c := &Custom{Predicate: func() bool { return flag }}
	if ShouldUnblock(c, ktime.MaxTime) {
		t.Errorf("Custom unblocked with false predicate")
	}
	flag = true
	if !ShouldUnblock(c, ktime.MaxTime) {
		t.Errorf("Custom blocked with true predicate")
	}
}

func TestSelectReady(t *testing.T) {
	a := &resource{ready: waiter.EventIn | waiter.EventOut}
	b := &resource{}
	sets := FDSets{
		{FD: 3, File: a, Events: waiter.EventIn},
		{FD: 4, File: b, Events: waiter.EventIn},
	}
	got := sets.Ready()
	if len(got) != 1 || got[0].FD != 3 || got[0].Events != waiter.EventIn {
		t.Errorf("Ready() = %+v, want fd 3 with EventIn", got)
	}
}

func TestWaitState(t *testing.T) {
	for _, tc := range []struct {
		d             Descriptor
		interruptible bool
		want          TaskState
	}{
		{&Sleep{}, true, StateSleeping},
		{&Sleep{}, false, StateWaitingUninterruptible},
		{&PipeReadable{}, true, StateWaiting},
		{&PipeReadable{}, false, StateWaitingUninterruptible},
		{&UserMutex{}, true, StateWaitingUninterruptible},
	} {
		if got := WaitState(tc.d, tc.interruptible); got != tc.want {
			t.Errorf("WaitState(%v, %t) = %v, want %v", tc.d.Kind(), tc.interruptible, got, tc.want)
		}
	}
}
