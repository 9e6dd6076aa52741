// Copyright 2018 The gVisor Authors.
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

package pipe

import (
	"bytes"
	"testing"

	"iris.dev/iris/pkg/errors/linuxerr"
	"iris.dev/iris/pkg/sentry/fs"
	"iris.dev/iris/pkg/waiter"
)

func ends(t *testing.T, size, atomicIOBytes int) (*Pipe, *fs.File, *fs.File) {
	t.Helper()
	p := NewPipe(size, atomicIOBytes)
	return p, p.ROpen(), p.WOpen()
}

func TestPipeRW(t *testing.T) {
	p, r, w := ends(t, DefaultPipeSize, AtomicIOBytes)
	defer r.DecRef()
	defer w.DecRef()

	msg := []byte("here's some bytes")
	n, err := p.Write(msg)
	if n != len(msg) || err != nil {
		t.Fatalf("Write: got (%d, %v), wanted (%d, nil)", n, err, len(msg))
	}

	buf := make([]byte, len(msg))
	n, err = p.Read(buf)
	if n != len(msg) || err != nil || !bytes.Equal(buf, msg) {
		t.Fatalf("Read: got (%d, %v) %q, wanted (%d, nil) %q", n, err, buf, len(msg), msg)
	}
}

func TestPipeReadBlock(t *testing.T) {
	p, r, w := ends(t, DefaultPipeSize, AtomicIOBytes)
	defer r.DecRef()
	defer w.DecRef()

	n, err := p.Read(make([]byte, 1))
	if n != 0 || err != linuxerr.EWOULDBLOCK {
		t.Fatalf("Read: got (%d, %v), wanted (0, %v)", n, err, linuxerr.EWOULDBLOCK)
	}
}

func TestPipeWriteBlock(t *testing.T) {
	const atomicIOBytes = 2
	const capacity = MinimumPipeSize

	p, r, w := ends(t, capacity, atomicIOBytes)
	defer r.DecRef()
	defer w.DecRef()

	msg := make([]byte, capacity+1)
	n, err := p.Write(msg)
	if wantN, wantErr := capacity, linuxerr.EWOULDBLOCK; n != wantN || err != wantErr {
		t.Fatalf("Write: got (%d, %v), wanted (%d, %v)", n, err, wantN, wantErr)
	}
	if n, err := p.Write([]byte{1}); n != 0 || err != linuxerr.EWOULDBLOCK {
		t.Errorf("Write to full pipe: got (%d, %v), wanted (0, EWOULDBLOCK)", n, err)
	}
}

func TestReadinessAndNotify(t *testing.T) {
	p, r, w := ends(t, DefaultPipeSize, AtomicIOBytes)
	defer r.DecRef()

	var notified waiter.EventMask
	e := waiter.NewFunctionEntry(func(m waiter.EventMask) { notified |= m })
	r.EventRegister(&e, waiter.EventIn|waiter.EventHUp)
	defer r.EventUnregister(&e)

	if got := r.Readiness(waiter.EventIn); got != 0 {
		t.Errorf("empty pipe readiness = %#x, want 0", got)
	}
	if got := w.Readiness(waiter.EventOut); got != waiter.EventOut {
		t.Errorf("writer readiness = %#x, want EventOut", got)
	}

	if _, err := p.Write([]byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if notified&waiter.EventIn == 0 {
		t.Errorf("no EventIn notification after write")
	}
	if got := r.Readiness(waiter.EventIn); got != waiter.EventIn {
		t.Errorf("readiness after write = %#x, want EventIn", got)
	}

	notified = 0
	w.DecRef()
	if notified&waiter.EventHUp == 0 {
		t.Errorf("no EventHUp notification after the writer closed")
	}
	if got := r.Readiness(waiter.EventIn); got != waiter.EventIn|waiter.EventHUp {
		t.Errorf("readiness after close = %#x, want EventIn|EventHUp", got)
	}
}

func TestEOFAndEPIPE(t *testing.T) {
	p, r, w := ends(t, DefaultPipeSize, AtomicIOBytes)
	w.DecRef()
	if n, err := p.Read(make([]byte, 4)); n != 0 || err != nil {
		t.Errorf("Read with no writers: got (%d, %v), wanted EOF", n, err)
	}
	r.DecRef()
	if _, err := p.Write([]byte("x")); err != linuxerr.EPIPE {
		t.Errorf("Write with no readers: got %v, wanted EPIPE", err)
	}
}
