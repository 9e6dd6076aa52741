// Copyright 2018 Google Inc.
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

// Package pipe provides an in-memory implementation of a unidirectional
// pipe.
//
// The pipe is the kernel's standard waitable resource: readers block with a
// PipeReadable descriptor and are woken through the pipe's wait queue.
package pipe

import (
	"fmt"

	"iris.dev/iris/pkg/errors/linuxerr"
	"iris.dev/iris/pkg/sentry/fs"
	"iris.dev/iris/pkg/sync"
	"iris.dev/iris/pkg/waiter"
)

const (
	// DefaultPipeSize is the system-wide default size of a pipe in bytes.
	DefaultPipeSize = 65536

	// MinimumPipeSize is the minimum size of a pipe.
	MinimumPipeSize = 4096

	// AtomicIOBytes is PIPE_BUF: writes no larger than this are atomic.
	AtomicIOBytes = 4096
)

// Pipe is an encapsulation of a platform-independent pipe.
// It manages a buffered byte queue shared between a reader/writer
// pair.
type Pipe struct {
	waiter.Queue

	// Lock protecting all pipe internal state.
	mu sync.Mutex

	// The buffered bytes.
	data []byte

	// Max size of the pipe in bytes. When this max has been reached,
	// writers will get EWOULDBLOCK.
	max int

	// Max number of bytes the pipe can guarantee to read or write
	// atomically.
	atomicIOBytes int

	// The number of active readers and writers for this pipe.
	readers int
	writers int

	// This flag indicates if this pipe ever had a writer. Note that this does
	// not necessarily indicate there is *currently* a writer, just that there
	// has been a writer at some point since the pipe was created.
	hadWriter bool
}

// NewPipe initializes and returns a pipe with no readers or writers.
func NewPipe(sizeBytes, atomicIOBytes int) *Pipe {
	if sizeBytes < MinimumPipeSize {
		sizeBytes = MinimumPipeSize
	}
	if atomicIOBytes <= 0 {
		atomicIOBytes = 1
	}
	if atomicIOBytes > sizeBytes {
		atomicIOBytes = sizeBytes
	}
	return &Pipe{
		max:           sizeBytes,
		atomicIOBytes: atomicIOBytes,
	}
}

// NewConnectedPipe initializes a pipe and returns a pair of files
// representing the read and write ends of the pipe.
func NewConnectedPipe(sizeBytes, atomicIOBytes int) (*fs.File, *fs.File) {
	p := NewPipe(sizeBytes, atomicIOBytes)
	return p.ROpen(), p.WOpen()
}

// ROpen opens the pipe for reading.
func (p *Pipe) ROpen() *fs.File {
	p.mu.Lock()
	p.readers++
	p.mu.Unlock()
	return fs.NewFile(fs.FileFlags{Read: true}, &Reader{p})
}

// WOpen opens the pipe for writing.
func (p *Pipe) WOpen() *fs.File {
	p.mu.Lock()
	p.hadWriter = true
	p.writers++
	p.mu.Unlock()
	return fs.NewFile(fs.FileFlags{Write: true}, &Writer{p})
}

// Read reads data from the pipe into dst and returns the number of bytes
// read, or returns EWOULDBLOCK if the pipe is empty.
func (p *Pipe) Read(dst []byte) (int, error) {
	// Don't block for a zero-length read even if the pipe is empty.
	if len(dst) == 0 {
		return 0, nil
	}

	p.mu.Lock()
	// If there is nothing to read at the moment but there is a writer, tell the
	// caller to block.
	if len(p.data) == 0 {
		writers := p.writers
		p.mu.Unlock()
		if writers == 0 {
			// There are no writers, return EOF.
			return 0, nil
		}
		return 0, linuxerr.EWOULDBLOCK
	}
	n := copy(dst, p.data)
	p.data = p.data[n:]
	p.mu.Unlock()

	p.Notify(waiter.EventOut)
	return n, nil
}

// Write writes data from src into the pipe and returns the number of bytes
// written. If no bytes are written because the pipe is full (or has less than
// atomicIOBytes free capacity), Write returns EWOULDBLOCK.
func (p *Pipe) Write(src []byte) (int, error) {
	p.mu.Lock()
	if p.readers == 0 {
		p.mu.Unlock()
		return 0, linuxerr.EPIPE
	}

	// Writes no larger than atomicIOBytes are all or nothing. Larger writes
	// go in atomicIOBytes chunks when they do not fit entirely.
	canWrite := len(src)
	if free := p.max - len(p.data); canWrite > free {
		if free < p.atomicIOBytes {
			p.mu.Unlock()
			return 0, linuxerr.EWOULDBLOCK
		}
		canWrite = free - free%p.atomicIOBytes
	}
	p.data = append(p.data, src[:canWrite]...)
	p.mu.Unlock()

	if canWrite > 0 {
		p.Notify(waiter.EventIn)
	}
	if canWrite < len(src) {
		// Partial write due to full pipe.
		return canWrite, linuxerr.EWOULDBLOCK
	}
	return canWrite, nil
}

// rClose signals that a reader has closed their end of the pipe.
func (p *Pipe) rClose() {
	p.mu.Lock()
	p.readers--
	if p.readers < 0 {
		panic(fmt.Sprintf("Refcounting bug, pipe has negative readers: %v", p.readers))
	}
	p.mu.Unlock()
	p.Notify(waiter.EventErr | waiter.EventOut)
}

// wClose signals that a writer has closed their end of the pipe.
func (p *Pipe) wClose() {
	p.mu.Lock()
	p.writers--
	if p.writers < 0 {
		panic(fmt.Sprintf("Refcounting bug, pipe has negative writers: %v.", p.writers))
	}
	p.mu.Unlock()
	p.Notify(waiter.EventHUp | waiter.EventIn)
}

func (p *Pipe) rReadinessLocked() waiter.EventMask {
	ready := waiter.EventMask(0)
	if p.readers > 0 && len(p.data) > 0 {
		ready |= waiter.EventIn
	}
	if p.writers == 0 && p.hadWriter {
		// POLLHUP must be suppressed until the pipe has had at least one
		// writer at some point.
		ready |= waiter.EventHUp
	}
	return ready
}

func (p *Pipe) wReadinessLocked() waiter.EventMask {
	ready := waiter.EventMask(0)
	if p.writers > 0 && len(p.data) < p.max {
		ready |= waiter.EventOut
	}
	if p.readers == 0 {
		ready |= waiter.EventErr
	}
	return ready
}

// Queued returns the number of buffered bytes.
func (p *Pipe) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.data)
}

// Reader is the read end of a pipe.
type Reader struct {
	*Pipe
}

// Readiness implements waiter.Waitable.Readiness.
func (r *Reader) Readiness(mask waiter.EventMask) waiter.EventMask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rReadinessLocked() & (mask | waiter.EventHUp | waiter.EventErr)
}

// Release implements fs.FileOperations.Release.
func (r *Reader) Release() {
	r.rClose()
}

// Writer is the write end of a pipe.
type Writer struct {
	*Pipe
}

// Readiness implements waiter.Waitable.Readiness.
func (w *Writer) Readiness(mask waiter.EventMask) waiter.EventMask {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.wReadinessLocked() & (mask | waiter.EventHUp | waiter.EventErr)
}

// Release implements fs.FileOperations.Release.
func (w *Writer) Release() {
	w.wClose()
}
