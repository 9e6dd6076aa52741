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

// Package fs provides the file objects that a process's descriptor table
// refers to. Files are reference counted and shared across fork.
package fs

import (
	"fmt"
	"sync/atomic"

	"iris.dev/iris/pkg/waiter"
)

// FileFlags encapsulate flags passed to open(2) that persist on the file.
type FileFlags struct {
	// Read indicates the file is readable.
	Read bool

	// Write indicates the file is writable.
	Write bool

	// NonBlocking indicates that I/O should not block.
	NonBlocking bool
}

// FileOperations are the operations backing a File. The embedded Waitable
// reports readiness and lets blocked tasks register for wake ups.
type FileOperations interface {
	waiter.Waitable

	// Release is called when the last reference to the File is dropped.
	Release()
}

// File is an open file.
//
// File must be created with NewFile and starts with a single reference.
type File struct {
	// refs is the reference count. Accessed atomically.
	refs atomic.Int64

	flags FileFlags

	// FileOperations implements the file.
	FileOperations
}

// NewFile returns a File with one reference.
func NewFile(flags FileFlags, fops FileOperations) *File {
	f := &File{
		flags:          flags,
		FileOperations: fops,
	}
	f.refs.Store(1)
	return f
}

// Flags returns the flags of f.
func (f *File) Flags() FileFlags {
	return f.flags
}

// IncRef takes a reference on f.
func (f *File) IncRef() {
	if v := f.refs.Add(1); v <= 1 {
		panic(fmt.Sprintf("Incrementing non-positive ref count %p owned by %T", f, f.FileOperations))
	}
}

// DecRef drops a reference on f, releasing it when none remain.
func (f *File) DecRef() {
	switch v := f.refs.Add(-1); {
	case v < 0:
		panic(fmt.Sprintf("Decrementing non-positive ref count %p owned by %T", f, f.FileOperations))
	case v == 0:
		f.FileOperations.Release()
	}
}

// ReadRefs returns the current reference count.
func (f *File) ReadRefs() int64 {
	return f.refs.Load()
}

// DupAcrossFork returns the File the child of a fork refers to in place of
// f. The open file description is shared between parent and child, so this
// is f itself with an additional reference.
func DupAcrossFork(f *File) *File {
	f.IncRef()
	return f
}
