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

package fs

import (
	"bytes"
	"fmt"
	"sort"
	"sync/atomic"

	"iris.dev/iris/pkg/errors/linuxerr"
	"iris.dev/iris/pkg/sentry/limits"
	"iris.dev/iris/pkg/sync"
)

// FDFlags define flags for an individual descriptor.
type FDFlags struct {
	// CloseOnExec indicates the descriptor should be closed on exec.
	CloseOnExec bool
}

// descriptor holds the details about a file descriptor, namely a pointer to
// the file itself and the descriptor flags.
type descriptor struct {
	file  *File
	flags FDFlags
}

// FDTable is used to manage File references and flags.
type FDTable struct {
	refs atomic.Int64

	mu    sync.Mutex
	files map[int32]descriptor
}

// NewFDTable allocates an empty FDTable with one reference.
func NewFDTable() *FDTable {
	f := &FDTable{
		files: make(map[int32]descriptor),
	}
	f.refs.Store(1)
	return f
}

// IncRef takes a reference on the table.
func (f *FDTable) IncRef() {
	f.refs.Add(1)
}

// DecRef drops a reference on the table. When none remain every descriptor
// is removed and its file reference dropped.
func (f *FDTable) DecRef() {
	switch v := f.refs.Add(-1); {
	case v < 0:
		panic(fmt.Sprintf("Decrementing non-positive ref count %p", f))
	case v == 0:
		f.RemoveIf(func(*File, FDFlags) bool { return true })
	}
}

// Size returns the number of file descriptor slots currently allocated.
func (f *FDTable) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.files)
}

// String is a stringer for FDTable.
func (f *FDTable) String() string {
	var b bytes.Buffer
	for _, fd := range f.GetFDs() {
		file, _ := f.Get(fd)
		if file == nil {
			continue
		}
		fmt.Fprintf(&b, "\tfd:%d => %T\n", fd, file.FileOperations)
		file.DecRef()
	}
	return b.String()
}

// NewFD allocates a new FD guaranteed to be the lowest number available
// greater than or equal to from. This property is important as Unix programs
// tend to count on this allocation order.
//
// The table takes its own reference on file.
func (f *FDTable) NewFD(from int32, file *File, flags FDFlags, limitSet *limits.LimitSet) (int32, error) {
	if from < 0 {
		// Don't accept negative FDs.
		return 0, linuxerr.EINVAL
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Finds the lowest fd not in the handles map.
	lim := limitSet.Get(limits.NumberOfFiles)
	for i := from; lim.Cur == limits.Infinity || uint64(i) < lim.Cur; i++ {
		if _, ok := f.files[i]; !ok {
			file.IncRef()
			f.files[i] = descriptor{file, flags}
			return i, nil
		}
	}

	return -1, linuxerr.EMFILE
}

// Get returns a reference to the file and the flags for the FD, or nil if
// no file is defined for the given fd.
//
// N.B. Callers are required to use DecRef when they are done.
func (f *FDTable) Get(fd int32) (*File, FDFlags) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.files[fd]
	if !ok {
		return nil, FDFlags{}
	}
	d.file.IncRef()
	return d.file, d.flags
}

// GetFDs returns a sorted list of valid fds.
func (f *FDTable) GetFDs() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	fds := make([]int32, 0, len(f.files))
	for fd := range f.files {
		fds = append(fds, fd)
	}
	sort.Slice(fds, func(i, j int) bool { return fds[i] < fds[j] })
	return fds
}

// Fork returns an independent FDTable pointing to the same files. Each file
// is duplicated with DupAcrossFork.
func (f *FDTable) Fork() *FDTable {
	f.mu.Lock()
	defer f.mu.Unlock()

	clone := NewFDTable()
	for fd, desc := range f.files {
		clone.files[fd] = descriptor{DupAcrossFork(desc.file), desc.flags}
	}
	return clone
}

// Remove removes an FD from f. It returns the removed file, whose
// reference now belongs to the caller, or nil.
func (f *FDTable) Remove(fd int32) *File {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.files[fd]
	if !ok {
		return nil
	}
	delete(f.files, fd)
	return d.file
}

// RemoveIf removes all FDs where cond is true and drops the table's
// reference on their files.
func (f *FDTable) RemoveIf(cond func(*File, FDFlags) bool) {
	var removed []*File
	f.mu.Lock()
	for fd, d := range f.files {
		if cond(d.file, d.flags) {
			delete(f.files, fd)
			removed = append(removed, d.file)
		}
	}
	f.mu.Unlock()

	// Release outside the lock; Release may notify waiters.
	for _, file := range removed {
		file.DecRef()
	}
}
