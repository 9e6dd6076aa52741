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

package mm

import (
	"encoding/binary"
	"fmt"

	"iris.dev/iris/pkg/bitmap"
	"iris.dev/iris/pkg/errors/linuxerr"
	"iris.dev/iris/pkg/hostarch"
	"iris.dev/iris/pkg/sync"
)

// Frame is the number of a physical page frame.
type Frame uint32

// PhysAddr is a physical address: a frame number and an offset into it.
type PhysAddr uint64

// Frame returns the frame containing pa.
func (pa PhysAddr) Frame() Frame {
	return Frame(pa >> hostarch.PageShift)
}

// Offset returns the offset of pa into its frame.
func (pa PhysAddr) Offset() uint64 {
	return uint64(pa) & (hostarch.PageSize - 1)
}

// String implements fmt.Stringer.String.
func (pa PhysAddr) String() string {
	return fmt.Sprintf("phys:%#x", uint64(pa))
}

func (f Frame) addr(off uint64) PhysAddr {
	return PhysAddr(uint64(f)<<hostarch.PageShift | off)
}

// FrameAllocator hands out a bounded number of reference counted physical
// frames. Frame contents are materialized on first allocation and zeroed.
//
// FrameAllocator is shared by every MemoryManager of a kernel, so two
// address spaces sharing a frame observe the same physical addresses.
type FrameAllocator struct {
	mu sync.Mutex

	// used tracks allocated frames. Frame 0 is never handed out so that a
	// zero PhysAddr is never valid.
	used bitmap.Bitmap

	// refs and data are indexed by frame and valid for used frames.
	refs map[Frame]int32
	data map[Frame]*[hostarch.PageSize]byte
}

// NewFrameAllocator returns an allocator of frames usable frames.
func NewFrameAllocator(frames uint32) *FrameAllocator {
	f := &FrameAllocator{
		used: bitmap.New(frames + 1),
		refs: make(map[Frame]int32),
		data: make(map[Frame]*[hostarch.PageSize]byte),
	}
	f.used.Add(0)
	return f
}

// Allocate returns a new zeroed frame with a single reference.
//
// Returns ENOMEM when every frame is in use.
func (f *FrameAllocator) Allocate() (Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bit, err := f.used.FirstZero(1)
	if err != nil {
		return 0, linuxerr.ENOMEM
	}
	f.used.Add(bit)
	fr := Frame(bit)
	f.refs[fr] = 1
	f.data[fr] = new([hostarch.PageSize]byte)
	return fr, nil
}

// IncRef takes an additional reference on fr.
func (f *FrameAllocator) IncRef(fr Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refs[fr] <= 0 {
		panic(fmt.Sprintf("IncRef on free frame %d", fr))
	}
	f.refs[fr]++
}

// DecRef drops a reference on fr, freeing it when none remain.
func (f *FrameAllocator) DecRef(fr Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r := f.refs[fr]; {
	case r <= 0:
		panic(fmt.Sprintf("DecRef on free frame %d", fr))
	case r == 1:
		delete(f.refs, fr)
		delete(f.data, fr)
		f.used.Remove(uint32(fr))
	default:
		f.refs[fr] = r - 1
	}
}

// Available returns the number of frames that can still be allocated.
func (f *FrameAllocator) Available() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.used.Size() - f.used.GetNumOnes()
}

// Copy copies the contents of src into dst.
func (f *FrameAllocator) Copy(dst, src Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*f.data[dst] = *f.data[src]
}

func (f *FrameAllocator) wordLocked(pa PhysAddr) []byte {
	d, ok := f.data[pa.Frame()]
	if !ok {
		panic(fmt.Sprintf("access to free frame at %v", pa))
	}
	off := pa.Offset()
	return d[off : off+4]
}

// LoadUint32 atomically loads the 32-bit word at pa.
func (f *FrameAllocator) LoadUint32(pa PhysAddr) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return binary.LittleEndian.Uint32(f.wordLocked(pa))
}

// StoreUint32 atomically stores val at pa.
func (f *FrameAllocator) StoreUint32(pa PhysAddr, val uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	binary.LittleEndian.PutUint32(f.wordLocked(pa), val)
}

// CompareAndSwapUint32 atomically replaces the word at pa with new if it
// equals old. It returns the previous value.
func (f *FrameAllocator) CompareAndSwapUint32(pa PhysAddr, old, new uint32) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := f.wordLocked(pa)
	prev := binary.LittleEndian.Uint32(w)
	if prev == old {
		binary.LittleEndian.PutUint32(w, new)
	}
	return prev
}
