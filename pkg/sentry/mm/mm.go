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

// Package mm provides a memory management subsystem: per-process address
// spaces made of regions backed by physical frames.
//
// Lock order:
//
//	MemoryManager.mu
//		FrameAllocator.mu
package mm

import (
	"fmt"

	"github.com/google/btree"
	"iris.dev/iris/pkg/cleanup"
	"iris.dev/iris/pkg/errors/linuxerr"
	"iris.dev/iris/pkg/hostarch"
	"iris.dev/iris/pkg/sync"
)

// KernelBase is the lowest address of the per-process kernel area from
// which AllocateKernelRegion carves regions.
const KernelBase hostarch.Addr = 0xc0000000

// btreeDegree is the degree of the region index.
const btreeDegree = 8

// RegionID identifies a region within a MemoryManager. IDs are preserved
// across Fork.
type RegionID uint32

// MMapOpts specifies the properties of a region.
type MMapOpts struct {
	// Writable allows stores through the region.
	Writable bool

	// Shared regions keep their frames shared with the parent across Fork.
	// Private regions are copied.
	Shared bool

	// Precommit populates every page when the region is created.
	Precommit bool
}

// region is a contiguous, page-aligned range of an address space.
type region struct {
	id   RegionID
	ar   hostarch.AddrRange
	opts MMapOpts

	// frames[i] backs the i-th page of ar. Zero means not populated.
	frames []Frame
}

func (r *region) pageIndex(addr hostarch.Addr) int {
	return int((addr - r.ar.Start) >> hostarch.PageShift)
}

func regionLess(a, b *region) bool {
	return a.ar.Start < b.ar.Start
}

// MemoryManager implements a virtual address space.
type MemoryManager struct {
	frames *FrameAllocator

	mu sync.Mutex

	// regions is indexed by start address. Regions never overlap.
	regions *btree.BTreeG[*region]

	// byID maps region IDs to regions.
	byID map[RegionID]*region

	nextID     RegionID
	kernelNext hostarch.Addr
	released   bool
}

// NewMemoryManager returns an empty address space whose pages come from
// frames.
func NewMemoryManager(frames *FrameAllocator) *MemoryManager {
	return &MemoryManager{
		frames:     frames,
		regions:    btree.NewG(btreeDegree, regionLess),
		byID:       make(map[RegionID]*region),
		nextID:     1,
		kernelNext: KernelBase,
	}
}

// Frames returns the allocator backing mm.
func (mm *MemoryManager) Frames() *FrameAllocator {
	return mm.frames
}

// findLocked returns the region containing addr, or nil.
//
// Preconditions: mm.mu must be locked.
func (mm *MemoryManager) findLocked(addr hostarch.Addr) *region {
	var found *region
	mm.regions.DescendLessOrEqual(&region{ar: hostarch.AddrRange{Start: addr}}, func(r *region) bool {
		if r.ar.Contains(addr) {
			found = r
		}
		return false
	})
	return found
}

// overlapsLocked returns true if ar intersects any region other than skip.
//
// Preconditions: mm.mu must be locked.
func (mm *MemoryManager) overlapsLocked(ar hostarch.AddrRange, skip *region) bool {
	overlaps := false
	mm.regions.DescendLessOrEqual(&region{ar: hostarch.AddrRange{Start: ar.End - 1}}, func(r *region) bool {
		if r == skip {
			return true
		}
		overlaps = r.ar.End > ar.Start
		return false
	})
	return overlaps
}

// insertLocked adds a new region covering ar.
//
// Preconditions: mm.mu must be locked. ar is page-aligned and free.
func (mm *MemoryManager) insertLocked(ar hostarch.AddrRange, opts MMapOpts) (*region, error) {
	r := &region{
		id:     mm.nextID,
		ar:     ar,
		opts:   opts,
		frames: make([]Frame, ar.Length()>>hostarch.PageShift),
	}
	if opts.Precommit {
		cu := cleanup.Make(func() { r.releaseFrames(mm.frames) })
		defer cu.Clean()
		for i := range r.frames {
			fr, err := mm.frames.Allocate()
			if err != nil {
				return nil, err
			}
			r.frames[i] = fr
		}
		cu.Release()
	}
	mm.nextID++
	mm.regions.ReplaceOrInsert(r)
	mm.byID[r.id] = r
	return r, nil
}

func (r *region) releaseFrames(frames *FrameAllocator) {
	for i, fr := range r.frames {
		if fr != 0 {
			frames.DecRef(fr)
			r.frames[i] = 0
		}
	}
}

// MMap establishes a region covering [start, start+length).
//
// Returns EINVAL for an unaligned or empty range and EEXIST if the range
// overlaps an existing region.
func (mm *MemoryManager) MMap(start hostarch.Addr, length uint64, opts MMapOpts) (RegionID, error) {
	if !start.IsPageAligned() || length == 0 || hostarch.Addr(length).PageOffset() != 0 {
		return 0, linuxerr.EINVAL
	}
	end, ok := start.AddLength(length)
	if !ok {
		return 0, linuxerr.EINVAL
	}
	ar := hostarch.AddrRange{Start: start, End: end}

	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.overlapsLocked(ar, nil) {
		return 0, linuxerr.EEXIST
	}
	r, err := mm.insertLocked(ar, opts)
	if err != nil {
		return 0, err
	}
	return r.id, nil
}

// MapPage ensures that the page containing addr is populated. If no region
// covers addr, a single-page region with opts is created for it.
func (mm *MemoryManager) MapPage(addr hostarch.Addr, opts MMapOpts) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	r := mm.findLocked(addr)
	if r == nil {
		page := addr.RoundDown()
		var err error
		if r, err = mm.insertLocked(hostarch.AddrRange{Start: page, End: page + hostarch.PageSize}, opts); err != nil {
			return err
		}
	}
	_, err := mm.populateLocked(r, addr)
	return err
}

// AllocateKernelRegion reserves and populates size bytes, rounded up to a
// page, in the kernel area of mm.
func (mm *MemoryManager) AllocateKernelRegion(size uint64) (hostarch.AddrRange, error) {
	length, ok := hostarch.Addr(size).RoundUp()
	if !ok || length == 0 {
		return hostarch.AddrRange{}, linuxerr.EINVAL
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()
	end, ok := mm.kernelNext.AddLength(uint64(length))
	if !ok {
		return hostarch.AddrRange{}, linuxerr.ENOMEM
	}
	ar := hostarch.AddrRange{Start: mm.kernelNext, End: end}
	if mm.overlapsLocked(ar, nil) {
		return hostarch.AddrRange{}, linuxerr.ENOMEM
	}
	if _, err := mm.insertLocked(ar, MMapOpts{Writable: true, Precommit: true}); err != nil {
		return hostarch.AddrRange{}, err
	}
	mm.kernelNext = end
	return ar, nil
}

// ExtendRegionStart grows region id downward by pages pages. The new pages
// are populated on first access.
func (mm *MemoryManager) ExtendRegionStart(id RegionID, pages uint64) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	r, ok := mm.byID[id]
	if !ok {
		return linuxerr.EINVAL
	}
	grow := hostarch.Addr(pages << hostarch.PageShift)
	if pages == 0 {
		return nil
	}
	if grow>>hostarch.PageShift != hostarch.Addr(pages) || grow > r.ar.Start {
		return linuxerr.ENOMEM
	}
	ar := hostarch.AddrRange{Start: r.ar.Start - grow, End: r.ar.End}
	if mm.overlapsLocked(ar, r) {
		return linuxerr.ENOMEM
	}
	mm.regions.Delete(r)
	r.ar = ar
	r.frames = append(make([]Frame, pages), r.frames...)
	mm.regions.ReplaceOrInsert(r)
	return nil
}

// Region returns the current range of region id.
func (mm *MemoryManager) Region(id RegionID) (hostarch.AddrRange, bool) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	r, ok := mm.byID[id]
	if !ok {
		return hostarch.AddrRange{}, false
	}
	return r.ar, true
}

// populateLocked returns the frame backing addr, allocating it if the page
// has not been touched yet.
//
// Preconditions: mm.mu must be locked. r contains addr.
func (mm *MemoryManager) populateLocked(r *region, addr hostarch.Addr) (Frame, error) {
	i := r.pageIndex(addr)
	if fr := r.frames[i]; fr != 0 {
		return fr, nil
	}
	fr, err := mm.frames.Allocate()
	if err != nil {
		return 0, err
	}
	r.frames[i] = fr
	return fr, nil
}

// Translate returns the physical address backing addr, faulting the page in
// if needed. It returns EFAULT if addr is not mapped and ENOMEM if the fault
// cannot be satisfied.
func (mm *MemoryManager) Translate(addr hostarch.Addr) (PhysAddr, error) {
	pa, _, err := mm.translate(addr)
	return pa, err
}

func (mm *MemoryManager) translate(addr hostarch.Addr) (PhysAddr, MMapOpts, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.released {
		return 0, MMapOpts{}, linuxerr.EFAULT
	}
	r := mm.findLocked(addr)
	if r == nil {
		return 0, MMapOpts{}, linuxerr.EFAULT
	}
	fr, err := mm.populateLocked(r, addr)
	if err != nil {
		return 0, MMapOpts{}, err
	}
	return fr.addr(addr.PageOffset()), r.opts, nil
}

func (mm *MemoryManager) word(addr hostarch.Addr, write bool) (PhysAddr, error) {
	if addr&3 != 0 {
		return 0, linuxerr.EINVAL
	}
	pa, opts, err := mm.translate(addr)
	if err != nil {
		return 0, err
	}
	if write && !opts.Writable {
		return 0, linuxerr.EFAULT
	}
	return pa, nil
}

// LoadUint32 atomically loads the aligned 32-bit word at addr.
func (mm *MemoryManager) LoadUint32(addr hostarch.Addr) (uint32, error) {
	pa, err := mm.word(addr, false)
	if err != nil {
		return 0, err
	}
	return mm.frames.LoadUint32(pa), nil
}

// StoreUint32 atomically stores val to the aligned 32-bit word at addr.
func (mm *MemoryManager) StoreUint32(addr hostarch.Addr, val uint32) error {
	pa, err := mm.word(addr, true)
	if err != nil {
		return err
	}
	mm.frames.StoreUint32(pa, val)
	return nil
}

// CompareAndSwapUint32 atomically replaces the word at addr with new if it
// equals old, returning the previous value.
func (mm *MemoryManager) CompareAndSwapUint32(addr hostarch.Addr, old, new uint32) (uint32, error) {
	pa, err := mm.word(addr, true)
	if err != nil {
		return 0, err
	}
	return mm.frames.CompareAndSwapUint32(pa, old, new), nil
}

// Fork creates a copy of mm. Private regions are copied page by page and
// shared regions reference the same frames as mm, which populates any of
// their pages not yet touched.
//
// On failure nothing is leaked and ENOMEM is returned.
func (mm *MemoryManager) Fork() (*MemoryManager, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.released {
		panic("Fork of a released MemoryManager")
	}

	child := NewMemoryManager(mm.frames)
	child.nextID = mm.nextID
	child.kernelNext = mm.kernelNext
	cu := cleanup.Make(child.Release)
	defer cu.Clean()

	var err error
	mm.regions.Ascend(func(r *region) bool {
		cr := &region{
			id:     r.id,
			ar:     r.ar,
			opts:   r.opts,
			frames: make([]Frame, len(r.frames)),
		}
		// Publish first so that Release finds partially copied frames.
		child.regions.ReplaceOrInsert(cr)
		child.byID[cr.id] = cr
		for i, fr := range r.frames {
			if r.opts.Shared {
				// Untouched shared pages are populated now so that both
				// sides fault in the same frame.
				if fr == 0 {
					if fr, err = mm.frames.Allocate(); err != nil {
						return false
					}
					r.frames[i] = fr
				}
				mm.frames.IncRef(fr)
				cr.frames[i] = fr
				continue
			}
			if fr == 0 {
				continue
			}
			var nfr Frame
			if nfr, err = mm.frames.Allocate(); err != nil {
				return false
			}
			mm.frames.Copy(nfr, fr)
			cr.frames[i] = nfr
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	cu.Release()
	return child, nil
}

// Release drops every frame reference held by mm. mm must not be used
// afterwards, except that Translate reports EFAULT.
func (mm *MemoryManager) Release() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.released {
		return
	}
	mm.released = true
	mm.regions.Ascend(func(r *region) bool {
		r.releaseFrames(mm.frames)
		return true
	})
	mm.regions.Clear(false)
	mm.byID = nil
}

// String implements fmt.Stringer.String.
func (mm *MemoryManager) String() string {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return fmt.Sprintf("MemoryManager{regions: %d}", mm.regions.Len())
}
