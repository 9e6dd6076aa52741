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
	"testing"

	"iris.dev/iris/pkg/errors/linuxerr"
	"iris.dev/iris/pkg/hostarch"
)

const (
	userStart hostarch.Addr = 0x10000
	pageSize                = hostarch.PageSize
)

func TestTranslateFaultsIn(t *testing.T) {
	frames := NewFrameAllocator(8)
	mm := NewMemoryManager(frames)
	if _, err := mm.MMap(userStart, 2*pageSize, MMapOpts{Writable: true}); err != nil {
		t.Fatalf("MMap: %v", err)
	}
	if got := frames.Available(); got != 8 {
		t.Fatalf("Available() before fault = %d, want 8", got)
	}
	pa1, err := mm.Translate(userStart + 4)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	pa2, err := mm.Translate(userStart + 8)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if pa1.Frame() != pa2.Frame() || pa2.Offset() != 8 {
		t.Errorf("same page translated to %v and %v", pa1, pa2)
	}
	if got := frames.Available(); got != 7 {
		t.Errorf("Available() after fault = %d, want 7", got)
	}
	if _, err := mm.Translate(userStart + 2*pageSize); err != linuxerr.EFAULT {
		t.Errorf("Translate past region: got %v, want EFAULT", err)
	}
}

func TestMMapRejectsOverlap(t *testing.T) {
	mm := NewMemoryManager(NewFrameAllocator(8))
	if _, err := mm.MMap(userStart, 2*pageSize, MMapOpts{}); err != nil {
		t.Fatalf("MMap: %v", err)
	}
	for _, tc := range []struct {
		name   string
		start  hostarch.Addr
		length uint64
		want   error
	}{
		{"overlap end", userStart + pageSize, 2 * pageSize, linuxerr.EEXIST},
		{"overlap start", userStart - pageSize, 2 * pageSize, linuxerr.EEXIST},
		{"unaligned", userStart + 1, pageSize, linuxerr.EINVAL},
		{"empty", userStart + 4*pageSize, 0, linuxerr.EINVAL},
		{"adjacent", userStart + 2*pageSize, pageSize, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := mm.MMap(tc.start, tc.length, MMapOpts{}); err != tc.want {
				t.Errorf("MMap(%v, %d) = %v, want %v", tc.start, tc.length, err, tc.want)
			}
		})
	}
}

func TestWordAccess(t *testing.T) {
	mm := NewMemoryManager(NewFrameAllocator(4))
	if _, err := mm.MMap(userStart, pageSize, MMapOpts{Writable: true}); err != nil {
		t.Fatalf("MMap: %v", err)
	}
	if err := mm.StoreUint32(userStart+16, 7); err != nil {
		t.Fatalf("StoreUint32: %v", err)
	}
	if v, err := mm.LoadUint32(userStart + 16); err != nil || v != 7 {
		t.Errorf("LoadUint32 = %d, %v, want 7, nil", v, err)
	}
	if prev, err := mm.CompareAndSwapUint32(userStart+16, 0, 1); err != nil || prev != 7 {
		t.Errorf("failed CAS = %d, %v, want 7, nil", prev, err)
	}
	if prev, err := mm.CompareAndSwapUint32(userStart+16, 7, 1); err != nil || prev != 7 {
		t.Errorf("CAS = %d, %v, want 7, nil", prev, err)
	}
	if v, _ := mm.LoadUint32(userStart + 16); v != 1 {
		t.Errorf("word after CAS = %d, want 1", v)
	}
	if _, err := mm.LoadUint32(userStart + 2); err != linuxerr.EINVAL {
		t.Errorf("unaligned load: got %v, want EINVAL", err)
	}

	ro := userStart + 4*pageSize
	if _, err := mm.MMap(ro, pageSize, MMapOpts{}); err != nil {
		t.Fatalf("MMap: %v", err)
	}
	if err := mm.StoreUint32(ro, 1); err != linuxerr.EFAULT {
		t.Errorf("store to read-only region: got %v, want EFAULT", err)
	}
}

func TestForkPrivateAndShared(t *testing.T) {
	frames := NewFrameAllocator(16)
	parent := NewMemoryManager(frames)
	private := userStart
	shared := userStart + 8*pageSize
	if _, err := parent.MMap(private, pageSize, MMapOpts{Writable: true}); err != nil {
		t.Fatalf("MMap private: %v", err)
	}
	if _, err := parent.MMap(shared, pageSize, MMapOpts{Writable: true, Shared: true}); err != nil {
		t.Fatalf("MMap shared: %v", err)
	}
	parent.StoreUint32(private, 1)
	parent.StoreUint32(shared, 1)

	child, err := parent.Fork()
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	child.StoreUint32(private, 2)
	child.StoreUint32(shared, 2)

	if v, _ := parent.LoadUint32(private); v != 1 {
		t.Errorf("parent private word = %d, want 1", v)
	}
	if v, _ := parent.LoadUint32(shared); v != 2 {
		t.Errorf("parent shared word = %d, want 2", v)
	}
	ppa, _ := parent.Translate(shared)
	cpa, _ := child.Translate(shared)
	if ppa != cpa {
		t.Errorf("shared page translates to %v in parent and %v in child", ppa, cpa)
	}

	child.Release()
	parent.Release()
	if got := frames.Available(); got != 16 {
		t.Errorf("Available() after release = %d, want 16", got)
	}
}

func TestForkSharesUntouchedPages(t *testing.T) {
	parent := NewMemoryManager(NewFrameAllocator(8))
	if _, err := parent.MMap(userStart, pageSize, MMapOpts{Writable: true, Shared: true}); err != nil {
		t.Fatalf("MMap: %v", err)
	}
	child, err := parent.Fork()
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if err := child.StoreUint32(userStart, 5); err != nil {
		t.Fatalf("StoreUint32: %v", err)
	}
	if v, _ := parent.LoadUint32(userStart); v != 5 {
		t.Errorf("parent sees %d through an untouched shared page, want 5", v)
	}
}

func TestForkOutOfMemoryRollsBack(t *testing.T) {
	frames := NewFrameAllocator(3)
	parent := NewMemoryManager(frames)
	if _, err := parent.MMap(userStart, 2*pageSize, MMapOpts{Writable: true, Precommit: true}); err != nil {
		t.Fatalf("MMap: %v", err)
	}
	if _, err := parent.Fork(); err != linuxerr.ENOMEM {
		t.Fatalf("Fork() = %v, want ENOMEM", err)
	}
	if got := frames.Available(); got != 1 {
		t.Errorf("Available() after failed fork = %d, want 1", got)
	}
}

func TestExtendRegionStart(t *testing.T) {
	mm := NewMemoryManager(NewFrameAllocator(8))
	if _, err := mm.MMap(userStart, pageSize, MMapOpts{}); err != nil {
		t.Fatalf("MMap: %v", err)
	}
	stack := userStart + 4*pageSize
	id, err := mm.MMap(stack, pageSize, MMapOpts{Writable: true})
	if err != nil {
		t.Fatalf("MMap: %v", err)
	}
	if err := mm.StoreUint32(stack, 9); err != nil {
		t.Fatalf("StoreUint32: %v", err)
	}
	if err := mm.ExtendRegionStart(id, 2); err != nil {
		t.Fatalf("ExtendRegionStart: %v", err)
	}
	ar, _ := mm.Region(id)
	if want := (hostarch.AddrRange{Start: stack - 2*pageSize, End: stack + pageSize}); ar != want {
		t.Errorf("region = %v, want %v", ar, want)
	}
	if v, _ := mm.LoadUint32(stack); v != 9 {
		t.Errorf("existing page lost its contents: %d", v)
	}
	if err := mm.StoreUint32(stack-2*pageSize, 1); err != nil {
		t.Errorf("store to extended page: %v", err)
	}
	if err := mm.ExtendRegionStart(id, 2); err != linuxerr.ENOMEM {
		t.Errorf("extending into a neighbor: got %v, want ENOMEM", err)
	}
}

func TestAllocateKernelRegion(t *testing.T) {
	frames := NewFrameAllocator(4)
	mm := NewMemoryManager(frames)
	ar, err := mm.AllocateKernelRegion(pageSize + 1)
	if err != nil {
		t.Fatalf("AllocateKernelRegion: %v", err)
	}
	if ar.Start != KernelBase || ar.Length() != 2*pageSize {
		t.Errorf("kernel region = %v", ar)
	}
	if got := frames.Available(); got != 2 {
		t.Errorf("Available() = %d, want 2 (precommitted)", got)
	}
	if _, err := mm.AllocateKernelRegion(3 * pageSize); err != linuxerr.ENOMEM {
		t.Errorf("oversized kernel region: got %v, want ENOMEM", err)
	}
	if got := frames.Available(); got != 2 {
		t.Errorf("Available() after failure = %d, want 2", got)
	}
}

func TestMapPage(t *testing.T) {
	frames := NewFrameAllocator(4)
	mm := NewMemoryManager(frames)
	if err := mm.MapPage(userStart+12, MMapOpts{Writable: true}); err != nil {
		t.Fatalf("MapPage: %v", err)
	}
	if got := frames.Available(); got != 3 {
		t.Errorf("Available() = %d, want 3", got)
	}
	if err := mm.StoreUint32(userStart, 1); err != nil {
		t.Errorf("store to mapped page: %v", err)
	}
}
