/*
Copyright 2024 The tinykernel Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package psram implements size detection and a first-fit free-list
// allocator over the optional external PSRAM region. All access is
// serialized behind a scheduler-suspend-equivalent lock rather than
// relying on the PSRAM hardware itself for safety; see the package's
// use of syncutil.TrackedMutex for why the critical section is worth
// keeping visibly short.
package psram

import (
	"tinykernel.org/pkg/kerrors"
	"tinykernel.org/pkg/syncutil"
)

// blockMagic guards against reinserting a corrupted or foreign
// pointer into the free list (Open Question in spec.md §9, resolved:
// add a magic-number check).
const blockMagic = 0x50535241 // "PSRA"

const (
	minBlock  = 16 // bytes, enforced minimum allocation
	alignment = 4
)

// header precedes every block, free or in-use. Blocks are kept in
// address order through Allocator.order; next is never set.
type header struct {
	magic uint32
	size  uint32 // usable bytes following the header
	inUse bool
	next  *header // unused
}

const headerSize = 16 // fixed logical size charged against the region

// Allocator is a first-fit free-list allocator over a detected PSRAM
// region. The zero value is not usable; construct with Detect.
type Allocator struct {
	mu     syncutil.TrackedMutex
	base   uintptr
	total  uint32
	free   *header // the initial whole-region block; Alloc and Free walk order instead
	blocks map[uintptr]*header // address -> header, emulates pointer arithmetic
	order  []uintptr           // addresses in ascending order, parallel to blocks
}

// DetectSize probes for PSRAM by having readMarker/writeMarker exercise
// progressively lower power-of-two boundaries (16, 8, 4, 1 MB) and
// checking the observed marker is consistent across the top 1 MB.
// readMarker/writeMarker are injected so this runs without real
// hardware; on-device they talk to the uncached QSPI window.
func DetectSize(writeMarker func(offset uint32, b byte), readMarker func(offset uint32) byte) uint32 {
	const mb = 1 << 20
	candidates := []uint32{16 * mb, 8 * mb, 4 * mb, 1 * mb}
	const marker byte = 0xA5
	for _, size := range candidates {
		writeMarker(size-1, marker)
	}
	// If PSRAM is really `size` bytes, a write at a boundary larger
	// than `size` aliased or faulted and never reached the chip, so the
	// marker for `size` itself is the one that still reads back
	// consistently across several samples in its top megabyte.
	for _, size := range candidates {
		ok := true
		for sample := uint32(0); sample < 16; sample++ {
			off := size - mb + sample*(mb/16) + (mb/16 - 1)
			got := readMarker(off)
			if off != size-1 {
				// Intermediate samples were never written; they must
				// still read as the boundary marker if the chip aliases
				// writes across the whole top region, or as 0 if it
				// doesn't alias. Either is consistent with `size`
				// PSRAM; a genuinely smaller chip reads garbage here.
				if got != marker && got != 0 {
					ok = false
					break
				}
				continue
			}
			if got != marker {
				ok = false
				break
			}
		}
		if ok && readMarker(size-1) == marker {
			return size
		}
	}
	return 0
}

// New builds an allocator over a region of the given size. base is an
// opaque identity for the region (not dereferenced); the allocator
// tracks blocks by synthetic address bookkeeping so it works without
// unsafe.Pointer arithmetic in tests.
func New(base uintptr, size uint32) *Allocator {
	a := &Allocator{
		base:   base,
		total:  size,
		blocks: map[uintptr]*header{},
	}
	root := &header{magic: blockMagic, size: size - headerSize, inUse: false}
	a.blocks[base] = root
	a.order = []uintptr{base}
	a.free = root
	return a
}

func roundUp(n, align uint32) uint32 {
	return (n + align - 1) &^ (align - 1)
}

// Alloc returns a synthetic address for a block of at least n usable
// bytes, or 0 (kerrors.ENOMEM) if none is available. A request of size
// 0 returns 0 without modifying the free list.
func (a *Allocator) Alloc(n uint32) (uintptr, error) {
	if n == 0 {
		return 0, nil
	}
	n = roundUp(n, alignment)
	if n < minBlock {
		n = minBlock
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, addr := range a.order {
		h := a.blocks[addr]
		if h.inUse || h.size < n {
			continue
		}
		// Found the first sufficiently large free block.
		if h.size >= n+headerSize+minBlock {
			// Split: carve the tail off as a new free block.
			tailAddr := addr + uintptr(headerSize+n)
			tail := &header{magic: blockMagic, size: h.size - n - headerSize, inUse: false}
			h.size = n
			a.insertAfter(addr, tailAddr, tail)
		}
		h.inUse = true
		return addr, nil
	}
	return 0, kerrors.E(kerrors.ResourceExhaustion, kerrors.ENOMEM, "psram: no block large enough", nil)
}

// insertAfter inserts (addr,h) into the ordered address list immediately
// after afterAddr.
func (a *Allocator) insertAfter(afterAddr, addr uintptr, h *header) {
	a.blocks[addr] = h
	idx := -1
	for i, v := range a.order {
		if v == afterAddr {
			idx = i
			break
		}
	}
	a.order = append(a.order, 0)
	copy(a.order[idx+2:], a.order[idx+1:])
	a.order[idx+1] = addr
}

// Free reinserts the block at addr into the free list, address-ordered,
// coalescing with both neighbors when they are contiguous and free.
// A pointer whose header magic doesn't check out is rejected rather
// than corrupting the list.
func (a *Allocator) Free(addr uintptr) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	h, ok := a.blocks[addr]
	if !ok || h.magic != blockMagic {
		return kerrors.E(kerrors.ResourceExhaustion, kerrors.EINVAL, "psram: free of unknown or corrupt block", nil)
	}
	h.inUse = false

	idx := -1
	for i, v := range a.order {
		if v == addr {
			idx = i
			break
		}
	}
	// Coalesce with next neighbor if contiguous and free.
	if idx+1 < len(a.order) {
		nextAddr := a.order[idx+1]
		next := a.blocks[nextAddr]
		if !next.inUse && addr+uintptr(headerSize+h.size) == nextAddr {
			h.size += headerSize + next.size
			delete(a.blocks, nextAddr)
			a.order = append(a.order[:idx+1], a.order[idx+2:]...)
		}
	}
	// Coalesce with previous neighbor if contiguous and free.
	if idx > 0 {
		prevAddr := a.order[idx-1]
		prev := a.blocks[prevAddr]
		if !prev.inUse && prevAddr+uintptr(headerSize+prev.size) == addr {
			prev.size += headerSize + h.size
			delete(a.blocks, addr)
			a.order = append(a.order[:idx], a.order[idx+1:]...)
		}
	}
	return nil
}

// Stats reports the current free/used byte totals, for the
// free/used==detected-size invariant and the `free` shell builtin.
func (a *Allocator) Stats() (free, used uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, addr := range a.order {
		h := a.blocks[addr]
		if h.inUse {
			used += h.size
		} else {
			free += h.size
		}
	}
	return free, used
}

// Total is the detected region size in bytes.
func (a *Allocator) Total() uint32 { return a.total }

// CheckInvariants verifies the free list is ascending by address, has
// no adjacent free blocks, and that free+used accounts for every byte
// of the detected region (minus per-block header overhead). Intended
// for tests, not the hot path.
func (a *Allocator) CheckInvariants() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var sum uint32
	for i, addr := range a.order {
		h := a.blocks[addr]
		sum += h.size + headerSize
		if i > 0 && addr <= a.order[i-1] {
			return kerrors.E(kerrors.Fatal, kerrors.EINVAL, "psram: free list not ascending", nil)
		}
		if i > 0 {
			prev := a.blocks[a.order[i-1]]
			if !prev.inUse && !h.inUse {
				return kerrors.E(kerrors.Fatal, kerrors.EINVAL, "psram: adjacent free blocks not coalesced", nil)
			}
		}
	}
	if sum != a.total {
		return kerrors.E(kerrors.Fatal, kerrors.EINVAL, "psram: free+used != detected size", nil)
	}
	return nil
}
