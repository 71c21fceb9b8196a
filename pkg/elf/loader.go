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

package elf

import (
	"debug/elf"
	"fmt"
	"sync"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"
)

// Heap is the allocator the loader places sections into: the general
// heap, PSRAM-backed when present (spec.md §4.4 "relocated into the
// general heap, PSRAM preferred when present").
type Heap interface {
	Alloc(n uint32) (uintptr, error)
	Write(addr uintptr, data []byte)
}

// SectionEntry records one loaded section's bookkeeping, per spec.md
// §3's "ELF-loaded image" data model: the allocation address (freed on
// unload) and the program address actual code/data live at (which may
// differ when flash-placed).
type SectionEntry struct {
	SectionIndex elf.SectionIndex
	AllocAddr    uintptr
	ProgAddr     uintptr
	Size         uint32
	Flashed      bool
}

// FlashWriter is the conditional flash-placement backend: Stat reports
// whether identical content is already flashed at a CID-derived slot;
// Write commits new content and returns its program address.
type FlashWriter interface {
	Stat(id cid.Cid) (addr uintptr, ok bool)
	Write(id cid.Cid, data []byte) (addr uintptr, err error)
}

// Loader drives demand-driven section loading and relocation for one
// process context's currently-executing image.
type Loader struct {
	img   *Image
	heap  Heap
	flash FlashWriter // nil when flash placement is disabled at build time

	mu      sync.Mutex
	loaded  map[elf.SectionIndex]*SectionEntry
	group   singleflight.Group // coalesces concurrent load_section calls for the same index across tasks
	Skipped []RelocSkip
}

func NewLoader(img *Image, heap Heap, flash FlashWriter) *Loader {
	return &Loader{
		img:    img,
		heap:   heap,
		flash:  flash,
		loaded: make(map[elf.SectionIndex]*SectionEntry),
	}
}

// LoadSection returns the cached program address if si is already
// loaded; otherwise allocates, reads/zero-fills content, records the
// mapping, and recurses into every relocation target it references.
// Concurrent callers for the same si (possible if two relocation
// chains reach it at once) coalesce onto one load via singleflight.
func (l *Loader) LoadSection(si elf.SectionIndex) (*SectionEntry, error) {
	l.mu.Lock()
	if e, ok := l.loaded[si]; ok {
		l.mu.Unlock()
		return e, nil
	}
	l.mu.Unlock()

	key := fmt.Sprintf("%d", si)
	v, err, _ := l.group.Do(key, func() (interface{}, error) {
		return l.loadSectionOnce(si)
	})
	if err != nil {
		return nil, err
	}
	return v.(*SectionEntry), nil
}

func (l *Loader) loadSectionOnce(si elf.SectionIndex) (*SectionEntry, error) {
	l.mu.Lock()
	if e, ok := l.loaded[si]; ok {
		l.mu.Unlock()
		return e, nil
	}
	l.mu.Unlock()

	sec := l.img.Section(si)
	size := uint32(sec.Size)
	align := uint32(sec.Addralign)
	if align == 0 {
		align = 4
	}

	var content []byte
	if sec.Type == elf.SHT_NOBITS {
		content = make([]byte, size)
	} else {
		data, err := l.img.SectionData(si)
		if err != nil {
			return nil, fmt.Errorf("elf: reading section %d: %w", si, err)
		}
		content = data
	}

	entry := &SectionEntry{SectionIndex: si, Size: size}

	writable := sec.Flags&elf.SHF_WRITE != 0
	if !writable && l.flash != nil {
		id := contentCID(content)
		if addr, ok := l.flash.Stat(id); ok {
			entry.ProgAddr = addr
			entry.Flashed = true
		} else {
			addr, err := l.flash.Write(id, content)
			if err != nil {
				return nil, fmt.Errorf("elf: flash placement of section %d: %w", si, err)
			}
			entry.ProgAddr = addr
			entry.Flashed = true
		}
	} else {
		addr, err := l.heap.Alloc(size + align - 1)
		if err != nil {
			return nil, fmt.Errorf("elf: allocating section %d: %w", si, err)
		}
		aligned := alignUp(addr, uintptr(align))
		l.heap.Write(aligned, content)
		entry.AllocAddr = addr
		entry.ProgAddr = aligned
	}

	l.mu.Lock()
	l.loaded[si] = entry
	l.mu.Unlock()

	if err := l.applyRelocationsFor(si, content); err != nil {
		return nil, err
	}
	return entry, nil
}

func alignUp(addr uintptr, align uintptr) uintptr {
	if align <= 1 {
		return addr
	}
	return (addr + align - 1) &^ (align - 1)
}

// applyRelocationsFor processes every relocation section whose sh_info
// references si, recursing into LoadSection for each relocation's
// target section as needed.
func (l *Loader) applyRelocationsFor(si elf.SectionIndex, content []byte) error {
	file := l.img.file
	for idx, sec := range file.Sections {
		if sec.Type != elf.SHT_REL && sec.Type != elf.SHT_RELA {
			continue
		}
		if elf.SectionIndex(sec.Info) != si {
			continue
		}
		relocs, err := decodeRelocations(sec)
		if err != nil {
			return fmt.Errorf("elf: decoding relocation section %d: %w", idx, err)
		}
		symtab := l.img.symtab
		for _, r := range relocs {
			if int(r.SymIdx) >= len(symtab) {
				return fmt.Errorf("elf: relocation symbol index %d out of range", r.SymIdx)
			}
			sym := &symtab[r.SymIdx]
			if reservedSection(elf.SectionIndex(sym.Section)) {
				return fmt.Errorf("elf: relocation references reserved section index %v", elf.SectionIndex(sym.Section))
			}
			targetSec, err := l.LoadSection(elf.SectionIndex(sym.Section))
			if err != nil {
				return fmt.Errorf("elf: loading relocation target: %w", err)
			}
			symValue := uint32(targetSec.ProgAddr) + uint32(sym.Value)

			entry := l.loaded[si]
			siteAddr := uint32(entry.ProgAddr) + uint32(r.Offset)

			skip, err := applyRelocation(content, r.Offset, r.Type, symValue, r.Addend, siteAddr)
			if err != nil {
				return fmt.Errorf("elf: relocation at offset %d: %w", r.Offset, err)
			}
			if skip != nil {
				l.Skipped = append(l.Skipped, *skip)
				continue
			}
		}
		if !entryFlashed(l.loaded[si]) {
			l.heap.Write(l.loaded[si].ProgAddr, content)
		}
	}
	return nil
}

func entryFlashed(e *SectionEntry) bool { return e != nil && e.Flashed }

// contentCID hashes section content with blake2b-256 and wraps it as
// a CIDv1 (raw codec), the dedup key the flash-placement cache indexes
// on so re-running an app with unchanged read-only sections skips
// reflashing.
func contentCID(content []byte) cid.Cid {
	sum := blake2b.Sum256(content)
	digest, err := mh.Encode(sum[:], mh.BLAKE2B_MIN+31)
	if err != nil {
		// mh.Encode only fails on an unknown code; BLAKE2B_MIN+31
		// (0xb220) is the 256-bit blake2b code and is always valid.
		panic(err)
	}
	return cid.NewCidV1(cid.Raw, digest)
}

// Entries returns every currently loaded section, for unload/free-on-
// exit accounting.
func (l *Loader) Entries() []*SectionEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*SectionEntry, 0, len(l.loaded))
	for _, e := range l.loaded {
		out = append(out, e)
	}
	return out
}
