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

package kernel

import (
	"sync"

	"tinykernel.org/pkg/psram"
)

// PSRAMHeap adapts a *psram.Allocator (which only tracks address
// bookkeeping, not real backing memory) into an elf.Heap by pairing it
// with a content map keyed on the synthetic addresses it hands out.
// On real hardware the allocator's addresses are the memory; here they
// are opaque keys, so a Write has somewhere to land.
type PSRAMHeap struct {
	alloc *psram.Allocator

	mu      sync.Mutex
	content map[uintptr][]byte
}

// NewPSRAMHeap wraps alloc as an elf.Heap.
func NewPSRAMHeap(alloc *psram.Allocator) *PSRAMHeap {
	return &PSRAMHeap{alloc: alloc, content: map[uintptr][]byte{}}
}

func (h *PSRAMHeap) Alloc(n uint32) (uintptr, error) {
	return h.alloc.Alloc(n)
}

func (h *PSRAMHeap) Write(addr uintptr, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	h.content[addr] = buf
}

// Read returns the bytes last written at addr, for an Executor that
// needs to find a loaded section's content (the host stand-in
// executor, or a test fake).
func (h *PSRAMHeap) Read(addr uintptr) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.content[addr]
}

// Free releases addr back to the underlying allocator and drops its
// cached content.
func (h *PSRAMHeap) Free(addr uintptr) error {
	h.mu.Lock()
	delete(h.content, addr)
	h.mu.Unlock()
	return h.alloc.Free(addr)
}

// GeneralHeap is the fallback elf.Heap used when no PSRAM was
// detected: a simple bump allocator over a growable byte slice,
// standing in for the on-chip general heap spec.md §4.4 names as the
// "PSRAM preferred when present" fallback target.
type GeneralHeap struct {
	mu  sync.Mutex
	buf []byte
}

func NewGeneralHeap() *GeneralHeap { return &GeneralHeap{} }

func (h *GeneralHeap) Alloc(n uint32) (uintptr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	addr := uintptr(len(h.buf)) + 1 // 0 stays the reserved null address
	h.buf = append(h.buf, make([]byte, n)...)
	return addr, nil
}

func (h *GeneralHeap) Write(addr uintptr, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	off := int(addr) - 1
	if off < 0 || off+len(data) > len(h.buf) {
		return
	}
	copy(h.buf[off:], data)
}

func (h *GeneralHeap) Read(addr uintptr, n int) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	off := int(addr) - 1
	if off < 0 || off+n > len(h.buf) {
		return nil
	}
	out := make([]byte, n)
	copy(out, h.buf[off:off+n])
	return out
}
