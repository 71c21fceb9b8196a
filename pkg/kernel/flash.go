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

	"github.com/ipfs/go-cid"
)

// ContentFlash implements elf.FlashWriter as a content-addressed map:
// placing a read-only section at a fresh address the first time its
// CID is seen, and returning the existing address on every later
// placement of identical content, per spec.md §4.4's flash-placement
// dedup cache. The teacher has no on-disk flash analog; this models
// the "commit once, reuse forever within this boot" half of the cache
// (the content-addressed key itself is pkg/elf's contribution, grounded
// on the go-cid/go-multihash/blake2b stack already wired there).
type ContentFlash struct {
	mu      sync.Mutex
	byCID   map[cid.Cid]uintptr
	content map[uintptr][]byte
	next    uintptr
}

func NewContentFlash() *ContentFlash {
	return &ContentFlash{
		byCID:   map[cid.Cid]uintptr{},
		content: map[uintptr][]byte{},
		next:    1,
	}
}

func (f *ContentFlash) Stat(id cid.Cid) (uintptr, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	addr, ok := f.byCID[id]
	return addr, ok
}

func (f *ContentFlash) Write(id cid.Cid, data []byte) (uintptr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if addr, ok := f.byCID[id]; ok {
		return addr, nil
	}
	addr := f.next
	f.next += uintptr(len(data)) + 1
	buf := make([]byte, len(data))
	copy(buf, data)
	f.byCID[id] = addr
	f.content[addr] = buf
	return addr, nil
}

// Read returns the bytes committed at addr, for the host stand-in
// executor.
func (f *ContentFlash) Read(addr uintptr) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content[addr]
}

// Entries reports how many distinct contents have been flashed, for
// diagnostics and tests of the dedup behavior.
func (f *ContentFlash) Entries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byCID)
}
