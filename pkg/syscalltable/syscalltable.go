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

// Package syscalltable implements the fixed-slot function-pointer
// table of spec.md §4.10: the single surface every loaded ELF reaches
// the kernel through, indexed by a compile-time constant rather than
// by name. The teacher's pkg/blobserver registry (a type string maps
// to one constructor forever, second registration panics) is the
// nearest in-pack analog of "append-only, no silent overwrite"; this
// package keeps that discipline but indexes by a small dense integer
// instead of a string, because spec.md requires slot numbers survive
// OS versions the way perkeep's registry only requires type names to.
package syscalltable

import (
	"fmt"
	"sync"
)

// Slot is a compile-time syscall number. Slots are never reassigned
// or removed across OS versions; appending a new slot constant at the
// end of the const block is the only allowed evolution.
type Slot uint16

const (
	SlotWriteConsole Slot = iota
	SlotReadConsole
	SlotOpen
	SlotClose
	SlotRead
	SlotWrite
	SlotLseek
	SlotUnlink
	SlotMkdir
	SlotReadDir
	SlotStat
	SlotSpawn
	SlotExec
	SlotWaitpid
	SlotKill
	SlotExit
	SlotGetPid
	SlotSleep
	SlotAllocPSRAM
	SlotFreePSRAM
	SlotWindowCreate
	SlotWindowDestroy
	SlotWindowSetRect
	SlotWindowInvalidate
	SlotPostEvent
	SlotPollEvent

	// numReservedSlots marks the end of the OS's own slots. Register
	// does not check against it; any slot, reserved or not, may be
	// registered once.
	numReservedSlots
)

// Func is the uniform shape every syscall shim has on the Go side of
// the boundary: a context pointer (opaque to this package, passed
// straight to the handler) and up to four word-sized arguments,
// mirroring the four-register ARM calling convention spec.md's ELF
// ABI assumes. A handler returns a single word result and an errno
// (0 on success).
type Func func(ctx interface{}, a0, a1, a2, a3 uintptr) (result uintptr, errno int)

var (
	mu    sync.Mutex
	table = map[Slot]Func{}
)

// Register installs fn at slot. It panics on a duplicate registration
// for the same slot, matching the teacher's registry discipline:
// silently overwriting a syscall handler is exactly the kind of bug
// this table exists to rule out at registration time instead of at
// call time.
func Register(slot Slot, fn Func) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := table[slot]; ok {
		panic(fmt.Sprintf("syscalltable: slot %d already registered", slot))
	}
	table[slot] = fn
}

// Lookup returns the handler installed at slot, or ok=false if no
// build ever registered one (a shim calling an unimplemented slot,
// which the real ABI surfaces to the app as ENOSYS).
func Lookup(slot Slot) (fn Func, ok bool) {
	mu.Lock()
	defer mu.Unlock()
	fn, ok = table[slot]
	return fn, ok
}

// Invoke looks up and calls the handler at slot, returning ENOSYS (38)
// as the errno when no handler is registered, the one case this
// package itself decides an errno value rather than leaving it to the
// handler.
func Invoke(ctx interface{}, slot Slot, a0, a1, a2, a3 uintptr) (uintptr, int) {
	fn, ok := Lookup(slot)
	if !ok {
		return 0, 38 // ENOSYS
	}
	return fn(ctx, a0, a1, a2, a3)
}

// Registered reports how many slots currently have a handler, for
// boot-time diagnostics and tests.
func Registered() int {
	mu.Lock()
	defer mu.Unlock()
	return len(table)
}

// Reset clears every registration. Test-only: production boot code
// never calls this, since a real table is append-only for the life of
// the running kernel.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	table = map[Slot]Func{}
}
