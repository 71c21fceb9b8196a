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

package syscalltable

import "testing"

func TestRegisterAndInvoke(t *testing.T) {
	Reset()
	defer Reset()

	Register(SlotGetPid, func(ctx interface{}, a0, a1, a2, a3 uintptr) (uintptr, int) {
		return 42, 0
	})

	got, errno := Invoke(nil, SlotGetPid, 0, 0, 0, 0)
	if errno != 0 || got != 42 {
		t.Fatalf("Invoke(SlotGetPid) = (%d, %d); want (42, 0)", got, errno)
	}
}

func TestDuplicateRegisterPanics(t *testing.T) {
	Reset()
	defer Reset()

	Register(SlotExit, func(ctx interface{}, a0, a1, a2, a3 uintptr) (uintptr, int) { return 0, 0 })

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate slot registration")
		}
	}()
	Register(SlotExit, func(ctx interface{}, a0, a1, a2, a3 uintptr) (uintptr, int) { return 0, 0 })
}

func TestInvokeUnregisteredIsENOSYS(t *testing.T) {
	Reset()
	defer Reset()

	_, errno := Invoke(nil, SlotSleep, 0, 0, 0, 0)
	if errno != 38 {
		t.Fatalf("Invoke on unregistered slot = errno %d; want 38 (ENOSYS)", errno)
	}
}

func TestRegisteredCount(t *testing.T) {
	Reset()
	defer Reset()

	if n := Registered(); n != 0 {
		t.Fatalf("Registered() = %d; want 0 after Reset", n)
	}
	Register(SlotOpen, func(ctx interface{}, a0, a1, a2, a3 uintptr) (uintptr, int) { return 0, 0 })
	Register(SlotClose, func(ctx interface{}, a0, a1, a2, a3 uintptr) (uintptr, int) { return 0, 0 })
	if n := Registered(); n != 2 {
		t.Fatalf("Registered() = %d; want 2", n)
	}
}
