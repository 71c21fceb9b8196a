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
	"context"
	"testing"
	"time"

	"tinykernel.org/pkg/event"
	"tinykernel.org/pkg/kconfig"
	"tinykernel.org/pkg/ktest"
	"tinykernel.org/pkg/wm"
)

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	cfg := kconfig.Default()
	return New(cfg, ktest.NewMemVolume(), 320, 240)
}

func TestNewWiresSubsystems(t *testing.T) {
	k := newTestKernel(t)
	ktest.Assert(t, k.Procs != nil, "Procs not wired")
	ktest.Assert(t, k.WM != nil, "WM not wired")
	ktest.Assert(t, k.Bus != nil, "Bus not wired")
	ktest.Assert(t, k.FS != nil, "FS not wired")
	ktest.Assert(t, k.Heap != nil, "Heap not wired (want GeneralHeap fallback)")
	ktest.Assert(t, k.Runtime != nil, "Runtime not wired")
	ktest.Assert(t, k.WM.Bus == k.Bus, "WM.Bus must be the same bus the kernel dispatches on")
}

func TestAllocPidIsMonotonic(t *testing.T) {
	k := newTestKernel(t)
	a := k.allocPid()
	b := k.allocPid()
	if b != a+1 {
		t.Fatalf("allocPid sequence = %d, %d; want consecutive", a, b)
	}
}

func TestNewTerminalShellRegistersProcess(t *testing.T) {
	k := newTestKernel(t)
	sh, handle := k.NewTerminalShell("shell", wm.Rect{X: 0, Y: 0, W: 320, H: 240})
	ktest.Assert(t, sh != nil, "expected a non-nil shell")
	ktest.Assert(t, handle != wm.Handle(0), "expected a non-zero window handle")
	if sh.Cwd != "/" {
		t.Fatalf("Shell.Cwd = %q; want \"/\"", sh.Cwd)
	}
	if sh.Ctx.Cwd != "/" {
		t.Fatalf("Shell.Ctx.Cwd = %q; want \"/\" (must track Shell.Cwd)", sh.Ctx.Cwd)
	}
	if k.Procs.Get(sh.Ctx.Pid) == nil {
		t.Fatalf("pid %d not registered in process table", sh.Ctx.Pid)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	k := newTestKernel(t)
	input := make(chan event.Event)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- k.Run(ctx, nil, input, nil) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run() = %v; want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestRunStopsOnReboot(t *testing.T) {
	k := newTestKernel(t)
	input := make(chan event.Event)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- k.Run(ctx, nil, input, nil) }()

	k.requestShutdown()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() after reboot = %v; want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after requestShutdown")
	}
}

func TestRequestShutdownIsIdempotent(t *testing.T) {
	k := newTestKernel(t)
	k.requestShutdown()
	k.requestShutdown() // must not panic on a second close
}
