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

// Package kernel wires every module described across spec.md into one
// running system: the process table and spawn/exec runtime, the
// window manager and event bus, the POSIX/extfs filesystem layer, the
// PSRAM allocator, and the per-terminal shells. Nothing here implements
// new policy; it is composition root, the same role the teacher's
// cmd/perkeepd/serve.go plays for perkeep's handler tree (read its
// jsonconfig document, construct each piece, wire their loader
// references to each other). The config document is loaded by the
// caller (cmd/tinykernel), so New takes a *kconfig.Config directly, but
// the shape —
// construct leaves first, wire the pieces that depend on each other,
// then start the long-running tasks — is the same.
package kernel

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"tinykernel.org/pkg/display"
	"tinykernel.org/pkg/elf"
	"tinykernel.org/pkg/event"
	"tinykernel.org/pkg/kconfig"
	"tinykernel.org/pkg/klog"
	"tinykernel.org/pkg/posixfs"
	"tinykernel.org/pkg/process"
	"tinykernel.org/pkg/psram"
	"tinykernel.org/pkg/shell"
	"tinykernel.org/pkg/terminal"
	"tinykernel.org/pkg/wm"
)

const (
	eventRingCapacity = 64
	defaultBorder     = 2
	defaultTitleH     = 18
	defaultButtonSize = 14
	defaultMenubarH   = 0
)

// Kernel bundles every subsystem's live instance and the cross-wiring
// between them, per spec.md §9's note that this system has exactly one
// of everything (no multi-instance, no dependency injection beyond
// this struct).
type Kernel struct {
	Config *kconfig.Config

	Procs   *process.Table
	Runtime *process.Runtime
	Exec    *HostExecutor

	WM  *wm.Manager
	Bus *event.Bus
	Eng *display.Engine
	Comp *display.Compositor

	FS    *posixfs.FS
	PSRAM *psram.Allocator
	Heap  interface {
		Alloc(uint32) (uintptr, error)
		Write(uintptr, []byte)
	}
	Flash *ContentFlash

	Terms *terminal.Registry

	mu       sync.Mutex
	nextPid  int
	shutdown chan struct{}
}

// New constructs every subsystem and wires them to each other, but
// starts no goroutines; call Run to start the dedicated kernel tasks.
func New(cfg *kconfig.Config, vol posixfs.Volume, screenW, screenH int) *Kernel {
	k := &Kernel{
		Config:   cfg,
		Procs:    process.NewTable(),
		FS:       posixfs.New(vol),
		Terms:    terminal.NewRegistry(),
		Exec:     NewHostExecutor(),
		nextPid:  1,
		shutdown: make(chan struct{}),
	}

	k.WM = wm.NewManager(nil, defaultBorder, defaultTitleH, defaultButtonSize, defaultMenubarH)
	k.Bus = event.New(eventRingCapacity, k.WM.HandlerFor)
	k.WM.Bus = k.Bus

	k.Eng = display.NewEngine(screenW, screenH)
	k.Comp = display.NewCompositor(k.Eng, k.WM, 0)

	if cfg.PSRAMDetect {
		size := psram.DetectSize(func(uint32, byte) {}, func(uint32) byte { return 0 })
		if size > 0 {
			k.PSRAM = psram.New(1, size)
			k.Heap = NewPSRAMHeap(k.PSRAM)
		}
	}
	if k.Heap == nil {
		k.Heap = NewGeneralHeap()
	}
	if cfg.FlashPlacement {
		k.Flash = NewContentFlash()
	}

	opener := &posixfs.ProcessOpener{FS: k.FS}
	loader := &process.ELFLoader{Files: k.FS, Heap: k.Heap, Flash: k.flashOrNil()}
	k.Runtime = &process.Runtime{Table: k.Procs, Loader: loader, Files: opener}

	return k
}

// flashOrNil returns k.Flash as an elf.FlashWriter, or a nil interface
// (not a typed nil pointer) when flash placement is disabled, so the
// loader's flash != nil test sees it as disabled.
func (k *Kernel) flashOrNil() elf.FlashWriter {
	if k.Flash == nil {
		return nil
	}
	return k.Flash
}

// APIRange is the accepted __required_m_api_verion window, compiled in
// as [1,1].
func (k *Kernel) APIRange() process.APIVersionRange {
	return process.APIVersionRange{Min: 1, Max: 1}
}

// allocPid hands out a monotonically increasing pid for top-level
// tasks (shells) that are not themselves spawned by another context.
func (k *Kernel) allocPid() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	pid := k.nextPid
	k.nextPid++
	return pid
}

// NewTerminalShell creates a window+terminal pair and the shell task
// driving it, per spec.md §5's "one shell per terminal" kernel task.
// The returned *shell.Shell's Run should be started on its own
// goroutine by the caller (cmd/tinykernel's errgroup, or a test).
func (k *Kernel) NewTerminalShell(title string, frame wm.Rect) (*shell.Shell, wm.Handle) {
	handle, term := terminal.Create(k.WM, k.Terms, title, frame)

	ctx := process.New(k.allocPid())
	ctx.Terminal = term
	k.Procs.Insert(ctx)

	sh := &shell.Shell{
		Ctx:      ctx,
		Runtime:  k.Runtime,
		Exec:     k.Exec,
		FS:       k.FS,
		Term:     term,
		PSRAM:    k.PSRAM,
		Heap:     k.Heap,
		Flash:    k.flashOrNil(),
		APIRange: k.APIRange(),
		Reboot:   k.requestShutdown,
	}
	shell.New(sh, ctx.Pid)
	return sh, handle
}

func (k *Kernel) requestShutdown() {
	select {
	case <-k.shutdown:
	default:
		close(k.shutdown)
	}
}

// Run starts the dedicated kernel tasks of spec.md §5 (heartbeat,
// input polling, compositor, and whichever shells the caller already
// created) and blocks until ctx is canceled or a reboot is requested.
// USB service has no host analog and is out of scope for this
// in-process model (see DESIGN.md); heartbeat and input polling are
// represented as their effect on the event bus and compositor only.
func (k *Kernel) Run(ctx context.Context, shells []*shell.Shell, input <-chan event.Event, target func(event.Event) wm.Handle) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return k.runCompositor(gctx)
	})
	g.Go(func() error {
		return k.runInput(gctx, input, target)
	})
	for _, sh := range shells {
		sh := sh
		g.Go(func() error {
			done := make(chan struct{})
			go func() {
				sh.Run()
				close(done)
			}()
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-k.shutdown:
				return errShutdown
			case <-done:
				return nil
			}
		})
	}

	err := g.Wait()
	if err == errShutdown {
		return nil
	}
	return err
}

var errShutdown = fmt.Errorf("kernel: reboot requested")

// runCompositor implements the "timing-soft" compositor task of
// spec.md §5: poll the dirty flag, compose and swap only when set.
func (k *Kernel) runCompositor(ctx context.Context) error {
	klog.For("kernel").Println("compositor task started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-k.shutdown:
			return errShutdown
		default:
		}
		if k.Bus.NeedsComposite() {
			k.Eng.MarkDirty()
			k.Comp.ComposeFrame()
		}
		k.Bus.DispatchAll()
	}
}

// runInput drains a hardware-facing input channel onto the event bus,
// standing in for the PS/2 polling task; target resolves an incoming
// event to its destination window (normally the focused window).
func (k *Kernel) runInput(ctx context.Context, input <-chan event.Event, target func(event.Event) wm.Handle) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-k.shutdown:
			return errShutdown
		case ev, ok := <-input:
			if !ok {
				return nil
			}
			h := k.WM.Focus()
			if target != nil {
				h = target(ev)
			}
			k.Bus.Post(h, ev)
		}
	}
}
