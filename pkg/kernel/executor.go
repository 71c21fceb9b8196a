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

	"tinykernel.org/pkg/process"
)

// HostExecutor is the process.Executor used by cmd/tinykernel and by
// tests: it cannot transfer control into the Thumb-2 machine code a
// loaded ELF's sections hold (nothing on a Go host can), so it runs a
// registered Go stand-in for each real path instead, and otherwise
// reports entry points as present-but-inert. On-device, this type is
// replaced wholesale by one that calls through the loaded section's
// program address with the real calling convention; everything above
// process.Executor in this module (RunSync, pkg/shell) is written
// against the interface and does not know the difference.
type HostExecutor struct {
	mu       sync.Mutex
	mains    map[string]func(ctx *process.Context, argv []string) int
	apiVers  map[string]int
	signaled map[int]bool
}

func NewHostExecutor() *HostExecutor {
	return &HostExecutor{
		mains:    map[string]func(ctx *process.Context, argv []string) int{},
		apiVers:  map[string]int{},
		signaled: map[int]bool{},
	}
}

// RegisterMain installs a Go stand-in for the app at realPath, called
// in place of its ELF's main() when that path is exec'd or spawned.
// Unregistered paths run as a no-op returning exit code 0.
func (e *HostExecutor) RegisterMain(realPath string, fn func(ctx *process.Context, argv []string) int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mains[realPath] = fn
}

// RegisterAPIVersion overrides the __required_m_api_verion result
// reported for realPath; absent an override, a present version section
// reports version 1.
func (e *HostExecutor) RegisterAPIVersion(realPath string, version int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.apiVers[realPath] = version
}

func (e *HostExecutor) CallAPIVersionCheck(ctx *process.Context) (int, bool) {
	if ctx.Image == nil || !ctx.Image.HasAPIVersionCheck() {
		return 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.apiVers[ctx.OrigCmd]; ok {
		return v, true
	}
	return 1, true
}

func (e *HostExecutor) CallInit(ctx *process.Context) (uintptr, bool) {
	if ctx.Image == nil || !ctx.Image.HasInit() {
		return 0, false
	}
	return 1, true
}

func (e *HostExecutor) CallMain(ctx *process.Context, argv []string) int {
	e.mu.Lock()
	fn := e.mains[ctx.OrigCmd]
	e.mu.Unlock()
	if fn == nil {
		return 0
	}
	return fn(ctx, argv)
}

func (e *HostExecutor) CallFini(ctx *process.Context, initCtx uintptr, present bool) {
	// The host stand-in has no cleanup of its own to run; a real
	// on-device executor calls through to _fini(initCtx) here.
}

func (e *HostExecutor) RegisterSignalTarget(ctx *process.Context) {
	if ctx.Image == nil || !ctx.Image.HasSignal() {
		return
	}
	e.mu.Lock()
	e.signaled[ctx.Pid] = true
	e.mu.Unlock()
}

func (e *HostExecutor) UnregisterSignalTarget(ctx *process.Context) {
	e.mu.Lock()
	delete(e.signaled, ctx.Pid)
	e.mu.Unlock()
}

// HasSignalTarget reports whether pid currently has its signal() entry
// point registered as live, for tests of DeliverSignals interaction.
func (e *HostExecutor) HasSignalTarget(pid int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.signaled[pid]
}

var _ process.Executor = (*HostExecutor)(nil)
