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

package process

// ChainRequest is what an app leaves behind when it wants the shell to
// immediately resolve/validate/load/run another command in the same
// task, per spec.md §4.7 step 6 ("stage still PREPARED with new argv/
// orig_cmd set by the app").
type ChainRequest struct {
	Argv    []string
	OrigCmd string
}

// Executor is the boundary between this package's lifecycle state
// machine and actually transferring control to a loaded image's
// entry points. The real implementation lives on-device (calling
// Thumb-2 machine code through the loaded section's program address);
// it is an interface here so host-side tests can supply a fake that
// just runs a Go function, and so this package never assumes a
// particular calling convention.
type Executor interface {
	// CallAPIVersionCheck invokes __required_m_api_verion if present.
	CallAPIVersionCheck(ctx *Context) (version int, present bool)
	// CallInit invokes _init if present, returning the context pointer
	// passed to _fini.
	CallInit(ctx *Context) (initCtx uintptr, present bool)
	// CallMain invokes main(argc, argv) and returns its exit code.
	CallMain(ctx *Context, argv []string) int
	// CallFini invokes _fini(initCtx) if present.
	CallFini(ctx *Context, initCtx uintptr, present bool)
	// RegisterSignalTarget installs ctx's signal() entry point (if any)
	// as the single globally-reachable in-progress signal target while
	// main runs, per spec.md §4.4.
	RegisterSignalTarget(ctx *Context)
	UnregisterSignalTarget(ctx *Context)
}

// APIVersionRange bounds the accepted __required_m_api_verion return
// value; a version outside [Min, Max] rejects the load.
type APIVersionRange struct {
	Min, Max int
}

// RunSync implements the exec_sync helper of spec.md §4.5: after a
// successful Exec, this runs the loaded image to completion in the
// caller's own task, honoring the API-version gate and optional
// _init/_fini. It returns the app's exit code. An app requests a
// chain by mutating ctx.Argv/ctx.OrigCmd and leaving ctx.Stage ==
// StagePrepared; RunSync then leaves the stage as it is, and the
// caller (e.g. pkg/shell's chain loop) reads the request from ctx.
func RunSync(ctx *Context, exec Executor, apiRange APIVersionRange) (exitCode int, err error) {
	if v, present := exec.CallAPIVersionCheck(ctx); present {
		if v > apiRange.Max || v < apiRange.Min {
			ctx.Stage = StageInvalidated
			return -1, errAPIVersionRejected
		}
	}

	initCtx, hasInit := exec.CallInit(ctx)

	exec.RegisterSignalTarget(ctx)
	code := exec.CallMain(ctx, ctx.Argv)
	exec.UnregisterSignalTarget(ctx)

	exec.CallFini(ctx, initCtx, hasInit)

	if ctx.Stage != StagePrepared {
		ctx.ExitCode = code
		ctx.Stage = StageZombie
	}
	return code, nil
}

type execErr string

func (e execErr) Error() string { return string(e) }

const errAPIVersionRejected = execErr("process: __required_m_api_verion rejected load")
