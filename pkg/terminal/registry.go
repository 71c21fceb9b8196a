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

package terminal

import (
	"context"

	"tinykernel.org/pkg/wm"
)

// activeKey is the context.Context key this package uses as the
// Go-idiomatic stand-in for the hardware's TLS slot 1: each shell/app
// task carries its own terminal threaded through context.Context
// rather than a real thread-local, since every task here is a
// goroutine and Go's TLS-equivalent for "current task state" is an
// explicitly propagated Context.
type activeKey struct{}

// WithActive attaches t as the active terminal for ctx and everything
// derived from it, mirroring "stores itself as the task's TLS
// terminal" in spec.md §4.7. Spawn and the shell do not call it.
func WithActive(ctx context.Context, t *Terminal) context.Context {
	return context.WithValue(ctx, activeKey{}, t)
}

// Active implements get_active(): consult ctx's attached terminal
// first; if none, fall back to the focused window's user-data pointer
// (when it holds a *Terminal), per spec.md §4.6.
func Active(ctx context.Context, m *wm.Manager) *Terminal {
	if t, ok := ctx.Value(activeKey{}).(*Terminal); ok && t != nil {
		return t
	}
	if m == nil {
		return nil
	}
	focus := m.Focus()
	if focus == wm.HWND_NULL {
		return nil
	}
	w := m.Window(focus)
	if w == nil {
		return nil
	}
	if t, ok := w.UserData.(*Terminal); ok {
		return t
	}
	return nil
}

// Registry tracks every live terminal by its owning window handle, so
// the compositor and input routing can look one up without consulting
// a task context (e.g. to deliver keyboard events from the WM event
// bus, which runs on the compositor task, not the target app's task).
type Registry struct {
	byWindow map[wm.Handle]*Terminal
}

func NewRegistry() *Registry { return &Registry{byWindow: make(map[wm.Handle]*Terminal)} }

func (r *Registry) Add(h wm.Handle, t *Terminal)    { r.byWindow[h] = t }
func (r *Registry) Remove(h wm.Handle)              { delete(r.byWindow, h) }
func (r *Registry) Get(h wm.Handle) (*Terminal, bool) {
	t, ok := r.byWindow[h]
	return t, ok
}
