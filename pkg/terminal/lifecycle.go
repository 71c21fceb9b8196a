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
	"time"

	"tinykernel.org/pkg/wm"
)

const blinkInterval = 500 * time.Millisecond
const defaultGlyphW, defaultGlyphH = 8, 16

// Create allocates a terminal, a window with title/menu bar, starts
// the 500ms blink timer, and installs the keyboard handler, per
// spec.md §4.6.
func Create(m *wm.Manager, reg *Registry, title string, frame wm.Rect) (wm.Handle, *Terminal) {
	h := m.Create(frame, wm.WindowOpts{
		Title: title, Closable: true, Resizable: true, Movable: true,
		HasBorder: true, HasMenubar: true,
	})
	if h == wm.HWND_NULL {
		return wm.HWND_NULL, nil
	}
	w := m.Window(h)
	client := w.ClientRect()
	t := New(client.W, client.H, defaultGlyphW, defaultGlyphH)
	t.Window = h
	w.UserData = t
	w.EventHandler = t.KeyboardHandler()

	reg.Add(h, t)
	t.startBlink(m)
	return h, t
}

func (t *Terminal) startBlink(m *wm.Manager) {
	stop := make(chan struct{})
	t.stopBlink = stop
	go func() {
		ticker := time.NewTicker(blinkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.mu.Lock()
				t.blinkOn = !t.blinkOn
				t.mu.Unlock()
				m.Invalidate(t.Window)
			case <-stop:
				return
			}
		}
	}()
}

// Destroy stops the blink timer, destroys the window, and removes the
// terminal from the registry.
func Destroy(m *wm.Manager, reg *Registry, h wm.Handle) {
	if t, ok := reg.Get(h); ok && t.stopBlink != nil {
		close(t.stopBlink)
	}
	reg.Remove(h)
	m.Destroy(h)
}
