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

package wm

import (
	"sync"

	"tinykernel.org/pkg/event"
)

// Handle indexes a window slot; 0 is the reserved null handle, handles
// 1..MaxWindows index slots.
type Handle = event.Handle

const HWND_NULL Handle = event.NullHandle

// Manager owns the slot table and the dense z-stack.
type Manager struct {
	mu      sync.Mutex
	slots   [MaxWindows + 1]*Window // index 0 unused
	zstack  []Handle                // bottom to top, live windows only
	focus   Handle
	modalOf Handle // non-zero while a modal window blocks focus changes

	Bus *event.Bus

	DefaultBorder, DefaultTitleHeight, DefaultButtonSize, DefaultMenubarHeight int
}

// NewManager builds a window manager with the given decoration metrics
// and backing event bus.
func NewManager(bus *event.Bus, border, titleHeight, buttonSize, menubarHeight int) *Manager {
	return &Manager{
		Bus:                  bus,
		DefaultBorder:        border,
		DefaultTitleHeight:   titleHeight,
		DefaultButtonSize:    buttonSize,
		DefaultMenubarHeight: menubarHeight,
	}
}

// HandlerFor looks up the event handler for a live window, used by
// event.Bus.DispatchAll.
func (m *Manager) HandlerFor(h Handle) event.Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.get(h)
	if w == nil {
		return nil
	}
	return w.EventHandler
}

func (m *Manager) get(h Handle) *Window {
	if h == HWND_NULL || int(h) >= len(m.slots) {
		return nil
	}
	w := m.slots[h]
	if w == nil || !w.alive {
		return nil
	}
	return w
}

// Window exposes a live window for read access outside the package
// (painting, hit-testing callers). Returns nil for a dead or null handle.
func (m *Manager) Window(h Handle) *Window {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(h)
}

// Create allocates a slot, pushes it to the z-top, and returns its
// handle, or HWND_NULL if every slot is in use.
func (m *Manager) Create(frame Rect, opts WindowOpts) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	var h Handle
	for i := 1; i < len(m.slots); i++ {
		if m.slots[i] == nil {
			h = Handle(i)
			break
		}
	}
	if h == HWND_NULL {
		return HWND_NULL
	}

	w := &Window{
		alive:         true,
		visible:       true,
		closable:      opts.Closable,
		resizable:     opts.Resizable,
		movable:       opts.Movable,
		hasBorder:     opts.HasBorder,
		hasMenubar:    opts.HasMenubar,
		Frame:         frame,
		BG:            opts.BG,
		EventHandler:  opts.EventHandler,
		Paint:         opts.Paint,
		UserData:      opts.UserData,
		border:        m.DefaultBorder,
		titleHeight:   m.DefaultTitleHeight,
		buttonSize:    m.DefaultButtonSize,
		menubarHeight: m.DefaultMenubarHeight,
	}
	w.SetTitle(opts.Title)
	m.slots[h] = w
	m.zstack = append(m.zstack, h)
	m.reindexLocked()
	m.setFocusLocked(h)
	m.markDirty()
	return h
}

// WindowOpts are the creation-time parameters of a window.
type WindowOpts struct {
	Title                                           string
	Closable, Resizable, Movable, HasBorder, HasMenubar bool
	BG                                               uint8
	EventHandler                                     event.Handler
	Paint                                            PaintFunc
	UserData                                         interface{}
}

// Destroy removes h from the z-stack, clears focus if needed, and
// invalidates the slot.
func (m *Manager) Destroy(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.get(h) == nil {
		return
	}
	m.removeFromZStackLocked(h)
	m.slots[h] = nil
	if m.focus == h {
		m.focus = HWND_NULL
		m.refocusTopLocked()
	}
	if m.modalOf == h {
		m.modalOf = HWND_NULL
	}
	m.markDirty()
}

func (m *Manager) removeFromZStackLocked(h Handle) {
	for i, v := range m.zstack {
		if v == h {
			m.zstack = append(m.zstack[:i], m.zstack[i+1:]...)
			break
		}
	}
	m.reindexLocked()
}

// reindexLocked renumbers every window's Z field to match its dense
// position in m.zstack, the invariant spec.md §4.2 requires after any
// structural change to the stack.
func (m *Manager) reindexLocked() {
	for i, h := range m.zstack {
		if w := m.slots[h]; w != nil {
			w.Z = i
		}
	}
}

func (m *Manager) markDirty() {
	if m.Bus != nil {
		m.Bus.MarkDirty()
	}
}

// Show/Hide toggle visibility without removing the slot.
func (m *Manager) Show(h Handle) { m.setVisible(h, true) }
func (m *Manager) Hide(h Handle) { m.setVisible(h, false) }

func (m *Manager) setVisible(h Handle, v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.get(h)
	if w == nil {
		return
	}
	w.visible = v
	if !v && m.focus == h {
		m.focus = HWND_NULL
		m.refocusTopLocked()
	}
	m.markDirty()
}

func (m *Manager) Minimize(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.get(h)
	if w == nil {
		return
	}
	w.state = StateMinimized
	if m.focus == h {
		m.focus = HWND_NULL
		m.refocusTopLocked()
	}
	m.markDirty()
}

// Maximize saves restoreRect before expanding to deskRect. A
// non-resizable window is left unchanged.
func (m *Manager) Maximize(h Handle, deskRect Rect) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.get(h)
	if w == nil || !w.resizable {
		return
	}
	if w.state != StateMaximized {
		w.restoreRect = w.Frame
	}
	w.state = StateMaximized
	w.Frame = deskRect
	m.markDirty()
}

func (m *Manager) Restore(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.get(h)
	if w == nil {
		return
	}
	if w.state == StateMaximized {
		w.Frame = w.restoreRect
	}
	w.state = StateNormal
	m.markDirty()
}

func (m *Manager) Move(h Handle, x, y int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.get(h)
	if w == nil || !w.movable {
		return
	}
	w.Frame.X, w.Frame.Y = x, y
	m.markDirty()
}

func (m *Manager) SetRect(h Handle, r Rect) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.get(h)
	if w == nil {
		return
	}
	w.Frame = r
	m.markDirty()
}

func (m *Manager) SetTitle(h Handle, title string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.get(h)
	if w == nil {
		return
	}
	w.SetTitle(title)
	m.markDirty()
}

func (m *Manager) Invalidate(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w := m.get(h); w != nil {
		w.dirty = true
	}
	m.markDirty()
}

// SetModal marks h as the sole focusable window until ClearModal.
func (m *Manager) SetModal(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.get(h)
	if w == nil {
		return
	}
	if old := m.get(m.modalOf); old != nil {
		old.modal = false
	}
	w.modal = true
	m.modalOf = h
	m.setFocusLocked(h)
}

func (m *Manager) ClearModal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w := m.get(m.modalOf); w != nil {
		w.modal = false
	}
	m.modalOf = HWND_NULL
	m.refocusTopLocked()
}

// ModalActive reports the blocking modal window, or HWND_NULL.
func (m *Manager) ModalActive() Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modalOf
}

// SetFocus raises h to the z-top and focuses it, refusing when a
// different modal window is active.
func (m *Manager) SetFocus(h Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.modalOf != HWND_NULL && m.modalOf != h {
		return false
	}
	if m.get(h) == nil {
		return false
	}
	m.raiseLocked(h)
	m.setFocusLocked(h)
	return true
}

func (m *Manager) setFocusLocked(h Handle) {
	if old := m.slots[m.focus]; m.focus != HWND_NULL && old != nil {
		old.focused = false
	}
	m.focus = h
	if w := m.slots[h]; w != nil {
		w.focused = true
	}
	m.markDirty()
}

func (m *Manager) raiseLocked(h Handle) {
	m.removeFromZStackLocked(h)
	m.zstack = append(m.zstack, h)
	m.reindexLocked()
}

// refocusTopLocked sets focus to the top non-hidden, non-minimized
// window, honoring an active modal.
func (m *Manager) refocusTopLocked() {
	target := m.modalOf
	if target == HWND_NULL {
		for i := len(m.zstack) - 1; i >= 0; i-- {
			h := m.zstack[i]
			if w := m.slots[h]; w != nil && w.IsVisible() {
				target = h
				break
			}
		}
	}
	m.setFocusLocked(target)
}

// Focus returns the currently focused handle, or HWND_NULL.
func (m *Manager) Focus() Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.focus
}

// CycleFocus advances focus to the next focusable window in z-order
// (Alt+Tab). It is a no-op while a modal window is active.
func (m *Manager) CycleFocus() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.modalOf != HWND_NULL || len(m.zstack) == 0 {
		return
	}
	cur := -1
	for i, h := range m.zstack {
		if h == m.focus {
			cur = i
			break
		}
	}
	for step := 1; step <= len(m.zstack); step++ {
		idx := (cur + step) % len(m.zstack)
		h := m.zstack[idx]
		if w := m.slots[h]; w != nil && w.IsVisible() {
			m.raiseLocked(h)
			m.setFocusLocked(h)
			return
		}
	}
}

// ZStack returns a bottom-to-top copy of the live handle stack, for
// the compositor's paint order.
func (m *Manager) ZStack() []Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Handle, len(m.zstack))
	copy(out, m.zstack)
	return out
}

// WindowAtPoint hit-tests top-to-bottom and returns the first live,
// visible window whose frame contains (x,y), or HWND_NULL.
func (m *Manager) WindowAtPoint(x, y int) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.zstack) - 1; i >= 0; i-- {
		h := m.zstack[i]
		w := m.slots[h]
		if w == nil || !w.IsVisible() {
			continue
		}
		if w.Frame.Contains(x, y) {
			return h
		}
	}
	return HWND_NULL
}
