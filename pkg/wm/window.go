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

// Package wm implements the compositing window manager: a fixed slot
// table, a dense z-stack, hit-testing, decoration state, and the
// create/destroy/focus/move/resize operations of spec.md §4.2. The
// slot-table-with-dense-reindex shape is grounded on the teacher's
// blobserver storage registry discipline (explicit lifecycle, no
// hidden globals) adapted to window handles.
package wm

import (
	"tinykernel.org/pkg/event"
)

// MaxWindows bounds the slot table (spec.md S2 boundary test: a 17th
// window with a 16-slot limit must fail cleanly).
const MaxWindows = 16

// Rect is a screen or client rectangle.
type Rect struct{ X, Y, W, H int }

func (r Rect) Contains(x, y int) bool {
	return x >= r.X && x < r.X+r.W && y >= r.Y && y < r.Y+r.H
}

// State is the window's normal/minimized/maximized state.
type State uint8

const (
	StateNormal State = iota
	StateMinimized
	StateMaximized
)

// HitZone is the result of decomposing a frame rectangle.
type HitZone uint8

const (
	HTNowhere HitZone = iota
	HTClient
	HTTitlebar
	HTCloseButton
	HTMaxButton
	HTMinButton
	HTBorderL
	HTBorderR
	HTBorderT
	HTBorderB
	HTBorderTL
	HTBorderTR
	HTBorderBL
	HTBorderBR
	HTMenubar
)

// PaintFunc draws the client area; the draw context passed in is
// defined by pkg/display.
type PaintFunc func(hwnd Handle, ctx interface{})

// Window is one fixed slot in the table.
type Window struct {
	alive      bool
	visible    bool
	focused    bool
	closable   bool
	resizable  bool
	movable    bool
	hasBorder  bool
	dirty      bool
	hasMenubar bool

	state State

	Frame       Rect // outer frame, screen coordinates
	restoreRect Rect

	BG     uint8
	Z      int // index into the dense z-stack, -1 if not in it
	Title  [24]byte

	EventHandler event.Handler
	Paint        PaintFunc
	UserData     interface{}

	// decoration metrics, fixed per window manager instance
	border       int
	titleHeight  int
	buttonSize   int
	menubarHeight int

	modal bool
	pressed HitZone // currently pressed decoration button, for bevel state
}

func (w *Window) SetTitle(s string) {
	var b [24]byte
	n := copy(b[:], s)
	_ = n
	w.Title = b
}

func (w *Window) TitleString() string {
	n := 0
	for n < len(w.Title) && w.Title[n] != 0 {
		n++
	}
	return string(w.Title[:n])
}

// ClientRect returns the client-area rectangle in screen coordinates.
func (w *Window) ClientRect() Rect {
	top := w.border + w.titleHeight
	if w.hasMenubar {
		top += w.menubarHeight
	}
	return Rect{
		X: w.Frame.X + w.border,
		Y: w.Frame.Y + top,
		W: w.Frame.W - 2*w.border,
		H: w.Frame.H - top - w.border,
	}
}

func (w *Window) IsVisible() bool { return w.alive && w.visible && w.state != StateMinimized }

// Focused reports whether this window currently holds WM focus.
func (w *Window) Focused() bool { return w.focused }

// TitleHeight returns the configured title-bar height in pixels.
func (w *Window) TitleHeight() int { return w.titleHeight }

// PressedZone returns the decoration button currently drawn sunken, or
// HTNowhere.
func (w *Window) PressedZone() HitZone { return w.pressed }

// SetPressedZone updates which decoration button (if any) should draw
// pressed.
func (w *Window) SetPressedZone(z HitZone) { w.pressed = z }

// MaximizeGlyph reports which glyph the maximize button should show:
// the restore glyph when already maximized, the maximize glyph
// otherwise.
func (w *Window) MaximizeGlyph() (restoreGlyph bool) { return w.state == StateMaximized }

// StateValue returns the window's current normal/minimized/maximized state.
func (w *Window) StateValue() State { return w.state }

// IsModal reports whether this specific window is set as the modal target.
func (w *Window) IsModal() bool { return w.modal }

// ButtonRect returns the screen rect of the i'th title-bar button
// counting from the right edge (0=close, 1=maximize, 2=minimize),
// skipping the close button's slot on a non-closable window.
func (w *Window) ButtonRect(i int) Rect {
	bs := w.buttonSize
	order := []HitZone{}
	if w.closable {
		order = append(order, HTCloseButton)
	}
	order = append(order, HTMaxButton, HTMinButton)

	edge := w.Frame.X + w.Frame.W - w.border
	y := w.Frame.Y + w.border + (w.titleHeight-bs)/2
	target := []HitZone{HTCloseButton, HTMaxButton, HTMinButton}[i]
	for _, z := range order {
		edge -= bs
		if z == target {
			return Rect{X: edge, Y: y, W: bs, H: bs}
		}
	}
	return Rect{}
}
