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

package display

import (
	"tinykernel.org/pkg/wm"
)

// Overlay is a compositor-drawn layer above every window (menus,
// taskbar, drag outline, cursor), painted in the fixed order spec.md
// §4.2 specifies.
type Overlay interface {
	Visible() bool
	Paint(ctx *DrawContext)
}

// DrawContext is the thread-local-equivalent draw state updated by
// Compositor.begin/end: client-relative primitives consult Origin and
// Clip. Since this codebase models one compositor goroutine (there is
// exactly one compositor task per spec.md §5), the context lives on
// the Compositor rather than behind a real TLS slot; TLS slot 1 is
// reserved for per-task *process.Context routing (pkg/process), a
// different piece of per-task state than this draw context.
type DrawContext struct {
	Buf    *Buffer
	Origin struct{ X, Y int }
	Clip   wm.Rect
}

func (c *DrawContext) toScreen(x, y int) (int, int) { return c.Origin.X + x, c.Origin.Y + y }

// SetPixel draws at client-relative (x,y), clipped to the client rect.
func (c *DrawContext) SetPixel(x, y int, color uint8) {
	if x < 0 || y < 0 || x >= c.Clip.W || y >= c.Clip.H {
		return
	}
	sx, sy := c.toScreen(x, y)
	c.Buf.SetPixel(sx, sy, color)
}

func (c *DrawContext) HLine(x, y, n int, color uint8) {
	if y < 0 || y >= c.Clip.H {
		return
	}
	if x < 0 {
		n += x
		x = 0
	}
	if x+n > c.Clip.W {
		n = c.Clip.W - x
	}
	if n <= 0 {
		return
	}
	sx, sy := c.toScreen(x, y)
	c.Buf.HLineSafe(sx, sy, n, color)
}

// Compositor draws the desktop, every visible window bottom-to-top,
// then overlays in the fixed stack order, then swaps.
type Compositor struct {
	Engine      *Engine
	WM          *wm.Manager
	DesktopColor uint8

	// Overlays, painted in this fixed order after every window:
	// dropdown menu, popup menu, system menu, start menu, taskbar,
	// drag outline, cursor.
	Overlays []Overlay

	ctx DrawContext
}

func NewCompositor(e *Engine, m *wm.Manager, desktopColor uint8) *Compositor {
	return &Compositor{Engine: e, WM: m, DesktopColor: desktopColor}
}

// begin/end update the shared draw context around one window's paint
// callback.
func (c *Compositor) begin(buf *Buffer, client wm.Rect) *DrawContext {
	c.ctx = DrawContext{Buf: buf}
	c.ctx.Origin.X, c.ctx.Origin.Y = client.X, client.Y
	c.ctx.Clip = wm.Rect{W: client.W, H: client.H}
	return &c.ctx
}

func (c *Compositor) end() {}

// ComposeFrame runs one compositor pass if the dirty flag is set:
// clear to desktop color, paint windows bottom-to-top, paint overlays,
// swap buffers. It is a no-op (and does no drawing work) when clean.
func (c *Compositor) ComposeFrame() bool {
	if !c.Engine.NeedsComposite() {
		return false
	}
	buf := c.Engine.Draw()

	for y := 0; y < buf.H; y++ {
		buf.HLineFast(0, y, buf.W, c.DesktopColor)
	}

	for _, h := range c.WM.ZStack() {
		w := c.WM.Window(h)
		if w == nil || !w.IsVisible() {
			continue
		}
		paintDecorations(buf, w)
		if w.Paint != nil {
			ctx := c.begin(buf, w.ClientRect())
			w.Paint(h, ctx)
			c.end()
		}
	}

	for _, ov := range c.Overlays {
		if ov.Visible() {
			ctx := c.begin(buf, wm.Rect{W: buf.W, H: buf.H})
			ov.Paint(ctx)
			c.end()
		}
	}

	c.Engine.Swap()
	return true
}
