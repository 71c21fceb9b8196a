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

import "tinykernel.org/pkg/wm"

// 16-color palette indices used for decorations, matching the
// pair-encoded framebuffer's 4-bit indices.
const (
	colorBlue      uint8 = 1
	colorWhite     uint8 = 15
	colorDarkGray  uint8 = 8
	colorLightGray uint8 = 7
	colorBlack     uint8 = 0
)

// paintDecorations draws a window's title bar background and its three
// caption buttons directly into buf at screen coordinates, using the
// active title color when the window is focused and the inactive one
// otherwise. The border, the menu bar, the title text and button
// glyphs are not drawn.
func paintDecorations(buf *Buffer, w *wm.Window) {
	titleBG, _ := decorationColors(w.Focused())
	f := w.Frame

	for y := f.Y; y < f.Y+titleBarHeight(w); y++ {
		buf.HLineFast(f.X, y, f.W, titleBG)
	}

	paintBevel(buf, closeButtonRect(w), w.PressedZone() == wm.HTCloseButton)
	paintBevel(buf, maxButtonRect(w), w.PressedZone() == wm.HTMaxButton)
	paintBevel(buf, minButtonRect(w), w.PressedZone() == wm.HTMinButton)
}

func decorationColors(focused bool) (bg, fg uint8) {
	if focused {
		return colorBlue, colorWhite
	}
	return colorDarkGray, colorLightGray
}

func titleBarHeight(w *wm.Window) int { return w.TitleHeight() }

// paintBevel draws a raised bevel (normal) or a sunken bevel offset by
// one pixel (pressed): the top/left edge is light and bottom/right
// dark for raised, reversed and shifted for sunken.
func paintBevel(buf *Buffer, r wm.Rect, pressed bool) {
	light, dark := colorLightGray, colorBlack
	ox, oy := 0, 0
	if pressed {
		light, dark = colorBlack, colorLightGray
		ox, oy = 1, 1
	}
	x, y, w, h := r.X+ox, r.Y+oy, r.W, r.H
	buf.HLineSafe(x, y, w, light)
	buf.HLineSafe(x, y+h-1, w, dark)
	for i := 0; i < h; i++ {
		buf.SetPixel(x, y+i, light)
		buf.SetPixel(x+w-1, y+i, dark)
	}
}

func closeButtonRect(w *wm.Window) wm.Rect { return w.ButtonRect(0) }
func maxButtonRect(w *wm.Window) wm.Rect   { return w.ButtonRect(1) }
func minButtonRect(w *wm.Window) wm.Rect   { return w.ButtonRect(2) }
