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

// Package display implements the double-buffered, pair-encoded
// framebuffer and the vsync-safe scanline DMA discipline of spec.md
// §4.3: two buffers, a show/draw pointer pair, and a third
// vsync-captured pointer that is the only one the scanline IRQ ever
// reads mid-frame.
package display

import "sync/atomic"

// Pair-encoded framebuffer: one byte holds two adjacent 4-bit color
// indices, high nibble is the left pixel.

// Buffer is one pair-encoded framebuffer.
type Buffer struct {
	W, H   int
	Stride int // bytes per row = (W+1)/2
	Pix    []byte
}

func NewBuffer(w, h int) *Buffer {
	stride := (w + 1) / 2
	return &Buffer{W: w, H: h, Stride: stride, Pix: make([]byte, stride*h)}
}

// SetPixel honors the pair encoding: even x uses the high nibble, odd
// x the low nibble.
func (b *Buffer) SetPixel(x, y int, color uint8) {
	if x < 0 || x >= b.W || y < 0 || y >= b.H {
		return
	}
	idx := y*b.Stride + x/2
	if x%2 == 0 {
		b.Pix[idx] = (color << 4) | (b.Pix[idx] & 0x0F)
	} else {
		b.Pix[idx] = (b.Pix[idx] & 0xF0) | (color & 0x0F)
	}
}

func (b *Buffer) GetPixel(x, y int) uint8 {
	if x < 0 || x >= b.W || y < 0 || y >= b.H {
		return 0
	}
	idx := y*b.Stride + x/2
	if x%2 == 0 {
		return b.Pix[idx] >> 4
	}
	return b.Pix[idx] & 0x0F
}

// HLineFast fills a horizontal run using whole-byte writes; it
// requires x0 to be even and handles only the paired portion, falling
// back to HLineSafe for an odd trailing pixel.
func (b *Buffer) HLineFast(x0, y, n int, color uint8) {
	if n <= 0 || y < 0 || y >= b.H {
		return
	}
	if x0%2 != 0 {
		b.HLineSafe(x0, y, n, color)
		return
	}
	full := n / 2
	byteVal := (color << 4) | (color & 0x0F)
	base := y*b.Stride + x0/2
	for i := 0; i < full; i++ {
		b.Pix[base+i] = byteVal
	}
	if n%2 == 1 {
		b.SetPixel(x0+n-1, y, color)
	}
}

// HLineSafe fills a horizontal run one pixel at a time, correct for
// any starting parity.
func (b *Buffer) HLineSafe(x0, y, n int, color uint8) {
	for i := 0; i < n; i++ {
		b.SetPixel(x0+i, y, color)
	}
}

// glyphLUT maps a 2-bit slice of a font row to a pair-encoded output
// byte for the two pixels it represents, avoiding a nibble merge per
// pixel in the hot text-rendering path.
func glyphLUT(fg, bg uint8) [4]byte {
	var lut [4]byte
	colors := [2]uint8{bg, fg}
	for i := 0; i < 4; i++ {
		left := colors[(i>>1)&1]
		right := colors[i&1]
		lut[i] = (left << 4) | (right & 0x0F)
	}
	return lut
}

// BlitGlyph8Wide draws one row of an 8-pixel-wide glyph, given as a
// bitmask (bit 7 = leftmost pixel), using the 4-entry lookup table to
// emit 4 output bytes in one pass.
func (b *Buffer) BlitGlyph8Wide(x, y int, row uint8, fg, bg uint8) {
	if y < 0 || y >= b.H || x < 0 || x+8 > b.W || x%2 != 0 {
		// Misaligned or out-of-range glyph rows fall back to the safe
		// per-pixel path; this should be rare since glyphs are laid
		// out on even columns by the terminal grid.
		for i := 0; i < 8; i++ {
			if row&(0x80>>uint(i)) != 0 {
				b.SetPixel(x+i, y, fg)
			} else {
				b.SetPixel(x+i, y, bg)
			}
		}
		return
	}
	lut := glyphLUT(fg, bg)
	base := y*b.Stride + x/2
	for i := 0; i < 4; i++ {
		slice := (row >> uint(6-2*i)) & 0x3
		b.Pix[base+i] = lut[slice]
	}
}

// Engine owns the two framebuffers, the vsync-captured scanline
// source, and the dirty flag.
type Engine struct {
	bufA, bufB *Buffer
	show       atomic.Pointer[Buffer] // read by app code/tests as "the visible buffer"
	draw       atomic.Pointer[Buffer] // written by the compositor
	scanlineSource atomic.Pointer[Buffer] // the only pointer the scanline IRQ reads mid-frame

	dirty atomic.Bool

	W, H int
}

func NewEngine(w, h int) *Engine {
	e := &Engine{W: w, H: h}
	e.bufA = NewBuffer(w, h)
	e.bufB = NewBuffer(w, h)
	e.show.Store(e.bufA)
	e.draw.Store(e.bufB)
	e.scanlineSource.Store(e.bufA)
	return e
}

// Draw returns the buffer the compositor should paint into.
func (e *Engine) Draw() *Buffer { return e.draw.Load() }

// Show returns the currently-visible buffer.
func (e *Engine) Show() *Buffer { return e.show.Load() }

// Swap exchanges show and draw. It does not affect scanlineSource;
// that only changes at VSync, so a swap requested mid-frame becomes
// visible only at the next vsync, per spec.md's frame-atomicity
// guarantee.
func (e *Engine) Swap() {
	a := e.show.Load()
	b := e.draw.Load()
	e.show.Store(b)
	e.draw.Store(a)
}

// VSync is called once per frame boundary by the (out-of-scope) HDMI
// timing generator; it captures the current show buffer as the
// scanline source for the frame about to start.
func (e *Engine) VSync() {
	e.scanlineSource.Store(e.show.Load())
}

// ScanlineSource returns the buffer the DMA IRQ may read from during
// the current frame. It is stable between VSync calls.
func (e *Engine) ScanlineSource() *Buffer {
	return e.scanlineSource.Load()
}

// FillScanline copies one row from the scanline source into dst,
// emulating the DMA line-buffer fill.
func (e *Engine) FillScanline(row int, dst []byte) {
	src := e.scanlineSource.Load()
	if row < 0 || row >= src.H {
		return
	}
	copy(dst, src.Pix[row*src.Stride:(row+1)*src.Stride])
}

// MarkDirty sets the dirty bit; any code that changes the visible
// scene calls this.
func (e *Engine) MarkDirty() { e.dirty.Store(true) }

// NeedsComposite tests-and-clears the dirty bit.
func (e *Engine) NeedsComposite() bool { return e.dirty.Swap(false) }
