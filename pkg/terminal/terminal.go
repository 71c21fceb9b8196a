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

// Package terminal implements the character-grid text console of
// spec.md §4.6: the grid doubles as the legacy screen-buffer API's
// backing store, a 64-entry input ring feeds getch, and get_active
// routes console calls to the right terminal via a TLS-equivalent
// lookup with a focused-window fallback.
package terminal

import (
	"fmt"
	"sync"

	"tinykernel.org/pkg/event"
	"tinykernel.org/pkg/wm"
)

const inputRingSize = 64

// Cell is one character grid cell: the character byte and the
// (bg<<4)|fg attribute byte, matching the legacy text-buffer wire
// layout of spec.md §6.
type Cell struct {
	Char byte
	Attr byte
}

func packAttr(fg, bg uint8) byte { return (bg << 4) | (fg & 0x0F) }

// Terminal owns a character grid, cursor state, and an input ring.
type Terminal struct {
	mu sync.Mutex

	Cols, Rows int
	cells      []Cell

	cursorCol, cursorRow int
	fg, bg               uint8

	ring     [inputRingSize]byte
	ringHead int
	ringTail int
	ringLen  int
	sem      chan struct{} // counting semaphore signaling arrivals

	Window      wm.Handle
	closeReq    bool
	blinkOn     bool
	stopBlink   chan struct{}

	readers []chan struct{} // unused; Getch blocks on sem
}

// New allocates a terminal sized to fit a client rect of the given
// pixel dimensions at the supplied glyph cell size, per "allocates the
// terminal, creates a window... sized to its window's client rect".
func New(clientW, clientH, glyphW, glyphH int) *Terminal {
	cols := clientW / glyphW
	rows := clientH / glyphH
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	t := &Terminal{
		Cols: cols, Rows: rows,
		cells: make([]Cell, cols*rows),
		fg:    7, bg: 0,
		sem: make(chan struct{}, inputRingSize),
	}
	t.Clear(0)
	return t
}

func (t *Terminal) idx(col, row int) int { return row*t.Cols + col }

// Clear fills the grid with spaces at the given background color.
func (t *Terminal) Clear(bg uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	attr := packAttr(t.fg, bg)
	for i := range t.cells {
		t.cells[i] = Cell{Char: ' ', Attr: attr}
	}
	t.cursorCol, t.cursorRow = 0, 0
}

func (t *Terminal) SetColor(fg, bg uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fg, t.bg = fg, bg
}

func (t *Terminal) SetCursor(col, row int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cursorCol, t.cursorRow = col, row
}

// Putc writes one character at the cursor and advances it, handling
// the control characters spec.md §4.6 names: \n, \r, \b, \t, and
// scroll-on-overflow.
func (t *Terminal) Putc(c byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch c {
	case '\n':
		t.cursorCol = 0
		t.cursorRow++
	case '\r':
		t.cursorCol = 0
	case '\b':
		if t.cursorCol > 0 {
			t.cursorCol--
			t.cells[t.idx(t.cursorCol, t.cursorRow)] = Cell{Char: ' ', Attr: packAttr(t.fg, t.bg)}
		}
	case '\t':
		t.cursorCol = ((t.cursorCol / 8) + 1) * 8
		if t.cursorCol >= t.Cols {
			t.cursorCol = t.Cols - 1
		}
	default:
		if t.cursorCol >= t.Cols {
			t.cursorCol = 0
			t.cursorRow++
		}
		t.cells[t.idx(t.cursorCol, t.cursorRow)] = Cell{Char: c, Attr: packAttr(t.fg, t.bg)}
		t.cursorCol++
	}
	if t.cursorRow >= t.Rows {
		t.scrollUpLocked()
		t.cursorRow = t.Rows - 1
	}
}

// scrollUpLocked moves rows [1..Rows) to [0..Rows-1) and clears the
// last row with the current attribute.
func (t *Terminal) scrollUpLocked() {
	copy(t.cells, t.cells[t.Cols:])
	attr := packAttr(t.fg, t.bg)
	for i := (t.Rows - 1) * t.Cols; i < len(t.cells); i++ {
		t.cells[i] = Cell{Char: ' ', Attr: attr}
	}
}

func (t *Terminal) Puts(s string) {
	for i := 0; i < len(s); i++ {
		t.Putc(s[i])
	}
}

// Printf bounds formatted output to a 256-byte stack buffer,
// truncating anything longer, matching the legacy console API.
func (t *Terminal) Printf(format string, args ...interface{}) {
	s := fmt.Sprintf(format, args...)
	if len(s) > 256 {
		s = s[:256]
	}
	t.Puts(s)
}

// DrawText writes directly into the grid without moving the logical
// cursor, for widgets that paint fixed text.
func (t *Terminal) DrawText(s string, col, row int, fg, bg uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	attr := packAttr(fg, bg)
	for i := 0; i < len(s) && col+i < t.Cols; i++ {
		t.cells[t.idx(col+i, row)] = Cell{Char: s[i], Attr: attr}
	}
}

// Snapshot returns a copy of the grid in the legacy text-buffer wire
// layout: two bytes per cell, byte 0 character, byte 1 attribute.
func (t *Terminal) Snapshot() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, len(t.cells)*2)
	for i, c := range t.cells {
		out[i*2] = c.Char
		out[i*2+1] = c.Attr
	}
	return out
}

// PushInput enqueues a character into the 64-entry ring, dropping it
// if full, and signals the arrival semaphore.
func (t *Terminal) PushInput(c byte) bool {
	t.mu.Lock()
	if t.ringLen == inputRingSize {
		t.mu.Unlock()
		return false
	}
	t.ring[t.ringTail] = c
	t.ringTail = (t.ringTail + 1) % inputRingSize
	t.ringLen++
	t.mu.Unlock()
	select {
	case t.sem <- struct{}{}:
	default:
	}
	return true
}

func (t *Terminal) popLocked() (byte, bool) {
	if t.ringLen == 0 {
		return 0, false
	}
	c := t.ring[t.ringHead]
	t.ringHead = (t.ringHead + 1) % inputRingSize
	t.ringLen--
	return c, true
}

// Getch blocks on the arrival semaphore until a character is
// available.
func (t *Terminal) Getch() byte {
	<-t.sem
	t.mu.Lock()
	c, _ := t.popLocked()
	t.mu.Unlock()
	return c
}

// GetchNow peeks without blocking, matching O_NONBLOCK stdin reads'
// EAGAIN-on-empty semantics one level up.
func (t *Terminal) GetchNow() (byte, bool) {
	select {
	case <-t.sem:
		t.mu.Lock()
		c, ok := t.popLocked()
		t.mu.Unlock()
		return c, ok
	default:
		return 0, false
	}
}

// RequestClose sets the close flag the owning shell's readline loop
// polls to know it should exit.
func (t *Terminal) RequestClose() { t.mu.Lock(); t.closeReq = true; t.mu.Unlock() }

func (t *Terminal) CloseRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeReq
}

// KeyboardHandler returns an event.Handler that feeds character
// key-down events into the input ring, the handler Create installs on
// the terminal's window.
func (t *Terminal) KeyboardHandler() event.Handler {
	return func(target wm.Handle, ev event.Event) {
		if ev.Type == event.TypeChar {
			t.PushInput(byte(ev.Char))
		}
	}
}
