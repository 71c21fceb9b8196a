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

// Package fd implements the per-context file-descriptor table:
// entries 0/1/2 are the stdin/stdout/stderr sentinels, dup shares the
// underlying file object and bumps its refcount, close only releases
// the FAT handle when the last descriptor referencing it goes away,
// and holes left by close are reused by the next openat.
package fd

import (
	"sync"

	"tinykernel.org/pkg/kerrors"
)

// Flags are descriptor-level (not file-object-level) open flags.
type Flags uint8

const (
	FD_CLOEXEC Flags = 1 << iota
	O_APPEND
	O_NONBLOCK
)

// File is a FAT handle augmented with POSIX mode bits, ctime, and a
// count of descriptors sharing it. Backend is the actual read/write/
// seek surface; it is an interface so tests can fake a FAT file.
type File struct {
	mu       sync.Mutex
	Backend  Backend
	Mode     uint32 // POSIX mode bits, including S_IFLNK/S_IFDIR etc.
	Ctime    int64
	refCount int
	offset   int64
}

// Backend is the minimal surface a FAT (or FUSE-fake, for tests) file
// needs to provide.
type Backend interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Size() int64
	Truncate(size int64) error
	Close() error
}

func (f *File) addRef() {
	f.mu.Lock()
	f.refCount++
	f.mu.Unlock()
}

// release decrements the refcount and closes the backend when it
// reaches zero. Returns true if this call actually closed the file.
func (f *File) release() (bool, error) {
	f.mu.Lock()
	f.refCount--
	n := f.refCount
	f.mu.Unlock()
	if n > 0 {
		return false, nil
	}
	return true, f.Backend.Close()
}

// RefCount reports the number of descriptors (across all contexts)
// currently sharing this file object, for the testable invariant in
// spec.md §8 item 3.
func (f *File) RefCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refCount
}

// Entry is one live FD-table slot.
type Entry struct {
	File  *File
	Flags Flags
	Path  string
}

// Table is an ordered, hole-permitting FD table. Entries 0/1/2 are
// reserved stdio sentinels and are never reused by openat's hole scan.
type Table struct {
	mu      sync.Mutex
	entries []*Entry
}

const stdioReserved = 3

// NewEmpty returns a table with just the three stdio slots present
// (possibly nil, for a context with closed standard streams).
func NewEmpty() *Table {
	return &Table{entries: make([]*Entry, stdioReserved)}
}

// Install places e at the first hole at index >= stdioReserved,
// appending if none exists, and returns the assigned fd.
func (t *Table) Install(e *Entry) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := stdioReserved; i < len(t.entries); i++ {
		if t.entries[i] == nil {
			t.entries[i] = e
			return i
		}
	}
	t.entries = append(t.entries, e)
	return len(t.entries) - 1
}

// SetStdio installs one of the three reserved sentinel slots directly
// (fd must be 0, 1, or 2).
func (t *Table) SetStdio(fdNum int, e *Entry) error {
	if fdNum < 0 || fdNum >= stdioReserved {
		return kerrors.E(kerrors.BadRequest, kerrors.EBADF, "fd: not a stdio slot", nil)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[fdNum] = e
	return nil
}

// Get returns the entry at fdNum, or nil if absent.
func (t *Table) Get(fdNum int) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fdNum < 0 || fdNum >= len(t.entries) {
		return nil
	}
	return t.entries[fdNum]
}

// Dup creates a new entry sharing oldFd's file object (with
// independent flags) at the first hole, incrementing the file's
// refcount.
func (t *Table) Dup(oldFd int) (int, error) {
	t.mu.Lock()
	old := t.get(oldFd)
	t.mu.Unlock()
	if old == nil {
		return -1, kerrors.E(kerrors.BadRequest, kerrors.EBADF, "fd: dup of unopened fd", nil)
	}
	old.File.addRef()
	ne := &Entry{File: old.File, Flags: old.Flags &^ FD_CLOEXEC, Path: old.Path}
	return t.Install(ne), nil
}

// Dup2 makes target refer to the same file object as src, closing
// whatever was previously at target.
func (t *Table) Dup2(src, target int) error {
	t.mu.Lock()
	s := t.get(src)
	t.mu.Unlock()
	if s == nil {
		return kerrors.E(kerrors.BadRequest, kerrors.EBADF, "fd: dup2 of unopened fd", nil)
	}
	if src == target {
		return nil
	}
	if err := t.Close(target); err != nil {
		if ke, ok := kerrors.AsKernelError(err); !ok || ke.Errno != kerrors.EBADF {
			return err
		}
	}
	s.File.addRef()
	t.mu.Lock()
	t.growTo(target)
	t.entries[target] = &Entry{File: s.File, Flags: s.Flags &^ FD_CLOEXEC, Path: s.Path}
	t.mu.Unlock()
	return nil
}

func (t *Table) growTo(idx int) {
	for len(t.entries) <= idx {
		t.entries = append(t.entries, nil)
	}
}

func (t *Table) get(fdNum int) *Entry {
	if fdNum < 0 || fdNum >= len(t.entries) {
		return nil
	}
	return t.entries[fdNum]
}

// Close releases fdNum, decrementing the shared file object's refcount
// and only actually closing the FAT handle when it reaches zero. The
// slot becomes a hole, reused by the next Install.
func (t *Table) Close(fdNum int) error {
	t.mu.Lock()
	e := t.get(fdNum)
	if e == nil {
		t.mu.Unlock()
		return kerrors.E(kerrors.BadRequest, kerrors.EBADF, "fd: close of unopened fd", nil)
	}
	if fdNum >= stdioReserved {
		t.entries[fdNum] = nil
	} else {
		t.entries[fdNum] = nil
	}
	t.mu.Unlock()
	_, err := e.File.release()
	return err
}

// CloseExecFDs closes every entry with FD_CLOEXEC set, used on exec.
func (t *Table) CloseExecFDs() {
	t.mu.Lock()
	idxs := []int{}
	for i, e := range t.entries {
		if e != nil && e.Flags&FD_CLOEXEC != 0 {
			idxs = append(idxs, i)
		}
	}
	t.mu.Unlock()
	for _, i := range idxs {
		t.Close(i)
	}
}

// Len reports the table's current slot count (including holes), for
// the hole-reuse round-trip law in spec.md §8.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Clone produces a child table for spawn: every parent entry without
// FD_CLOEXEC is shared (refcount incremented, flags copied); entries
// with FD_CLOEXEC become holes in the child.
func (t *Table) Clone() *Table {
	t.mu.Lock()
	defer t.mu.Unlock()
	child := &Table{entries: make([]*Entry, len(t.entries))}
	for i, e := range t.entries {
		if e == nil {
			continue
		}
		if e.Flags&FD_CLOEXEC != 0 {
			continue
		}
		e.File.addRef()
		child.entries[i] = &Entry{File: e.File, Flags: e.Flags, Path: e.Path}
	}
	return child
}

// CloseAll releases every live entry, used by process exit's leak
// firewall.
func (t *Table) CloseAll() {
	t.mu.Lock()
	idxs := []int{}
	for i, e := range t.entries {
		if e != nil {
			idxs = append(idxs, i)
		}
	}
	t.mu.Unlock()
	for _, i := range idxs {
		t.Close(i)
	}
}
