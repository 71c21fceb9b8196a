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

// Package ktest provides the test fixtures shared across this
// module's package tests: predicate helpers in the style of the
// teacher's pkg/test/asserts, plus an in-memory posixfs.Volume so
// filesystem, process, and shell tests don't need a real SD card.
package ktest

import (
	"sort"
	"strings"
	"sync"
	"testing"

	"tinykernel.org/pkg/fd"
	"tinykernel.org/pkg/kerrors"
	"tinykernel.org/pkg/posixfs"
)

// Assert fails the test immediately if got is false, in the teacher's
// asserts.Assert style.
func Assert(t *testing.T, got bool, what string) {
	t.Helper()
	if !got {
		t.Fatalf("%s: got false; want true", what)
	}
}

// Expect reports a non-fatal failure if got is false, continuing the
// test, in the teacher's asserts.Expect style.
func Expect(t *testing.T, got bool, what string) {
	t.Helper()
	if !got {
		t.Errorf("%s: got false; want true", what)
	}
}

// AssertNoError fails the test immediately on a non-nil error.
func AssertNoError(t *testing.T, err error, what string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", what, err)
	}
}

// AssertErrorIs fails unless err carries the expected errno.
func AssertErrorIs(t *testing.T, err error, want kerrors.Errno, what string) {
	t.Helper()
	if err == nil {
		t.Fatalf("%s: got nil error; want errno %v", what, want)
	}
	ke, ok := err.(*kerrors.Error)
	if !ok {
		t.Fatalf("%s: error %v is not a *kerrors.Error", what, err)
	}
	if ke.Errno != want {
		t.Fatalf("%s: got errno %v; want %v", what, ke.Errno, want)
	}
}

// memFile is a fd.Backend over an in-memory byte slice.
type memFile struct {
	mu   sync.Mutex
	data *[]byte
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := *f.data
	if off >= int64(len(d)) {
		return 0, nil
	}
	n := copy(p, d[off:])
	return n, nil
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	end := off + int64(len(p))
	d := *f.data
	if end > int64(len(d)) {
		grown := make([]byte, end)
		copy(grown, d)
		d = grown
	}
	copy(d[off:], p)
	*f.data = d
	return len(p), nil
}

func (f *memFile) Size() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(*f.data))
}

func (f *memFile) Truncate(size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := *f.data
	if int64(len(d)) >= size {
		*f.data = d[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, d)
	*f.data = grown
	return nil
}

func (f *memFile) Close() error { return nil }

type memNode struct {
	isDir bool
	data  []byte
	mtime int64
}

// MemVolume is an in-memory posixfs.Volume keyed by absolute path,
// standing in for the SD/SPI FAT driver in tests. It holds directories
// only implicitly: a path is a directory if some other path has it as
// a strict prefix, or it was created with Mkdir.
type MemVolume struct {
	mu    sync.Mutex
	nodes map[string]*memNode
}

func NewMemVolume() *MemVolume {
	v := &MemVolume{nodes: map[string]*memNode{}}
	v.nodes["/"] = &memNode{isDir: true}
	return v
}

func clean(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// hasChildLocked reports whether some stored path lies strictly under p.
func (v *MemVolume) hasChildLocked(p string) bool {
	for k := range v.nodes {
		if k != p && strings.HasPrefix(k, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}

func (v *MemVolume) Stat(path string) (posixfs.VolStat, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	n, ok := v.nodes[clean(path)]
	if !ok {
		if v.hasChildLocked(clean(path)) {
			return posixfs.VolStat{IsDir: true}, nil
		}
		return posixfs.VolStat{}, kerrors.E(kerrors.Filesystem, kerrors.ENOENT, "ktest: no such file", nil)
	}
	return posixfs.VolStat{IsDir: n.isDir, Size: int64(len(n.data)), Mtime: n.mtime}, nil
}

func (v *MemVolume) ReadFile(path string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	n, ok := v.nodes[clean(path)]
	if !ok || n.isDir {
		return nil, kerrors.E(kerrors.Filesystem, kerrors.ENOENT, "ktest: no such file", nil)
	}
	out := make([]byte, len(n.data))
	copy(out, n.data)
	return out, nil
}

func (v *MemVolume) WriteFile(path string, data []byte, mode uint32) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	p := clean(path)
	n, ok := v.nodes[p]
	if !ok {
		n = &memNode{}
		v.nodes[p] = n
	}
	n.data = append([]byte(nil), data...)
	return nil
}

func (v *MemVolume) Remove(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	p := clean(path)
	if _, ok := v.nodes[p]; !ok {
		return kerrors.E(kerrors.Filesystem, kerrors.ENOENT, "ktest: no such file", nil)
	}
	delete(v.nodes, p)
	return nil
}

func (v *MemVolume) Rename(oldPath, newPath string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	op, np := clean(oldPath), clean(newPath)
	n, ok := v.nodes[op]
	if !ok {
		return kerrors.E(kerrors.Filesystem, kerrors.ENOENT, "ktest: no such file", nil)
	}
	delete(v.nodes, op)
	v.nodes[np] = n
	return nil
}

func (v *MemVolume) Mkdir(path string, mode uint32) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	p := clean(path)
	if _, ok := v.nodes[p]; ok {
		return kerrors.E(kerrors.Filesystem, kerrors.EEXIST, "ktest: already exists", nil)
	}
	v.nodes[p] = &memNode{isDir: true}
	return nil
}

func (v *MemVolume) ReadDir(path string) ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p := clean(path)
	n, ok := v.nodes[p]
	if (!ok && !v.hasChildLocked(p)) || (ok && !n.isDir) {
		return nil, kerrors.E(kerrors.Filesystem, kerrors.ENOTDIR, "ktest: not a directory", nil)
	}
	prefix := p
	if prefix != "/" {
		prefix += "/"
	}
	seen := map[string]bool{}
	var names []string
	for k := range v.nodes {
		if k == p || !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		name := strings.SplitN(rest, "/", 2)[0]
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (v *MemVolume) Open(path string, mode uint32) (fd.Backend, error) {
	v.mu.Lock()
	p := clean(path)
	n, ok := v.nodes[p]
	if !ok {
		n = &memNode{}
		v.nodes[p] = n
	}
	v.mu.Unlock()
	return &memFile{data: &n.data}, nil
}

var _ posixfs.Volume = (*MemVolume)(nil)
