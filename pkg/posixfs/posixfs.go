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

// Package posixfs implements path resolution and the open/read/write/
// link/unlink POSIX surface of spec.md §4.8, layered over a pluggable
// FAT-like Volume and the extfs sidecar. The path-resolution stack
// machine (consume one component, consult the sidecar, restart on
// hardlink/symlink substitution) and the at-style calls are grounded
// on the teacher's pkg/fs root/path handling discipline, generalized
// from Camlistore's blob-addressed tree to FAT paths plus the sidecar.
package posixfs

import (
	"path"
	"strings"
	"sync"

	"tinykernel.org/pkg/extfs"
	"tinykernel.org/pkg/fd"
	"tinykernel.org/pkg/kerrors"
)

// Mode bits, POSIX-compatible subset.
const (
	S_IFMT  uint32 = 0170000
	S_IFLNK uint32 = 0120000
	S_IFREG uint32 = 0100000
	S_IFDIR uint32 = 0040000
)

// Resolve flags, mirroring AT_SYMLINK_NOFOLLOW / AT_EMPTY_PATH style
// control.
type ResolveFlags uint8

const (
	NoFollow ResolveFlags = 1 << iota
)

const symlinkLoopLimit = 10

// AT_FDCWD is the sentinel dirfd meaning "resolve relative to cwd".
const AT_FDCWD = -100

// Volume is the minimal FAT-like surface posixfs needs. The real
// implementation talks to the SD/SPI block driver (out of scope, per
// spec.md §1); tests and the FUSE host-mount tool can supply an
// in-memory one.
type Volume interface {
	Stat(path string) (VolStat, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, mode uint32) error
	Remove(path string) error
	Rename(oldPath, newPath string) error
	Mkdir(path string, mode uint32) error
	ReadDir(path string) ([]string, error)
	Open(path string, mode uint32) (fd.Backend, error)
}

// VolStat is the raw FAT-level attributes of a path, before sidecar
// augmentation.
type VolStat struct {
	IsDir bool
	Size  int64
	Mtime int64
}

// Stat is the POSIX-visible attribute set returned by stat/lstat,
// after sidecar augmentation.
type Stat struct {
	Mode  uint32
	Size  int64
	Mtime int64
}

// FS wires a Volume and its sidecar table together with path
// resolution and the open/read/write/link surface.
type FS struct {
	mu     sync.Mutex // scheduler-suspend-equivalent critical section guarding sidecar flushes
	Vol    Volume
	sc     *extfs.Table
	loaded bool
	umask  uint32
}

func New(vol Volume) *FS {
	return &FS{Vol: vol, umask: 0022}
}

// ReadFile reads an already-resolved real path's full contents,
// satisfying process.FileReader for the ELF loader.
func (f *FS) ReadFile(path string) ([]byte, error) {
	data, err := f.Vol.ReadFile(path)
	if err != nil {
		return nil, mapVolErr(err)
	}
	return data, nil
}

// SetUmask sets the process-wide umask applied by file-creating calls.
func (f *FS) SetUmask(m uint32) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	old := f.umask
	f.umask = m & 0777
	return old
}

// loadSidecarLocked loads `/.extfs` into RAM on first access, per the
// once-per-process-lifetime discipline of spec.md §3.
func (f *FS) loadSidecarLocked() error {
	if f.loaded {
		return nil
	}
	data, err := f.Vol.ReadFile("/.extfs")
	if err != nil {
		f.sc = extfs.New()
		f.loaded = true
		return nil
	}
	t, err := extfs.Decode(data)
	if err != nil {
		return kerrors.E(kerrors.Filesystem, kerrors.EIO, "posixfs: corrupt /.extfs", err)
	}
	f.sc = t
	f.loaded = true
	return nil
}

// flushSidecarLocked rewrites `/.extfs` from the in-memory table.
func (f *FS) flushSidecarLocked() error {
	return f.Vol.WriteFile("/.extfs", f.sc.Encode(), 0600)
}

// DirRef is the "referenced working directory" §4.8 resolves relative
// paths against: either a context's cwd (for AT_FDCWD) or an
// already-open directory's real path.
type DirRef struct {
	Dirname string
}

// RealpathAt implements §4.8's stack/output path resolution: consumes
// one component at a time, substitutes hardlink/symlink targets and
// restarts, pops on "..", and stops after symlinkLoopLimit
// substitutions.
func (f *FS) RealpathAt(dir DirRef, p string, flags ResolveFlags) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.loadSidecarLocked(); err != nil {
		return "", err
	}

	base := p
	if !strings.HasPrefix(p, "/") {
		base = path.Join(dir.Dirname, p)
	}
	comps := strings.Split(path.Clean(base), "/")

	var out []string
	substitutions := 0
	i := 0
	for i < len(comps) {
		c := comps[i]
		if c == "" || c == "." {
			i++
			continue
		}
		if c == ".." {
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
			i++
			continue
		}
		out = append(out, c)
		i++
		cur := "/" + strings.Join(out, "/")

		isLast := i == len(comps) || allEmpty(comps[i:])
		if isLast && flags&NoFollow != 0 {
			continue
		}

		rec := f.sc.Lookup(cur)
		if rec == nil {
			continue
		}
		switch rec.Type {
		case extfs.TypeHardlink:
			substitutions++
			if substitutions > symlinkLoopLimit {
				return "", kerrors.E(kerrors.BadRequest, kerrors.ELOOP, "posixfs: too many link substitutions", nil)
			}
			newComps := strings.Split(path.Clean(rec.TargetPath), "/")
			rest := comps[i:]
			comps = append(newComps, rest...)
			out = nil
			i = 0
		case extfs.TypeSymlink:
			substitutions++
			if substitutions > symlinkLoopLimit {
				return "", kerrors.E(kerrors.BadRequest, kerrors.ELOOP, "posixfs: too many symlink substitutions", nil)
			}
			body, err := f.Vol.ReadFile(cur)
			if err != nil {
				return "", mapVolErr(err)
			}
			target, ok := extfs.ParseSymlinkBody(body)
			if !ok {
				return "", kerrors.E(kerrors.Filesystem, kerrors.EIO, "posixfs: malformed symlink body", nil)
			}
			newComps := strings.Split(path.Clean(target), "/")
			rest := comps[i:]
			comps = append(newComps, rest...)
			out = nil
			i = 0
		}
	}
	if len(out) == 0 {
		return "/", nil
	}
	return "/" + strings.Join(out, "/"), nil
}

func allEmpty(ss []string) bool {
	for _, s := range ss {
		if s != "" && s != "." {
			return false
		}
	}
	return true
}

// Stat resolves path following a trailing symlink and returns the
// sidecar-augmented attributes.
func (f *FS) Stat(dir DirRef, p string) (Stat, error) {
	real, err := f.RealpathAt(dir, p, 0)
	if err != nil {
		return Stat{}, err
	}
	return f.statReal(real)
}

// Lstat resolves path without following a trailing symlink.
func (f *FS) Lstat(dir DirRef, p string) (Stat, error) {
	real, err := f.RealpathAt(dir, p, NoFollow)
	if err != nil {
		return Stat{}, err
	}
	return f.statReal(real)
}

func (f *FS) statReal(real string) (Stat, error) {
	vs, err := f.Vol.Stat(real)
	if err != nil {
		return Stat{}, mapVolErr(err)
	}
	f.mu.Lock()
	rec := f.sc.Lookup(real)
	f.mu.Unlock()

	mode := S_IFREG
	if vs.IsDir {
		mode = S_IFDIR
	}
	size := vs.Size
	if rec != nil {
		switch rec.Type {
		case extfs.TypeOriginal:
			mode = rec.Mode
		case extfs.TypeSymlink:
			mode = rec.Mode
			size = int64(len(real)) // approximated; real impl stores link body length
		}
	}
	return Stat{Mode: mode, Size: size, Mtime: vs.Mtime}, nil
}

// OpenFlags mirror the POSIX open(2) flag bits this layer honors.
type OpenFlags uint32

const (
	O_RDONLY OpenFlags = 0
	O_WRONLY OpenFlags = 1
	O_RDWR   OpenFlags = 2
	O_CREAT  OpenFlags = 0100
	O_EXCL   OpenFlags = 0200
	O_TRUNC  OpenFlags = 01000
	O_APPEND OpenFlags = 02000
)

// OpenAt implements the O_CREAT/O_EXCL/O_TRUNC truth table of
// spec.md §4.8 and installs the resulting fd.Entry in table.
func (f *FS) OpenAt(dir DirRef, p string, flags OpenFlags, mode uint32, table *fd.Table) (int, error) {
	real, err := f.RealpathAt(dir, p, 0)
	if err != nil {
		return -1, err
	}
	_, statErr := f.Vol.Stat(real)
	exists := statErr == nil

	switch {
	case exists && flags&O_CREAT != 0 && flags&O_EXCL != 0:
		return -1, kerrors.E(kerrors.BadRequest, kerrors.EEXIST, "posixfs: O_CREAT|O_EXCL on existing file", nil)
	case !exists && flags&O_CREAT == 0:
		return -1, kerrors.E(kerrors.Filesystem, kerrors.ENOENT, "posixfs: open of nonexistent file", nil)
	case !exists:
		f.mu.Lock()
		createMode := mode &^ f.umask
		f.mu.Unlock()
		if err := f.Vol.WriteFile(real, nil, createMode); err != nil {
			return -1, mapVolErr(err)
		}
		f.mu.Lock()
		f.sc.PutOriginal(real, S_IFREG|createMode)
		err := f.flushSidecarLocked()
		f.mu.Unlock()
		if err != nil {
			return -1, err
		}
	case exists && flags&O_TRUNC != 0:
		if err := f.Vol.WriteFile(real, nil, mode); err != nil {
			return -1, mapVolErr(err)
		}
	}

	backend, err := f.Vol.Open(real, mode)
	if err != nil {
		return -1, mapVolErr(err)
	}

	descFlags := fd.Flags(0)
	if flags&O_APPEND != 0 {
		descFlags |= fd.O_APPEND
	}

	entry := &fd.Entry{
		File:  &fd.File{Backend: backend, Mode: S_IFREG | mode},
		Flags: descFlags,
		Path:  real,
	}
	return table.Install(entry), nil
}

// UnlinkAt removes a path, promoting the first-found hardlink when
// the removed name was an Original with live hardlinks pointing at
// it, per spec.md §4.8.
func (f *FS) UnlinkAt(dir DirRef, p string) error {
	real, err := f.RealpathAt(dir, p, NoFollow)
	if err != nil {
		return err
	}
	f.mu.Lock()
	rec := f.sc.Lookup(real)
	var links []*extfs.Record
	if rec == nil || rec.Type == extfs.TypeOriginal {
		links = f.sc.HardlinksTo(real)
	}
	f.mu.Unlock()

	if len(links) > 0 {
		promoted := links[0].Path
		if err := f.Vol.Rename(real, promoted); err != nil {
			return mapVolErr(err)
		}
		f.mu.Lock()
		f.sc.Remove(promoted) // was a hardlink record, now the original
		f.sc.Remove(real)
		mode := uint32(S_IFREG | 0644)
		if rec != nil {
			mode = rec.Mode
		}
		f.sc.PutOriginal(promoted, mode)
		err := f.flushSidecarLocked()
		f.mu.Unlock()
		return err
	}

	if err := f.Vol.Remove(real); err != nil {
		return mapVolErr(err)
	}
	f.mu.Lock()
	f.sc.Remove(real)
	err = f.flushSidecarLocked()
	f.mu.Unlock()
	return err
}

// SymlinkAt creates a symlink at linkPath whose body points at target.
func (f *FS) SymlinkAt(dir DirRef, target, linkPath string) error {
	real, err := f.RealpathAt(dir, linkPath, NoFollow)
	if err != nil {
		return err
	}
	if err := f.Vol.WriteFile(real, extfs.SymlinkBody(target), 0777); err != nil {
		return mapVolErr(err)
	}
	f.mu.Lock()
	f.sc.PutSymlink(real, S_IFLNK|0777)
	err = f.flushSidecarLocked()
	f.mu.Unlock()
	return err
}

// LinkAt adds a hardlink record pointing newPath at target's current
// real path.
func (f *FS) LinkAt(dir DirRef, target, newPath string) error {
	realTarget, err := f.RealpathAt(dir, target, 0)
	if err != nil {
		return err
	}
	realNew, err := f.RealpathAt(dir, newPath, NoFollow)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.sc.PutHardlink(realNew, realTarget)
	err = f.flushSidecarLocked()
	f.mu.Unlock()
	return err
}

// Mkdir creates a directory, applying the umask.
func (f *FS) Mkdir(dir DirRef, p string, mode uint32) error {
	real, err := f.RealpathAt(dir, p, NoFollow)
	if err != nil {
		return err
	}
	f.mu.Lock()
	m := mode &^ f.umask
	f.mu.Unlock()
	if err := f.Vol.Mkdir(real, m); err != nil {
		return mapVolErr(err)
	}
	return nil
}

// ReadDir lists a directory's entry names.
func (f *FS) ReadDir(dir DirRef, p string) ([]string, error) {
	real, err := f.RealpathAt(dir, p, 0)
	if err != nil {
		return nil, err
	}
	names, err := f.Vol.ReadDir(real)
	if err != nil {
		return nil, mapVolErr(err)
	}
	return names, nil
}

// CheckSidecarConsistency repairs `/.extfs` if any H/S record's FAT
// body marker has drifted, per spec.md §3's stated invariant.
func (f *FS) CheckSidecarConsistency() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.loadSidecarLocked(); err != nil {
		return err
	}
	bad := f.sc.Consistent(func(path string) (extfs.RecordType, bool) {
		body, err := f.Vol.ReadFile(path)
		if err != nil {
			return 0, false
		}
		return extfs.CheckMarker(body)
	})
	if len(bad) == 0 {
		return nil
	}
	for _, p := range bad {
		f.sc.Remove(p)
	}
	return f.flushSidecarLocked()
}

func mapVolErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := kerrors.AsKernelError(err); ok {
		return err
	}
	return kerrors.E(kerrors.Filesystem, kerrors.FromFatResult(kerrors.FR_DISK_ERR), "posixfs: volume error", err)
}
