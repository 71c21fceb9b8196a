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

package posixfs

import (
	"context"
	"os"
	"path"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"tinykernel.org/pkg/kerrors"
)

// HostFS exposes an *FS over a real mountpoint via bazil.org/fuse, so
// the same path-resolution and sidecar code that runs on-device can be
// driven interactively on a developer's workstation (cmd/tkmount).
// It is read-only: it serves lookup, attributes, directory listing and
// whole-file reads through posixfs.FS, and implements no write,
// create, link or unlink operation.
type HostFS struct {
	FS *FS
}

var _ fs.FS = (*HostFS)(nil)

func (h *HostFS) Root() (fs.Node, error) {
	return &hostNode{hfs: h, path: "/"}, nil
}

type hostNode struct {
	hfs  *HostFS
	path string
}

var _ fs.Node = (*hostNode)(nil)
var _ fs.NodeStringLookuper = (*hostNode)(nil)
var _ fs.HandleReadDirAller = (*hostNode)(nil)
var _ fs.HandleReadAller = (*hostNode)(nil)

func (n *hostNode) Attr(ctx context.Context, a *fuse.Attr) error {
	st, err := n.hfs.FS.Lstat(DirRef{Dirname: "/"}, n.path)
	if err != nil {
		return toFuseErr(err)
	}
	a.Mode = toOSMode(st.Mode)
	a.Size = uint64(st.Size)
	a.Mtime = time.Unix(st.Mtime, 0)
	return nil
}

func (n *hostNode) Lookup(ctx context.Context, name string) (fs.Node, error) {
	child := path.Join(n.path, name)
	if _, err := n.hfs.FS.Lstat(DirRef{Dirname: "/"}, child); err != nil {
		return nil, fuse.ENOENT
	}
	return &hostNode{hfs: n.hfs, path: child}, nil
}

func (n *hostNode) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	names, err := n.hfs.FS.ReadDir(DirRef{Dirname: "/"}, n.path)
	if err != nil {
		return nil, toFuseErr(err)
	}
	var out []fuse.Dirent
	for _, name := range names {
		st, err := n.hfs.FS.Lstat(DirRef{Dirname: "/"}, path.Join(n.path, name))
		typ := fuse.DT_File
		if err == nil && st.Mode&S_IFMT == S_IFDIR {
			typ = fuse.DT_Dir
		}
		out = append(out, fuse.Dirent{Name: name, Type: typ})
	}
	return out, nil
}

func (n *hostNode) ReadAll(ctx context.Context) ([]byte, error) {
	real, err := n.hfs.FS.RealpathAt(DirRef{Dirname: "/"}, n.path, 0)
	if err != nil {
		return nil, toFuseErr(err)
	}
	data, err := n.hfs.FS.Vol.ReadFile(real)
	if err != nil {
		return nil, toFuseErr(err)
	}
	return data, nil
}

func toOSMode(m uint32) os.FileMode {
	var fm os.FileMode
	switch m & S_IFMT {
	case S_IFDIR:
		fm |= os.ModeDir
	case S_IFLNK:
		fm |= os.ModeSymlink
	}
	fm |= os.FileMode(m & 0777)
	return fm
}

func toFuseErr(err error) error {
	ke, ok := kerrors.AsKernelError(err)
	if !ok {
		return fuse.EIO
	}
	switch ke.Errno {
	case kerrors.ENOENT:
		return fuse.ENOENT
	case kerrors.EACCES, kerrors.EPERM:
		return fuse.EPERM
	case kerrors.ENOTDIR:
		return fuse.Errno(syscallENOTDIR)
	default:
		return fuse.EIO
	}
}

// syscallENOTDIR avoids importing syscall just for one constant;
// value matches Linux/BSD ENOTDIR.
const syscallENOTDIR = 20
