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

// Package extfs implements the `/.extfs` sidecar that extends a FAT
// volume with the POSIX metadata FAT lacks: permissions, symlinks, and
// hardlinks. The record format and FNV-1a path hashing follow spec.md
// §6; the load-once, rewrite-on-modification discipline mirrors the
// teacher's pkg/sorted key-value store contract (a small ordered table
// kept in RAM, flushed wholesale on change) more than any streaming
// log format.
package extfs

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"io"
)

// RecordType is the 1-byte sidecar record discriminator.
type RecordType byte

const (
	TypeOriginal RecordType = 'O'
	TypeHardlink RecordType = 'H'
	TypeSymlink  RecordType = 'S'
)

// Record is one decoded sidecar entry, keyed by its normalized
// absolute path.
type Record struct {
	Type RecordType
	Path string
	Hash uint32

	Mode uint32 // valid for Original and Symlink

	TargetHash uint32 // valid for Hardlink
	TargetPath string  // valid for Hardlink
}

// PathHash computes the FNV-1a 32-bit hash of a normalized absolute
// path, the key used throughout the sidecar and by FAT body markers.
func PathHash(path string) uint32 {
	h := fnv.New32a()
	_, _ = io.WriteString(h, path)
	return h.Sum32()
}

// Table is the in-RAM sidecar, loaded once per process lifetime on
// first filesystem access.
type Table struct {
	byPath map[string]*Record
	order  []string // insertion order, preserved across rewrite for determinism
}

func New() *Table {
	return &Table{byPath: make(map[string]*Record)}
}

// Decode parses the header-less concatenation of records described in
// spec.md §6.
func Decode(data []byte) (*Table, error) {
	t := New()
	off := 0
	for off < len(data) {
		if off+1+4+2 > len(data) {
			return nil, fmt.Errorf("extfs: truncated record header at offset %d", off)
		}
		rt := RecordType(data[off])
		off++
		hash := binary.LittleEndian.Uint32(data[off:])
		off += 4
		nameLen := int(binary.LittleEndian.Uint16(data[off:]))
		off += 2
		if off+nameLen > len(data) {
			return nil, fmt.Errorf("extfs: truncated name at offset %d", off)
		}
		name := string(data[off : off+nameLen])
		off += nameLen

		rec := &Record{Type: rt, Path: name, Hash: hash}
		switch rt {
		case TypeOriginal, TypeSymlink:
			if off+4 > len(data) {
				return nil, fmt.Errorf("extfs: truncated mode at offset %d", off)
			}
			rec.Mode = binary.LittleEndian.Uint32(data[off:])
			off += 4
		case TypeHardlink:
			if off+4+2 > len(data) {
				return nil, fmt.Errorf("extfs: truncated hardlink target at offset %d", off)
			}
			rec.TargetHash = binary.LittleEndian.Uint32(data[off:])
			off += 4
			tgtLen := int(binary.LittleEndian.Uint16(data[off:]))
			off += 2
			if off+tgtLen > len(data) {
				return nil, fmt.Errorf("extfs: truncated hardlink target name at offset %d", off)
			}
			rec.TargetPath = string(data[off : off+tgtLen])
			off += tgtLen
		default:
			return nil, fmt.Errorf("extfs: unknown record type %q at offset %d", rt, off-1-4-2-nameLen)
		}
		t.put(rec)
	}
	return t, nil
}

func (t *Table) put(rec *Record) {
	if _, exists := t.byPath[rec.Path]; !exists {
		t.order = append(t.order, rec.Path)
	}
	t.byPath[rec.Path] = rec
}

// Encode serializes the table back into the wire format, in the
// original insertion order, so a load-then-flush with zero mutations
// reproduces byte-identical content (the rewrite-round-trip invariant
// of spec.md §8 item 6).
func (t *Table) Encode() []byte {
	var buf []byte
	for _, path := range t.order {
		rec := t.byPath[path]
		buf = append(buf, byte(rec.Type))
		buf = appendU32(buf, rec.Hash)
		buf = appendU16(buf, uint16(len(rec.Path)))
		buf = append(buf, rec.Path...)
		switch rec.Type {
		case TypeOriginal, TypeSymlink:
			buf = appendU32(buf, rec.Mode)
		case TypeHardlink:
			buf = appendU32(buf, rec.TargetHash)
			buf = appendU16(buf, uint16(len(rec.TargetPath)))
			buf = append(buf, rec.TargetPath...)
		}
	}
	return buf
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

// Lookup returns the record for an exact normalized absolute path, or
// nil.
func (t *Table) Lookup(path string) *Record {
	return t.byPath[path]
}

// PutOriginal records (or overwrites) a plain file/directory's mode.
func (t *Table) PutOriginal(path string, mode uint32) {
	t.put(&Record{Type: TypeOriginal, Path: path, Hash: PathHash(path), Mode: mode})
}

// PutSymlink records a symlink's mode (encoding S_IFLNK) at path.
func (t *Table) PutSymlink(path string, mode uint32) {
	t.put(&Record{Type: TypeSymlink, Path: path, Hash: PathHash(path), Mode: mode})
}

// PutHardlink records path as a hardlink to targetPath.
func (t *Table) PutHardlink(path, targetPath string) {
	t.put(&Record{
		Type: TypeHardlink, Path: path, Hash: PathHash(path),
		TargetHash: PathHash(targetPath), TargetPath: targetPath,
	})
}

// Remove deletes the record at path, if any.
func (t *Table) Remove(path string) {
	if _, ok := t.byPath[path]; !ok {
		return
	}
	delete(t.byPath, path)
	for i, p := range t.order {
		if p == path {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Rename moves a record from oldPath to newPath in place, preserving
// its position in iteration order, used by unlinkat's hardlink
// promotion.
func (t *Table) Rename(oldPath, newPath string) {
	rec, ok := t.byPath[oldPath]
	if !ok {
		return
	}
	delete(t.byPath, oldPath)
	rec.Path = newPath
	rec.Hash = PathHash(newPath)
	t.byPath[newPath] = rec
	for i, p := range t.order {
		if p == oldPath {
			t.order[i] = newPath
			break
		}
	}
}

// HardlinksTo returns every hardlink record whose target is
// targetPath, used by unlinkat's promote-first-found-hardlink rule.
// Order matches table insertion order, making "first-found"
// deterministic.
func (t *Table) HardlinksTo(targetPath string) []*Record {
	var out []*Record
	for _, p := range t.order {
		rec := t.byPath[p]
		if rec.Type == TypeHardlink && rec.TargetPath == targetPath {
			out = append(out, rec)
		}
	}
	return out
}

// CheckMarker reports whether a FAT file body's leading byte is a
// sidecar-relevant marker ('H' or 'S'), the invariant spec.md ties
// sidecar consistency to.
func CheckMarker(body []byte) (RecordType, bool) {
	if len(body) == 0 {
		return 0, false
	}
	switch RecordType(body[0]) {
	case TypeHardlink, TypeSymlink:
		return RecordType(body[0]), true
	}
	return 0, false
}

// SymlinkBody formats a symlink FAT file body: 'S' followed by the
// target path.
func SymlinkBody(target string) []byte {
	return append([]byte{byte(TypeSymlink)}, target...)
}

// ParseSymlinkBody extracts the target path from a symlink FAT file
// body written by SymlinkBody.
func ParseSymlinkBody(body []byte) (string, bool) {
	if len(body) == 0 || RecordType(body[0]) != TypeSymlink {
		return "", false
	}
	return string(body[1:]), true
}

// Consistent reports whether every H/S record's FAT body marker
// matches its record type, given a lookup of body-leading-byte by
// path. Inconsistencies are repaired by the caller rebuilding the
// table from current records, per spec.md's stated invariant.
func (t *Table) Consistent(bodyMarker func(path string) (RecordType, bool)) []string {
	var bad []string
	for _, p := range t.order {
		rec := t.byPath[p]
		if rec.Type != TypeHardlink && rec.Type != TypeSymlink {
			continue
		}
		marker, ok := bodyMarker(p)
		if !ok || marker != rec.Type {
			bad = append(bad, p)
		}
	}
	return bad
}

// Len reports the number of live records.
func (t *Table) Len() int { return len(t.order) }
