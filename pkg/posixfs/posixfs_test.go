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

package posixfs_test

import (
	"testing"

	"tinykernel.org/pkg/fd"
	"tinykernel.org/pkg/kerrors"
	"tinykernel.org/pkg/ktest"
	"tinykernel.org/pkg/posixfs"
)

func rootDir() posixfs.DirRef { return posixfs.DirRef{Dirname: "/"} }

func TestOpenAtCreatesAndWritesFile(t *testing.T) {
	vol := ktest.NewMemVolume()
	fsys := posixfs.New(vol)
	table := fd.NewEmpty()

	fdNum, err := fsys.OpenAt(rootDir(), "/greeting.txt", posixfs.O_CREAT|posixfs.O_WRONLY, 0644, table)
	ktest.AssertNoError(t, err, "OpenAt O_CREAT")

	entry := table.Get(fdNum)
	ktest.Assert(t, entry != nil, "expected an installed fd.Entry")
	if _, err := entry.File.Backend.WriteAt([]byte("hi"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	got, err := fsys.ReadFile("/greeting.txt")
	ktest.AssertNoError(t, err, "ReadFile")
	if string(got) != "hi" {
		t.Fatalf("ReadFile = %q; want \"hi\"", got)
	}
}

func TestOpenAtCreateExclOnExistingIsEEXIST(t *testing.T) {
	vol := ktest.NewMemVolume()
	fsys := posixfs.New(vol)
	table := fd.NewEmpty()

	_, err := fsys.OpenAt(rootDir(), "/a.txt", posixfs.O_CREAT, 0644, table)
	ktest.AssertNoError(t, err, "first OpenAt")

	_, err = fsys.OpenAt(rootDir(), "/a.txt", posixfs.O_CREAT|posixfs.O_EXCL, 0644, table)
	ktest.AssertErrorIs(t, err, kerrors.EEXIST, "O_CREAT|O_EXCL on existing file")
}

func TestOpenAtMissingWithoutCreateIsENOENT(t *testing.T) {
	vol := ktest.NewMemVolume()
	fsys := posixfs.New(vol)
	table := fd.NewEmpty()

	_, err := fsys.OpenAt(rootDir(), "/nope.txt", posixfs.O_RDONLY, 0, table)
	ktest.AssertErrorIs(t, err, kerrors.ENOENT, "open of nonexistent file without O_CREAT")
}

func TestSymlinkAtAndRealpathFollow(t *testing.T) {
	vol := ktest.NewMemVolume()
	fsys := posixfs.New(vol)
	table := fd.NewEmpty()

	_, err := fsys.OpenAt(rootDir(), "/real.txt", posixfs.O_CREAT, 0644, table)
	ktest.AssertNoError(t, err, "create /real.txt")

	ktest.AssertNoError(t, fsys.SymlinkAt(rootDir(), "/real.txt", "/link.txt"), "SymlinkAt")

	real, err := fsys.RealpathAt(rootDir(), "/link.txt", 0)
	ktest.AssertNoError(t, err, "RealpathAt following symlink")
	if real != "/real.txt" {
		t.Fatalf("RealpathAt(/link.txt) = %q; want \"/real.txt\"", real)
	}

	noFollow, err := fsys.RealpathAt(rootDir(), "/link.txt", posixfs.NoFollow)
	ktest.AssertNoError(t, err, "RealpathAt NoFollow")
	if noFollow != "/link.txt" {
		t.Fatalf("RealpathAt(/link.txt, NoFollow) = %q; want \"/link.txt\"", noFollow)
	}
}

func TestLinkAtThenUnlinkAtPromotesHardlink(t *testing.T) {
	vol := ktest.NewMemVolume()
	fsys := posixfs.New(vol)
	table := fd.NewEmpty()

	_, err := fsys.OpenAt(rootDir(), "/orig.txt", posixfs.O_CREAT|posixfs.O_WRONLY, 0644, table)
	ktest.AssertNoError(t, err, "create /orig.txt")
	entry := table.Get(table.Len() - 1)
	_, _ = entry.File.Backend.WriteAt([]byte("payload"), 0)

	ktest.AssertNoError(t, fsys.LinkAt(rootDir(), "/orig.txt", "/alias.txt"), "LinkAt")
	ktest.AssertNoError(t, fsys.UnlinkAt(rootDir(), "/orig.txt"), "UnlinkAt promoting hardlink")

	// /alias.txt should now be the promoted original, with the content
	// still reachable under its own name.
	got, err := fsys.ReadFile("/alias.txt")
	ktest.AssertNoError(t, err, "ReadFile promoted alias")
	if string(got) != "payload" {
		t.Fatalf("ReadFile(/alias.txt) = %q; want \"payload\"", got)
	}

	if _, err := vol.Stat("/orig.txt"); err == nil {
		t.Fatal("/orig.txt should no longer exist after unlink promoted its hardlink")
	}
}

func TestUnlinkAtNoHardlinksRemovesFile(t *testing.T) {
	vol := ktest.NewMemVolume()
	fsys := posixfs.New(vol)
	table := fd.NewEmpty()

	_, err := fsys.OpenAt(rootDir(), "/solo.txt", posixfs.O_CREAT, 0644, table)
	ktest.AssertNoError(t, err, "create /solo.txt")
	ktest.AssertNoError(t, fsys.UnlinkAt(rootDir(), "/solo.txt"), "UnlinkAt")

	if _, err := vol.Stat("/solo.txt"); err == nil {
		t.Fatal("/solo.txt still present after UnlinkAt")
	}
}

func TestStatReflectsSidecarMode(t *testing.T) {
	vol := ktest.NewMemVolume()
	fsys := posixfs.New(vol)
	table := fd.NewEmpty()

	_, err := fsys.OpenAt(rootDir(), "/perm.txt", posixfs.O_CREAT, 0640, table)
	ktest.AssertNoError(t, err, "create /perm.txt")

	st, err := fsys.Stat(rootDir(), "/perm.txt")
	ktest.AssertNoError(t, err, "Stat")
	if st.Mode&0777 != 0640&^0022 {
		t.Fatalf("Stat mode bits = %o; want %o (umask 0022 applied)", st.Mode&0777, 0640&^0022)
	}
}

func TestMkdirThenReadDir(t *testing.T) {
	vol := ktest.NewMemVolume()
	fsys := posixfs.New(vol)
	table := fd.NewEmpty()

	ktest.AssertNoError(t, fsys.Mkdir(rootDir(), "/etc", 0755), "Mkdir")
	_, err := fsys.OpenAt(posixfs.DirRef{Dirname: "/etc"}, "passwd", posixfs.O_CREAT, 0644, table)
	ktest.AssertNoError(t, err, "create /etc/passwd")

	names, err := fsys.ReadDir(rootDir(), "/etc")
	ktest.AssertNoError(t, err, "ReadDir /etc")
	if len(names) != 1 || names[0] != "passwd" {
		t.Fatalf("ReadDir(/etc) = %v; want [passwd]", names)
	}
}

func TestCheckSidecarConsistencyRepairsDriftedMarker(t *testing.T) {
	vol := ktest.NewMemVolume()
	fsys := posixfs.New(vol)

	ktest.AssertNoError(t, fsys.SymlinkAt(rootDir(), "/target", "/drifted"), "SymlinkAt")
	// Overwrite the FAT body directly so its marker no longer matches
	// the sidecar's recorded Symlink type, simulating drift.
	ktest.AssertNoError(t, vol.WriteFile("/drifted", []byte("not a symlink body"), 0644), "corrupt body")

	ktest.AssertNoError(t, fsys.CheckSidecarConsistency(), "CheckSidecarConsistency")

	// The drifted record should have been dropped from the sidecar; a
	// plain Stat now reports it as a regular file rather than a symlink.
	st, err := fsys.Stat(rootDir(), "/drifted")
	ktest.AssertNoError(t, err, "Stat after repair")
	if st.Mode&posixfs.S_IFLNK != 0 {
		t.Fatal("drifted symlink record should have been repaired away")
	}
}
