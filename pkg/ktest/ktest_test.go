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

package ktest

import (
	"testing"

	"tinykernel.org/pkg/kerrors"
)

func TestMemVolumeWriteReadRoundTrip(t *testing.T) {
	v := NewMemVolume()
	AssertNoError(t, v.WriteFile("/hello.txt", []byte("hi"), 0644), "WriteFile")
	got, err := v.ReadFile("/hello.txt")
	AssertNoError(t, err, "ReadFile")
	if string(got) != "hi" {
		t.Fatalf("ReadFile = %q; want \"hi\"", got)
	}
}

func TestMemVolumeReadMissingIsENOENT(t *testing.T) {
	v := NewMemVolume()
	_, err := v.ReadFile("/nope.txt")
	AssertErrorIs(t, err, kerrors.ENOENT, "ReadFile missing file")
}

func TestMemVolumeMkdirThenReadDir(t *testing.T) {
	v := NewMemVolume()
	AssertNoError(t, v.Mkdir("/bin", 0755), "Mkdir")
	AssertNoError(t, v.WriteFile("/bin/sh", []byte("x"), 0755), "WriteFile")
	AssertNoError(t, v.WriteFile("/readme.txt", []byte("y"), 0644), "WriteFile")

	names, err := v.ReadDir("/")
	AssertNoError(t, err, "ReadDir /")
	want := map[string]bool{"bin": true, "readme.txt": true}
	if len(names) != len(want) {
		t.Fatalf("ReadDir(/) = %v; want keys of %v", names, want)
	}
	for _, n := range names {
		if !want[n] {
			t.Fatalf("unexpected entry %q in ReadDir(/) = %v", n, names)
		}
	}

	binNames, err := v.ReadDir("/bin")
	AssertNoError(t, err, "ReadDir /bin")
	if len(binNames) != 1 || binNames[0] != "sh" {
		t.Fatalf("ReadDir(/bin) = %v; want [sh]", binNames)
	}
}

func TestMemVolumeMkdirDuplicateIsEEXIST(t *testing.T) {
	v := NewMemVolume()
	AssertNoError(t, v.Mkdir("/tmp", 0755), "first Mkdir")
	err := v.Mkdir("/tmp", 0755)
	AssertErrorIs(t, err, kerrors.EEXIST, "duplicate Mkdir")
}

func TestMemVolumeRename(t *testing.T) {
	v := NewMemVolume()
	AssertNoError(t, v.WriteFile("/a.txt", []byte("data"), 0644), "WriteFile")
	AssertNoError(t, v.Rename("/a.txt", "/b.txt"), "Rename")

	if _, err := v.Stat("/a.txt"); err == nil {
		t.Fatal("old path still exists after Rename")
	}
	got, err := v.ReadFile("/b.txt")
	AssertNoError(t, err, "ReadFile renamed path")
	if string(got) != "data" {
		t.Fatalf("ReadFile(/b.txt) = %q; want \"data\"", got)
	}
}

func TestMemVolumeRemove(t *testing.T) {
	v := NewMemVolume()
	AssertNoError(t, v.WriteFile("/gone.txt", nil, 0644), "WriteFile")
	AssertNoError(t, v.Remove("/gone.txt"), "Remove")
	_, err := v.Stat("/gone.txt")
	AssertErrorIs(t, err, kerrors.ENOENT, "Stat after Remove")
}

func TestMemVolumeOpenReadAtWriteAt(t *testing.T) {
	v := NewMemVolume()
	f, err := v.Open("/f.bin", 0644)
	AssertNoError(t, err, "Open")
	defer f.Close()

	n, err := f.WriteAt([]byte("0123456789"), 0)
	AssertNoError(t, err, "WriteAt")
	if n != 10 {
		t.Fatalf("WriteAt returned n=%d; want 10", n)
	}

	buf := make([]byte, 4)
	n, err = f.ReadAt(buf, 3)
	AssertNoError(t, err, "ReadAt")
	if n != 4 || string(buf) != "3456" {
		t.Fatalf("ReadAt(off=3) = %q, n=%d; want \"3456\", 4", buf, n)
	}

	if f.Size() != 10 {
		t.Fatalf("Size() = %d; want 10", f.Size())
	}

	AssertNoError(t, f.Truncate(4), "Truncate")
	if f.Size() != 4 {
		t.Fatalf("Size() after Truncate(4) = %d; want 4", f.Size())
	}
}
