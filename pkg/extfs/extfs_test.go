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

package extfs

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tb := New()
	tb.PutOriginal("/bin/sh", 0755)
	tb.PutSymlink("/bin/ash", 0777)
	tb.PutHardlink("/bin/busybox-sh", "/bin/sh")

	encoded := tb.Encode()
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Len() != 3 {
		t.Fatalf("decoded.Len() = %d; want 3", decoded.Len())
	}
	if rec := decoded.Lookup("/bin/sh"); rec == nil || rec.Type != TypeOriginal || rec.Mode != 0755 {
		t.Fatalf("decoded /bin/sh = %+v; want Original mode 0755", rec)
	}
	if rec := decoded.Lookup("/bin/ash"); rec == nil || rec.Type != TypeSymlink || rec.Mode != 0777 {
		t.Fatalf("decoded /bin/ash = %+v; want Symlink mode 0777", rec)
	}
	if rec := decoded.Lookup("/bin/busybox-sh"); rec == nil || rec.Type != TypeHardlink || rec.TargetPath != "/bin/sh" {
		t.Fatalf("decoded /bin/busybox-sh = %+v; want Hardlink target /bin/sh", rec)
	}
}

func TestEncodeIsDeterministicAfterNoMutation(t *testing.T) {
	tb := New()
	tb.PutOriginal("/a", 0644)
	tb.PutOriginal("/b", 0600)
	tb.PutSymlink("/c", 0777)

	encoded := tb.Encode()
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	reencoded := decoded.Encode()
	if !bytes.Equal(encoded, reencoded) {
		t.Fatalf("load-then-flush with no mutations changed the byte stream:\norig=% x\nnew =% x", encoded, reencoded)
	}
}

func TestPathHashStableAndDistinct(t *testing.T) {
	a := PathHash("/bin/sh")
	b := PathHash("/bin/sh")
	if a != b {
		t.Fatalf("PathHash not stable: %d != %d", a, b)
	}
	if PathHash("/bin/sh") == PathHash("/bin/ash") {
		t.Fatal("distinct paths hashed to the same value (not conclusive, but suspicious for FNV-1a on these inputs)")
	}
}

func TestRemoveDeletesFromLookupAndOrder(t *testing.T) {
	tb := New()
	tb.PutOriginal("/a", 0644)
	tb.PutOriginal("/b", 0600)
	tb.Remove("/a")

	if tb.Lookup("/a") != nil {
		t.Fatal("Lookup(/a) still present after Remove")
	}
	if tb.Len() != 1 {
		t.Fatalf("Len() = %d; want 1 after removing one of two records", tb.Len())
	}
	encoded := tb.Encode()
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Lookup("/a") != nil {
		t.Fatal("removed record reappeared after Encode/Decode round trip")
	}
}

func TestRenamePreservesOrderAndRehashes(t *testing.T) {
	tb := New()
	tb.PutOriginal("/old", 0644)
	tb.Rename("/old", "/new")

	if tb.Lookup("/old") != nil {
		t.Fatal("old path still resolves after Rename")
	}
	rec := tb.Lookup("/new")
	if rec == nil {
		t.Fatal("new path does not resolve after Rename")
	}
	if rec.Hash != PathHash("/new") {
		t.Fatalf("renamed record's Hash = %d; want PathHash(/new) = %d", rec.Hash, PathHash("/new"))
	}
}

func TestHardlinksToReturnsInInsertionOrder(t *testing.T) {
	tb := New()
	tb.PutOriginal("/target", 0644)
	tb.PutHardlink("/link-b", "/target")
	tb.PutHardlink("/link-a", "/target")

	links := tb.HardlinksTo("/target")
	if len(links) != 2 {
		t.Fatalf("HardlinksTo = %v; want 2 entries", links)
	}
	if links[0].Path != "/link-b" || links[1].Path != "/link-a" {
		t.Fatalf("HardlinksTo order = [%s, %s]; want insertion order [/link-b, /link-a]", links[0].Path, links[1].Path)
	}
}

func TestDecodeTruncatedRecordIsError(t *testing.T) {
	good := New()
	good.PutOriginal("/a", 0644)
	data := good.Encode()

	if _, err := Decode(data[:len(data)-2]); err == nil {
		t.Fatal("expected an error decoding a truncated record")
	}
}

func TestDecodeUnknownRecordTypeIsError(t *testing.T) {
	tb := New()
	tb.PutOriginal("/a", 0644)
	data := tb.Encode()
	data[0] = 'Z' // corrupt the record type byte
	if _, err := Decode(data); err == nil {
		t.Fatal("expected an error decoding an unknown record type")
	}
}

func TestSymlinkBodyRoundTrip(t *testing.T) {
	body := SymlinkBody("/etc/hosts")
	rt, ok := CheckMarker(body)
	if !ok || rt != TypeSymlink {
		t.Fatalf("CheckMarker(SymlinkBody(...)) = %v, %v; want TypeSymlink, true", rt, ok)
	}
	target, ok := ParseSymlinkBody(body)
	if !ok || target != "/etc/hosts" {
		t.Fatalf("ParseSymlinkBody = %q, %v; want \"/etc/hosts\", true", target, ok)
	}
}

func TestCheckMarkerRejectsOriginalAndEmpty(t *testing.T) {
	if _, ok := CheckMarker(nil); ok {
		t.Fatal("CheckMarker(nil) should report false")
	}
	if _, ok := CheckMarker([]byte{byte(TypeOriginal), 'x'}); ok {
		t.Fatal("CheckMarker should not treat an Original body as sidecar-relevant")
	}
}

func TestConsistentReportsMismatchedMarkers(t *testing.T) {
	tb := New()
	tb.PutSymlink("/link", 0777)
	tb.PutOriginal("/plain", 0644)

	bad := tb.Consistent(func(path string) (RecordType, bool) {
		switch path {
		case "/link":
			return TypeHardlink, true // wrong marker on disk
		default:
			return 0, false
		}
	})
	if len(bad) != 1 || bad[0] != "/link" {
		t.Fatalf("Consistent() = %v; want [/link]", bad)
	}
}
