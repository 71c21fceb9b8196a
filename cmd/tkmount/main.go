//go:build linux || darwin

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

// Command tkmount exposes a posixfs.FS over a real mountpoint via FUSE,
// so it can be browsed and edited from a host machine during
// development. The volume underneath is an empty in-memory
// ktest.MemVolume; no on-disk device image is read. The
// flag/mount/signal/Serve shape follows the teacher's cmd/pk-mount
// directly; the filesystem underneath is pkg/posixfs.HostFS instead of
// the teacher's blob-addressed fs.CamliFileSystem.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"tinykernel.org/pkg/ktest"
	"tinykernel.org/pkg/posixfs"
)

func usage() {
	fmt.Fprint(os.Stderr, "usage: tkmount [opts] <mountpoint>\n")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	debug := flag.Bool("debug", false, "print debugging messages.")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
	}
	mountPoint := flag.Arg(0)

	// TODO: back this with a real block-device image reader once the
	// on-disk FAT layout is finalized; an in-memory volume is enough
	// to exercise the mount/Serve path today.
	vol := ktest.NewMemVolume()
	fsys := posixfs.New(vol)
	host := &posixfs.HostFS{FS: fsys}

	if *debug {
		fuse.Debug = func(msg interface{}) { log.Print(msg) }
	}

	conn, err := fuse.Mount(mountPoint, fuse.VolumeName(filepath.Base(mountPoint)))
	if err != nil {
		log.Fatalf("mount: %v", err)
	}
	defer conn.Close()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	doneServe := make(chan error, 1)
	go func() { doneServe <- fusefs.Serve(conn, host) }()

	select {
	case err := <-doneServe:
		if err != nil {
			log.Fatalf("serve: %v", err)
		}
	case <-sigc:
		fuse.Unmount(mountPoint)
		<-doneServe
	}
}
