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

package shell

import (
	"testing"

	"tinykernel.org/pkg/ktest"
	"tinykernel.org/pkg/posixfs"
	"tinykernel.org/pkg/process"
	"tinykernel.org/pkg/terminal"
)

func newTestShell(t *testing.T) *Shell {
	t.Helper()
	vol := ktest.NewMemVolume()
	sh := &Shell{
		Ctx:  process.New(1),
		FS:   posixfs.New(vol),
		Term: terminal.New(800, 600, 8, 10),
	}
	New(sh, 1)
	return sh
}

func TestNewSetsUpContextAndEnvironment(t *testing.T) {
	sh := newTestShell(t)
	if sh.Cwd != "/" || sh.Ctx.Cwd != "/" {
		t.Fatalf("Cwd = %q, Ctx.Cwd = %q; want both \"/\"", sh.Cwd, sh.Ctx.Cwd)
	}
	if v, ok := sh.Ctx.EnvGet("TEMP"); !ok || v != "/tmp/1" {
		t.Fatalf("TEMP = %q, %v; want \"/tmp/1\", true", v, ok)
	}
	if v, ok := sh.Ctx.EnvGet("PATH"); !ok || v != "/bin:/usr/bin" {
		t.Fatalf("PATH = %q, %v; want \"/bin:/usr/bin\", true", v, ok)
	}
	names, err := sh.FS.ReadDir(posixfs.DirRef{Dirname: "/"}, "/tmp")
	if err != nil || len(names) != 1 || names[0] != "1" {
		t.Fatalf("ReadDir(/tmp) = %v, %v; want [1] (the shell's temp dir)", names, err)
	}
}

func TestPromptReflectsCwd(t *testing.T) {
	sh := newTestShell(t)
	sh.Cwd = "/bin"
	if got, want := sh.Prompt(), "/bin> "; got != want {
		t.Fatalf("Prompt() = %q; want %q", got, want)
	}
}

func TestReadLineEchoesAndHandlesBackspace(t *testing.T) {
	sh := newTestShell(t)
	for _, c := range []byte("hi\b\by\r") {
		sh.Term.PushInput(c)
	}
	line := sh.ReadLine("$ ")
	if line != "y" {
		t.Fatalf("ReadLine = %q; want \"y\" (hi backspaced out, y typed, enter submits)", line)
	}
}

func TestResolveFindsCommandOnPath(t *testing.T) {
	sh := newTestShell(t)
	if err := sh.FS.Mkdir(posixfs.DirRef{Dirname: "/"}, "/bin", 0755); err != nil {
		t.Fatalf("Mkdir /bin: %v", err)
	}
	if err := sh.FS.Vol.WriteFile("/bin/hello", []byte("elfbytes"), 0755); err != nil {
		t.Fatalf("WriteFile /bin/hello: %v", err)
	}

	real, err := sh.resolve("hello")
	if err != nil {
		t.Fatalf("resolve(hello): %v", err)
	}
	if real != "/bin/hello" {
		t.Fatalf("resolve(hello) = %q; want \"/bin/hello\"", real)
	}
}

func TestResolveMissingCommandIsError(t *testing.T) {
	sh := newTestShell(t)
	if _, err := sh.resolve("nonexistent"); err == nil {
		t.Fatal("resolve of a missing command should fail")
	}
}

func TestResolveAbsolutePathBypassesSearch(t *testing.T) {
	sh := newTestShell(t)
	if err := sh.FS.Vol.WriteFile("/direct", []byte("x"), 0755); err != nil {
		t.Fatalf("WriteFile /direct: %v", err)
	}
	real, err := sh.resolve("/direct")
	if err != nil || real != "/direct" {
		t.Fatalf("resolve(/direct) = %q, %v; want \"/direct\", nil", real, err)
	}
}

func TestRunOnceDispatchesBuiltin(t *testing.T) {
	sh := newTestShell(t)
	for _, c := range []byte("pwd\r") {
		sh.Term.PushInput(c)
	}
	sh.RunOnce()
	snap := sh.Term.Snapshot()
	// Row 0 holds the prompt and the echoed command; pwd prints on row 1.
	row1 := sh.Term.Cols * 2
	if snap[row1] != '/' {
		t.Fatalf("after `pwd`, first cell of row 1 = %q; want '/'", snap[row1])
	}
}

func TestRunOnceBlankLineIsANoop(t *testing.T) {
	sh := newTestShell(t)
	sh.Term.PushInput('\r')
	sh.RunOnce()
	if sh.Quit {
		t.Fatal("a blank line should not set Quit")
	}
}
