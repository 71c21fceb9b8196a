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
	"strings"
	"testing"

	"tinykernel.org/pkg/posixfs"
)

func drain(sh *Shell) string {
	snap := sh.Term.Snapshot()
	var sb strings.Builder
	for i := 0; i < len(snap); i += 2 {
		c := snap[i]
		if c == 0 {
			c = ' '
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

func TestBuiltinEchoJoinsArgsWithSpace(t *testing.T) {
	sh := newTestShell(t)
	code := builtinEcho(sh, []string{"echo", "a", "b", "c"})
	if code != 0 {
		t.Fatalf("builtinEcho exit code = %d; want 0", code)
	}
	if got := drain(sh); !strings.Contains(got, "a b c") {
		t.Fatalf("screen = %q; want it to contain \"a b c\"", got)
	}
}

func TestBuiltinSetListsEnvironmentWithNoArgs(t *testing.T) {
	sh := newTestShell(t)
	sh.Ctx.EnvSet("FOO", "bar")
	builtinSet(sh, []string{"set"})
	if got := drain(sh); !strings.Contains(got, "FOO=bar") {
		t.Fatalf("screen = %q; want it to contain FOO=bar", got)
	}
}

func TestBuiltinSetAssignsKeyValue(t *testing.T) {
	sh := newTestShell(t)
	code := builtinSet(sh, []string{"set", "FOO=bar"})
	if code != 0 {
		t.Fatalf("builtinSet exit code = %d; want 0", code)
	}
	if v, ok := sh.Ctx.EnvGet("FOO"); !ok || v != "bar" {
		t.Fatalf("EnvGet(FOO) = %q, %v; want \"bar\", true", v, ok)
	}
}

func TestBuiltinSetInvalidAssignmentReturnsNonzero(t *testing.T) {
	sh := newTestShell(t)
	if code := builtinSet(sh, []string{"set", "noequalssign"}); code == 0 {
		t.Fatal("builtinSet with an invalid assignment should return nonzero")
	}
}

func TestBuiltinCdChangesCwd(t *testing.T) {
	sh := newTestShell(t)
	if err := sh.FS.Mkdir(posixfs.DirRef{Dirname: "/"}, "/home", 0755); err != nil {
		t.Fatalf("Mkdir /home: %v", err)
	}
	code := builtinCd(sh, []string{"cd", "/home"})
	if code != 0 {
		t.Fatalf("builtinCd exit code = %d; want 0", code)
	}
	if sh.Cwd != "/home" || sh.Ctx.Cwd != "/home" {
		t.Fatalf("Cwd = %q, Ctx.Cwd = %q; want both \"/home\"", sh.Cwd, sh.Ctx.Cwd)
	}
}

func TestBuiltinCdMissingDirReturnsNonzero(t *testing.T) {
	sh := newTestShell(t)
	if code := builtinCd(sh, []string{"cd", "/nope"}); code == 0 {
		t.Fatal("builtinCd into a nonexistent directory should return nonzero")
	}
}

func TestBuiltinPwdPrintsCwd(t *testing.T) {
	sh := newTestShell(t)
	sh.Cwd = "/var"
	builtinPwd(sh, []string{"pwd"})
	if got := drain(sh); !strings.Contains(got, "/var") {
		t.Fatalf("screen = %q; want it to contain /var", got)
	}
}

func TestBuiltinLsListsDirEntriesSorted(t *testing.T) {
	sh := newTestShell(t)
	if err := sh.FS.Mkdir(posixfs.DirRef{Dirname: "/"}, "/d", 0755); err != nil {
		t.Fatalf("Mkdir /d: %v", err)
	}
	if err := sh.FS.Vol.WriteFile("/d/zeta", []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := sh.FS.Vol.WriteFile("/d/alpha", []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	code := builtinLs(sh, []string{"ls", "/d"})
	if code != 0 {
		t.Fatalf("builtinLs exit code = %d; want 0", code)
	}
	got := drain(sh)
	if strings.Index(got, "alpha") > strings.Index(got, "zeta") {
		t.Fatalf("screen = %q; want alpha listed before zeta", got)
	}
}

func TestBuiltinClearResetsCursorToOrigin(t *testing.T) {
	sh := newTestShell(t)
	sh.Term.Puts("garbage")
	builtinClear(sh, []string{"clear"})
	got := drain(sh)
	if strings.TrimSpace(got) != "" {
		t.Fatalf("screen after clear = %q; want blank", got)
	}
	sh.Term.Putc('x')
	if c := sh.Term.Snapshot()[0]; c != 'x' {
		t.Fatalf("cell (0,0) after clear and Putc('x') = %q; want 'x' (cursor at origin)", c)
	}
}

func TestBuiltinFreeReportsNoPSRAMWhenAbsent(t *testing.T) {
	sh := newTestShell(t)
	builtinFree(sh, []string{"free"})
	if got := drain(sh); !strings.Contains(got, "no psram") {
		t.Fatalf("screen = %q; want it to mention no psram detected", got)
	}
}

func TestBuiltinRebootInvokesCallback(t *testing.T) {
	sh := newTestShell(t)
	called := false
	sh.Reboot = func() { called = true }
	builtinReboot(sh, []string{"reboot"})
	if !called {
		t.Fatal("builtinReboot should invoke sh.Reboot")
	}
}
