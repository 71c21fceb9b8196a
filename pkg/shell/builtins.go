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
	"fmt"
	"sort"
	"strings"

	"tinykernel.org/pkg/posixfs"
)

// Builtin is a shell-internal command; argv[0] is the command name
// itself. Return value is the process exit code.
type Builtin func(sh *Shell, argv []string) int

// builtinNames lists the recognized builtins (help prints them sorted
// by name), including the two restored from the legacy shell (echo,
// set) that the distilled command list dropped.
var builtinNames = []string{
	"help", "clear", "cls", "free", "ls", "dir", "cd", "pwd", "mount", "reboot", "echo", "set",
}

var builtins = map[string]Builtin{
	"help":   builtinHelp,
	"clear":  builtinClear,
	"cls":    builtinClear,
	"free":   builtinFree,
	"ls":     builtinLs,
	"dir":    builtinLs,
	"cd":     builtinCd,
	"pwd":    builtinPwd,
	"mount":  builtinMount,
	"reboot": builtinReboot,
	"echo":   builtinEcho,
	"set":    builtinSet,
}

func builtinHelp(sh *Shell, argv []string) int {
	names := append([]string(nil), builtinNames...)
	sort.Strings(names)
	sh.Term.Puts(strings.Join(names, "  "))
	sh.Term.Putc('\n')
	return 0
}

func builtinClear(sh *Shell, argv []string) int {
	sh.Term.Clear(0)
	return 0
}

func builtinFree(sh *Shell, argv []string) int {
	if sh.PSRAM == nil {
		sh.Term.Puts("no psram detected\n")
		return 0
	}
	free, used := sh.PSRAM.Stats()
	sh.Term.Printf("psram: %d total, %d used, %d free\n", sh.PSRAM.Total(), used, free)
	return 0
}

func builtinLs(sh *Shell, argv []string) int {
	p := sh.Cwd
	if len(argv) > 1 {
		p = argv[1]
	}
	names, err := sh.FS.ReadDir(posixfs.DirRef{Dirname: sh.Cwd}, p)
	if err != nil {
		sh.Term.Printf("ls: %v\n", err)
		return 1
	}
	sort.Strings(names)
	for _, n := range names {
		sh.Term.Puts(n)
		sh.Term.Putc('\n')
	}
	return 0
}

func builtinCd(sh *Shell, argv []string) int {
	target := "/"
	if len(argv) > 1 {
		target = argv[1]
	}
	real, err := sh.FS.RealpathAt(posixfs.DirRef{Dirname: sh.Cwd}, target, 0)
	if err != nil {
		sh.Term.Printf("cd: %v\n", err)
		return 1
	}
	if _, err := sh.FS.Stat(posixfs.DirRef{Dirname: "/"}, real); err != nil {
		sh.Term.Printf("cd: %v\n", err)
		return 1
	}
	sh.Ctx.Cwd = real
	sh.Cwd = real
	return 0
}

func builtinPwd(sh *Shell, argv []string) int {
	sh.Term.Puts(sh.Cwd)
	sh.Term.Putc('\n')
	return 0
}

func builtinMount(sh *Shell, argv []string) int {
	sh.Term.Puts("/ : sd0 (fat)\n")
	return 0
}

func builtinReboot(sh *Shell, argv []string) int {
	if sh.Reboot != nil {
		sh.Reboot()
	}
	return 0
}

// builtinEcho restores the legacy shell's echo builtin: prints argv[1:]
// space-joined with a trailing newline.
func builtinEcho(sh *Shell, argv []string) int {
	sh.Term.Puts(strings.Join(argv[1:], " "))
	sh.Term.Putc('\n')
	return 0
}

// builtinSet restores the legacy shell's set builtin: with no
// arguments, lists the environment; with KEY=VALUE, assigns it.
func builtinSet(sh *Shell, argv []string) int {
	if len(argv) == 1 {
		for _, kv := range sh.Ctx.Env {
			sh.Term.Printf("%s=%s\n", kv.Key, kv.Value)
		}
		return 0
	}
	for _, arg := range argv[1:] {
		k, v, ok := strings.Cut(arg, "=")
		if !ok {
			sh.Term.Printf("set: invalid assignment %q\n", arg)
			return 1
		}
		sh.Ctx.EnvSet(k, v)
	}
	return 0
}

var _ = fmt.Sprintf
