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

// Package shell implements the built-in command-line shell of
// spec.md §4.7: one task per terminal, a readline loop with in-buffer
// editing, a tokenizer, builtin dispatch, and the ELF
// resolve/validate/load/run/chain/re-run loop. The readline-then-
// dispatch shape and the deliberately small, explicit command table
// are grounded on the teacher's pkg/cmdmain CLI dispatch discipline,
// adapted from a one-shot process CLI to a persistent per-terminal
// loop.
package shell

import (
	"fmt"
	"path"
	"strings"

	"tinykernel.org/pkg/elf"
	"tinykernel.org/pkg/kerrors"
	"tinykernel.org/pkg/posixfs"
	"tinykernel.org/pkg/process"
	"tinykernel.org/pkg/psram"
	"tinykernel.org/pkg/strutil"
	"tinykernel.org/pkg/terminal"
)

// Shell is the per-terminal state the readline loop and builtins
// operate on.
type Shell struct {
	Ctx     *process.Context
	Runtime *process.Runtime
	Exec    process.Executor
	FS      *posixfs.FS
	Term    *terminal.Terminal
	PSRAM   *psram.Allocator
	Heap    elf.Heap
	Flash   elf.FlashWriter
	APIRange process.APIVersionRange

	Cwd  string
	Quit bool

	Reboot func()
}

// New prepares the shell's context: it sets the pid and process group,
// starts in "/", sets the TEMP, CD, BASE and PATH environment
// variables, and creates the temp directory /tmp/<pid>.
func New(sh *Shell, pid int) {
	sh.Ctx.Pid = pid
	sh.Ctx.Pgid = pid
	sh.Cwd = "/"
	sh.Ctx.Cwd = "/"
	tmp := fmt.Sprintf("/tmp/%d", pid)
	sh.Ctx.EnvSet("TEMP", tmp)
	sh.Ctx.EnvSet("CD", "/")
	sh.Ctx.EnvSet("BASE", "/bin")
	sh.Ctx.EnvSet("PATH", "/bin:/usr/bin")
	_ = sh.FS.Mkdir(posixfs.DirRef{Dirname: "/"}, tmp, 0755)
}

// ReadLine reads one line via the terminal's input ring, honoring
// backspace and enter for in-buffer editing, per spec.md §4.7 step 2.
func (sh *Shell) ReadLine(prompt string) string {
	sh.Term.Puts(prompt)
	var buf []byte
	for {
		c := sh.Term.Getch()
		switch c {
		case '\r', '\n':
			sh.Term.Putc('\n')
			return string(buf)
		case '\b', 127:
			if len(buf) > 0 {
				buf = buf[:len(buf)-1]
				sh.Term.Putc('\b')
			}
		default:
			buf = append(buf, c)
			sh.Term.Putc(c)
		}
	}
}

// Prompt formats the current-working-directory prompt string.
func (sh *Shell) Prompt() string { return sh.Cwd + "> " }

// RunOnce executes the body of the readline loop once: read a line,
// tokenize, dispatch a builtin, or resolve/validate/load/run an ELF,
// including the chain and comspec re-run behavior of steps 5-7.
func (sh *Shell) RunOnce() {
	line := sh.ReadLine(sh.Prompt())
	if strings.TrimSpace(line) == "" {
		return
	}
	pipe := Tokenize(line)
	if len(pipe.Stages) == 0 {
		return
	}
	// Pipe chains beyond a single stage are handed to runPipeline;
	// single-stage commands run in the shell's own task via the exec
	// path.
	if len(pipe.Stages) > 1 {
		sh.runPipeline(pipe)
		return
	}
	sh.runSingle(pipe.Stages[0].Argv)
}

func (sh *Shell) runSingle(argv []string) {
	if len(argv) == 0 {
		return
	}
	name := argv[0]
	if b, ok := builtins[name]; ok {
		b(sh, argv)
		return
	}

	origCmd := strings.Join(argv, " ")
	realPath, err := sh.resolve(name)
	if err != nil {
		sh.Term.Printf("%s: not found\n", name)
		return
	}

	origPath, origArgv, origLine := realPath, argv, origCmd
	chained := false
	for {
		code, chain, err := sh.loadAndRun(realPath, argv, origCmd)
		if err != nil {
			sh.Term.Printf("%s: %v\n", name, err)
			return
		}
		_ = code
		if chain == nil {
			break
		}
		chained = true
		next, err := sh.resolve(chain.Argv[0])
		if err != nil {
			// Non-ELF chain targets are skipped silently.
			break
		}
		realPath = next
		argv = chain.Argv
		origCmd = chain.OrigCmd
	}

	// "COMSPEC re-run": after a chain ends, re-execute the original
	// command once more. sh.Ctx keeps the shell's own pid throughout,
	// so only the original path, argv and command line are restored.
	if chained {
		if _, _, err := sh.loadAndRun(origPath, origArgv, origLine); err != nil {
			sh.Term.Printf("%s: %v\n", name, err)
		}
	}
}

func (sh *Shell) runPipeline(p Pipeline) {
	// Each stage is spawned (pkg/process) as an independent child of
	// the shell with no file actions: stages are not connected
	// stdout->stdin, and the shell does not wait for any of them,
	// whether or not the pipeline is detached (trailing &).
	sh.Term.Puts("pipelines run as independent spawned children\n")
	for _, stage := range p.Stages {
		if len(stage.Argv) == 0 {
			continue
		}
		realPath, err := sh.resolve(stage.Argv[0])
		if err != nil {
			sh.Term.Printf("%s: not found\n", stage.Argv[0])
			continue
		}
		_, err = sh.Runtime.Spawn(sh.Ctx, realPath, nil, process.SpawnAttr{}, stage.Argv, sh.Ctx.Env)
		if err != nil {
			sh.Term.Printf("%s: %v\n", stage.Argv[0], err)
		}
	}
}

// loadAndRun validates realPath as ELF, execs into it (same task), and
// runs it to completion, returning its exit code and any chain
// request it left behind.
func (sh *Shell) loadAndRun(realPath string, argv []string, origCmd string) (int, *process.ChainRequest, error) {
	if err := sh.Runtime.Exec(sh.Ctx, realPath, argv, sh.Ctx.Env); err != nil {
		return -1, nil, err
	}
	code, err := process.RunSync(sh.Ctx, sh.Exec, sh.APIRange)
	if err != nil {
		return -1, nil, err
	}
	if sh.Ctx.Stage == process.StagePrepared {
		return code, &process.ChainRequest{Argv: sh.Ctx.Argv, OrigCmd: sh.Ctx.OrigCmd}, nil
	}
	return code, nil, nil
}

// resolve searches CWD, BASE, then each PATH directory for name, per
// spec.md §4.7 step 5.
func (sh *Shell) resolve(name string) (string, error) {
	if strings.HasPrefix(name, "/") {
		if _, err := sh.FS.Stat(posixfs.DirRef{Dirname: "/"}, name); err != nil {
			return "", err
		}
		return sh.FS.RealpathAt(posixfs.DirRef{Dirname: "/"}, name, 0)
	}

	dirs := []string{sh.Cwd}
	if base, ok := sh.Ctx.EnvGet("BASE"); ok {
		dirs = append(dirs, base)
	}
	if p, ok := sh.Ctx.EnvGet("PATH"); ok {
		dirs = strutil.AppendSplitN(dirs, p, ":", -1)
	}
	for _, dir := range dirs {
		candidate := path.Join(dir, name)
		if _, err := sh.FS.Stat(posixfs.DirRef{Dirname: "/"}, candidate); err == nil {
			return sh.FS.RealpathAt(posixfs.DirRef{Dirname: "/"}, candidate, 0)
		}
	}
	return "", kerrors.E(kerrors.Filesystem, kerrors.ENOENT, "shell: command not found", nil)
}

// Validate performs the ELF preconditions of spec.md §4.4 ahead of a
// real load, used by callers that want a "not a valid app" diagnostic
// distinct from "not found".
func (sh *Shell) Validate(realPath string) error {
	data, err := sh.FS.Vol.ReadFile(realPath)
	if err != nil {
		return err
	}
	_, err = elf.Open(data)
	return err
}

// Run drives the full readline loop until the terminal requests
// close, then removes the temp directory and returns.
func (sh *Shell) Run() {
	for !sh.Term.CloseRequested() && !sh.Quit {
		sh.RunOnce()
	}
	sh.cleanup()
}

func (sh *Shell) cleanup() {
	tmp, _ := sh.Ctx.EnvGet("TEMP")
	if tmp != "" {
		removeRecursive(sh.FS, tmp)
	}
}

func removeRecursive(fsys *posixfs.FS, p string) {
	names, err := fsys.ReadDir(posixfs.DirRef{Dirname: "/"}, p)
	if err == nil {
		for _, n := range names {
			removeRecursive(fsys, path.Join(p, n))
		}
	}
	_ = fsys.UnlinkAt(posixfs.DirRef{Dirname: "/"}, p)
}
