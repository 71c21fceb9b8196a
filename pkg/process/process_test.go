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

package process

import (
	"testing"

	"tinykernel.org/pkg/kerrors"
)

type fakeLoader struct{ fail bool }

func (l *fakeLoader) LoadInto(ctx *Context, path string) error {
	if l.fail {
		return kerrors.E(kerrors.ELFLoad, kerrors.ENOENT, "fake: no such elf", nil)
	}
	return nil
}

type fakeFiles struct{ nextFd int }

func (f *fakeFiles) Open(ctx *Context, path string, flags int, mode uint32) (int, error) {
	fd := f.nextFd
	f.nextFd++
	return fd, nil
}

func newTestRuntime() *Runtime {
	return &Runtime{Table: NewTable(), Loader: &fakeLoader{}, Files: &fakeFiles{}}
}

func TestTableInsertAssignsPidAndReusesHoles(t *testing.T) {
	tb := NewTable()
	a := New(0)
	pidA := tb.Insert(a)
	if pidA != 1 {
		t.Fatalf("first Insert pid = %d; want 1", pidA)
	}
	b := New(0)
	pidB := tb.Insert(b)
	if pidB != 2 {
		t.Fatalf("second Insert pid = %d; want 2", pidB)
	}
	tb.Remove(pidA)
	c := New(0)
	pidC := tb.Insert(c)
	if pidC != pidA {
		t.Fatalf("Insert after Remove pid = %d; want reused slot %d", pidC, pidA)
	}
	if err := tb.CheckInvariants(); err != nil {
		t.Fatalf("CheckInvariants: %v", err)
	}
}

func TestSpawnChildLinksParentAndInheritsEnv(t *testing.T) {
	r := newTestRuntime()
	parent := New(0)
	r.Table.Insert(parent)
	parent.EnvSet("PATH", "/bin")

	child, err := r.Spawn(parent, "/bin/app", nil, SpawnAttr{}, []string{"app"}, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if child.Ppid != parent.Pid {
		t.Fatalf("child.Ppid = %d; want %d", child.Ppid, parent.Pid)
	}
	if v, ok := child.EnvGet("PATH"); !ok || v != "/bin" {
		t.Fatalf("child env PATH = %q, %v; want \"/bin\", true", v, ok)
	}
	if child.Stage != StageValid {
		t.Fatalf("child.Stage = %v; want StageValid", child.Stage)
	}
}

func TestSpawnLoadFailureRemovesChildFromTable(t *testing.T) {
	r := &Runtime{Table: NewTable(), Loader: &fakeLoader{fail: true}, Files: &fakeFiles{}}
	parent := New(0)
	r.Table.Insert(parent)

	_, err := r.Spawn(parent, "/bin/missing", nil, SpawnAttr{}, nil, nil)
	if err == nil {
		t.Fatal("expected Spawn to fail when the loader fails")
	}
	if len(r.Table.ChildrenOf(parent.Pid)) != 0 {
		t.Fatal("failed spawn left a child context registered in the table")
	}
}

func TestExecReplacesImageInPlace(t *testing.T) {
	r := newTestRuntime()
	ctx := New(0)
	r.Table.Insert(ctx)

	if err := r.Exec(ctx, "/bin/new", []string{"new", "-x"}, nil); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if ctx.Stage != StageExecuted {
		t.Fatalf("ctx.Stage = %v; want StageExecuted", ctx.Stage)
	}
	if ctx.OrigCmd != "/bin/new" {
		t.Fatalf("ctx.OrigCmd = %q; want \"/bin/new\"", ctx.OrigCmd)
	}
}

func TestWaitpidReapsZombieChild(t *testing.T) {
	r := newTestRuntime()
	parent := New(0)
	r.Table.Insert(parent)
	child, err := r.Spawn(parent, "/bin/app", nil, SpawnAttr{}, nil, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	r.Exit(child, 7)

	pid, code, err := r.Waitpid(parent, DecodeWaitPid(child.Pid), WaitOptions{})
	if err != nil {
		t.Fatalf("Waitpid: %v", err)
	}
	if pid != child.Pid || code != 7 {
		t.Fatalf("Waitpid = (%d, %d); want (%d, 7)", pid, code, child.Pid)
	}
	if r.Table.Get(child.Pid) != nil {
		t.Fatal("zombie child still present in table after being reaped")
	}
}

func TestWaitpidNoHangReturnsImmediately(t *testing.T) {
	r := newTestRuntime()
	parent := New(0)
	r.Table.Insert(parent)
	_, err := r.Spawn(parent, "/bin/app", nil, SpawnAttr{}, nil, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	pid, _, err := r.Waitpid(parent, DecodeWaitPid(-1), WaitOptions{NoHang: true})
	if err != nil {
		t.Fatalf("Waitpid NoHang: %v", err)
	}
	if pid != 0 {
		t.Fatalf("Waitpid NoHang pid = %d; want 0 (still running)", pid)
	}
}

func TestWaitpidNoMatchingChildIsError(t *testing.T) {
	r := newTestRuntime()
	parent := New(0)
	r.Table.Insert(parent)

	_, _, err := r.Waitpid(parent, DecodeWaitPid(999), WaitOptions{NoHang: true})
	if err == nil {
		t.Fatal("expected an error waiting on a nonexistent child")
	}
}

func TestKillSetsPendingSignal(t *testing.T) {
	r := newTestRuntime()
	ctx := New(0)
	r.Table.Insert(ctx)

	if err := r.Kill(ctx.Pid, SIGTERM); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if !ctx.PendingSignals.Has(SIGTERM) {
		t.Fatal("SIGTERM not recorded as pending after Kill")
	}
}

func TestDeliverSignalsDefaultActionExitsContext(t *testing.T) {
	r := newTestRuntime()
	ctx := New(0)
	r.Table.Insert(ctx)
	ctx.PendingSignals.Set(SIGTERM)

	r.DeliverSignals(ctx)

	if ctx.Stage != StageZombie {
		t.Fatalf("ctx.Stage = %v; want StageZombie after default-disposition SIGTERM", ctx.Stage)
	}
	if ctx.ExitCode != int(SIGTERM) {
		t.Fatalf("ctx.ExitCode = %d; want %d", ctx.ExitCode, int(SIGTERM))
	}
}

func TestDeliverSignalsIgnoredDispositionSkipsExit(t *testing.T) {
	r := newTestRuntime()
	ctx := New(0)
	r.Table.Insert(ctx)
	ctx.Handlers[SIGTERM] = SIG_IGN
	ctx.PendingSignals.Set(SIGTERM)

	r.DeliverSignals(ctx)

	if ctx.Stage == StageZombie {
		t.Fatal("SIG_IGN disposition should not terminate the context")
	}
	if ctx.PendingSignals.Has(SIGTERM) {
		t.Fatal("delivered signal should be cleared from the pending mask")
	}
}

func TestDeliverSignalsHandledDispositionInvokesHandler(t *testing.T) {
	r := newTestRuntime()
	ctx := New(0)
	r.Table.Insert(ctx)

	var called Signal
	ctx.Handlers[SIGHUP] = SIG_HANDLED
	ctx.HandlerFuncs[SIGHUP] = func(sig Signal) { called = sig }
	ctx.PendingSignals.Set(SIGHUP)

	r.DeliverSignals(ctx)

	if called != SIGHUP {
		t.Fatalf("handler called with %v; want SIGHUP", called)
	}
	if ctx.Stage == StageZombie {
		t.Fatal("handled signal should not terminate the context")
	}
}

func TestDeliverSignalsBlockedSignalStaysPending(t *testing.T) {
	r := newTestRuntime()
	ctx := New(0)
	r.Table.Insert(ctx)
	ctx.BlockedSignals.Set(SIGTERM)
	ctx.PendingSignals.Set(SIGTERM)

	r.DeliverSignals(ctx)

	if !ctx.PendingSignals.Has(SIGTERM) {
		t.Fatal("a blocked signal must remain pending, not be delivered")
	}
	if ctx.Stage == StageZombie {
		t.Fatal("a blocked signal must not terminate the context")
	}
}

func TestDeliverSignalsSIGKILLIgnoresBlockAndIgnoreDisposition(t *testing.T) {
	r := newTestRuntime()
	ctx := New(0)
	r.Table.Insert(ctx)
	ctx.BlockedSignals.Set(SIGKILL)
	ctx.Handlers[SIGKILL] = SIG_IGN
	ctx.PendingSignals.Set(SIGKILL)

	r.DeliverSignals(ctx)

	if ctx.Stage != StageZombie {
		t.Fatal("SIGKILL must terminate the context regardless of disposition or block mask")
	}
}

func TestRequireSameGroupRejectsGroupLeader(t *testing.T) {
	ctx := New(5)
	ctx.Pgid = 5
	if err := ctx.RequireSameGroup(); err == nil {
		t.Fatal("expected RequireSameGroup to reject a process that is already its own group leader")
	}
}

func TestTrackAllocRoundTrip(t *testing.T) {
	ctx := New(1)
	ctx.TrackAlloc(0x1000, 64)
	ctx.TrackAlloc(0x2000, 128)
	if len(ctx.LeakedAllocs()) != 2 {
		t.Fatalf("LeakedAllocs = %v; want 2 entries", ctx.LeakedAllocs())
	}
	if !ctx.UntrackAlloc(0x1000) {
		t.Fatal("UntrackAlloc did not find a tracked allocation")
	}
	if len(ctx.LeakedAllocs()) != 1 {
		t.Fatalf("LeakedAllocs after UntrackAlloc = %v; want 1 entry", ctx.LeakedAllocs())
	}
}
