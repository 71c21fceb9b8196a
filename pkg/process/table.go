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
	"sync"

	"tinykernel.org/pkg/kerrors"
)

// Table is the pid table: index i holds the context with pid==i, or
// nil. Per spec.md §3's stated invariant, pid 1 is the init/shell
// context and every live index satisfies ctx.Pid==i.
type Table struct {
	mu   sync.Mutex
	pids []*Context
}

// NewTable returns a table with slot 0 reserved (never assigned) so
// pid 1 is the first assignable slot, per spec.md's pid-1-is-init
// invariant.
func NewTable() *Table {
	return &Table{pids: make([]*Context, 1)}
}

// Insert assigns the first free slot (first nil at index >= 1,
// otherwise appended) and returns the resulting pid.
func (t *Table) Insert(c *Context) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 1; i < len(t.pids); i++ {
		if t.pids[i] == nil {
			t.pids[i] = c
			c.Pid = i
			return i
		}
	}
	t.pids = append(t.pids, c)
	c.Pid = len(t.pids) - 1
	return c.Pid
}

// Get returns the context at pid, or nil.
func (t *Table) Get(pid int) *Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pid <= 0 || pid >= len(t.pids) {
		return nil
	}
	return t.pids[pid]
}

// Remove clears a pid slot, turning it into a hole for Insert to
// reuse.
func (t *Table) Remove(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pid > 0 && pid < len(t.pids) {
		t.pids[pid] = nil
	}
}

// All returns a snapshot of every live context.
func (t *Table) All() []*Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Context
	for _, c := range t.pids {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// ChildrenOf returns live contexts whose Ppid matches parentPid.
func (t *Table) ChildrenOf(parentPid int) []*Context {
	var out []*Context
	for _, c := range t.All() {
		if c.Ppid == parentPid {
			out = append(out, c)
		}
	}
	return out
}

// CheckInvariants verifies the pid-table invariant from spec.md §3:
// every non-nil slot i holds a context with Pid==i.
func (t *Table) CheckInvariants() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, c := range t.pids {
		if c != nil && c.Pid != i {
			return kerrors.E(kerrors.Fatal, kerrors.EINVAL, "process: pid table slot/pid mismatch", nil)
		}
	}
	return nil
}
