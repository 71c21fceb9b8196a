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

// Package syncutil holds the small locking helpers shared by the
// subsystems that emulate scheduler-suspend critical sections (the
// PSRAM allocator) on top of ordinary goroutines.
package syncutil

import (
	"sync"
	"sync/atomic"
	"time"
)

// TrackedMutex is a sync.Mutex that records how long the lock was last
// held and the longest hold observed. Every critical section that
// stands in for a scheduler-suspend section is expected to be short;
// LongestHold lets a test assert that expectation instead of trusting it.
type TrackedMutex struct {
	mu           sync.Mutex
	lockedAt     time.Time
	longestHold  int64 // nanoseconds, atomic
	lastHeld     int64 // nanoseconds, atomic
}

func (m *TrackedMutex) Lock() {
	m.mu.Lock()
	m.lockedAt = time.Now()
}

func (m *TrackedMutex) Unlock() {
	held := time.Since(m.lockedAt)
	atomic.StoreInt64(&m.lastHeld, int64(held))
	for {
		cur := atomic.LoadInt64(&m.longestHold)
		if int64(held) <= cur || atomic.CompareAndSwapInt64(&m.longestHold, cur, int64(held)) {
			break
		}
	}
	m.mu.Unlock()
}

// LongestHold returns the longest critical section ever observed.
func (m *TrackedMutex) LongestHold() time.Duration {
	return time.Duration(atomic.LoadInt64(&m.longestHold))
}

// LastHeld returns how long the most recently released critical
// section was held.
func (m *TrackedMutex) LastHeld() time.Duration {
	return time.Duration(atomic.LoadInt64(&m.lastHeld))
}
