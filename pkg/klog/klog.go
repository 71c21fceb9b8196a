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

// Package klog hands out one *log.Logger per subsystem so log lines are
// prefixed by where they came from, instead of every package calling the
// global log.Printf directly.
package klog

import (
	"io"
	"log"
	"os"
	"sync"
)

var (
	mu      sync.Mutex
	output  io.Writer = os.Stderr
	loggers           = map[string]*log.Logger{}
)

// SetOutput redirects every logger handed out from now on (and every
// logger already handed out, since they share the same writer) to w.
// On-device this is called once, after the owning terminal's stderr
// stream exists, to route kernel log lines onto it.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	for _, l := range loggers {
		l.SetOutput(w)
	}
}

// For returns the logger for the named subsystem, creating it on first use.
func For(subsystem string) *log.Logger {
	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[subsystem]; ok {
		return l
	}
	l := log.New(output, "["+subsystem+"] ", log.LstdFlags)
	loggers[subsystem] = l
	return l
}
