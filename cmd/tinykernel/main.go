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

// Command tinykernel is the boot entry point: it loads the boot
// configuration, constructs a *kernel.Kernel, opens one terminal
// window with its shell, and runs the dedicated kernel tasks of
// spec.md §5 until interrupted or a shell issues `reboot`. On real
// hardware this is the reset handler's C-to-Go jump target; here it
// is an ordinary main(), with the same flag/config/run shape the
// teacher's daemon entry points use.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"tinykernel.org/pkg/debugbridge"
	"tinykernel.org/pkg/event"
	"tinykernel.org/pkg/kconfig"
	"tinykernel.org/pkg/kernel"
	"tinykernel.org/pkg/ktest"
	"tinykernel.org/pkg/shell"
	"tinykernel.org/pkg/wm"
)

const (
	screenW, screenH = 320, 240
)

func main() {
	configPath := flag.String("config", "", "path to the boot configuration JSON document; empty uses compiled defaults")
	flag.Parse()

	cfg := kconfig.Default()
	if *configPath != "" {
		loaded, err := kconfig.Load(*configPath)
		if err != nil {
			log.Fatalf("tinykernel: loading config: %v", err)
		}
		cfg = loaded
	}

	// TODO: replace with the real SD/SPI block-device Volume once the
	// driver exists; an in-memory volume boots the rest of the stack
	// identically.
	vol := ktest.NewMemVolume()
	k := kernel.New(cfg, vol, screenW, screenH)

	if cfg.DebugBridge != "" {
		hub := debugbridge.NewHub(50, 100)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/debug/events", hub)
			log.Printf("tinykernel: debug bridge listening on %s", cfg.DebugBridge)
			if err := http.ListenAndServe(cfg.DebugBridge, mux); err != nil {
				log.Printf("tinykernel: debug bridge exited: %v", err)
			}
		}()
	}

	sh, _ := k.NewTerminalShell("shell", wm.Rect{X: 0, Y: 0, W: screenW, H: screenH})

	input := make(chan event.Event)
	go pumpStdin(input)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := k.Run(ctx, []*shell.Shell{sh}, input, nil); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "tinykernel: %v\n", err)
		os.Exit(1)
	}
}

// pumpStdin turns terminal keystrokes on the host's stdin into
// character events, standing in for PS/2 scancode polling until a
// real keyboard driver exists.
func pumpStdin(out chan<- event.Event) {
	r := bufio.NewReader(os.Stdin)
	for {
		c, _, err := r.ReadRune()
		if err != nil {
			close(out)
			return
		}
		out <- event.Event{Type: event.TypeChar, Char: c}
	}
}
