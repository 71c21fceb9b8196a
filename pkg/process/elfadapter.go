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
	"fmt"

	"tinykernel.org/pkg/elf"
)

// FileReader reads a whole file's bytes by real path, the minimal
// surface ELFLoader needs from the filesystem layer.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// ELFLoader is the concrete process.Loader: it validates preconditions
// with pkg/elf, loads the required entry-point sections eagerly (the
// rest load on demand as relocations reference them), and stores the
// resulting *elf.Loader on the context for §4.4/§4.5's later calls
// (RunSync's Executor uses it to find program addresses).
type ELFLoader struct {
	Files FileReader
	Heap  elf.Heap
	Flash elf.FlashWriter
}

var _ Loader = (*ELFLoader)(nil)

func (l *ELFLoader) LoadInto(ctx *Context, path string) error {
	data, err := l.Files.ReadFile(path)
	if err != nil {
		return fmt.Errorf("elf: reading %s: %w", path, err)
	}
	img, err := elf.Open(data)
	if err != nil {
		return err
	}
	loader := elf.NewLoader(img, l.Heap, l.Flash)

	mainSec, _ := img.MainSection()
	if _, err := loader.LoadSection(mainSec); err != nil {
		return err
	}
	if sec, _, ok := img.InitSection(); ok {
		if _, err := loader.LoadSection(sec); err != nil {
			return err
		}
	}
	if sec, _, ok := img.FiniSection(); ok {
		if _, err := loader.LoadSection(sec); err != nil {
			return err
		}
	}
	if sec, _, ok := img.SignalSection(); ok {
		if _, err := loader.LoadSection(sec); err != nil {
			return err
		}
	}
	if sec, _, ok := img.APIVersionSection(); ok {
		if _, err := loader.LoadSection(sec); err != nil {
			return err
		}
	}

	ctx.Loader = loader
	ctx.Image = img
	return nil
}
