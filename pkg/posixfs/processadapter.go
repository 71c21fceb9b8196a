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

package posixfs

import (
	"tinykernel.org/pkg/process"
)

// ProcessOpener adapts *FS to process.OpenFileAction, resolving the
// spawn file action's path against the target context's own cwd.
type ProcessOpener struct {
	FS *FS
}

var _ process.OpenFileAction = (*ProcessOpener)(nil)

func (o *ProcessOpener) Open(ctx *process.Context, path string, flags int, mode uint32) (int, error) {
	return o.FS.OpenAt(DirRef{Dirname: ctx.Cwd}, path, OpenFlags(flags), mode, ctx.FDs)
}
