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
	"reflect"
	"testing"
)

func TestTokenizeSimpleArgv(t *testing.T) {
	p := Tokenize("ls -la /bin")
	if len(p.Stages) != 1 {
		t.Fatalf("Stages = %d; want 1", len(p.Stages))
	}
	want := []string{"ls", "-la", "/bin"}
	if !reflect.DeepEqual(p.Stages[0].Argv, want) {
		t.Fatalf("Argv = %v; want %v", p.Stages[0].Argv, want)
	}
	if p.Detached {
		t.Fatal("Detached should be false without a trailing &")
	}
}

func TestTokenizeQuotedArgPreservesSpaces(t *testing.T) {
	p := Tokenize(`echo "hello world" done`)
	want := []string{"echo", "hello world", "done"}
	if !reflect.DeepEqual(p.Stages[0].Argv, want) {
		t.Fatalf("Argv = %v; want %v", p.Stages[0].Argv, want)
	}
}

func TestTokenizePipeSplitsStages(t *testing.T) {
	p := Tokenize("ls | sort | head")
	if len(p.Stages) != 3 {
		t.Fatalf("Stages = %d; want 3", len(p.Stages))
	}
	if p.Stages[0].Argv[0] != "ls" || p.Stages[1].Argv[0] != "sort" || p.Stages[2].Argv[0] != "head" {
		t.Fatalf("stage argv0s = %v, %v, %v; want ls, sort, head",
			p.Stages[0].Argv[0], p.Stages[1].Argv[0], p.Stages[2].Argv[0])
	}
}

func TestTokenizePipeInsideQuotesIsNotASplit(t *testing.T) {
	p := Tokenize(`echo "a|b"`)
	if len(p.Stages) != 1 {
		t.Fatalf("Stages = %d; want 1 (pipe inside quotes should not split)", len(p.Stages))
	}
	want := []string{"echo", "a|b"}
	if !reflect.DeepEqual(p.Stages[0].Argv, want) {
		t.Fatalf("Argv = %v; want %v", p.Stages[0].Argv, want)
	}
}

func TestTokenizeTrailingAmpersandMarksDetached(t *testing.T) {
	p := Tokenize("longtask &")
	if !p.Detached {
		t.Fatal("trailing & should set Detached")
	}
	if len(p.Stages) != 1 || p.Stages[0].Argv[0] != "longtask" {
		t.Fatalf("Stages = %v; want a single longtask stage", p.Stages)
	}
}

func TestTokenizeEmptyLineYieldsEmptyArgv(t *testing.T) {
	p := Tokenize("   ")
	if len(p.Stages) != 1 || len(p.Stages[0].Argv) != 0 {
		t.Fatalf("Stages = %v; want a single stage with an empty argv", p.Stages)
	}
}
