// Copyright 2026 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package qvisor

import (
	"strings"
)

// Invocation is everything needed to spawn one engine process.  Env
// holds "KEY=value" entries in a fixed order; they are appended to the
// daemon's own environment.  Monitor, when set, is the path of the
// engine's control socket.
type Invocation struct {
	Path    string
	Args    []string
	Env     []string
	Monitor string
}

// String renders the command line for logs.
func (inv *Invocation) String() string {
	return strings.Join(append([]string{inv.Path}, inv.Args...), " ")
}

// EngineInvoker maps a descriptor onto the invocation surface of one
// virtualization engine.  Build must not have side effects, and must
// return identical invocations for identical descriptor contents.
type EngineInvoker interface {
	Build(d *Descriptor) (*Invocation, error)
}
