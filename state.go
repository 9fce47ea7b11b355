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
	"encoding/json"
	"fmt"
	"strings"
)

// State is the lifecycle state of a machine.  Only the Supervisor
// changes it.
type State int

const (
	Stopped State = iota
	Started
	Paused
	Saved
)

var stateNames = []string{
	Stopped: "stopped",
	Started: "started",
	Paused:  "paused",
	Saved:   "saved",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseState is the inverse of State.String.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if strings.EqualFold(n, name) {
			return State(i), nil
		}
	}
	return Stopped, fmt.Errorf("unknown state %q", name)
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	v, err := ParseState(name)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Control operation names, as used in errors, events and the REST API.
const (
	OpRun    = "run"
	OpStop   = "stop"
	OpReset  = "reset"
	OpPause  = "pause"
	OpResume = "resume"
	OpSave   = "save"
)

// validFrom lists the states from which each control operation may be
// issued.
var validFrom = map[string][]State{
	OpRun:    {Stopped},
	OpStop:   {Started, Paused, Saved},
	OpReset:  {Started, Paused},
	OpPause:  {Started},
	OpResume: {Paused, Saved},
	OpSave:   {Started, Paused},
}

// Permits reports whether op may be issued while in state s.
func (s State) Permits(op string) bool {
	for _, v := range validFrom[op] {
		if v == s {
			return true
		}
	}
	return false
}
