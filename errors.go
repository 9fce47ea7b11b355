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
	"errors"
	"fmt"
)

var (
	ErrNotRunning    = errors.New("Machine is not running")
	ErrNoController  = errors.New("No control channel for machine")
	ErrUnsupported   = errors.New("Operation not supported by control channel")
	ErrMachineExists = errors.New("Machine already registered")
	ErrNoMachine     = errors.New("No such machine")
	ErrIsRunning     = errors.New("Machine is not stopped")
	ErrNoGracePeriod = errors.New("Stop grace period must be positive")
	ErrNoInvoker     = errors.New("No engine invoker configured")
	ErrAborted       = errors.New("Run aborted by stop request")
	ErrClosed        = errors.New("Machine supervisor is closed")
)

// ConfigurationError reports that no valid engine invocation can be
// built from a Descriptor.  The machine stays Stopped.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration: " + e.Reason
	}
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// ProcessSpawnError reports an OS level failure to create the engine
// process, or its exit before it reported readiness.
type ProcessSpawnError struct {
	Path string
	Exit *ExitStatus // non-nil if the process started but died early
	Err  error
}

func (e *ProcessSpawnError) Error() string {
	if e.Exit != nil {
		return fmt.Sprintf("spawn %s: exited before ready (%s)",
			e.Path, e.Exit)
	}
	return fmt.Sprintf("spawn %s: %v", e.Path, e.Err)
}

func (e *ProcessSpawnError) Unwrap() error {
	return e.Err
}

// InvalidTransitionError is returned synchronously when a control
// operation is not permitted from the current state.
type InvalidTransitionError struct {
	Op    string
	State State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s: machine is %s", e.Op, e.State)
}

// BusyError is returned when the caller's context ended while another
// control operation held the machine.
type BusyError struct {
	Op  string
	Err error
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("cannot %s: another operation in progress: %v",
		e.Op, e.Err)
}

func (e *BusyError) Unwrap() error {
	return e.Err
}

// ProcessFault describes an exit of the engine process that nobody asked
// for.  It is never returned from a call; it rides on the state change
// event that moves the machine to Stopped.
type ProcessFault struct {
	Exit  ExitStatus `json:"exit"`
	Prior State      `json:"prior"`
}

func (e *ProcessFault) Error() string {
	return fmt.Sprintf("unexpected exit while %s: %s", e.Prior, e.Exit)
}

// Abnormal is true unless the process exited on its own with status 0,
// e.g. because the guest powered itself off.
func (e *ProcessFault) Abnormal() bool {
	return !e.Exit.Success()
}
