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

// Package qvisor supervises virtual machines that run as external
// engine processes, such as qemu-system.
//
// A Descriptor holds a machine's identity and hardware configuration.
// An EngineInvoker turns it into an Invocation (arguments and
// environment), and a Supervisor spawns the engine, relays its output,
// and tracks the machine through the Stopped, Started, Paused and Saved
// states.  Observers subscribe to a Supervisor to receive state changes
// and output lines, in order.
//
// A Manager groups many machines, each supervised independently, and
// keeps change serial numbers so that clients can long-poll for
// updates.  The rest package exposes a Manager over HTTP.
//
// Unlike a service manager, qvisor never restarts a machine on its own.
// An engine that exits without being asked to simply leaves its machine
// Stopped, with a ProcessFault recording how it died.
package qvisor
