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
	"time"
)

// Machine is a supervised machine registered with a Manager.
type Machine struct {
	*Supervisor
	mgr    *Manager
	sub    *Subscription
	seen   State // last state the manager observed
	serial int64
	stamp  time.Time
}

// MachineInfo is a consistent snapshot of a machine for display.
type MachineInfo struct {
	Manifest         Manifest      `json:"manifest"`
	State            State         `json:"state"`
	Pid              int           `json:"pid,omitempty"`
	Fault            *ProcessFault `json:"fault,omitempty"`
	AudioLabel       string        `json:"audioLabel"`
	AcceleratorLabel string        `json:"acceleratorLabel"`
	Serial           int64         `json:"serial,string"`
	Stamp            time.Time     `json:"stamp"`
}

func (mc *Machine) pump() {
	for ev := range mc.sub.C() {
		mc.mgr.handle(mc, ev)
	}
}

// Serial changes whenever the machine does.
func (mc *Machine) Serial() int64 {
	mc.mgr.lock()
	defer mc.mgr.unlock()
	return mc.serial
}

// WatchSerial waits up to expire for the machine to change.
func (mc *Machine) WatchSerial(old int64, expire time.Duration) int64 {
	return mc.mgr.watchSerial(old, &mc.serial, expire)
}

func (mc *Machine) Info() *MachineInfo {
	mc.mgr.lock()
	serial, stamp := mc.serial, mc.stamp
	mc.mgr.unlock()
	return &MachineInfo{
		Manifest:         mc.desc.Manifest(),
		State:            mc.State(),
		Pid:              mc.Pid(),
		Fault:            mc.Fault(),
		AudioLabel:       mc.desc.AudioLabel(),
		AcceleratorLabel: mc.desc.AcceleratorLabel(),
		Serial:           serial,
		Stamp:            stamp,
	}
}
