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

// Package util is used for internal implementation bits in the CLI/UI.
package util

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/qtemu/qvisor"
	"github.com/qtemu/qvisor/rest"
)

// Faulted reports a machine that stopped without being asked to.
func Faulted(m *rest.MachineInfo) bool {
	return m.State == qvisor.Stopped && m.Fault != nil && m.Fault.Abnormal()
}

// Active reports a machine with a live engine process.
func Active(m *rest.MachineInfo) bool {
	return m.State != qvisor.Stopped
}

func Status(m *rest.MachineInfo) string {
	if Faulted(m) {
		return "faulted"
	}
	return m.State.String()
}

// Detail is a one line explanation of the state.
func Detail(m *rest.MachineInfo) string {
	switch {
	case m.Fault != nil && m.State == qvisor.Stopped:
		return fmt.Sprintf("Exited from %s: %s", m.Fault.Prior, m.Fault.Exit)
	case m.Pid != 0:
		return fmt.Sprintf("pid %d", m.Pid)
	}
	return ""
}

func FormatDuration(d time.Duration) string {

	sec := int((d % time.Minute) / time.Second)
	min := int((d % time.Hour) / time.Minute)
	hour := int(d / time.Hour)

	return fmt.Sprintf("%d:%02d:%02d", hour, min, sec)
}

type sorted []*rest.MachineInfo

func (s sorted) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

func (s sorted) Len() int {
	return len(s)
}

func (s sorted) Less(i, j int) bool {
	a := s[i]
	b := s[j]

	if fa, fb := Faulted(a), Faulted(b); fa != fb {
		// put faulted machines at front
		return fa
	}
	if Active(a) != Active(b) {
		return Active(a)
	}
	an, bn := strings.ToLower(a.Manifest.Name), strings.ToLower(b.Manifest.Name)
	if an != bn {
		return an < bn
	}
	return a.Manifest.UUID < b.Manifest.UUID
}

func SortMachines(items []*rest.MachineInfo) {
	sort.Sort(sorted(items))
}

// Describe returns label/value pairs describing a machine's
// configuration, for the info views.
func Describe(m *rest.MachineInfo) [][2]string {
	mf := m.Manifest
	cpus := fmt.Sprintf("%d", mf.CPUCount)
	if mf.SocketCount > 0 || mf.CoresSocket > 0 || mf.ThreadsCore > 0 {
		cpus += fmt.Sprintf(" (%d sockets, %d cores, %d threads)",
			mf.SocketCount, mf.CoresSocket, mf.ThreadsCore)
	}
	if mf.MaxHotCPU > 0 {
		cpus += fmt.Sprintf(", up to %d", mf.MaxHotCPU)
	}
	disk := mf.DiskPath
	if disk != "" && mf.DiskFormat != "" {
		disk += " (" + mf.DiskFormat + ")"
	}
	if mf.CreateNewDisk {
		disk += fmt.Sprintf(", created at %d MiB", mf.DiskSize)
	}
	net := "none"
	if mf.UseNetwork {
		net = "user"
	}
	return [][2]string{
		{"Name", mf.Name},
		{"UUID", mf.UUID},
		{"State", Status(m)},
		{"Since", m.Stamp.Format(time.RFC1123)},
		{"Detail", Detail(m)},
		{"OS", strings.TrimSpace(mf.OSType + " " + mf.OSVersion)},
		{"CPU", strings.TrimSpace(mf.CPUType)},
		{"CPUs", cpus},
		{"RAM", fmt.Sprintf("%d MiB", mf.RAM)},
		{"GPU", mf.GPUType},
		{"Keyboard", mf.Keyboard},
		{"Audio", m.AudioLabel},
		{"Accel", m.AcceleratorLabel},
		{"Network", net},
		{"Disk", disk},
	}
}
