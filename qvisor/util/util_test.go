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

package util

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/qtemu/qvisor"
	"github.com/qtemu/qvisor/rest"
)

func info(name string, st qvisor.State, fault *qvisor.ProcessFault) *rest.MachineInfo {
	m := &rest.MachineInfo{}
	m.Manifest.Name = name
	m.Manifest.UUID = name + "-uuid"
	m.State = st
	m.Fault = fault
	return m
}

func TestStatus(t *testing.T) {
	Convey("Status labels", t, func() {
		crash := &qvisor.ProcessFault{
			Exit:  qvisor.ExitStatus{Signaled: true, Signal: "killed"},
			Prior: qvisor.Started,
		}
		clean := &qvisor.ProcessFault{Prior: qvisor.Started}

		So(Status(info("a", qvisor.Started, nil)), ShouldEqual, "started")
		So(Status(info("a", qvisor.Stopped, crash)), ShouldEqual, "faulted")
		So(Status(info("a", qvisor.Stopped, clean)), ShouldEqual, "stopped")
		So(Detail(info("a", qvisor.Stopped, crash)), ShouldContainSubstring, "Exited from started")

		m := info("a", qvisor.Paused, nil)
		m.Pid = 77
		So(Detail(m), ShouldEqual, "pid 77")
	})

	Convey("Durations", t, func() {
		So(FormatDuration(0), ShouldEqual, "0:00:00")
		So(FormatDuration(26*time.Hour+3*time.Minute+9*time.Second), ShouldEqual, "26:03:09")
	})
}

func TestSortMachines(t *testing.T) {
	Convey("Faulted first, then active, then by name", t, func() {
		crash := &qvisor.ProcessFault{Exit: qvisor.ExitStatus{Code: 1}}
		items := []*rest.MachineInfo{
			info("zeta", qvisor.Stopped, nil),
			info("Beta", qvisor.Started, nil),
			info("alpha", qvisor.Paused, nil),
			info("omega", qvisor.Stopped, crash),
			info("delta", qvisor.Stopped, nil),
		}
		SortMachines(items)
		names := []string{}
		for _, i := range items {
			names = append(names, i.Manifest.Name)
		}
		So(names, ShouldResemble, []string{"omega", "alpha", "Beta", "delta", "zeta"})
	})

	Convey("Describe lists the configuration", t, func() {
		m := info("vm", qvisor.Stopped, nil)
		m.Manifest.RAM = 2048
		m.Manifest.CPUCount = 2
		m.Manifest.DiskPath = "/var/lib/vm.qcow2"
		m.Manifest.DiskFormat = "qcow2"
		m.AudioLabel = "snd0=intel-hda"
		d := Describe(m)
		found := map[string]string{}
		for _, kv := range d {
			found[kv[0]] = kv[1]
		}
		So(found["RAM"], ShouldEqual, "2048 MiB")
		So(found["CPUs"], ShouldEqual, "2")
		So(found["Disk"], ShouldEqual, "/var/lib/vm.qcow2 (qcow2)")
		So(found["Audio"], ShouldEqual, "snd0=intel-hda")
		So(found["Network"], ShouldEqual, "none")
	})
}
