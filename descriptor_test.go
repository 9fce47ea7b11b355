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
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestOptions(t *testing.T) {
	Convey("Options keep insertion order", t, func() {
		var o Options
		o.Set("kvm", "")
		o.Set("tcg", "thread=multi")
		o.Set("hvf", "")
		So(o.Keys(), ShouldResemble, []string{"kvm", "tcg", "hvf"})
		So(o.Label(), ShouldEqual, "kvm, tcg=thread=multi, hvf")

		Convey("Overwriting keeps the position", func() {
			o.Set("kvm", "kernel-irqchip=on")
			So(o.Keys(), ShouldResemble, []string{"kvm", "tcg", "hvf"})
			v, ok := o.Get("kvm")
			So(ok, ShouldBeTrue)
			So(v, ShouldEqual, "kernel-irqchip=on")
		})

		Convey("Delete removes only that key", func() {
			o.Delete("tcg")
			So(o.Keys(), ShouldResemble, []string{"kvm", "hvf"})
			o.Delete("nosuch")
			So(o.Len(), ShouldEqual, 2)
		})

		Convey("Clones are independent", func() {
			c := o.Clone()
			c.Delete("kvm")
			So(o.Len(), ShouldEqual, 3)
			So(c.Len(), ShouldEqual, 2)
			So(o.Equal(c), ShouldBeFalse)
			So(o.Equal(o.Clone()), ShouldBeTrue)
		})

		Convey("JSON preserves order", func() {
			b, err := json.Marshal(o)
			So(err, ShouldBeNil)
			So(string(b), ShouldEqual, `{"kvm":"","tcg":"thread=multi","hvf":""}`)

			var back Options
			So(json.Unmarshal(b, &back), ShouldBeNil)
			So(back.Equal(o), ShouldBeTrue)
		})
	})

	Convey("Bad JSON is rejected", t, func() {
		var o Options
		So(json.Unmarshal([]byte(`["a"]`), &o), ShouldNotBeNil)
		So(json.Unmarshal([]byte(`{"a":1}`), &o), ShouldNotBeNil)
		So(json.Unmarshal([]byte(`null`), &o), ShouldBeNil)
		So(o.Len(), ShouldEqual, 0)
	})
}

func TestDescriptor(t *testing.T) {
	Convey("A new descriptor", t, func() {
		d := NewDescriptor("alpine")
		So(d.Name(), ShouldEqual, "alpine")
		So(d.UUID(), ShouldNotBeEmpty)
		So(d.State(), ShouldEqual, Stopped)
		So(NewDescriptor("alpine").UUID(), ShouldNotEqual, d.UUID())

		Convey("Audio add then remove leaves nothing", func() {
			d.AddAudio("hda", "intel-hda")
			So(d.AudioLabel(), ShouldEqual, "hda=intel-hda")
			d.RemoveAudio("hda")
			So(d.Audio().Len(), ShouldEqual, 0)
			So(d.AudioLabel(), ShouldEqual, "")
		})

		Convey("Removing absent keys is harmless", func() {
			d.RemoveAudio("nosuch")
			d.RemoveAccelerator("nosuch")
			So(d.Audio().Len(), ShouldEqual, 0)
			So(d.Accelerator().Len(), ShouldEqual, 0)
		})

		Convey("Accelerators behave like audio", func() {
			d.AddAccelerator("kvm", "")
			d.AddAccelerator("tcg", "")
			d.AddAccelerator("kvm", "kernel-irqchip=split")
			So(d.AcceleratorLabel(), ShouldEqual, "kvm=kernel-irqchip=split, tcg")
			d.RemoveAccelerator("kvm")
			So(d.AcceleratorLabel(), ShouldEqual, "tcg")
		})

		Convey("Whole option sets replace the old ones", func() {
			d.AddAudio("old", "")
			o := NewOptions("hda", "intel-hda", "sb16", "")
			d.SetAudio(o)
			So(d.AudioLabel(), ShouldEqual, "hda=intel-hda, sb16")
			o.Set("ac97", "")
			o.Delete("hda")
			So(d.AudioLabel(), ShouldEqual, "hda=intel-hda, sb16")

			a := NewOptions("kvm", "")
			d.SetAccelerator(a)
			a.Set("tcg", "")
			So(d.AcceleratorLabel(), ShouldEqual, "kvm")
			d.SetAccelerator(Options{})
			So(d.Accelerator().Len(), ShouldEqual, 0)
		})

		Convey("Copies handed out do not alias", func() {
			d.AddAudio("ac97", "")
			a := d.Audio()
			a.Set("sb16", "")
			So(d.Audio().Len(), ShouldEqual, 1)
			m := d.Manifest()
			m.Audio.Delete("ac97")
			So(d.Audio().Len(), ShouldEqual, 1)
		})

		Convey("Update keeps the uuid", func() {
			id := d.UUID()
			m := d.Manifest()
			m.UUID = "something-else"
			m.Name = "renamed"
			m.RAM = 4096
			d.Update(m)
			So(d.UUID(), ShouldEqual, id)
			So(d.Name(), ShouldEqual, "renamed")
			So(d.RAM(), ShouldEqual, 4096)
		})
	})

	Convey("A descriptor from JSON", t, func() {
		js := `{
			"name": "debian",
			"uuid": "0b7c6c5e-3f6a-4f5e-9a43-2f3e1b0c9d11",
			"cpuCount": 4, "socketCount": 1, "coresSocket": 2, "threadsCore": 2,
			"ram": 4096,
			"audio": {"hda": "intel-hda"},
			"accelerator": {"kvm": "", "tcg": ""},
			"useNetwork": true,
			"diskPath": "/var/lib/qvisor/debian.qcow2",
			"diskFormat": "qcow2"
		}`
		d, err := NewDescriptorFromJson(strings.NewReader(js))
		So(err, ShouldBeNil)
		So(d.Name(), ShouldEqual, "debian")
		So(d.UUID(), ShouldEqual, "0b7c6c5e-3f6a-4f5e-9a43-2f3e1b0c9d11")
		So(d.CPUCount(), ShouldEqual, 4)
		So(d.ThreadsCore(), ShouldEqual, 2)
		So(d.UseNetwork(), ShouldBeTrue)
		So(d.AcceleratorLabel(), ShouldEqual, "kvm, tcg")
		So(d.AudioLabel(), ShouldEqual, "hda=intel-hda")

		_, err = NewDescriptorFromJson(strings.NewReader("{"))
		So(err, ShouldNotBeNil)
	})

	Convey("A manifest without uuid gets one", t, func() {
		d := NewDescriptorFromManifest(Manifest{Name: "noid"})
		So(d.UUID(), ShouldNotBeEmpty)
	})
}

func TestState(t *testing.T) {
	Convey("States have names", t, func() {
		for _, s := range []State{Stopped, Started, Paused, Saved} {
			back, err := ParseState(s.String())
			So(err, ShouldBeNil)
			So(back, ShouldEqual, s)
		}
		_, err := ParseState("exploded")
		So(err, ShouldNotBeNil)
		So(State(42).String(), ShouldEqual, "state(42)")
	})

	Convey("Permitted operations", t, func() {
		So(Stopped.Permits(OpRun), ShouldBeTrue)
		So(Stopped.Permits(OpStop), ShouldBeFalse)
		So(Started.Permits(OpPause), ShouldBeTrue)
		So(Paused.Permits(OpReset), ShouldBeTrue)
		So(Saved.Permits(OpReset), ShouldBeFalse)
		So(Saved.Permits(OpStop), ShouldBeTrue)
		So(Saved.Permits(OpResume), ShouldBeTrue)
		So(Started.Permits("explode"), ShouldBeFalse)
	})
}
