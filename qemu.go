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
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
)

// DiskFormats are the image formats the QEMU builder accepts.
var DiskFormats = []string{"qcow2", "raw", "vmdk", "vdi", "vhdx", "qed"}

func knownDiskFormat(f string) bool {
	for _, v := range DiskFormats {
		if v == f {
			return true
		}
	}
	return false
}

// QemuInvoker builds qemu-system command lines.
type QemuInvoker struct {
	// Binary defaults to qemu-system-x86_64.
	Binary string

	// RunDir holds the per-machine QMP sockets.  When empty no monitor
	// is configured and the process is controlled with signals.
	RunDir string

	// Display is passed to -display when set, e.g. "none" or "vnc=:1".
	Display string

	// AudioDriver is exported as QEMU_AUDIO_DRV when the machine has
	// audio devices.
	AudioDriver string
}

// Sound device models that need a codec attached to their bus.
var hdaControllers = map[string]bool{
	"intel-hda":      true,
	"ich9-intel-hda": true,
}

func (q *QemuInvoker) Build(d *Descriptor) (*Invocation, error) {
	m := d.Manifest()

	if m.Name == "" {
		return nil, &ConfigurationError{Field: "name", Reason: "missing"}
	}
	if _, err := uuid.Parse(m.UUID); err != nil {
		return nil, &ConfigurationError{Field: "uuid", Reason: err.Error()}
	}
	if m.RAM <= 0 {
		return nil, &ConfigurationError{Field: "ram",
			Reason: "must be positive"}
	}
	if m.CPUCount <= 0 {
		return nil, &ConfigurationError{Field: "cpuCount",
			Reason: "must be positive"}
	}
	for _, f := range []struct {
		name string
		v    int
	}{
		{"socketCount", m.SocketCount},
		{"coresSocket", m.CoresSocket},
		{"threadsCore", m.ThreadsCore},
		{"maxHotCPU", m.MaxHotCPU},
	} {
		if f.v < 0 {
			return nil, &ConfigurationError{Field: f.name,
				Reason: "must not be negative"}
		}
	}
	if m.MaxHotCPU > 0 && m.MaxHotCPU < m.CPUCount {
		return nil, &ConfigurationError{Field: "maxHotCPU",
			Reason: fmt.Sprintf("%d is below cpuCount %d",
				m.MaxHotCPU, m.CPUCount)}
	}
	if m.CreateNewDisk {
		if m.DiskPath == "" {
			return nil, &ConfigurationError{Field: "diskPath",
				Reason: "required to create a new disk"}
		}
		if m.DiskSize <= 0 {
			return nil, &ConfigurationError{Field: "diskSize",
				Reason: "must be positive to create a new disk"}
		}
	}
	if m.DiskFormat != "" && !knownDiskFormat(m.DiskFormat) {
		return nil, &ConfigurationError{Field: "diskFormat",
			Reason: fmt.Sprintf("unknown format %q", m.DiskFormat)}
	}

	inv := &Invocation{Path: q.Binary}
	if inv.Path == "" {
		inv.Path = "qemu-system-x86_64"
	}
	args := []string{"-name", m.Name, "-uuid", m.UUID}

	for _, k := range m.Accelerator.Keys() {
		args = append(args, "-accel", withOption(k, m.Accelerator))
	}
	if m.CPUType != "" {
		args = append(args, "-cpu", m.CPUType)
	}
	smp := strconv.Itoa(m.CPUCount)
	if m.SocketCount > 0 {
		smp += ",sockets=" + strconv.Itoa(m.SocketCount)
	}
	if m.CoresSocket > 0 {
		smp += ",cores=" + strconv.Itoa(m.CoresSocket)
	}
	if m.ThreadsCore > 0 {
		smp += ",threads=" + strconv.Itoa(m.ThreadsCore)
	}
	if m.MaxHotCPU > 0 {
		smp += ",maxcpus=" + strconv.Itoa(m.MaxHotCPU)
	}
	args = append(args, "-smp", smp)
	args = append(args, "-m", strconv.Itoa(m.RAM))

	if m.GPUType != "" {
		args = append(args, "-vga", m.GPUType)
	}
	if m.Keyboard != "" {
		args = append(args, "-k", m.Keyboard)
	}
	if q.Display != "" {
		args = append(args, "-display", q.Display)
	}

	// Audio entries map a device id to a device model.
	for _, id := range m.Audio.Keys() {
		model, _ := m.Audio.Get(id)
		if model == "" {
			args = append(args, "-device", id)
			continue
		}
		args = append(args, "-device", model+",id="+id)
		if hdaControllers[model] {
			args = append(args, "-device", "hda-duplex,bus="+id+".0")
		}
	}

	if m.UseNetwork {
		args = append(args, "-nic", "user,model=virtio-net-pci")
	} else {
		args = append(args, "-nic", "none")
	}

	if m.DiskPath != "" {
		drive := "file=" + m.DiskPath
		if m.DiskFormat != "" {
			drive += ",format=" + m.DiskFormat
		}
		drive += ",if=virtio,media=disk"
		args = append(args, "-drive", drive)
	}

	if q.RunDir != "" {
		inv.Monitor = filepath.Join(q.RunDir, m.UUID+".qmp")
		args = append(args, "-qmp",
			"unix:"+inv.Monitor+",server=on,wait=off")
	}
	inv.Args = args

	if m.Audio.Len() > 0 && q.AudioDriver != "" {
		inv.Env = append(inv.Env, "QEMU_AUDIO_DRV="+q.AudioDriver)
	}
	return inv, nil
}

func withOption(key string, o Options) string {
	if v, _ := o.Get(key); v != "" {
		return key + "," + v
	}
	return key
}
