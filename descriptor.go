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
	"io"
	"sync"

	"github.com/google/uuid"
)

// Manifest is the plain, serializable form of a Descriptor.  It is what
// the store package persists and what the REST API returns.  RAM and
// DiskSize are in MiB.
type Manifest struct {
	Name          string  `json:"name"`
	UUID          string  `json:"uuid"`
	Path          string  `json:"path,omitempty"`
	ConfigPath    string  `json:"configPath,omitempty"`
	OSType        string  `json:"osType,omitempty"`
	OSVersion     string  `json:"osVersion,omitempty"`
	CPUType       string  `json:"cpuType,omitempty"`
	CPUCount      int     `json:"cpuCount"`
	SocketCount   int     `json:"socketCount,omitempty"`
	CoresSocket   int     `json:"coresSocket,omitempty"`
	ThreadsCore   int     `json:"threadsCore,omitempty"`
	MaxHotCPU     int     `json:"maxHotCPU,omitempty"`
	GPUType       string  `json:"gpuType,omitempty"`
	Keyboard      string  `json:"keyboard,omitempty"`
	RAM           int     `json:"ram"`
	Audio         Options `json:"audio"`
	UseNetwork    bool    `json:"useNetwork"`
	DiskName      string  `json:"diskName,omitempty"`
	DiskPath      string  `json:"diskPath,omitempty"`
	DiskSize      int     `json:"diskSize,omitempty"`
	DiskFormat    string  `json:"diskFormat,omitempty"`
	CreateNewDisk bool    `json:"createNewDisk"`
	Accelerator   Options `json:"accelerator"`
}

// Descriptor is the configuration record of one virtual machine.  All
// accessors are safe for concurrent use.  Setters perform no validation;
// bad values surface when the machine is run.  Edits made while the
// machine is running are kept and take effect on the next run.
type Descriptor struct {
	m     Manifest
	state State
	lock  sync.RWMutex
}

// NewDescriptor returns a Descriptor with a freshly assigned uuid.
func NewDescriptor(name string) *Descriptor {
	d := &Descriptor{}
	d.m.Name = name
	d.m.UUID = uuid.NewString()
	return d
}

// NewDescriptorFromManifest builds a Descriptor from its persisted form.
// A manifest without a uuid gets one assigned.
func NewDescriptorFromManifest(m Manifest) *Descriptor {
	d := &Descriptor{m: m}
	d.m.Audio = m.Audio.Clone()
	d.m.Accelerator = m.Accelerator.Clone()
	if d.m.UUID == "" {
		d.m.UUID = uuid.NewString()
	}
	return d
}

func NewDescriptorFromJson(r io.Reader) (*Descriptor, error) {
	dec := json.NewDecoder(r)
	var m Manifest
	if e := dec.Decode(&m); e != nil {
		return nil, e
	}
	return NewDescriptorFromManifest(m), nil
}

// Manifest returns a snapshot copy of the descriptor's fields.
func (d *Descriptor) Manifest() Manifest {
	d.lock.RLock()
	defer d.lock.RUnlock()
	m := d.m
	m.Audio = d.m.Audio.Clone()
	m.Accelerator = d.m.Accelerator.Clone()
	return m
}

// Update replaces every field except the uuid.
func (d *Descriptor) Update(m Manifest) {
	d.lock.Lock()
	id := d.m.UUID
	d.m = m
	d.m.UUID = id
	d.m.Audio = m.Audio.Clone()
	d.m.Accelerator = m.Accelerator.Clone()
	d.lock.Unlock()
}

func (d *Descriptor) State() State {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.state
}

func (d *Descriptor) setState(s State) {
	d.lock.Lock()
	d.state = s
	d.lock.Unlock()
}

func (d *Descriptor) get(f func(m *Manifest)) {
	d.lock.RLock()
	f(&d.m)
	d.lock.RUnlock()
}

func (d *Descriptor) set(f func(m *Manifest)) {
	d.lock.Lock()
	f(&d.m)
	d.lock.Unlock()
}

func (d *Descriptor) UUID() (v string) {
	d.get(func(m *Manifest) { v = m.UUID })
	return
}

func (d *Descriptor) Name() (v string) {
	d.get(func(m *Manifest) { v = m.Name })
	return
}

func (d *Descriptor) SetName(v string) {
	d.set(func(m *Manifest) { m.Name = v })
}

func (d *Descriptor) Path() (v string) {
	d.get(func(m *Manifest) { v = m.Path })
	return
}

func (d *Descriptor) SetPath(v string) {
	d.set(func(m *Manifest) { m.Path = v })
}

func (d *Descriptor) ConfigPath() (v string) {
	d.get(func(m *Manifest) { v = m.ConfigPath })
	return
}

func (d *Descriptor) SetConfigPath(v string) {
	d.set(func(m *Manifest) { m.ConfigPath = v })
}

func (d *Descriptor) OSType() (v string) {
	d.get(func(m *Manifest) { v = m.OSType })
	return
}

func (d *Descriptor) SetOSType(v string) {
	d.set(func(m *Manifest) { m.OSType = v })
}

func (d *Descriptor) OSVersion() (v string) {
	d.get(func(m *Manifest) { v = m.OSVersion })
	return
}

func (d *Descriptor) SetOSVersion(v string) {
	d.set(func(m *Manifest) { m.OSVersion = v })
}

func (d *Descriptor) CPUType() (v string) {
	d.get(func(m *Manifest) { v = m.CPUType })
	return
}

func (d *Descriptor) SetCPUType(v string) {
	d.set(func(m *Manifest) { m.CPUType = v })
}

func (d *Descriptor) CPUCount() (v int) {
	d.get(func(m *Manifest) { v = m.CPUCount })
	return
}

func (d *Descriptor) SetCPUCount(v int) {
	d.set(func(m *Manifest) { m.CPUCount = v })
}

func (d *Descriptor) SocketCount() (v int) {
	d.get(func(m *Manifest) { v = m.SocketCount })
	return
}

func (d *Descriptor) SetSocketCount(v int) {
	d.set(func(m *Manifest) { m.SocketCount = v })
}

func (d *Descriptor) CoresSocket() (v int) {
	d.get(func(m *Manifest) { v = m.CoresSocket })
	return
}

func (d *Descriptor) SetCoresSocket(v int) {
	d.set(func(m *Manifest) { m.CoresSocket = v })
}

func (d *Descriptor) ThreadsCore() (v int) {
	d.get(func(m *Manifest) { v = m.ThreadsCore })
	return
}

func (d *Descriptor) SetThreadsCore(v int) {
	d.set(func(m *Manifest) { m.ThreadsCore = v })
}

func (d *Descriptor) MaxHotCPU() (v int) {
	d.get(func(m *Manifest) { v = m.MaxHotCPU })
	return
}

func (d *Descriptor) SetMaxHotCPU(v int) {
	d.set(func(m *Manifest) { m.MaxHotCPU = v })
}

func (d *Descriptor) GPUType() (v string) {
	d.get(func(m *Manifest) { v = m.GPUType })
	return
}

func (d *Descriptor) SetGPUType(v string) {
	d.set(func(m *Manifest) { m.GPUType = v })
}

func (d *Descriptor) Keyboard() (v string) {
	d.get(func(m *Manifest) { v = m.Keyboard })
	return
}

func (d *Descriptor) SetKeyboard(v string) {
	d.set(func(m *Manifest) { m.Keyboard = v })
}

// RAM is the guest memory size in MiB.
func (d *Descriptor) RAM() (v int) {
	d.get(func(m *Manifest) { v = m.RAM })
	return
}

func (d *Descriptor) SetRAM(v int) {
	d.set(func(m *Manifest) { m.RAM = v })
}

func (d *Descriptor) UseNetwork() (v bool) {
	d.get(func(m *Manifest) { v = m.UseNetwork })
	return
}

func (d *Descriptor) SetUseNetwork(v bool) {
	d.set(func(m *Manifest) { m.UseNetwork = v })
}

func (d *Descriptor) DiskName() (v string) {
	d.get(func(m *Manifest) { v = m.DiskName })
	return
}

func (d *Descriptor) SetDiskName(v string) {
	d.set(func(m *Manifest) { m.DiskName = v })
}

func (d *Descriptor) DiskPath() (v string) {
	d.get(func(m *Manifest) { v = m.DiskPath })
	return
}

func (d *Descriptor) SetDiskPath(v string) {
	d.set(func(m *Manifest) { m.DiskPath = v })
}

// DiskSize is the size of a newly created disk image, in MiB.
func (d *Descriptor) DiskSize() (v int) {
	d.get(func(m *Manifest) { v = m.DiskSize })
	return
}

func (d *Descriptor) SetDiskSize(v int) {
	d.set(func(m *Manifest) { m.DiskSize = v })
}

func (d *Descriptor) DiskFormat() (v string) {
	d.get(func(m *Manifest) { v = m.DiskFormat })
	return
}

func (d *Descriptor) SetDiskFormat(v string) {
	d.set(func(m *Manifest) { m.DiskFormat = v })
}

func (d *Descriptor) CreateNewDisk() (v bool) {
	d.get(func(m *Manifest) { v = m.CreateNewDisk })
	return
}

func (d *Descriptor) SetCreateNewDisk(v bool) {
	d.set(func(m *Manifest) { m.CreateNewDisk = v })
}

// Audio returns a copy of the audio backends.
func (d *Descriptor) Audio() (v Options) {
	d.get(func(m *Manifest) { v = m.Audio.Clone() })
	return
}

// SetAudio replaces all audio backends with a copy of o.
func (d *Descriptor) SetAudio(o Options) {
	o = o.Clone()
	d.set(func(m *Manifest) { m.Audio = o })
}

// AddAudio inserts or overwrites an audio backend.
func (d *Descriptor) AddAudio(key, value string) {
	d.set(func(m *Manifest) { m.Audio.Set(key, value) })
}

// RemoveAudio deletes an audio backend if present.
func (d *Descriptor) RemoveAudio(key string) {
	d.set(func(m *Manifest) { m.Audio.Delete(key) })
}

func (d *Descriptor) AudioLabel() (v string) {
	d.get(func(m *Manifest) { v = m.Audio.Label() })
	return
}

// Accelerator returns a copy of the accelerator backends.
func (d *Descriptor) Accelerator() (v Options) {
	d.get(func(m *Manifest) { v = m.Accelerator.Clone() })
	return
}

func (d *Descriptor) SetAccelerator(o Options) {
	o = o.Clone()
	d.set(func(m *Manifest) { m.Accelerator = o })
}

func (d *Descriptor) AddAccelerator(key, value string) {
	d.set(func(m *Manifest) { m.Accelerator.Set(key, value) })
}

func (d *Descriptor) RemoveAccelerator(key string) {
	d.set(func(m *Manifest) { m.Accelerator.Delete(key) })
}

func (d *Descriptor) AcceleratorLabel() (v string) {
	d.get(func(m *Manifest) { v = m.Accelerator.Label() })
	return
}
