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

//go:build unix

package qvisor

import (
	"syscall"
)

// signalController drives an engine that has no monitor socket.
type signalController struct {
	h *execHandle
}

func newSignalController(h *execHandle) (Controller, error) {
	return &signalController{h: h}, nil
}

func (c *signalController) Shutdown() error {
	return c.h.signal(syscall.SIGTERM)
}

func (c *signalController) Quit() error {
	// A stopped process cannot act on SIGTERM until continued.
	if err := c.h.signal(syscall.SIGCONT); err != nil {
		return err
	}
	return c.h.signal(syscall.SIGTERM)
}

func (c *signalController) Pause() error {
	return c.h.signal(syscall.SIGSTOP)
}

func (c *signalController) Resume() error {
	return c.h.signal(syscall.SIGCONT)
}

func (c *signalController) Reset() error {
	return ErrUnsupported
}

func (c *signalController) Save(string) error {
	return ErrUnsupported
}

func (c *signalController) Close() error {
	return nil
}
