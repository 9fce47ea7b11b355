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
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// fakeController records what it is asked to do.  Shutdown makes the
// handle exit unless ignoreShutdown is set.  If gate is set, Pause
// signals entered and then blocks until gate is closed.  failOn makes
// single operations fail.
type fakeController struct {
	h              *fakeHandle
	ignoreShutdown bool
	fail           error
	failOn         map[string]error
	entered        chan struct{}
	gate           chan struct{}
	ops            []string
	lock           sync.Mutex
}

func (c *fakeController) record(op string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.ops = append(c.ops, op)
	if err, ok := c.failOn[strings.Fields(op)[0]]; ok {
		return err
	}
	return c.fail
}

func (c *fakeController) Ops() []string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]string{}, c.ops...)
}

func (c *fakeController) Shutdown() error {
	if err := c.record("shutdown"); err != nil {
		return err
	}
	if !c.ignoreShutdown {
		go c.h.exitWith(ExitStatus{})
	}
	return nil
}

func (c *fakeController) Quit() error {
	if err := c.record("quit"); err != nil {
		return err
	}
	go c.h.exitWith(ExitStatus{})
	return nil
}

func (c *fakeController) Pause() error {
	if c.gate != nil {
		close(c.entered)
		<-c.gate
	}
	return c.record("pause")
}

func (c *fakeController) Resume() error {
	return c.record("resume")
}

func (c *fakeController) Reset() error {
	return c.record("reset")
}

func (c *fakeController) Save(tag string) error {
	return c.record("save " + tag)
}

func (c *fakeController) Close() error {
	return nil
}

type fakeHandle struct {
	pid   int
	inv   *Invocation
	outR  *io.PipeReader
	outW  *io.PipeWriter
	errR  *io.PipeReader
	errW  *io.PipeWriter
	ready chan struct{}
	done  chan struct{}
	ctl   *fakeController
	exit  ExitStatus
	once  sync.Once
	lock  sync.Mutex
}

func (h *fakeHandle) Pid() int              { return h.pid }
func (h *fakeHandle) Stdout() io.ReadCloser { return h.outR }
func (h *fakeHandle) Stderr() io.ReadCloser { return h.errR }
func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) Exit() ExitStatus {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.exit
}

func (h *fakeHandle) Ready(ctx context.Context) (Controller, error) {
	select {
	case <-h.ready:
		return h.ctl, nil
	case <-h.done:
		return nil, ErrExited
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *fakeHandle) Kill() error {
	h.exitWith(ExitStatus{Code: -1, Signaled: true, Signal: "killed"})
	return nil
}

func (h *fakeHandle) exitWith(es ExitStatus) {
	h.once.Do(func() {
		h.lock.Lock()
		h.exit = es
		h.lock.Unlock()
		h.outW.Close()
		h.errW.Close()
		close(h.done)
	})
}

func (h *fakeHandle) becomeReady() {
	close(h.ready)
}

func (h *fakeHandle) killed() bool {
	select {
	case <-h.done:
		return h.Exit().Signaled
	default:
		return false
	}
}

// fakeLauncher hands out fakeHandles.  With autoReady unset the engine
// only becomes ready when the test says so, which is how a slow start is
// simulated.
type fakeLauncher struct {
	autoReady bool
	fail      error
	setup     func(c *fakeController)
	launched  chan *fakeHandle
	count     int
	lock      sync.Mutex
}

func newFakeLauncher(autoReady bool) *fakeLauncher {
	return &fakeLauncher{
		autoReady: autoReady,
		launched:  make(chan *fakeHandle, 16),
	}
}

func (l *fakeLauncher) Launch(ctx context.Context, inv *Invocation) (Handle, error) {
	if l.fail != nil {
		return nil, l.fail
	}
	l.lock.Lock()
	l.count++
	pid := 1000 + l.count
	l.lock.Unlock()

	h := &fakeHandle{
		pid:   pid,
		inv:   inv,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
	h.outR, h.outW = io.Pipe()
	h.errR, h.errW = io.Pipe()
	h.ctl = &fakeController{h: h}
	if l.setup != nil {
		l.setup(h.ctl)
	}
	if l.autoReady {
		h.becomeReady()
	}
	l.launched <- h
	return h, nil
}

func (l *fakeLauncher) Launches() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.count
}

type fakeDisks struct {
	fail  error
	calls []string
	lock  sync.Mutex
}

func (d *fakeDisks) CreateDisk(ctx context.Context, path, format string, size int) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.calls = append(d.calls, path)
	return d.fail
}

func testDescriptor(name string) *Descriptor {
	d := NewDescriptor(name)
	d.SetRAM(2048)
	d.SetCPUCount(2)
	d.SetDiskFormat("qcow2")
	return d
}

func testLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

func testOptions(t *testing.T, l Launcher) SupervisorOptions {
	return SupervisorOptions{
		Invoker:      &QemuInvoker{Binary: "fake-engine"},
		Launcher:     l,
		Disks:        &fakeDisks{},
		StopTimeout:  time.Second,
		DrainTimeout: 50 * time.Millisecond,
		Logger:       testLogger(t),
	}
}

var errInjected = errors.New("injected failure")

// nextEvent waits for the next event of kind, skipping others.
func nextEvent(sub *Subscription, kind EventKind) (Event, bool) {
	timer := time.NewTimer(2 * time.Second)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return Event{}, false
			}
			if ev.Kind == kind {
				return ev, true
			}
		case <-timer.C:
			return Event{}, false
		}
	}
}

// noEvent reports whether no state change arrives within d.
func noEvent(sub *Subscription, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case ev := <-sub.C():
			if ev.Kind == StateChanged {
				return false
			}
		case <-timer.C:
			return true
		}
	}
}

func waitFor(d time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func hasArg(args []string, flag, value string) bool {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

func argValue(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func joinArgs(args []string) string {
	return strings.Join(args, " ")
}
