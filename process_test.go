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
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

// shInvoker runs a shell script in place of an engine.
type shInvoker struct {
	script  string
	env     []string
	monitor string
}

func (i *shInvoker) Build(d *Descriptor) (*Invocation, error) {
	return &Invocation{
		Path:    "/bin/sh",
		Args:    []string{"-c", i.script},
		Env:     i.env,
		Monitor: i.monitor,
	}, nil
}

func newShSupervisor(t *testing.T, inv *shInvoker, grace time.Duration) *Supervisor {
	s, err := NewSupervisor(NewDescriptor(t.Name()), SupervisorOptions{
		Invoker:      inv,
		Launcher:     &ExecLauncher{Poll: 10 * time.Millisecond},
		StopTimeout:  grace,
		ReadyTimeout: 5 * time.Second,
		Logger:       testLogger(t),
	})
	So(err, ShouldBeNil)
	return s
}

func TestProcessStartStop(t *testing.T) {
	ctx := context.Background()

	Convey("Run and stop a real process", t, func() {
		s := newShSupervisor(t, &shInvoker{
			script: `echo "hello $QVISOR_TEST"; echo oops >&2; exec sleep 60`,
			env:    []string{"QVISOR_TEST=world"},
		}, 5*time.Second)
		sub := s.Subscribe()

		So(s.Run(ctx), ShouldBeNil)
		So(s.State(), ShouldEqual, Started)
		So(s.Pid(), ShouldBeGreaterThan, 0)

		seen := map[Stream]string{}
		for len(seen) < 2 {
			ev, ok := nextEvent(sub, Output)
			So(ok, ShouldBeTrue)
			seen[ev.Record.Stream] = ev.Record.Text
		}
		So(seen[StreamOut], ShouldEqual, "hello world")
		So(seen[StreamErr], ShouldEqual, "oops")

		So(s.StopMachine(ctx), ShouldBeNil)
		So(s.State(), ShouldEqual, Stopped)
		So(s.Fault(), ShouldBeNil)
	})

	Convey("Pause and resume with signals", t, func() {
		s := newShSupervisor(t, &shInvoker{script: "exec sleep 60"}, 5*time.Second)
		So(s.Run(ctx), ShouldBeNil)
		So(s.PauseMachine(ctx), ShouldBeNil)
		So(s.State(), ShouldEqual, Paused)
		So(s.ResumeMachine(ctx), ShouldBeNil)
		So(s.State(), ShouldEqual, Started)

		err := s.ResetMachine(ctx)
		So(errors.Is(err, ErrUnsupported), ShouldBeTrue)
		So(s.State(), ShouldEqual, Started)

		So(s.PauseMachine(ctx), ShouldBeNil)
		So(s.StopMachine(ctx), ShouldBeNil)
		So(s.State(), ShouldEqual, Stopped)
	})
}

func TestProcessFail(t *testing.T) {
	ctx := context.Background()

	Convey("A process that exits on its own", t, func() {
		s := newShSupervisor(t, &shInvoker{script: "sleep 0.2; exit 7"}, time.Second)
		sub := s.Subscribe()
		So(s.Run(ctx), ShouldBeNil)
		_, ok := nextEvent(sub, StateChanged)
		So(ok, ShouldBeTrue)

		ev, ok := nextEvent(sub, StateChanged)
		So(ok, ShouldBeTrue)
		So(ev.State, ShouldEqual, Stopped)
		So(ev.Fault, ShouldNotBeNil)
		So(ev.Fault.Exit.Code, ShouldEqual, 7)
		So(ev.Fault.Abnormal(), ShouldBeTrue)
	})

	Convey("A process that ignores SIGTERM is killed", t, func() {
		s := newShSupervisor(t, &shInvoker{
			script: `trap '' TERM; echo armed; while :; do sleep 0.05; done`,
		}, 200*time.Millisecond)
		sub := s.Subscribe()
		So(s.Run(ctx), ShouldBeNil)
		ev, ok := nextEvent(sub, Output)
		So(ok, ShouldBeTrue)
		So(ev.Record.Text, ShouldEqual, "armed")

		start := time.Now()
		So(s.StopMachine(ctx), ShouldBeNil)
		So(time.Since(start), ShouldBeGreaterThanOrEqualTo, 200*time.Millisecond)
		So(s.State(), ShouldEqual, Stopped)
		So(s.Fault(), ShouldBeNil)
	})

	Convey("A missing binary", t, func() {
		s, err := NewSupervisor(testDescriptor("missing"), SupervisorOptions{
			Invoker: &QemuInvoker{
				Binary: filepath.Join(t.TempDir(), "no-such-engine"),
			},
			StopTimeout: time.Second,
			Logger:      testLogger(t),
		})
		So(err, ShouldBeNil)
		err = s.Run(ctx)
		var pse *ProcessSpawnError
		So(errors.As(err, &pse), ShouldBeTrue)
		So(pse.Exit, ShouldBeNil)
		So(s.State(), ShouldEqual, Stopped)
	})
}

func TestProcessMonitor(t *testing.T) {
	ctx := context.Background()

	Convey("Readiness waits for the monitor socket", t, func() {
		dir, err := os.MkdirTemp("", "qvm")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dir)
		sock := filepath.Join(dir, "m.qmp")

		s := newShSupervisor(t, &shInvoker{
			script:  "exec sleep 60",
			monitor: sock,
		}, 100*time.Millisecond)

		srvc := make(chan *qmpServer, 1)
		go func() {
			time.Sleep(150 * time.Millisecond)
			ln, err := net.Listen("unix", sock)
			if err != nil {
				close(srvc)
				return
			}
			srv := &qmpServer{
				path:     sock,
				ln:       ln,
				commands: make(chan string, 32),
				fail:     map[string]string{},
				returns:  map[string]string{},
			}
			go srv.serve()
			srvc <- srv
		}()

		start := time.Now()
		So(s.Run(ctx), ShouldBeNil)
		So(time.Since(start), ShouldBeGreaterThanOrEqualTo, 150*time.Millisecond)
		So(s.State(), ShouldEqual, Started)
		srv := <-srvc
		So(srv, ShouldNotBeNil)
		defer srv.ln.Close()
		So(srv.next(), ShouldEqual, "qmp_capabilities")

		So(s.PauseMachine(ctx), ShouldBeNil)
		So(srv.next(), ShouldEqual, "stop")

		// sleep ignores the power button, so this ends in a kill.
		So(s.StopMachine(ctx), ShouldBeNil)
		So(srv.next(), ShouldEqual, "quit")
		So(s.State(), ShouldEqual, Stopped)
	})

	Convey("A failed snapshot leaves the guest running", t, func() {
		dir, err := os.MkdirTemp("", "qvm")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dir)
		sock := filepath.Join(dir, "m.qmp")
		ln, err := net.Listen("unix", sock)
		So(err, ShouldBeNil)
		defer ln.Close()
		srv := &qmpServer{
			path:     sock,
			ln:       ln,
			commands: make(chan string, 32),
			fail:     map[string]string{},
			returns: map[string]string{
				"human-monitor-command": `"Error: no block device can accept snapshots\r\n"`,
			},
		}
		go srv.serve()

		s := newShSupervisor(t, &shInvoker{
			script:  "exec sleep 60",
			monitor: sock,
		}, 100*time.Millisecond)
		So(s.Run(ctx), ShouldBeNil)
		So(srv.next(), ShouldEqual, "qmp_capabilities")

		err = s.SaveMachine(ctx, "snap")
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "no block device")
		So(srv.next(), ShouldEqual, "stop")
		So(srv.next(), ShouldEqual, "human-monitor-command savevm snap")
		So(srv.next(), ShouldEqual, "cont")
		So(s.State(), ShouldEqual, Started)

		So(s.StopMachine(ctx), ShouldBeNil)
		So(s.State(), ShouldEqual, Stopped)
	})

	Convey("An engine that exits before its monitor appears", t, func() {
		s := newShSupervisor(t, &shInvoker{
			script:  "echo bad option >&2; exit 2",
			monitor: filepath.Join(t.TempDir(), "never.qmp"),
		}, time.Second)
		err := s.Run(ctx)
		var pse *ProcessSpawnError
		So(errors.As(err, &pse), ShouldBeTrue)
		So(pse.Exit, ShouldNotBeNil)
		So(pse.Exit.Code, ShouldEqual, 2)
		So(s.State(), ShouldEqual, Stopped)

		recs, _ := s.Log().GetRecords(0)
		found := false
		for _, r := range recs {
			if r.Stream == StreamErr && r.Text == "bad option" {
				found = true
			}
		}
		So(found, ShouldBeTrue)
	})
}
