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
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

type recordingSink struct {
	events []Event
	lock   sync.Mutex
}

func (r *recordingSink) Publish(ev Event) error {
	r.lock.Lock()
	r.events = append(r.events, ev)
	r.lock.Unlock()
	return nil
}

func (r *recordingSink) states() []State {
	r.lock.Lock()
	defer r.lock.Unlock()
	var rv []State
	for _, ev := range r.events {
		if ev.Kind == StateChanged {
			rv = append(rv, ev.State)
		}
	}
	return rv
}

func WithManager(t *testing.T, name string, fn func(m *Manager, l *fakeLauncher, sink *recordingSink, met *Metrics)) func() {
	return func() {
		l := newFakeLauncher(true)
		sink := &recordingSink{}
		met, err := NewMetrics(prometheus.NewRegistry())
		So(err, ShouldBeNil)
		m := NewManager(name, ManagerOptions{
			Supervisor: testOptions(t, l),
			Metrics:    met,
			Sinks:      []EventSink{sink},
			Logger:     testLogger(t),
		})
		So(m, ShouldNotBeNil)
		Reset(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			m.Shutdown(ctx)
		})
		fn(m, l, sink, met)
	}
}

func TestManager(t *testing.T) {
	ctx := context.Background()

	Convey("Adding and finding machines", t, WithManager(t, "Add",
		func(m *Manager, l *fakeLauncher, sink *recordingSink, met *Metrics) {
			So(m.Name(), ShouldEqual, "Add")
			serial := m.Serial()
			d1 := testDescriptor("beta")
			d2 := testDescriptor("alpha")
			mc1, err := m.AddMachine(d1)
			So(err, ShouldBeNil)
			_, err = m.AddMachine(d2)
			So(err, ShouldBeNil)
			So(m.Serial(), ShouldNotEqual, serial)

			_, err = m.AddMachine(d1)
			So(err, ShouldEqual, ErrMachineExists)

			list, _, _ := m.Machines()
			So(len(list), ShouldEqual, 2)
			So(list[0].Descriptor().Name(), ShouldEqual, "alpha")
			So(list[1].Descriptor().Name(), ShouldEqual, "beta")

			f, err := m.FindMachine(d1.UUID())
			So(err, ShouldBeNil)
			So(f, ShouldEqual, mc1)
			f, err = m.FindMachine("BETA")
			So(err, ShouldBeNil)
			So(f, ShouldEqual, mc1)
			_, err = m.FindMachine("gamma")
			So(err, ShouldEqual, ErrNoMachine)

			So(testutil.ToFloat64(met.machines.WithLabelValues("stopped")), ShouldEqual, 2)
		}))

	Convey("State changes bump serials and reach sinks", t, WithManager(t, "Events",
		func(m *Manager, l *fakeLauncher, sink *recordingSink, met *Metrics) {
			mc, err := m.AddMachine(testDescriptor("vm"))
			So(err, ShouldBeNil)
			old := mc.Serial()

			So(mc.Run(ctx), ShouldBeNil)
			nserial := mc.WatchSerial(old, 2*time.Second)
			So(nserial, ShouldNotEqual, old)

			So(mc.PauseMachine(ctx), ShouldBeNil)
			So(mc.StopMachine(ctx), ShouldBeNil)
			So(waitFor(2*time.Second, func() bool {
				return len(sink.states()) == 3
			}), ShouldBeTrue)
			So(sink.states(), ShouldResemble, []State{Started, Paused, Stopped})

			info := mc.Info()
			So(info.State, ShouldEqual, Stopped)
			So(info.Manifest.Name, ShouldEqual, "vm")
			So(info.Pid, ShouldEqual, 0)

			So(waitFor(2*time.Second, func() bool {
				return testutil.ToFloat64(met.machines.WithLabelValues("stopped")) == 1
			}), ShouldBeTrue)
			So(testutil.ToFloat64(met.machines.WithLabelValues("started")), ShouldEqual, 0)
			So(testutil.ToFloat64(met.transitions.WithLabelValues(OpPause, "paused")), ShouldEqual, 1)
		}))

	Convey("A crash is counted as a fault", t, WithManager(t, "Fault",
		func(m *Manager, l *fakeLauncher, sink *recordingSink, met *Metrics) {
			mc, err := m.AddMachine(testDescriptor("crashy"))
			So(err, ShouldBeNil)
			So(mc.Run(ctx), ShouldBeNil)
			h := <-l.launched
			h.exitWith(ExitStatus{Code: 139})
			So(waitFor(2*time.Second, func() bool {
				return testutil.ToFloat64(met.faults) == 1
			}), ShouldBeTrue)
			So(mc.Info().Fault, ShouldNotBeNil)
			So(mc.Info().Fault.Exit.Code, ShouldEqual, 139)
		}))

	Convey("Only stopped machines can be deleted", t, WithManager(t, "Delete",
		func(m *Manager, l *fakeLauncher, sink *recordingSink, met *Metrics) {
			mc, err := m.AddMachine(testDescriptor("doomed"))
			So(err, ShouldBeNil)
			id := mc.Descriptor().UUID()
			list := m.WatchMachines(0, 0)

			So(mc.Run(ctx), ShouldBeNil)
			So(m.DeleteMachine(ctx, id), ShouldEqual, ErrIsRunning)
			So(mc.StopMachine(ctx), ShouldBeNil)
			So(m.DeleteMachine(ctx, id), ShouldBeNil)
			So(m.DeleteMachine(ctx, id), ShouldEqual, ErrNoMachine)
			So(m.WatchMachines(list, 0), ShouldNotEqual, list)

			mcs, _, _ := m.Machines()
			So(mcs, ShouldBeEmpty)
		}))

	Convey("Shutdown stops everything", t, WithManager(t, "Shutdown",
		func(m *Manager, l *fakeLauncher, sink *recordingSink, met *Metrics) {
			var mcs []*Machine
			for _, n := range []string{"a", "b", "c"} {
				mc, err := m.AddMachine(testDescriptor(n))
				So(err, ShouldBeNil)
				So(mc.Run(ctx), ShouldBeNil)
				mcs = append(mcs, mc)
			}
			m.Shutdown(ctx)
			for _, mc := range mcs {
				So(mc.State(), ShouldEqual, Stopped)
			}
			recs, _ := m.GetLog(0)
			So(recs, ShouldNotBeEmpty)
		}))
}

func TestManagerPendingRun(t *testing.T) {
	ctx := context.Background()

	newManager := func(l *fakeLauncher) *Manager {
		return NewManager("Pending", ManagerOptions{
			Supervisor: testOptions(t, l),
			Logger:     testLogger(t),
		})
	}

	Convey("A machine that is still starting cannot be deleted", t, func() {
		l := newFakeLauncher(false)
		m := newManager(l)
		mc, err := m.AddMachine(testDescriptor("starting"))
		So(err, ShouldBeNil)
		id := mc.Descriptor().UUID()

		res := make(chan error, 1)
		go func() { res <- mc.Run(ctx) }()
		h := <-l.launched

		So(mc.State(), ShouldEqual, Stopped)
		So(m.DeleteMachine(ctx, id), ShouldEqual, ErrIsRunning)
		_, err = m.FindMachine(id)
		So(err, ShouldBeNil)

		h.becomeReady()
		So(<-res, ShouldBeNil)
		So(mc.StopMachine(ctx), ShouldBeNil)
		So(m.DeleteMachine(ctx, id), ShouldBeNil)
	})

	Convey("Shutdown aborts a machine that is still starting", t, func() {
		l := newFakeLauncher(false)
		m := newManager(l)
		mc, err := m.AddMachine(testDescriptor("starting"))
		So(err, ShouldBeNil)

		res := make(chan error, 1)
		go func() { res <- mc.Run(ctx) }()
		h := <-l.launched

		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		m.Shutdown(sctx)
		So(<-res, ShouldEqual, ErrAborted)
		So(h.killed(), ShouldBeTrue)
		So(mc.State(), ShouldEqual, Stopped)
		So(mc.Active(), ShouldBeFalse)
	})
}
