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

package natsbus

import (
	"encoding/json"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap/zaptest"

	"github.com/qtemu/qvisor"
)

type msg struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs   []msg
	closed bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.msgs = append(c.msgs, msg{subject, data})
	return nil
}

func (c *fakeConn) IsClosed() bool { return c.closed }
func (c *fakeConn) Drain() error   { return nil }
func (c *fakeConn) Close()         { c.closed = true }

const id = "6b1f0a3e-1c0d-4f6e-8a9b-2c3d4e5f6a7b"

func TestPublisher(t *testing.T) {
	Convey("Publishing events", t, func() {
		nc := &fakeConn{}
		p := newPublisher(nc, "lab", true, zaptest.NewLogger(t))

		ev := qvisor.Event{
			Machine:  id,
			Kind:     qvisor.StateChanged,
			Time:     time.Now(),
			State:    qvisor.Stopped,
			Previous: qvisor.Started,
			Fault: &qvisor.ProcessFault{
				Exit:  qvisor.ExitStatus{Code: 3},
				Prior: qvisor.Started,
			},
		}
		So(p.Publish(ev), ShouldBeNil)
		So(len(nc.msgs), ShouldEqual, 1)
		So(nc.msgs[0].subject, ShouldEqual, "lab."+id+".state")

		var got map[string]interface{}
		So(json.Unmarshal(nc.msgs[0].data, &got), ShouldBeNil)
		So(got["state"], ShouldEqual, "stopped")
		So(got["previous"], ShouldEqual, "started")
		So(got["kind"], ShouldEqual, "state")
		So(got["fault"], ShouldNotBeNil)

		rec := &qvisor.LogRecord{Id: 4, Stream: qvisor.StreamErr, Text: "boot failed"}
		So(p.Publish(qvisor.Event{Machine: id, Kind: qvisor.Output, Record: rec}), ShouldBeNil)
		So(len(nc.msgs), ShouldEqual, 2)
		So(nc.msgs[1].subject, ShouldEqual, "lab."+id+".output")

		Convey("Output can be suppressed", func() {
			q := newPublisher(nc, "", false, zaptest.NewLogger(t))
			So(q.Publish(qvisor.Event{Machine: id, Kind: qvisor.Output, Record: rec}), ShouldBeNil)
			So(len(nc.msgs), ShouldEqual, 2)
			So(q.Subject(ev), ShouldEqual, "qvisor."+id+".state")
		})

		Convey("A closed connection refuses", func() {
			p.Close()
			So(p.Publish(ev), ShouldEqual, ErrClosed)
		})
	})

	Convey("Connecting to nothing fails", t, func() {
		_, err := Connect("nats://127.0.0.1:1", Options{Name: "test"})
		So(err, ShouldNotBeNil)
	})
}
