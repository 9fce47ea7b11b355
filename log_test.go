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
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLog(t *testing.T) {
	Convey("A log ring", t, func() {
		log := NewLog(4)
		recs, id := log.GetRecords(0)
		So(recs, ShouldBeEmpty)

		Convey("Records are split into lines", func() {
			log.Add(StreamOut, "one\ntwo\n")
			recs, id2 := log.GetRecords(id)
			So(id2, ShouldNotEqual, id)
			So(len(recs), ShouldEqual, 2)
			So(recs[0].Text, ShouldEqual, "one")
			So(recs[1].Text, ShouldEqual, "two")
			So(recs[1].Id, ShouldBeGreaterThan, recs[0].Id)
			So(recs[0].Stream, ShouldEqual, StreamOut)

			Convey("An unchanged log returns nothing", func() {
				recs, id3 := log.GetRecords(id2)
				So(recs, ShouldBeNil)
				So(id3, ShouldEqual, id2)
			})
		})

		Convey("Old records fall off", func() {
			for _, s := range []string{"a", "b", "c", "d", "e", "f"} {
				log.Add(StreamErr, s)
			}
			recs, _ := log.GetRecords(0)
			So(len(recs), ShouldEqual, 4)
			So(recs[0].Text, ShouldEqual, "c")
			So(recs[3].Text, ShouldEqual, "f")
		})

		Convey("Writes are tagged as log", func() {
			n, err := log.Write([]byte("hello\n"))
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 6)
			So(log.Sync(), ShouldBeNil)
			recs, _ := log.GetRecords(0)
			So(recs[0].Stream, ShouldEqual, StreamLog)
		})

		Convey("Clear empties the ring", func() {
			log.Add(StreamOut, "x")
			log.Clear()
			recs, _ := log.GetRecords(0)
			So(recs, ShouldBeEmpty)
		})

		Convey("Watch wakes on change", func() {
			go func() {
				time.Sleep(20 * time.Millisecond)
				log.Add(StreamOut, "late")
			}()
			nid := log.Watch(id, 5*time.Second)
			So(nid, ShouldNotEqual, id)
		})

		Convey("Watch expires", func() {
			start := time.Now()
			nid := log.Watch(id, 30*time.Millisecond)
			So(nid, ShouldEqual, id)
			So(time.Since(start), ShouldBeGreaterThanOrEqualTo, 30*time.Millisecond)
		})
	})
}

func TestSubscription(t *testing.T) {
	Convey("Subscriptions see events in order", t, func() {
		h := newHub()
		s1 := h.subscribe()
		s2 := h.subscribe()
		for i := 0; i < 100; i++ {
			h.emit(Event{Kind: Output, Record: &LogRecord{Id: int64(i)}})
		}
		for _, s := range []*Subscription{s1, s2} {
			for i := 0; i < 100; i++ {
				ev := <-s.C()
				So(ev.Record.Id, ShouldEqual, int64(i))
			}
		}

		Convey("Closed subscriptions get nothing more", func() {
			s1.Close()
			s1.Close()
			h.emit(Event{Kind: StateChanged, State: Started})
			ev := <-s2.C()
			So(ev.State, ShouldEqual, Started)
			_, ok := <-s1.C()
			So(ok, ShouldBeFalse)
		})

		Convey("Closing the hub closes subscriptions", func() {
			h.close()
			_, ok := <-s2.C()
			So(ok, ShouldBeFalse)
			s2.Close()
		})
	})
}
