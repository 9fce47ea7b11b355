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
	"sync"
	"time"

	infinity "github.com/Code-Hex/go-infinity-channel"
)

type EventKind int

const (
	StateChanged EventKind = iota
	Output
)

func (k EventKind) String() string {
	switch k {
	case StateChanged:
		return "state"
	case Output:
		return "output"
	}
	return "unknown"
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is a notification from a Supervisor.  For StateChanged, State
// is the state just entered and Op names the request that caused it;
// Op is empty and Fault is set when the engine exited on its own.  For
// Output, Record carries the relayed line.
type Event struct {
	Machine  string        `json:"machine"`
	Kind     EventKind     `json:"kind"`
	Time     time.Time     `json:"time"`
	State    State         `json:"state"`
	Previous State         `json:"previous"`
	Op       string        `json:"op,omitempty"`
	Fault    *ProcessFault `json:"fault,omitempty"`
	Record   *LogRecord    `json:"record,omitempty"`
}

// Subscription delivers events in the order they were emitted.  Its
// queue is unbounded, so a slow reader never holds up the machine.
type Subscription struct {
	ch   *infinity.Channel[Event]
	hub  *hub
	once sync.Once
}

// C returns the event channel.  It is closed by Close.
func (s *Subscription) C() <-chan Event {
	return s.ch.Out()
}

// Pending is the number of queued, unread events.
func (s *Subscription) Pending() int {
	return s.ch.Len()
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
		s.ch.Close()
	})
}

// hub fans events out to subscriptions.  Callers serialize emit.
type hub struct {
	subs map[*Subscription]struct{}
	lock sync.Mutex
}

func newHub() *hub {
	return &hub{subs: make(map[*Subscription]struct{})}
}

func (h *hub) subscribe() *Subscription {
	s := &Subscription{ch: infinity.NewChannel[Event](), hub: h}
	h.lock.Lock()
	h.subs[s] = struct{}{}
	h.lock.Unlock()
	return s
}

func (h *hub) remove(s *Subscription) {
	h.lock.Lock()
	delete(h.subs, s)
	h.lock.Unlock()
}

func (h *hub) emit(ev Event) {
	h.lock.Lock()
	for s := range h.subs {
		s.ch.In() <- ev
	}
	h.lock.Unlock()
}

func (h *hub) close() {
	h.lock.Lock()
	subs := h.subs
	h.subs = make(map[*Subscription]struct{})
	h.lock.Unlock()
	for s := range subs {
		s.once.Do(s.ch.Close)
	}
}
