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
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors maintained by a Manager.
type Metrics struct {
	machines    *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	faults      prometheus.Counter
	output      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg, which
// may be nil to skip registration.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		machines: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "qvisor",
			Name:      "machines",
			Help:      "Registered machines by state.",
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qvisor",
			Name:      "transitions_total",
			Help:      "Observed state transitions.",
		}, []string{"op", "state"}),
		faults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qvisor",
			Name:      "faults_total",
			Help:      "Engine exits that were not requested.",
		}),
		output: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qvisor",
			Name:      "output_lines_total",
			Help:      "Lines relayed from engine processes.",
		}, []string{"stream"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.machines, m.transitions, m.faults, m.output,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) added(s State) {
	m.machines.WithLabelValues(s.String()).Inc()
}

func (m *Metrics) removed(s State) {
	m.machines.WithLabelValues(s.String()).Dec()
}

func (m *Metrics) observe(ev Event) {
	switch ev.Kind {
	case StateChanged:
		m.machines.WithLabelValues(ev.Previous.String()).Dec()
		m.machines.WithLabelValues(ev.State.String()).Inc()
		op := ev.Op
		if ev.Fault != nil {
			op = "fault"
			m.faults.Inc()
		}
		m.transitions.WithLabelValues(op, ev.State.String()).Inc()
	case Output:
		if ev.Record != nil {
			m.output.WithLabelValues(string(ev.Record.Stream)).Inc()
		}
	}
}
