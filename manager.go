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
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventSink receives every event of every managed machine, in order per
// machine.
type EventSink interface {
	Publish(ev Event) error
}

// ManagerOptions configures a Manager.  Supervisor is the template used
// for each machine added.
type ManagerOptions struct {
	Supervisor SupervisorOptions
	Metrics    *Metrics
	Sinks      []EventSink
	Logger     *zap.Logger
	LogBuffer  int
}

// Manager holds a set of independently supervised machines, keyed by
// uuid.  Every observed change bumps a serial number that clients can
// long-poll on.
type Manager struct {
	name       string
	machines   map[string]*Machine
	opts       SupervisorOptions
	metrics    *Metrics
	sinks      []EventSink
	logger     *zap.Logger
	log        *Log
	serial     int64
	listSerial int64
	listStamp  time.Time
	createTime time.Time
	updateTime time.Time
	mx         sync.Mutex
	cvs        map[*sync.Cond]bool
}

type ManagerInfo struct {
	Name       string
	Serial     int64
	UpdateTime time.Time
	CreateTime time.Time
}

func NewManager(name string, opts ManagerOptions) *Manager {
	if name == "" {
		name = "qvisor"
	}
	// Serials start at the current time in nanoseconds, so a client
	// that cached state from an earlier daemon sees a change.
	m := &Manager{
		name:     name,
		serial:   time.Now().UnixNano(),
		machines: make(map[string]*Machine),
		opts:     opts.Supervisor,
		metrics:  opts.Metrics,
		sinks:    opts.Sinks,
		cvs:      make(map[*sync.Cond]bool),
		log:      NewLog(opts.LogBuffer),
	}
	m.createTime = time.Now()
	m.updateTime = m.createTime
	m.listStamp = m.createTime
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m.logger = TeeLogger(logger, m.log, zap.InfoLevel)
	if m.opts.Logger == nil {
		m.opts.Logger = logger
	}
	return m
}

func (m *Manager) lock() {
	m.mx.Lock()
}

func (m *Manager) unlock() {
	m.mx.Unlock()
}

// bumpSerial increments the serial and wakes watchers.  Call with the
// lock held, or woken watchers may miss the new value.
func (m *Manager) bumpSerial() int64 {
	m.updateTime = time.Now()
	m.serial++
	for cv := range m.cvs {
		cv.Broadcast()
	}
	return m.serial
}

// watchSerial waits up to expire for *src to differ from old, and
// returns its value.  An expire of 0 polls.
func (m *Manager) watchSerial(old int64, src *int64, expire time.Duration) int64 {
	expired := false
	cv := sync.NewCond(&m.mx)
	var timer *time.Timer
	var rv int64

	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			m.lock()
			expired = true
			cv.Broadcast()
			m.unlock()
		})
	} else {
		expired = true
	}

	m.lock()
	m.cvs[cv] = true
	for {
		rv = *src
		if rv != old || expired {
			break
		}
		cv.Wait()
	}
	delete(m.cvs, cv)
	m.unlock()
	if timer != nil {
		timer.Stop()
	}
	return rv
}

// WatchSerial waits for any change at all.
func (m *Manager) WatchSerial(old int64, expire time.Duration) int64 {
	return m.watchSerial(old, &m.serial, expire)
}

// WatchMachines waits for a machine to be added or deleted.
func (m *Manager) WatchMachines(old int64, expire time.Duration) int64 {
	return m.watchSerial(old, &m.listSerial, expire)
}

func (m *Manager) Serial() int64 {
	m.lock()
	defer m.unlock()
	return m.serial
}

// ListSerial changes whenever a machine is added or deleted.
func (m *Manager) ListSerial() int64 {
	m.lock()
	defer m.unlock()
	return m.listSerial
}

func (m *Manager) Name() string {
	return m.name
}

func (m *Manager) GetInfo() *ManagerInfo {
	m.lock()
	defer m.unlock()
	return &ManagerInfo{
		Name:       m.name,
		Serial:     m.serial,
		CreateTime: m.createTime,
		UpdateTime: m.updateTime,
	}
}

func (m *Manager) Logger() *zap.Logger {
	return m.logger
}

// AddMachine puts d under supervision.
func (m *Manager) AddMachine(d *Descriptor) (*Machine, error) {
	id := d.UUID()
	m.lock()
	if _, ok := m.machines[id]; ok {
		m.unlock()
		return nil, ErrMachineExists
	}
	sup, err := NewSupervisor(d, m.opts)
	if err != nil {
		m.unlock()
		return nil, err
	}
	mc := &Machine{Supervisor: sup, mgr: m, seen: d.State()}
	mc.sub = sup.Subscribe()
	m.machines[id] = mc
	m.listSerial = m.bumpSerial()
	mc.serial = m.bumpSerial()
	mc.stamp = m.updateTime
	m.listStamp = m.updateTime
	if m.metrics != nil {
		m.metrics.added(mc.seen)
	}
	m.unlock()

	go mc.pump()
	m.logger.Info("machine added",
		zap.String("machine", d.Name()), zap.String("uuid", id))
	return mc, nil
}

// DeleteMachine removes a machine.  It must be Stopped with no Run in
// progress.
func (m *Manager) DeleteMachine(ctx context.Context, id string) error {
	m.lock()
	mc, ok := m.machines[id]
	if !ok {
		m.unlock()
		return ErrNoMachine
	}
	if mc.Active() {
		m.unlock()
		return ErrIsRunning
	}
	delete(m.machines, id)
	m.listSerial = m.bumpSerial()
	m.listStamp = m.updateTime
	if m.metrics != nil {
		m.metrics.removed(mc.seen)
	}
	m.unlock()

	mc.sub.Close()
	m.logger.Info("machine deleted", zap.String("uuid", id))
	return mc.Close(ctx)
}

// Machines returns all machines sorted by name, with the list serial
// and the time the list last changed.
func (m *Manager) Machines() ([]*Machine, int64, time.Time) {
	m.lock()
	rv := make([]*Machine, 0, len(m.machines))
	for _, mc := range m.machines {
		rv = append(rv, mc)
	}
	sn := m.listSerial
	ts := m.listStamp
	m.unlock()
	sort.Slice(rv, func(i, j int) bool {
		ni, nj := rv[i].desc.Name(), rv[j].desc.Name()
		if ni != nj {
			return ni < nj
		}
		return rv[i].desc.UUID() < rv[j].desc.UUID()
	})
	return rv, sn, ts
}

// FindMachine looks a machine up by uuid, or failing that by name.
func (m *Manager) FindMachine(key string) (*Machine, error) {
	m.lock()
	defer m.unlock()
	if mc, ok := m.machines[key]; ok {
		return mc, nil
	}
	var found *Machine
	for _, mc := range m.machines {
		if strings.EqualFold(mc.desc.Name(), key) {
			if found != nil {
				// ambiguous
				return nil, ErrNoMachine
			}
			found = mc
		}
	}
	if found == nil {
		return nil, ErrNoMachine
	}
	return found, nil
}

// handle is called by a machine's pump for each of its events.
func (m *Manager) handle(mc *Machine, ev Event) {
	m.lock()
	if _, ok := m.machines[ev.Machine]; ok {
		if m.metrics != nil {
			m.metrics.observe(ev)
		}
		if ev.Kind == StateChanged {
			mc.seen = ev.State
		}
		mc.serial = m.bumpSerial()
		mc.stamp = m.updateTime
	}
	m.unlock()

	for _, s := range m.sinks {
		if err := s.Publish(ev); err != nil {
			m.logger.Warn("cannot publish event",
				zap.String("uuid", ev.Machine), zap.Error(err))
		}
	}
}

// Shutdown stops every running machine, aborting runs still starting,
// and waits for them.
func (m *Manager) Shutdown(ctx context.Context) {
	mcs, _, _ := m.Machines()
	var wg sync.WaitGroup
	for _, mc := range mcs {
		if !mc.Active() {
			continue
		}
		wg.Add(1)
		go func(mc *Machine) {
			defer wg.Done()
			if err := mc.StopMachine(ctx); err != nil && mc.Active() {
				m.logger.Error("cannot stop machine",
					zap.String("uuid", mc.desc.UUID()), zap.Error(err))
			}
		}(mc)
	}
	wg.Wait()
	m.logger.Info("qvisor shut down", zap.String("name", m.name))
}

// Log is the manager's own log ring.
func (m *Manager) Log() *Log {
	return m.log
}

func (m *Manager) GetLog(lastid int64) ([]LogRecord, int64) {
	return m.log.GetRecords(lastid)
}

func (m *Manager) WatchLog(old int64, expire time.Duration) int64 {
	return m.log.Watch(old, expire)
}
