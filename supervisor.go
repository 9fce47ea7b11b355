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
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Capabilities of a supervised machine.
type Startable interface {
	Run(ctx context.Context) error
}

type Stoppable interface {
	StopMachine(ctx context.Context) error
}

type Pausable interface {
	PauseMachine(ctx context.Context) error
	ResumeMachine(ctx context.Context) error
}

type Resettable interface {
	ResetMachine(ctx context.Context) error
}

var (
	_ Startable  = (*Supervisor)(nil)
	_ Stoppable  = (*Supervisor)(nil)
	_ Pausable   = (*Supervisor)(nil)
	_ Resettable = (*Supervisor)(nil)
)

// SupervisorOptions configures a Supervisor.  Invoker and StopTimeout
// are required.
type SupervisorOptions struct {
	Invoker  EngineInvoker
	Launcher Launcher    // defaults to an ExecLauncher
	Disks    DiskCreator // defaults to QemuImg

	// StopTimeout is how long a graceful stop may take before the
	// process is killed.
	StopTimeout time.Duration

	// ReadyTimeout bounds the wait for the engine to report startup.
	// Zero waits as long as the caller's context allows.
	ReadyTimeout time.Duration

	// DrainTimeout bounds how long output is still collected after the
	// process exited.  Zero means 250ms.
	DrainTimeout time.Duration

	// OutputBuffer is the size of the output ring; see NewLog.
	OutputBuffer int

	Logger *zap.Logger
}

// proc is the process handle of one run.
type proc struct {
	h        Handle
	ctl      Controller
	relay    *relay
	ready    bool
	stopping bool
	done     chan struct{} // closed once the exit has been handled
}

// pendingRun lets a stop request abort a Run that has not yet seen the
// engine become ready, including one still queued for the control slot.
// cancel is nil until the run holds the slot.
type pendingRun struct {
	cancel  context.CancelFunc
	aborted bool
}

// Supervisor runs one machine.  Control operations are serialized: a
// caller blocks while another operation is in flight, and gets a
// *BusyError if its context ends first.  A stop request is the one
// exception; it aborts a Run that is still waiting for readiness.
type Supervisor struct {
	desc     *Descriptor
	invoker  EngineInvoker
	launcher Launcher
	disks    DiskCreator
	grace    time.Duration
	readyTO  time.Duration
	drainTO  time.Duration
	logger   *zap.Logger
	output   *Log
	hub      *hub
	slot     chan struct{}

	lock    sync.Mutex
	proc    *proc
	pending map[*pendingRun]struct{}
	closed  bool
	fault   *ProcessFault
}

func NewSupervisor(d *Descriptor, opts SupervisorOptions) (*Supervisor, error) {
	if opts.StopTimeout <= 0 {
		return nil, ErrNoGracePeriod
	}
	if opts.Invoker == nil {
		return nil, ErrNoInvoker
	}
	s := &Supervisor{
		desc:     d,
		invoker:  opts.Invoker,
		launcher: opts.Launcher,
		disks:    opts.Disks,
		grace:    opts.StopTimeout,
		readyTO:  opts.ReadyTimeout,
		drainTO:  opts.DrainTimeout,
		output:   NewLog(opts.OutputBuffer),
		hub:      newHub(),
		slot:     make(chan struct{}, 1),
		pending:  make(map[*pendingRun]struct{}),
	}
	if s.launcher == nil {
		s.launcher = &ExecLauncher{}
	}
	if s.disks == nil {
		s.disks = &QemuImg{}
	}
	if s.drainTO <= 0 {
		s.drainTO = 250 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s.logger = TeeLogger(logger, s.output, zap.InfoLevel).With(
		zap.String("machine", d.Name()), zap.String("uuid", d.UUID()))
	return s, nil
}

func (s *Supervisor) Descriptor() *Descriptor {
	return s.desc
}

func (s *Supervisor) State() State {
	return s.desc.State()
}

// Active reports whether the machine is running or a Run is underway.
// A machine is only safe to discard once this is false.
func (s *Supervisor) Active() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.pending) != 0 || s.desc.State() != Stopped
}

// Pid returns the engine's process id, or 0 when none is running.
func (s *Supervisor) Pid() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.h.Pid()
}

// Fault returns the most recent unsolicited exit, cleared by a
// successful Run.
func (s *Supervisor) Fault() *ProcessFault {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.fault
}

// Log is the ring of relayed output plus the supervisor's own messages.
func (s *Supervisor) Log() *Log {
	return s.output
}

// Subscribe registers for state and output events.
func (s *Supervisor) Subscribe() *Subscription {
	return s.hub.subscribe()
}

// transition must be called with the lock held, so events leave in the
// order the transitions happened.
func (s *Supervisor) transition(to State, op string, fault *ProcessFault) {
	prev := s.desc.State()
	s.desc.setState(to)
	s.hub.emit(Event{
		Machine:  s.desc.UUID(),
		Kind:     StateChanged,
		Time:     time.Now(),
		State:    to,
		Previous: prev,
		Op:       op,
		Fault:    fault,
	})
	if fault != nil {
		s.logger.Warn("machine stopped unexpectedly",
			zap.Stringer("from", prev), zap.Stringer("exit", fault.Exit))
	} else {
		s.logger.Info("machine state changed",
			zap.Stringer("from", prev), zap.Stringer("to", to),
			zap.String("op", op))
	}
}

func (s *Supervisor) relayed(p *proc, stream Stream, line string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.proc != p {
		return
	}
	rec := s.output.Add(stream, line)
	s.hub.emit(Event{
		Machine: s.desc.UUID(),
		Kind:    Output,
		Time:    rec.Time,
		State:   s.desc.State(),
		Record:  &rec,
	})
}

func (s *Supervisor) acquire(ctx context.Context, op string) error {
	select {
	case s.slot <- struct{}{}:
		return nil
	default:
	}
	select {
	case s.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return &BusyError{Op: op, Err: ctx.Err()}
	}
}

func (s *Supervisor) release() {
	<-s.slot
}

func (s *Supervisor) check(op string) error {
	if st := s.desc.State(); !st.Permits(op) {
		return &InvalidTransitionError{Op: op, State: st}
	}
	return nil
}

// Run builds the engine invocation, creates the disk if asked to,
// spawns the engine and waits until it reports that it is up.  Only
// then does the machine become Started.  If the engine cannot be
// started the machine stays Stopped and no process is left behind.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.check(OpRun); err != nil {
		return err
	}
	pend, err := s.register()
	if err != nil {
		return err
	}
	if err := s.acquire(ctx, OpRun); err != nil {
		s.unregister(pend)
		return err
	}
	// Unregister before the slot is released, so that a stop holding
	// the slot never sees this run as still pending.
	defer func() {
		s.unregister(pend)
		s.release()
	}()
	if err := s.check(OpRun); err != nil {
		return err
	}

	var rctx context.Context
	var cancel context.CancelFunc
	if s.readyTO > 0 {
		rctx, cancel = context.WithTimeout(ctx, s.readyTO)
	} else {
		rctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	s.lock.Lock()
	pend.cancel = cancel
	abort := pend.aborted
	s.lock.Unlock()
	if abort {
		return ErrAborted
	}

	inv, err := s.invoker.Build(s.desc)
	if err != nil {
		s.logger.Error("cannot build invocation", zap.Error(err))
		return err
	}
	if m := s.desc.Manifest(); m.CreateNewDisk {
		err = s.disks.CreateDisk(rctx, m.DiskPath, m.DiskFormat, m.DiskSize)
		if err != nil {
			s.logger.Error("cannot create disk", zap.Error(err))
			return &ProcessSpawnError{Path: inv.Path,
				Err: fmt.Errorf("create disk: %w", err)}
		}
	}
	if s.aborted(pend) {
		return ErrAborted
	}

	s.logger.Info("starting engine", zap.Stringer("command", inv))
	h, err := s.launcher.Launch(rctx, inv)
	if err != nil {
		s.logger.Error("cannot spawn engine", zap.Error(err))
		return &ProcessSpawnError{Path: inv.Path, Err: err}
	}

	p := &proc{h: h, done: make(chan struct{})}
	s.lock.Lock()
	s.proc = p
	s.lock.Unlock()
	p.relay = newRelay(h.Stdout(), h.Stderr(), func(st Stream, line string) {
		s.relayed(p, st, line)
	}, s.logger)
	go s.monitor(p)

	// Readiness is abandoned as soon as the process dies.
	go func() {
		select {
		case <-h.Done():
			cancel()
		case <-rctx.Done():
		}
	}()
	ctl, err := h.Ready(rctx)

	s.lock.Lock()
	if err == nil && s.proc == p && !pend.aborted {
		p.ctl = ctl
		p.ready = true
		s.fault = nil
		s.transition(Started, OpRun, nil)
		s.lock.Unlock()
		return nil
	}
	aborted := pend.aborted
	s.lock.Unlock()
	if ctl != nil {
		ctl.Close()
	}

	var exit *ExitStatus
	select {
	case <-h.Done():
		e := h.Exit()
		exit = &e
	default:
		if kerr := h.Kill(); kerr != nil {
			s.logger.Warn("cannot kill engine", zap.Error(kerr))
		}
	}
	<-p.done

	switch {
	case aborted:
		s.logger.Info("run aborted by stop request")
		return ErrAborted
	case exit != nil:
		s.logger.Error("engine exited before ready", zap.Stringer("exit", exit))
		return &ProcessSpawnError{Path: inv.Path, Exit: exit, Err: ErrExited}
	case err == nil:
		// Ready raced with an exit after our check above.
		return &ProcessSpawnError{Path: inv.Path, Err: ErrExited}
	default:
		s.logger.Error("engine not ready", zap.Error(err))
		return &ProcessSpawnError{Path: inv.Path, Err: err}
	}
}

func (s *Supervisor) register() (*pendingRun, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	p := &pendingRun{}
	s.pending[p] = struct{}{}
	return p, nil
}

func (s *Supervisor) unregister(p *pendingRun) {
	s.lock.Lock()
	delete(s.pending, p)
	s.lock.Unlock()
}

func (s *Supervisor) aborted(p *pendingRun) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return p.aborted
}

// monitor waits for the process to exit and moves the machine to
// Stopped.  An exit nobody asked for carries a ProcessFault.
func (s *Supervisor) monitor(p *proc) {
	<-p.h.Done()
	exit := p.h.Exit()
	p.relay.drain(s.drainTO)

	s.lock.Lock()
	if s.proc == p {
		s.proc = nil
		if p.ready {
			if p.stopping {
				s.transition(Stopped, OpStop, nil)
			} else {
				f := &ProcessFault{Exit: exit, Prior: s.desc.State()}
				s.fault = f
				s.transition(Stopped, "", f)
			}
		}
	}
	ctl := p.ctl
	s.lock.Unlock()

	if ctl != nil {
		ctl.Close()
	}
	s.logger.Info("engine exited", zap.Stringer("exit", exit))
	close(p.done)
}

// StopMachine asks the engine to shut down and waits for it to exit.
// The guest gets the configured grace period, after which the process
// is killed; it is also killed at once if ctx ends.  The machine is
// Stopped when StopMachine returns nil.
func (s *Supervisor) StopMachine(ctx context.Context) error {
	s.lock.Lock()
	aborting := len(s.pending) != 0
	for pend := range s.pending {
		pend.aborted = true
		if pend.cancel != nil {
			pend.cancel()
		}
	}
	st := s.desc.State()
	s.lock.Unlock()
	if !aborting && !st.Permits(OpStop) {
		return &InvalidTransitionError{Op: OpStop, State: st}
	}

	if err := s.acquire(ctx, OpStop); err != nil {
		return err
	}
	defer s.release()

	s.lock.Lock()
	st = s.desc.State()
	p := s.proc
	if !st.Permits(OpStop) || p == nil {
		s.lock.Unlock()
		if aborting && st == Stopped {
			return nil
		}
		return &InvalidTransitionError{Op: OpStop, State: st}
	}
	p.stopping = true
	ctl := p.ctl
	s.lock.Unlock()

	var err error
	if st == Started {
		err = ctl.Shutdown()
	} else {
		// A halted guest cannot act on a power button.
		err = ctl.Quit()
	}
	if err != nil {
		s.logger.Warn("graceful stop failed, killing", zap.Error(err))
		s.kill(p)
	}

	timer := time.NewTimer(s.grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
		s.logger.Warn("graceful stop timed out, killing",
			zap.Duration("grace", s.grace))
	case <-ctx.Done():
		s.logger.Warn("stop cancelled, killing", zap.Error(ctx.Err()))
	}
	s.kill(p)
	<-p.done
	return nil
}

func (s *Supervisor) kill(p *proc) {
	if err := p.h.Kill(); err != nil {
		s.logger.Error("cannot kill engine", zap.Error(err))
	}
}

// control runs a guest operation through the control channel and, if
// the engine is still the same process afterwards, enters the state fn
// returns.  fn reports the state the guest was left in even when it
// fails, so a half-done operation is not misreported.
func (s *Supervisor) control(ctx context.Context, op string, fn func(st State, c Controller) (State, error)) error {
	if err := s.check(op); err != nil {
		return err
	}
	if err := s.acquire(ctx, op); err != nil {
		return err
	}
	defer s.release()

	s.lock.Lock()
	st := s.desc.State()
	p := s.proc
	if !st.Permits(op) || p == nil {
		s.lock.Unlock()
		return &InvalidTransitionError{Op: op, State: st}
	}
	ctl := p.ctl
	s.lock.Unlock()

	to, err := fn(st, ctl)

	s.lock.Lock()
	defer s.lock.Unlock()
	if err != nil {
		s.logger.Warn("operation failed", zap.String("op", op), zap.Error(err))
		if to != st && s.proc == p {
			s.transition(to, op, nil)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if s.proc != p {
		// The engine died meanwhile; its fault is already out.
		return ErrNotRunning
	}
	s.transition(to, op, nil)
	return nil
}

// ResetMachine restarts the guest inside the running engine.  A paused
// guest is continued afterwards, so the machine always ends up Started.
func (s *Supervisor) ResetMachine(ctx context.Context) error {
	return s.control(ctx, OpReset, func(st State, c Controller) (State, error) {
		if err := c.Reset(); err != nil {
			return st, err
		}
		if st == Paused {
			if err := c.Resume(); err != nil {
				return st, err
			}
		}
		return Started, nil
	})
}

func (s *Supervisor) PauseMachine(ctx context.Context) error {
	return s.control(ctx, OpPause, func(st State, c Controller) (State, error) {
		if err := c.Pause(); err != nil {
			return st, err
		}
		return Paused, nil
	})
}

// ResumeMachine continues a Paused or Saved guest.
func (s *Supervisor) ResumeMachine(ctx context.Context) error {
	return s.control(ctx, OpResume, func(st State, c Controller) (State, error) {
		if err := c.Resume(); err != nil {
			return st, err
		}
		return Started, nil
	})
}

// SaveMachine halts the guest and records a snapshot named tag.  An
// empty tag uses the machine's uuid.  If the snapshot fails a running
// guest is continued again; should that fail too, the machine is
// reported Paused, which is what the guest then is.
func (s *Supervisor) SaveMachine(ctx context.Context, tag string) error {
	if tag == "" {
		tag = s.desc.UUID()
	}
	return s.control(ctx, OpSave, func(st State, c Controller) (State, error) {
		err := c.Save(tag)
		if err == nil {
			return Saved, nil
		}
		if st != Started {
			return st, err
		}
		if rerr := c.Resume(); rerr != nil {
			s.logger.Error("cannot continue guest after failed save",
				zap.Error(rerr))
			return Paused, err
		}
		return st, err
	})
}

// Close stops the machine if it is running, aborting a Run still in
// progress, and ends all subscriptions.  No Run is accepted afterwards.
func (s *Supervisor) Close(ctx context.Context) error {
	s.lock.Lock()
	s.closed = true
	s.lock.Unlock()
	defer s.hub.close()

	for s.Active() {
		if err := s.StopMachine(ctx); err != nil && s.Active() {
			return err
		}
	}
	return nil
}
