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
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// ExitStatus describes how an engine process terminated.
type ExitStatus struct {
	Code     int    `json:"code"`
	Signaled bool   `json:"signaled"`
	Signal   string `json:"signal,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (e ExitStatus) String() string {
	switch {
	case e.Signaled:
		return "killed by signal " + e.Signal
	case e.Error != "":
		return e.Error
	default:
		return fmt.Sprintf("exit status %d", e.Code)
	}
}

// Success is true for a normal exit with status 0.
func (e ExitStatus) Success() bool {
	return !e.Signaled && e.Code == 0 && e.Error == ""
}

func exitStatusOf(ps *os.ProcessState, err error) ExitStatus {
	if ps == nil {
		es := ExitStatus{Code: -1}
		if err != nil {
			es.Error = err.Error()
		}
		return es
	}
	es := ExitStatus{Code: ps.ExitCode()}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		es.Signaled = true
		es.Signal = ws.Signal().String()
	}
	return es
}

// Launcher spawns engine processes.  The context bounds the launch
// itself; it does not limit the lifetime of the process.
type Launcher interface {
	Launch(ctx context.Context, inv *Invocation) (Handle, error)
}

// Handle is the supervisor's view of one spawned process.  It is valid
// for a single run.
type Handle interface {
	Pid() int
	Stdout() io.ReadCloser
	Stderr() io.ReadCloser

	// Ready blocks until the engine reports that it has started, and
	// returns the channel used to control it.  It fails if the process
	// exits first or ctx ends.
	Ready(ctx context.Context) (Controller, error)

	// Done is closed once the process has exited; Exit is valid after.
	Done() <-chan struct{}
	Exit() ExitStatus

	Kill() error
}

// ErrExited is returned by Ready when the process died before it
// reported readiness.
var ErrExited = errors.New("process exited")

// ExecLauncher starts engine processes with os/exec.  Without a monitor
// socket the process counts as ready once it has been started, and is
// controlled with signals.
type ExecLauncher struct {
	// Poll is the interval between attempts to reach the monitor
	// socket.  Zero means 100ms.
	Poll time.Duration
}

func (l *ExecLauncher) Launch(ctx context.Context, inv *Invocation) (Handle, error) {
	if inv.Monitor != "" {
		// A stale socket from an earlier run would look ready.
		if err := os.Remove(inv.Monitor); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	cmd := exec.Command(inv.Path, inv.Args...)
	cmd.Env = append(os.Environ(), inv.Env...)

	outr, outw, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	errr, errw, err := os.Pipe()
	if err != nil {
		outr.Close()
		outw.Close()
		return nil, err
	}
	cmd.Stdout = outw
	cmd.Stderr = errw

	err = cmd.Start()
	// The child has its own copies now.
	outw.Close()
	errw.Close()
	if err != nil {
		outr.Close()
		errr.Close()
		return nil, err
	}

	h := &execHandle{
		cmd:     cmd,
		stdout:  outr,
		stderr:  errr,
		monitor: inv.Monitor,
		poll:    l.Poll,
		done:    make(chan struct{}),
	}
	if h.poll <= 0 {
		h.poll = 100 * time.Millisecond
	}
	go h.wait()
	return h, nil
}

type execHandle struct {
	cmd     *exec.Cmd
	stdout  *os.File
	stderr  *os.File
	monitor string
	poll    time.Duration
	exit    ExitStatus
	done    chan struct{}
	lock    sync.Mutex
}

func (h *execHandle) wait() {
	err := h.cmd.Wait()
	h.lock.Lock()
	h.exit = exitStatusOf(h.cmd.ProcessState, err)
	h.lock.Unlock()
	close(h.done)
}

func (h *execHandle) Pid() int {
	return h.cmd.Process.Pid
}

func (h *execHandle) Stdout() io.ReadCloser {
	return h.stdout
}

func (h *execHandle) Stderr() io.ReadCloser {
	return h.stderr
}

func (h *execHandle) Done() <-chan struct{} {
	return h.done
}

func (h *execHandle) Exit() ExitStatus {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.exit
}

func (h *execHandle) Kill() error {
	select {
	case <-h.done:
		return nil
	default:
	}
	return h.cmd.Process.Kill()
}

func (h *execHandle) signal(sig os.Signal) error {
	select {
	case <-h.done:
		return ErrNotRunning
	default:
	}
	return h.cmd.Process.Signal(sig)
}

func (h *execHandle) Ready(ctx context.Context) (Controller, error) {
	if h.monitor == "" {
		select {
		case <-h.done:
			return nil, ErrExited
		default:
		}
		return newSignalController(h)
	}

	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return nil, ErrExited
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if _, err := os.Stat(h.monitor); err == nil {
			if c, err := DialQMP(ctx, h.monitor); err == nil {
				return c, nil
			}
		}
		select {
		case <-h.done:
			return nil, ErrExited
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
