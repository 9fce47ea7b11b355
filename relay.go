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
	"bufio"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// relayDepth bounds the lines queued per stream.  A full queue stalls
// the reader, and thus the engine's writes, never the supervisor.
const relayDepth = 256

// maxLineLen bounds a relayed line.  Longer output without a newline is
// delivered in pieces of this size so the pipe keeps draining.
const maxLineLen = 64 * 1024

// relay drains the stdout and stderr of one process.  Each stream has
// its own reader goroutine feeding a bounded queue; a single dispatcher
// delivers lines in arrival order.  Once closed nothing more is
// delivered.
type relay struct {
	deliver func(Stream, string)
	logger  *zap.Logger

	out      chan string
	err      chan string
	quit     chan struct{}
	finished chan struct{}
	closed   atomic.Bool
	dropped  atomic.Int64
	pipes    []io.Closer
	once     sync.Once
}

func newRelay(stdout, stderr io.ReadCloser, deliver func(Stream, string), logger *zap.Logger) *relay {
	r := &relay{
		deliver:  deliver,
		logger:   logger,
		out:      make(chan string, relayDepth),
		err:      make(chan string, relayDepth),
		quit:     make(chan struct{}),
		finished: make(chan struct{}),
		pipes:    []io.Closer{stdout, stderr},
	}
	go r.read(stdout, r.out)
	go r.read(stderr, r.err)
	go r.dispatch()
	return r
}

func (r *relay) read(rd io.Reader, q chan<- string) {
	defer close(q)
	reader := bufio.NewReaderSize(rd, maxLineLen)
	for {
		buf, err := reader.ReadSlice('\n')
		if len(buf) != 0 {
			line := string(buf)
			if err == nil {
				line = strings.TrimRight(line, "\r\n")
			}
			select {
			case q <- line:
			case <-r.quit:
				r.dropped.Add(1)
			}
		}
		if err != nil && err != bufio.ErrBufferFull {
			return
		}
	}
}

func (r *relay) dispatch() {
	defer close(r.finished)
	out, errq := r.out, r.err
	for out != nil || errq != nil {
		var line string
		var stream Stream
		var ok bool
		select {
		case line, ok = <-out:
			if !ok {
				out = nil
				continue
			}
			stream = StreamOut
		case line, ok = <-errq:
			if !ok {
				errq = nil
				continue
			}
			stream = StreamErr
		}
		if r.closed.Load() {
			r.dropped.Add(1)
			continue
		}
		r.deliver(stream, line)
	}
}

// drain waits up to d for both streams to reach end of file and be
// delivered, then closes the relay.
func (r *relay) drain(d time.Duration) {
	t := time.NewTimer(d)
	select {
	case <-r.finished:
	case <-t.C:
	}
	t.Stop()
	r.close()
}

// close stops delivery.  Pending lines are discarded.
func (r *relay) close() {
	r.once.Do(func() {
		r.closed.Store(true)
		close(r.quit)
		for _, p := range r.pipes {
			p.Close()
		}
		go func() {
			<-r.finished
			if n := r.dropped.Load(); n > 0 {
				r.logger.Debug("discarded undelivered output",
					zap.Int64("lines", n))
			}
		}()
	})
}
