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
	"strings"
	"sync"
	"time"
)

const (
	MaxLogRecords = 1000
)

// Stream tags where a record came from.
type Stream string

const (
	StreamOut Stream = "out"
	StreamErr Stream = "err"
	StreamLog Stream = "log" // supervisor's own messages
)

type LogRecord struct {
	Id     int64     `json:"id,string"`
	Time   time.Time `json:"time"`
	Stream Stream    `json:"stream"`
	Text   string    `json:"text"`
}

// Log is a fixed size ring of records.  Every record gets an id that is
// larger than the one before it, and the id of the newest record serves
// as an Etag for long polling.  Log also implements
// zapcore.WriteSyncer, so a logger core can be teed into it.
type Log struct {
	records    []LogRecord
	numRecords int
	maxRecords int
	id         int64
	cvs        map[*sync.Cond]bool
	mx         sync.Mutex
}

// NewLog returns a Log holding up to max records; max <= 0 means
// MaxLogRecords.
func NewLog(max int) *Log {
	if max <= 0 {
		max = MaxLogRecords
	}
	return &Log{
		records:    make([]LogRecord, max),
		maxRecords: max,
		id:         time.Now().UnixNano(),
		cvs:        make(map[*sync.Cond]bool),
	}
}

// Add appends one record per line of text.
func (log *Log) Add(stream Stream, text string) LogRecord {
	log.mx.Lock()
	defer log.mx.Unlock()
	return log.add(stream, text, time.Now())
}

func (log *Log) add(stream Stream, text string, now time.Time) LogRecord {
	var rec LogRecord
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		idx := log.numRecords % log.maxRecords
		log.id++
		rec = LogRecord{Id: log.id, Time: now, Stream: stream, Text: line}
		log.records[idx] = rec
		// numRecords keeps counting past maxRecords; it tracks the
		// next index.
		log.numRecords++
	}
	for cv := range log.cvs {
		cv.Broadcast()
	}
	return rec
}

// Write implements io.Writer, recording each line on StreamLog.
func (log *Log) Write(b []byte) (int, error) {
	log.Add(StreamLog, string(b))
	return len(b), nil
}

func (log *Log) Sync() error {
	return nil
}

func (log *Log) Clear() {
	log.mx.Lock()
	log.numRecords = 0
	// Ids must never repeat, so restart from the clock.
	log.id = time.Now().UnixNano()
	for cv := range log.cvs {
		cv.Broadcast()
	}
	log.mx.Unlock()
}

// GetRecords returns the stored records, oldest first, and the id to
// pass back as last (or use as an Etag).  If nothing changed since last
// it returns nil without copying anything.
func (log *Log) GetRecords(last int64) ([]LogRecord, int64) {
	log.mx.Lock()
	defer log.mx.Unlock()
	if log.id == last {
		return nil, last
	}
	cnt := log.numRecords
	if cnt > log.maxRecords {
		cnt = log.maxRecords
	}
	recs := make([]LogRecord, 0, cnt)
	index := log.numRecords - cnt
	for j := 0; j < cnt; j++ {
		recs = append(recs, log.records[index%log.maxRecords])
		index++
	}
	return recs, log.id
}

// Id returns the id of the newest record.
func (log *Log) Id() int64 {
	log.mx.Lock()
	defer log.mx.Unlock()
	return log.id
}

// Watch waits up to expire for the log to move past last, and returns
// the current id.
func (log *Log) Watch(last int64, expire time.Duration) int64 {
	expired := false
	var timer *time.Timer
	cv := sync.NewCond(&log.mx)
	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			log.mx.Lock()
			expired = true
			cv.Broadcast()
			log.mx.Unlock()
		})
	} else {
		expired = true
	}

	log.mx.Lock()
	log.cvs[cv] = true
	for log.id == last && !expired {
		cv.Wait()
	}
	delete(log.cvs, cv)
	last = log.id
	log.mx.Unlock()
	if timer != nil {
		timer.Stop()
	}
	return last
}
