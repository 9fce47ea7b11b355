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

package rest

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/qtemu/qvisor"
)

const (
	mimeJson = "application/json; charset=UTF-8"

	// A client that sends PollEtagHeader with the etag it has asks the
	// server to hold the request for up to PollTimeHeader seconds until
	// the resource changes.
	PollEtagHeader = "X-Qvisor-Poll-Etag"
	PollTimeHeader = "X-Qvisor-Poll-Time"

	// MaxPollTime caps how long the server holds a request.
	MaxPollTime = 5 * time.Minute
)

var ok struct{}

type LogRecord = qvisor.LogRecord

type ManagerInfo struct {
	Name       string    `json:"name"`
	Serial     int64     `json:"serial,string"`
	CreateTime time.Time `json:"created"`
	UpdateTime time.Time `json:"updated"`
	etag       string
}

type MachineInfo struct {
	qvisor.MachineInfo
	etag string
}

// Error is the body of every failed request.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// statusOf maps supervisor errors onto HTTP status codes.
func statusOf(err error) int {
	var ce *qvisor.ConfigurationError
	var se *qvisor.ProcessSpawnError
	var ie *qvisor.InvalidTransitionError
	var be *qvisor.BusyError
	switch {
	case errors.As(err, &ce):
		return http.StatusUnprocessableEntity
	case errors.As(err, &se):
		return http.StatusInternalServerError
	case errors.As(err, &ie), errors.Is(err, qvisor.ErrAborted),
		errors.Is(err, qvisor.ErrIsRunning):
		return http.StatusConflict
	case errors.As(err, &be), errors.Is(err, qvisor.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, qvisor.ErrNoMachine), errors.Is(err, qvisor.ErrClosed):
		return http.StatusNotFound
	case errors.Is(err, qvisor.ErrUnsupported),
		errors.Is(err, qvisor.ErrNoController):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func formatEtag(id int64) string {
	return `"` + strconv.FormatInt(id, 10) + `"`
}

// parseEtag returns 0 for anything that is not one of ours.
func parseEtag(s string) int64 {
	s = strings.TrimPrefix(strings.TrimSpace(s), "W/")
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
