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
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/qtemu/qvisor"
)

// Handler wraps a Manager, adding http.Handler functionality.
type Handler struct {
	m      *qvisor.Manager
	r      *mux.Router
	logger *zap.Logger
	user   string
	hash   []byte
}

// SetAuth requires HTTP basic authentication.  hash is a bcrypt hash of
// the password.
func (h *Handler) SetAuth(user string, hash []byte) {
	h.user = user
	h.hash = hash
}

func (h *Handler) writeJson(w http.ResponseWriter, v interface{}, etag int64) {
	b, e := json.Marshal(v)
	if e != nil {
		h.writeError(w, &Error{http.StatusInternalServerError, e.Error()})
		return
	}
	w.Header().Set("Content-Type", mimeJson)
	if etag != 0 {
		w.Header().Set("Etag", formatEtag(etag))
	}
	w.Write(b)
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	b, _ := json.Marshal(e)
	w.Header().Set("Content-Type", mimeJson)
	w.WriteHeader(e.Code)
	w.Write(b)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	h.writeError(w, &Error{statusOf(err), err.Error()})
}

// conditional implements If-None-Match with the optional long poll.  It
// returns false after answering 304.
func (h *Handler) conditional(w http.ResponseWriter, r *http.Request,
	current func() int64, watch func(int64, time.Duration) int64) bool {

	inm := r.Header.Get("If-None-Match")
	if inm == "" {
		return true
	}
	old := parseEtag(inm)
	now := current()
	if now == old && r.Header.Get(PollEtagHeader) != "" {
		secs, _ := strconv.Atoi(r.Header.Get(PollTimeHeader))
		wait := time.Duration(secs) * time.Second
		if wait > MaxPollTime {
			wait = MaxPollTime
		}
		if wait > 0 {
			now = h.watch(r.Context(), old, wait, watch)
		}
	}
	if now == old {
		w.Header().Set("Etag", formatEtag(now))
		w.WriteHeader(http.StatusNotModified)
		return false
	}
	return true
}

// watch is like calling fn directly, but returns early if the client
// goes away.
func (h *Handler) watch(ctx context.Context, old int64, wait time.Duration,
	fn func(int64, time.Duration) int64) int64 {

	ch := make(chan int64, 1)
	go func() { ch <- fn(old, wait) }()
	select {
	case v := <-ch:
		return v
	case <-ctx.Done():
		return old
	}
}

func (h *Handler) getManager(w http.ResponseWriter, r *http.Request) {
	if !h.conditional(w, r, h.m.Serial, h.m.WatchSerial) {
		return
	}
	i := h.m.GetInfo()
	h.writeJson(w, &ManagerInfo{
		Name:       i.Name,
		Serial:     i.Serial,
		CreateTime: i.CreateTime,
		UpdateTime: i.UpdateTime,
	}, i.Serial)
}

func (h *Handler) listMachines(w http.ResponseWriter, r *http.Request) {
	if !h.conditional(w, r, h.m.ListSerial, h.m.WatchMachines) {
		return
	}
	mcs, serial, _ := h.m.Machines()
	l := make([]string, 0, len(mcs))
	for _, mc := range mcs {
		l = append(l, mc.Descriptor().UUID())
	}
	h.writeJson(w, l, serial)
}

func (h *Handler) findMachine(w http.ResponseWriter, r *http.Request) *qvisor.Machine {
	mc, err := h.m.FindMachine(mux.Vars(r)["machine"])
	if err != nil {
		h.writeError(w, &Error{http.StatusNotFound, "Machine not found"})
		return nil
	}
	return mc
}

func (h *Handler) getMachine(w http.ResponseWriter, r *http.Request) {
	mc := h.findMachine(w, r)
	if mc == nil {
		return
	}
	if !h.conditional(w, r, mc.Serial, mc.WatchSerial) {
		return
	}
	info := mc.Info()
	h.writeJson(w, info, info.Serial)
}

func (h *Handler) control(w http.ResponseWriter, r *http.Request) {
	mc := h.findMachine(w, r)
	if mc == nil {
		return
	}
	ctx := r.Context()
	op := mux.Vars(r)["op"]
	var err error
	switch op {
	case qvisor.OpRun:
		err = mc.Run(ctx)
	case qvisor.OpStop:
		err = mc.StopMachine(ctx)
	case qvisor.OpReset:
		err = mc.ResetMachine(ctx)
	case qvisor.OpPause:
		err = mc.PauseMachine(ctx)
	case qvisor.OpResume:
		err = mc.ResumeMachine(ctx)
	case qvisor.OpSave:
		err = mc.SaveMachine(ctx, r.URL.Query().Get("tag"))
	default:
		h.writeError(w, &Error{http.StatusNotFound, "Unknown operation"})
		return
	}
	if err != nil {
		h.logger.Info("request failed", zap.String("op", op),
			zap.String("machine", mc.Descriptor().Name()), zap.Error(err))
		h.fail(w, err)
		return
	}
	h.writeJson(w, ok, 0)
}

func (h *Handler) getMachineLog(w http.ResponseWriter, r *http.Request) {
	mc := h.findMachine(w, r)
	if mc == nil {
		return
	}
	h.serveLog(w, r, mc.Log())
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	h.serveLog(w, r, h.m.Log())
}

func (h *Handler) serveLog(w http.ResponseWriter, r *http.Request, log *qvisor.Log) {
	if !h.conditional(w, r, log.Id, log.Watch) {
		return
	}
	recs, id := log.GetRecords(0)
	if recs == nil {
		recs = []LogRecord{}
	}
	h.writeJson(w, recs, id)
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.hash == nil {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(user), []byte(h.user)) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword(h.hash, []byte(pass)) == nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if !h.authorized(req) {
		w.Header().Set("WWW-Authenticate", `Basic realm="qvisor"`)
		h.writeError(w, &Error{http.StatusUnauthorized, "Unauthorized"})
		return
	}
	h.r.ServeHTTP(w, req)
}

// Router exposes the routes so that other handlers, such as metrics,
// can be mounted alongside.
func (h *Handler) Router() *mux.Router {
	return h.r
}

func NewHandler(m *qvisor.Manager) *Handler {
	r := mux.NewRouter()
	h := &Handler{m: m, r: r, logger: m.Logger().Named("rest")}
	r.HandleFunc("/", h.getManager).Methods("GET")
	r.HandleFunc("/machines", h.listMachines).Methods("GET")
	r.HandleFunc("/machines/{machine}", h.getMachine).Methods("GET")
	r.HandleFunc("/machines/{machine}/log", h.getMachineLog).Methods("GET")
	r.HandleFunc("/machines/{machine}/{op}", h.control).Methods("POST")
	r.HandleFunc("/log", h.getLog).Methods("GET")
	return h
}
