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
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

type LogInfo struct {
	name    string
	etag    string
	Records []LogRecord
}

// Client talks to a qvisord server, caching what it has seen so that
// watches only transfer data when something changed.
type Client struct {
	user   string // HTTP Basic-Auth
	pass   string
	base   string // URI to root of tree on server
	auth   bool
	client *http.Client

	// Cached data
	manager  *ManagerInfo
	machines map[string]*MachineInfo
	ids      []string // machine uuids
	etag     string   // etag for the list of machines
	logs     map[string]*LogInfo
	lock     sync.Mutex
}

func (c *Client) SetAuth(user string, pass string) {
	c.user = user
	c.pass = pass
	c.auth = true
}

func (c *Client) url(id string) string {
	if id == "" {
		return c.base + "/machines"
	}
	return c.base + "/machines/" + url.PathEscape(id)
}

// Watch waits for any change on the server and returns the new etag.
func (c *Client) Watch(ctx context.Context, etag string) (string, error) {
	c.lock.Lock()
	if c.manager != nil && etag == "" {
		etag = c.manager.etag
		c.lock.Unlock()
		return etag, nil
	}
	c.lock.Unlock()

	minfo := &ManagerInfo{}
	ntag, e := c.poll(ctx, c.base+"/", etag, 300, minfo)
	if e != nil {
		return "", e
	}
	if ntag != "" {
		minfo.etag = ntag
		c.lock.Lock()
		c.manager = minfo
		c.lock.Unlock()
		etag = ntag
	}
	return etag, nil
}

func (c *Client) pollMachines(ctx context.Context, secs int) ([]string, error) {
	v := []string{}

	c.lock.Lock()
	otag := c.etag
	oids := c.ids
	c.lock.Unlock()

	etag, e := c.poll(ctx, c.url(""), otag, secs, &v)
	if e != nil {
		return nil, e
	}
	if etag == "" || etag == otag {
		return oids, nil
	}
	machines := make(map[string]*MachineInfo)

	c.lock.Lock()
	c.etag = etag
	c.ids = v
	for _, id := range v {
		if mc, ok := c.machines[id]; ok {
			machines[id] = mc
		}
	}
	c.machines = machines
	c.lock.Unlock()

	return v, nil
}

// Machines returns the uuids of the machines on the server.
func (c *Client) Machines() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.pollMachines(ctx, 0)
}

// WatchMachines waits for a machine to be added or deleted.
func (c *Client) WatchMachines(ctx context.Context) ([]string, error) {
	return c.pollMachines(ctx, 300)
}

func (c *Client) pollMachine(ctx context.Context, id string, secs int, last *MachineInfo) (*MachineInfo, error) {
	v := &MachineInfo{}
	c.lock.Lock()
	omc, ok := c.machines[id]
	c.lock.Unlock()

	otag := ""
	if last == nil {
		secs = 0
	} else if ok && last.etag != omc.etag {
		// The cache is already newer than what the caller has.
		return omc, nil
	} else {
		otag = last.etag
	}

	etag, e := c.poll(ctx, c.url(id), otag, secs, v)
	if e != nil {
		c.lock.Lock()
		delete(c.machines, id)
		c.lock.Unlock()
		return nil, e
	}
	if etag == "" {
		if omc == nil {
			return last, nil
		}
		return omc, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.machines[id] = v
	c.lock.Unlock()
	return v, nil
}

func (c *Client) GetMachine(id string) (*MachineInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.pollMachine(ctx, id, 0, nil)
}

// WatchMachine waits until the machine differs from last.
func (c *Client) WatchMachine(ctx context.Context, id string, last *MachineInfo) (*MachineInfo, error) {
	return c.pollMachine(ctx, id, 300, last)
}

// poll issues a GET, optionally conditional on etag and optionally held
// by the server for up to wait seconds until the value changes.  It
// returns the new etag, or "" with a nil error if nothing changed.
func (c *Client) poll(ctx context.Context, url string, etag string, wait int, v interface{}) (string, error) {
	req, e := http.NewRequestWithContext(ctx, "GET", url, nil)
	if e != nil {
		return "", e
	}
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
		if wait > 0 {
			req.Header.Set(PollEtagHeader, etag)
			req.Header.Set(PollTimeHeader, strconv.Itoa(wait))
		}
	}

	res, e := c.client.Do(req)
	if e != nil {
		return "", e
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotModified {
		return "", nil
	}
	body, e := io.ReadAll(res.Body)
	if e != nil {
		return "", e
	}
	if res.StatusCode != http.StatusOK {
		return "", decodeError(res, body)
	}
	if e := json.Unmarshal(body, v); e != nil {
		return "", e
	}
	return res.Header.Get("Etag"), nil
}

func decodeError(res *http.Response, body []byte) error {
	e := &Error{}
	if json.Unmarshal(body, e) != nil || e.Message == "" {
		e.Message = res.Status
	}
	e.Code = res.StatusCode
	return e
}

func (c *Client) post(ctx context.Context, url string) error {
	req, e := http.NewRequestWithContext(ctx, "POST", url, nil)
	if e != nil {
		return e
	}
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	res, e := c.client.Do(req)
	if e != nil {
		return e
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(res.Body)
		return decodeError(res, body)
	}
	return nil
}

// Control issues a control operation such as "run" or "pause".
func (c *Client) Control(ctx context.Context, id string, op string) error {
	return c.post(ctx, c.url(id)+"/"+op)
}

func (c *Client) RunMachine(ctx context.Context, id string) error {
	return c.Control(ctx, id, "run")
}

func (c *Client) StopMachine(ctx context.Context, id string) error {
	return c.Control(ctx, id, "stop")
}

func (c *Client) ResetMachine(ctx context.Context, id string) error {
	return c.Control(ctx, id, "reset")
}

func (c *Client) PauseMachine(ctx context.Context, id string) error {
	return c.Control(ctx, id, "pause")
}

func (c *Client) ResumeMachine(ctx context.Context, id string) error {
	return c.Control(ctx, id, "resume")
}

func (c *Client) SaveMachine(ctx context.Context, id string, tag string) error {
	u := c.url(id) + "/save"
	if tag != "" {
		u += "?tag=" + url.QueryEscape(tag)
	}
	return c.post(ctx, u)
}

func (c *Client) pollLog(ctx context.Context, id string, secs int, last *LogInfo) (*LogInfo, error) {
	v := &LogInfo{name: id}

	c.lock.Lock()
	cached, ok := c.logs[id]
	c.lock.Unlock()

	otag := ""
	if last == nil {
		secs = 0
	} else if ok && last.etag != cached.etag {
		return cached, nil
	} else {
		otag = last.etag
	}

	u := c.url(id) + "/log"
	if id == "" {
		u = c.base + "/log"
	}

	etag, e := c.poll(ctx, u, otag, secs, &v.Records)
	if e != nil {
		c.lock.Lock()
		delete(c.logs, id)
		c.lock.Unlock()
		return nil, e
	}
	if etag == "" {
		if cached == nil {
			return last, nil
		}
		return cached, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.logs[id] = v
	c.lock.Unlock()

	return v, nil
}

// WatchLog waits for new records in a machine's log, or the daemon log
// if id is empty.
func (c *Client) WatchLog(ctx context.Context, id string, last *LogInfo) (*LogInfo, error) {
	return c.pollLog(ctx, id, 300, last)
}

func (c *Client) GetLog(id string) (*LogInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.pollLog(ctx, id, 0, nil)
}

// NewClient returns a Client.  The transport may be nil to use a
// default one, or be adjusted for options such as TLS.  baseURI is the
// root of the server's tree.
func NewClient(t http.RoundTripper, baseURI string) *Client {
	if t == nil {
		t = &http.Transport{}
	}
	return &Client{
		base:     strings.TrimRight(baseURI, "/"),
		client:   &http.Client{Transport: t},
		machines: make(map[string]*MachineInfo),
		logs:     make(map[string]*LogInfo),
	}
}
