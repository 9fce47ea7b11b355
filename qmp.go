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
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// Controller is the graceful control channel to a running engine.
// Operations the channel cannot express return ErrUnsupported.
type Controller interface {
	// Shutdown asks the guest to power off.
	Shutdown() error
	// Quit terminates the engine without involving the guest.
	Quit() error
	Pause() error
	Resume() error
	Reset() error
	// Save halts the guest and records a snapshot named tag.
	Save(tag string) error
	Close() error
}

// QMPClient speaks the QEMU Machine Protocol over a unix socket.
// Asynchronous events are skipped.
type QMPClient struct {
	Timeout time.Duration

	lock sync.Mutex
	conn net.Conn
	dec  *json.Decoder
}

type qmpMessage struct {
	QMP    json.RawMessage `json:"QMP,omitempty"`
	Return json.RawMessage `json:"return,omitempty"`
	Error  *qmpError       `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
}

type qmpError struct {
	Class string `json:"class"`
	Desc  string `json:"desc"`
}

type qmpCommand struct {
	Execute   string      `json:"execute"`
	Arguments interface{} `json:"arguments,omitempty"`
}

// DialQMP connects to the monitor socket at path and completes the
// greeting and capabilities handshake.  A successful handshake is what
// marks the engine ready.
func DialQMP(ctx context.Context, path string) (*QMPClient, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	c, err := NewQMPClient(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// NewQMPClient performs the handshake on an existing connection.
func NewQMPClient(conn net.Conn) (*QMPClient, error) {
	c := &QMPClient{
		Timeout: 10 * time.Second,
		conn:    conn,
		dec:     json.NewDecoder(conn),
	}
	_ = conn.SetReadDeadline(time.Now().Add(c.Timeout))
	var greeting qmpMessage
	if err := c.dec.Decode(&greeting); err != nil {
		return nil, fmt.Errorf("read greeting: %w", err)
	}
	if greeting.QMP == nil {
		return nil, fmt.Errorf("read greeting: not a QMP server")
	}
	if _, err := c.exec("qmp_capabilities", nil); err != nil {
		return nil, fmt.Errorf("negotiate capabilities: %w", err)
	}
	return c, nil
}

func (c *QMPClient) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *QMPClient) Shutdown() error {
	return c.run("system_powerdown", nil)
}

func (c *QMPClient) Quit() error {
	err := c.run("quit", nil)
	if err != nil && strings.Contains(err.Error(), "EOF") {
		// QEMU may drop the socket before answering.
		return nil
	}
	return err
}

func (c *QMPClient) Pause() error {
	return c.run("stop", nil)
}

func (c *QMPClient) Resume() error {
	return c.run("cont", nil)
}

func (c *QMPClient) Reset() error {
	return c.run("system_reset", nil)
}

func (c *QMPClient) Save(tag string) error {
	if err := c.run("stop", nil); err != nil {
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	raw, err := c.exec("human-monitor-command", map[string]string{
		"command-line": "savevm " + tag,
	})
	if err != nil {
		return err
	}
	// The human monitor reports failure as text.
	var out string
	if json.Unmarshal(raw, &out) == nil && strings.TrimSpace(out) != "" {
		return fmt.Errorf("qmp savevm: %s", strings.TrimSpace(out))
	}
	return nil
}

// Status returns the engine's run state, e.g. "running" or "paused".
func (c *QMPClient) Status() (string, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	raw, err := c.exec("query-status", nil)
	if err != nil {
		return "", err
	}
	var st struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return "", fmt.Errorf("unmarshal status: %w", err)
	}
	return st.Status, nil
}

func (c *QMPClient) run(command string, args interface{}) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	_, err := c.exec(command, args)
	return err
}

// exec must be called with the lock held.
func (c *QMPClient) exec(command string, args interface{}) (json.RawMessage, error) {
	if c.conn == nil {
		return nil, ErrNoController
	}
	data, err := json.Marshal(qmpCommand{Execute: command, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("marshal %q: %w", command, err)
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("write %q: %w", command, err)
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(c.Timeout))
	defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()

	for {
		var msg qmpMessage
		if err := c.dec.Decode(&msg); err != nil {
			return nil, fmt.Errorf("read response for %q: %w", command, err)
		}
		if msg.Event != "" {
			continue
		}
		if msg.Error != nil {
			return nil, fmt.Errorf("qmp %s: %s (%s)",
				command, msg.Error.Desc, msg.Error.Class)
		}
		return msg.Return, nil
	}
}
