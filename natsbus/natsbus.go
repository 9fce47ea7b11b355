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

// Package natsbus publishes machine events to NATS, so that other
// services can follow state changes and console output.
//
// State changes go to <subject>.<uuid>.state and output lines to
// <subject>.<uuid>.output, each as a JSON encoded qvisor.Event.
package natsbus

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/qtemu/qvisor"
)

var ErrClosed = errors.New("natsbus: not connected")

type conn interface {
	Publish(subject string, data []byte) error
	IsClosed() bool
	Drain() error
	Close()
}

// Publisher is a qvisor.EventSink.
type Publisher struct {
	nc      conn
	subject string
	output  bool
	logger  *zap.Logger
}

type Options struct {
	// Name is reported to the server for the connection.
	Name string

	// Subject is the prefix of published subjects.
	Subject string

	// Output also publishes console output.  Off, only state changes
	// are sent.
	Output bool

	ReconnectWait time.Duration
	Logger        *zap.Logger
}

// Connect dials url.  Once connected the client reconnects forever.
func Connect(url string, o Options) (*Publisher, error) {
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("nats")
	if o.ReconnectWait == 0 {
		o.ReconnectWait = 2 * time.Second
	}
	opts := []nats.Option{
		nats.Name(o.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(o.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	logger.Info("nats connected", zap.String("url", nc.ConnectedUrl()))
	return newPublisher(nc, o.Subject, o.Output, logger), nil
}

func newPublisher(nc conn, subject string, output bool, logger *zap.Logger) *Publisher {
	if subject == "" {
		subject = "qvisor"
	}
	return &Publisher{nc: nc, subject: subject, output: output, logger: logger}
}

// Subject returns the subject an event is published on.
func (p *Publisher) Subject(ev qvisor.Event) string {
	switch ev.Kind {
	case qvisor.Output:
		return p.subject + "." + ev.Machine + ".output"
	default:
		return p.subject + "." + ev.Machine + ".state"
	}
}

func (p *Publisher) Publish(ev qvisor.Event) error {
	if ev.Kind == qvisor.Output && !p.output {
		return nil
	}
	if p.nc == nil || p.nc.IsClosed() {
		return ErrClosed
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.Subject(ev), data)
}

// Close flushes pending messages and disconnects.
func (p *Publisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.logger.Debug("nats drain", zap.Error(err))
	}
	p.nc.Close()
}
