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

// Package ui is the terminal interface of the qvisor client.  It shows
// the machines known to a qvisord server, their details and output, and
// lets the user control them.
package ui

import (
	"context"
	"errors"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"
	"go.uber.org/zap"

	"github.com/qtemu/qvisor/qvisor/util"
	"github.com/qtemu/qvisor/rest"
)

// opTimeout bounds a control request.  Run waits for the engine to
// come up, so this is generous.
const opTimeout = 2 * time.Minute

type App struct {
	app       *views.Application
	view      views.View
	panel     views.Widget
	info      *InfoPanel
	help      *HelpPanel
	log       *LogPanel
	main      *MainPanel
	auth      *AuthPanel
	client    *rest.Client
	logger    *zap.Logger
	err       error
	opErr     error
	items     []*rest.MachineInfo
	logID     string
	logInfo   *rest.LogInfo
	logErr    error
	logCancel context.CancelFunc

	views.WidgetWatchers
}

func (a *App) show(w views.Widget) {
	if w != a.panel {
		a.panel.SetView(nil)
		a.panel = w
	}
	a.panel.SetView(a.view)
	a.panel.Resize()
	a.app.Refresh()
}

func (a *App) ShowHelp() {
	a.show(a.help)
}

func (a *App) ShowInfo(id string) {
	a.info.SetMachine(id)
	a.show(a.info)
}

// ShowLog shows the output of a machine, or the daemon log if id is
// empty.
func (a *App) ShowLog(id string) {
	if a.logCancel != nil {
		a.logCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.logInfo = nil
	a.logErr = nil
	a.logID = id
	a.logCancel = cancel
	a.log.SetMachine(id)
	go a.refreshLog(ctx, id)

	a.show(a.log)
}

func (a *App) ShowMain() {
	a.show(a.main)
}

func (a *App) ShowAuth() {
	a.auth.ResetFields()
	a.show(a.auth)
}

func (a *App) SetUserPassword(user, pass string) {
	a.client.SetAuth(user, pass)
}

// control runs op in the background.  A failure is shown in the status
// bar until the next operation.
func (a *App) control(id string, op string) {
	a.opErr = nil
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		e := a.client.Control(ctx, id, op)
		if e != nil {
			a.Logf("%s %s: %v", op, id, e)
		}
		a.app.PostFunc(func() {
			a.opErr = e
			a.app.Update()
		})
	}()
}

func (a *App) RunMachine(id string)    { a.control(id, "run") }
func (a *App) StopMachine(id string)   { a.control(id, "stop") }
func (a *App) ResetMachine(id string)  { a.control(id, "reset") }
func (a *App) PauseMachine(id string)  { a.control(id, "pause") }
func (a *App) ResumeMachine(id string) { a.control(id, "resume") }
func (a *App) SaveMachine(id string)   { a.control(id, "save") }

// OpError is the result of the last control operation.
func (a *App) OpError() error {
	return a.opErr
}

func (a *App) Quit() {
	// This just posts the quit event.
	a.app.Quit()
}

func (a *App) SetLogger(logger *zap.Logger) {
	a.logger = logger
}

func (a *App) Logf(fmt string, v ...interface{}) {
	if a.logger != nil {
		a.logger.Sugar().Debugf(fmt, v...)
	}
}

func (a *App) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		// Intercept a few control keys up front, for global handling.
		case tcell.KeyCtrlC:
			a.Quit()
			return true
		case tcell.KeyCtrlL:
			a.app.Refresh()
			return true
		}
	}

	if a.panel != nil {
		return a.panel.HandleEvent(ev)
	}
	return false
}

func (a *App) Draw() {
	if a.panel != nil {
		a.panel.Draw()
	}
}

func (a *App) Resize() {
	if a.panel != nil {
		a.panel.Resize()
	}
}

func (a *App) SetView(view views.View) {
	a.view = view
	if a.panel != nil {
		a.panel.SetView(view)
	}
}

func (a *App) Size() (int, int) {
	if a.panel != nil {
		return a.panel.Size()
	}
	return 0, 0
}

func (a *App) GetClient() *rest.Client {
	return a.client
}

func (a *App) GetAppName() string {
	return "Qvisor v1.0"
}

func NewApp(client *rest.Client, url string) *App {

	app := &App{}
	app.app = &views.Application{}
	app.client = client
	app.info = NewInfoPanel(app)
	app.help = NewHelpPanel(app)
	app.log = NewLogPanel(app)
	app.main = NewMainPanel(app, url)
	app.auth = NewAuthPanel(app, url)
	app.panel = app.main

	go app.refresh()
	return app
}

func (a *App) getItems() ([]*rest.MachineInfo, error) {
	ids, e := a.client.Machines()
	if e != nil {
		return nil, e
	}
	items := make([]*rest.MachineInfo, 0, len(ids))
	for _, id := range ids {
		item, e := a.client.GetMachine(id)
		if e == nil {
			items = append(items, item)
		}
	}
	util.SortMachines(items)
	return items, nil
}

// refresh keeps the app items current.
func (a *App) refresh() {
	client := a.client
	etag := ""
	for {
		items, e := a.getItems()

		a.app.PostFunc(func() {
			a.items = items
			a.err = e
			a.app.Update()
		})
		ctx, cancel := context.WithTimeout(context.Background(),
			time.Hour)
		etag, e = client.Watch(ctx, etag)
		cancel()
		if e != nil {
			etag = ""
			time.Sleep(2 * time.Second)
		}
	}
}

func (a *App) refreshLog(ctx context.Context, id string) {
	info, e := a.client.GetLog(id)

	for {
		a.app.PostFunc(func() {
			if a.logID == id {
				a.logInfo = info
				a.logErr = e
				a.app.Update()
			}
		})
		select {
		case <-ctx.Done():
			return
		default:
		}
		if e != nil {
			time.Sleep(2 * time.Second)
			info, e = a.client.GetLog(id)
			continue
		}
		info, e = a.client.WatchLog(ctx, id, info)
	}
}

func (a *App) GetItems() ([]*rest.MachineInfo, error) {
	return a.items, a.err
}

func (a *App) GetItem(id string) (*rest.MachineInfo, error) {
	if a.err != nil {
		return nil, a.err
	}
	for _, i := range a.items {
		if i.Manifest.UUID == id {
			return i, nil
		}
	}
	return nil, errors.New("Machine not found")
}

func (a *App) GetLog(id string) (*rest.LogInfo, error) {
	if a.logID == id {
		return a.logInfo, a.logErr
	}
	return nil, nil
}

func (a *App) Run() error {
	a.Logf("Starting up user interface")
	a.app.SetRootWidget(a)
	a.ShowMain()
	go func() {
		// Give us periodic updates
		for {
			a.app.Update()
			time.Sleep(time.Second)
		}
	}()
	a.Logf("Starting app loop")
	return a.app.Run()
}
