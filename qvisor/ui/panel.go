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


package ui

import (
	"sync"

	"github.com/gdamore/tcell/v2/views"

	"github.com/qtemu/qvisor/rest"
)

// Panel is the frame every screen shares: title bar on top, status line
// and key hints below.  Screens about one machine report it through
// SetMachine so title and status agree.
type Panel struct {
	tb   *TitleBar
	sb   *StatusBar
	kb   *KeyBar
	once sync.Once
	app  *App

	views.Panel
}

func (p *Panel) SetTitle(title string) {
	p.tb.SetTitle(title)
	p.sb.SetMachine(nil)
}

// SetMachine titles the panel after m and shows its condition.
func (p *Panel) SetMachine(title string, m *rest.MachineInfo) {
	p.tb.SetMachine(title, m)
	p.sb.SetMachine(m)
}

func (p *Panel) SetKeys(words []string) {
	p.kb.SetKeys(words)
}

func (p *Panel) SetStatus(status string) {
	p.sb.SetText(status)
}

func (p *Panel) SetLevel(l Level) {
	p.sb.SetLevel(l)
}

func (p *Panel) Init(app *App) {
	p.once.Do(func() {
		p.app = app
		p.tb = NewTitleBar()
		p.tb.SetServer(app.GetAppName())
		p.kb = NewKeyBar()
		p.sb = NewStatusBar()

		p.Panel.SetTitle(p.tb)
		p.Panel.SetMenu(p.sb)
		p.Panel.SetStatus(p.kb)
	})
}

func (p *Panel) App() *App {
	return p.app
}
