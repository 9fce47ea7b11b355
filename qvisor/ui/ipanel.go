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
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/qtemu/qvisor/qvisor/util"
	"github.com/qtemu/qvisor/rest"
)

// InfoPanel shows the configuration and state of one machine.
type InfoPanel struct {
	text *views.TextArea
	info *rest.MachineInfo
	id   string
	err  error

	Panel
}

func NewInfoPanel(app *App) *InfoPanel {
	p := &InfoPanel{}
	p.Panel.Init(app)

	p.text = views.NewTextArea()
	p.text.EnableCursor(false)
	p.text.SetStyle(StyleNormal)
	p.SetContent(p.text)
	p.SetKeys([]string{"[ESC] Main", "[H] Help"})

	return p
}

func (p *InfoPanel) Draw() {
	p.update()
	p.Panel.Draw()
}

func (p *InfoPanel) HandleEvent(ev tcell.Event) bool {
	info := p.info
	app := p.app
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEsc:
			app.ShowMain()
			return true
		case tcell.KeyF1:
			app.ShowHelp()
			return true
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				app.ShowMain()
				return true
			case 'H', 'h':
				app.ShowHelp()
				return true
			case 'L', 'l':
				if info != nil {
					app.ShowLog(info.Manifest.UUID)
					return true
				}
			default:
				if controlKey(app, info, ev.Rune()) {
					return true
				}
			}
		}
	}
	return p.Panel.HandleEvent(ev)
}

func (p *InfoPanel) SetMachine(id string) {
	p.id = id
	p.info = nil
	p.err = nil
}

// update runs on the application loop.
func (p *InfoPanel) update() {

	s, e := p.app.GetItem(p.id)

	if p.info == s && p.err == e {
		return
	}
	p.info = s
	p.err = e
	words := []string{"[ESC] Main", "[H] Help"}

	if s == nil {
		p.SetTitle("Details")
		if e != nil {
			p.SetStatus(fmt.Sprintf("No data: %v", e))
			p.SetLevel(LevelError)
		} else {
			p.SetStatus("Loading...")
			p.SetLevel(LevelNormal)
		}
		p.text.SetLines(nil)
		p.SetKeys(words)
		return
	}

	p.SetStatus("")
	p.Panel.SetMachine("Details for", s)

	desc := util.Describe(s)
	lines := make([]string, 0, len(desc))
	for _, kv := range desc {
		lines = append(lines, fmt.Sprintf("%13s %s", kv[0]+":", kv[1]))
	}
	p.text.SetLines(lines)

	words = append(words, "[L] Log")
	words = append(words, ControlKeys(s)...)
	p.SetKeys(words)
}
