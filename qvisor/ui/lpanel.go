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
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/qtemu/qvisor"
	"github.com/qtemu/qvisor/rest"
)

// LogPanel shows the output of one machine, or the daemon's own log.
type LogPanel struct {
	text *views.TextArea
	info *rest.MachineInfo
	id   string

	Panel
}

func NewLogPanel(app *App) *LogPanel {
	p := &LogPanel{}

	p.Panel.Init(app)
	p.SetKeys([]string{"[ESC] Main", "[H] Help"})

	p.text = views.NewTextArea()
	p.text.EnableCursor(false)
	p.text.SetStyle(StyleNormal)
	p.SetContent(p.text)

	return p
}

func (p *LogPanel) Draw() {
	p.update()
	p.Panel.Draw()
}

func (p *LogPanel) HandleEvent(ev tcell.Event) bool {
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
			case 'I', 'i':
				if info != nil {
					app.ShowInfo(info.Manifest.UUID)
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

func (p *LogPanel) SetMachine(id string) {
	p.SetTitle("Loading")
	p.text.SetLines(nil)
	p.id = id
	p.info = nil
}

// formatRecord renders one log record.  Standard error lines are
// marked so they stand out among console output.
func formatRecord(r rest.LogRecord) string {
	tag := "   "
	switch r.Stream {
	case qvisor.StreamErr:
		tag = "ERR"
	case qvisor.StreamLog:
		tag = "LOG"
	}
	return fmt.Sprintf("%s %s %s", r.Time.Format(time.StampMilli), tag, r.Text)
}

// update runs on the application loop.
func (p *LogPanel) update() {

	var e1 error
	if p.id != "" {
		p.info, e1 = p.app.GetItem(p.id)
	}
	loginfo, e2 := p.app.GetLog(p.id)

	words := []string{"[ESC] Main", "[H] Help"}

	if p.id == "" {
		p.SetTitle("Daemon Log")
	} else if p.info != nil {
		p.Panel.SetMachine("Output of", p.info)
	}

	if (p.info == nil && p.id != "") || loginfo == nil {
		e := e2
		if e == nil {
			e = e1
		}
		if e != nil {
			p.SetStatus(fmt.Sprintf("No data: %v", e))
			p.SetLevel(LevelError)
		} else {
			p.SetStatus("Loading ...")
			p.SetLevel(LevelNormal)
		}
		p.text.SetLines([]string{""})
		p.SetKeys(words)
		return
	}

	p.SetStatus(fmt.Sprintf("%d records", len(loginfo.Records)))
	if p.info == nil {
		p.SetLevel(LevelNormal)
	}

	lines := make([]string, 0, len(loginfo.Records))
	for _, r := range loginfo.Records {
		lines = append(lines, formatRecord(r))
	}
	p.text.SetLines(lines)

	if info := p.info; info != nil {
		words = append(words, "[I] Info")
		words = append(words, ControlKeys(info)...)
	}
	p.SetKeys(words)
}
