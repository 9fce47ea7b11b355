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
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/qtemu/qvisor"
	"github.com/qtemu/qvisor/qvisor/util"
	"github.com/qtemu/qvisor/rest"
)

var (
	StyleNormal = tcell.StyleDefault.
			Foreground(tcell.ColorSilver).
			Background(tcell.ColorBlack)
	StyleGood = tcell.StyleDefault.
			Foreground(tcell.ColorGreen).
			Background(tcell.ColorBlack)
	StyleWarn = tcell.StyleDefault.
			Foreground(tcell.ColorYellow).
			Background(tcell.ColorBlack)
	StyleError = tcell.StyleDefault.
			Foreground(tcell.ColorMaroon).
			Background(tcell.ColorBlack)
)

// StyleFor picks the color a machine's row is shown in.
func StyleFor(m *rest.MachineInfo) tcell.Style {
	switch LevelFor(m) {
	case LevelError:
		return StyleError
	case LevelGood:
		return StyleGood
	case LevelWarn:
		return StyleWarn
	}
	return StyleNormal
}

// ControlKeys returns the key hints for the operations valid in the
// machine's state.
func ControlKeys(m *rest.MachineInfo) []string {
	var words []string
	st := m.State
	if st.Permits(qvisor.OpRun) {
		words = append(words, "[R] Run")
	}
	if st.Permits(qvisor.OpStop) {
		words = append(words, "[S] Stop")
	}
	if st.Permits(qvisor.OpPause) {
		words = append(words, "[P] Pause")
	}
	if st.Permits(qvisor.OpResume) {
		words = append(words, "[U] Resume")
	}
	if st.Permits(qvisor.OpReset) {
		words = append(words, "[B] Reboot")
	}
	if st.Permits(qvisor.OpSave) {
		words = append(words, "[V] Save")
	}
	return words
}

// controlKey dispatches a control key for the machine, if the key is
// valid in its state.
func controlKey(app *App, m *rest.MachineInfo, r rune) bool {
	if m == nil {
		return false
	}
	id := m.Manifest.UUID
	st := m.State
	switch r {
	case 'R', 'r':
		if st.Permits(qvisor.OpRun) {
			app.RunMachine(id)
			return true
		}
	case 'S', 's':
		if st.Permits(qvisor.OpStop) {
			app.StopMachine(id)
			return true
		}
	case 'P', 'p':
		if st.Permits(qvisor.OpPause) {
			app.PauseMachine(id)
			return true
		}
	case 'U', 'u':
		if st.Permits(qvisor.OpResume) {
			app.ResumeMachine(id)
			return true
		}
	case 'B', 'b':
		if st.Permits(qvisor.OpReset) {
			app.ResetMachine(id)
			return true
		}
	case 'V', 'v':
		if st.Permits(qvisor.OpSave) {
			app.SaveMachine(id)
			return true
		}
	}
	return false
}

// MainPanel implements a Widget as a Panel, but provides the data
// model and handling for the content area, using data loaded from a
// qvisord REST API service.
type MainPanel struct {
	content  *views.CellView
	selected *rest.MachineInfo
	nfaulted int
	nstarted int
	nidle    int
	nstopped int
	width    int
	height   int
	curx     int
	cury     int
	lines    []string
	styles   []tcell.Style
	items    []*rest.MachineInfo

	Panel
}

// mainModel provides the model for a CellArea.
type mainModel struct {
	m *MainPanel
}

func NewMainPanel(app *App, server string) *MainPanel {
	m := &MainPanel{}

	m.Panel.Init(app)
	m.content = views.NewCellView()
	m.SetContent(m.content)

	m.content.SetModel(&mainModel{m})
	m.content.SetStyle(StyleNormal)

	m.SetTitle(server)
	m.SetKeys([]string{"[Q] Quit"})

	return m
}

func (m *MainPanel) Draw() {
	m.update()
	m.Panel.Draw()
}

func (m *MainPanel) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEsc:
			m.unselect()
			return true
		case tcell.KeyF1:
			m.App().ShowHelp()
			return true
		case tcell.KeyEnter:
			if m.selected != nil {
				m.App().ShowInfo(m.selected.Manifest.UUID)
				return true
			}
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				m.App().Quit()
				return true
			case 'H', 'h':
				m.App().ShowHelp()
				return true
			case 'I', 'i':
				if m.selected != nil {
					m.App().ShowInfo(m.selected.Manifest.UUID)
					return true
				}
			case 'L', 'l':
				if m.selected != nil {
					m.App().ShowLog(m.selected.Manifest.UUID)
				} else {
					m.App().ShowLog("")
				}
				return true
			default:
				if controlKey(m.App(), m.selected, ev.Rune()) {
					return true
				}
			}
		}
	}
	return m.Panel.HandleEvent(ev)
}

// Model items
func (model *mainModel) GetCell(x, y int) (rune, tcell.Style, []rune, int) {
	var ch rune
	var style tcell.Style

	m := model.m

	if y < 0 || y >= len(m.lines) {
		return ch, StyleNormal, nil, 1
	}

	if x >= 0 && x < len(m.lines[y]) {
		ch = rune(m.lines[y][x])
	} else {
		ch = ' '
	}
	style = m.styles[y]
	if m.items[y] == m.selected {
		style = style.Reverse(true)
	}
	return ch, style, nil, 1
}

func (model *mainModel) GetBounds() (int, int) {
	// This assumes that all content is displayable runes of width 1.
	m := model.m
	y := len(m.lines)
	x := 0
	for _, l := range m.lines {
		if x < len(l) {
			x = len(l)
		}
	}
	return x, y
}

func (model *mainModel) GetCursor() (int, int, bool, bool) {
	m := model.m
	return m.curx, m.cury, true, false
}

func (model *mainModel) MoveCursor(offx, offy int) {
	m := model.m
	m.curx += offx
	m.cury += offy
	m.updateCursor(true)
}

func (model *mainModel) SetCursor(x, y int) {
	m := model.m
	m.curx = x
	m.cury = y
	m.updateCursor(true)
}

func (m *MainPanel) unselect() {
	m.cury = 0
	m.curx = 0
	m.updateCursor(false)
}

func (m *MainPanel) updateCursor(selected bool) {
	if m.curx > m.width-1 {
		m.curx = m.width - 1
	}
	if m.cury > m.height-1 {
		m.cury = m.height - 1
	}
	if m.curx < 0 {
		m.curx = 0
	}
	if m.cury < 0 {
		m.cury = 0
	}
	if selected && m.height > 0 {
		if m.selected == nil {
			m.curx = 0
			m.cury = 0
		}
		m.selected = m.items[m.cury]
	} else {
		m.selected = nil
	}
}

// update is called to update content, e.g. in response to Draw() or
// as part of another update.  It runs on the application loop.
func (m *MainPanel) update() {

	items, err := m.App().GetItems()
	m.items = items

	// preserve selected item
	if sel := m.selected; sel != nil {
		m.selected = nil
		for y, item := range m.items {
			if item.Manifest.UUID == sel.Manifest.UUID {
				m.selected = item
				m.cury = y
			}
		}
	}
	if err != nil {
		var re *rest.Error
		if errors.As(err, &re) && re.Code == http.StatusUnauthorized {
			m.App().ShowAuth()
			return
		}
		m.SetLevel(LevelError)
		m.SetStatus(fmt.Sprintf("Cannot load machines: %v", err))
		m.lines = []string{}
		m.styles = []tcell.Style{}
		m.items = nil
		m.selected = nil
		m.height = 0
		return
	}

	lines := make([]string, 0, len(m.items))
	styles := make([]tcell.Style, 0, len(m.items))

	m.nfaulted = 0
	m.nstarted = 0
	m.nidle = 0
	m.nstopped = 0

	m.height = 0
	m.width = 0

	for _, info := range items {
		d := time.Since(info.Stamp)
		d -= d % time.Second
		line := fmt.Sprintf("%-20s %-8s %10s   %-s",
			info.Manifest.Name, util.Status(info),
			util.FormatDuration(d), util.Detail(info))

		if len(line) > m.width {
			m.width = len(line)
		}
		m.height++

		lines = append(lines, line)
		styles = append(styles, StyleFor(info))
		switch {
		case util.Faulted(info):
			m.nfaulted++
		case info.State == qvisor.Started:
			m.nstarted++
		case util.Active(info):
			m.nidle++
		default:
			m.nstopped++
		}
	}

	m.lines = lines
	m.styles = styles

	status := fmt.Sprintf(
		"%4d Machines %4d Faulted %4d Started %4d Paused/Saved %4d Stopped",
		len(m.items), m.nfaulted, m.nstarted, m.nidle, m.nstopped)
	if e := m.App().OpError(); e != nil {
		status = fmt.Sprintf("Failed: %v", e)
	}
	m.SetStatus(status)

	switch {
	case m.nfaulted > 0 || m.App().OpError() != nil:
		m.SetLevel(LevelError)
	case m.nidle > 0:
		m.SetLevel(LevelWarn)
	case m.nstarted > 0:
		m.SetLevel(LevelGood)
	default:
		m.SetLevel(LevelNormal)
	}

	words := []string{"[Q] Quit", "[H] Help"}
	if item := m.selected; item != nil {
		words = append(words, "[I] Info", "[L] Log")
		words = append(words, ControlKeys(item)...)
	} else {
		words = append(words, "[L] Log")
	}
	m.SetKeys(words)
}
