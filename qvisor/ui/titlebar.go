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
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/qtemu/qvisor/qvisor/util"
	"github.com/qtemu/qvisor/rest"
)

// Title markup: 'N' is plain, 'A' highlights, and the level marks
// color a machine's state.
var levelMarks = map[Level]rune{
	LevelNormal: 'N',
	LevelGood:   'G',
	LevelWarn:   'W',
	LevelError:  'E',
}

var titleColors = map[rune]tcell.Color{
	'N': tcell.ColorBlack,
	'A': tcell.ColorNavy,
	'G': tcell.ColorGreen,
	'W': tcell.ColorOlive,
	'E': tcell.ColorMaroon,
}

// TitleBar names the panel in the middle and the server on the right.
type TitleBar struct {
	once   sync.Once
	title  string
	server string
	views.SimpleStyledTextBar
}

func (tb *TitleBar) Init() {
	tb.once.Do(func() {
		base := tcell.StyleDefault.Background(tcell.ColorSilver)
		tb.SimpleStyledTextBar.Init()
		tb.SimpleStyledTextBar.SetStyle(base.Foreground(tcell.ColorBlack))
		for r, c := range titleColors {
			st := base.Foreground(c)
			if r != 'N' {
				st = st.Bold(true)
			}
			tb.RegisterLeftStyle(r, st)
			tb.RegisterCenterStyle(r, st)
			tb.RegisterRightStyle(r, st)
		}
		tb.SetCenter(" ")
	})
}

func (tb *TitleBar) SetTitle(title string) {
	tb.title = escape(title)
	tb.SetCenter(tb.title)
}

// SetMachine titles the panel after m, followed by m's state in the
// color of its level.
func (tb *TitleBar) SetMachine(title string, m *rest.MachineInfo) {
	if m == nil {
		tb.SetTitle(title)
		return
	}
	tb.title = fmt.Sprintf("%s %%A%s%%N [%%%c%s%%N]",
		escape(title), escape(m.Manifest.Name),
		levelMarks[LevelFor(m)], util.Status(m))
	tb.SetCenter(tb.title)
}

// Title is the center markup.
func (tb *TitleBar) Title() string {
	return tb.title
}

func (tb *TitleBar) SetServer(server string) {
	tb.server = escape(server)
	tb.SetRight("%A" + tb.server + "%N")
}

func NewTitleBar() *TitleBar {
	tb := &TitleBar{}
	tb.Init()
	return tb
}
