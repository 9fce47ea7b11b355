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
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/qtemu/qvisor"
	"github.com/qtemu/qvisor/qvisor/util"
	"github.com/qtemu/qvisor/rest"
)

// Level is how much attention the status line asks for.
type Level int

const (
	LevelNormal Level = iota
	LevelGood
	LevelWarn
	LevelError
)

var statusStyles = map[Level]tcell.Style{
	LevelNormal: tcell.StyleDefault.
		Foreground(tcell.ColorBlack).
		Background(tcell.ColorSilver),
	LevelGood: tcell.StyleDefault.
		Foreground(tcell.ColorWhite).
		Background(tcell.ColorGreen).
		Bold(true),
	LevelWarn: tcell.StyleDefault.
		Foreground(tcell.ColorBlack).
		Background(tcell.ColorYellow),
	LevelError: tcell.StyleDefault.
		Foreground(tcell.ColorWhite).
		Background(tcell.ColorMaroon).
		Bold(true),
}

// LevelFor is the level a machine is reported at: error once it has
// faulted, good while started, warn while paused or saved.
func LevelFor(m *rest.MachineInfo) Level {
	switch {
	case util.Faulted(m):
		return LevelError
	case m.State == qvisor.Started:
		return LevelGood
	case util.Active(m):
		return LevelWarn
	}
	return LevelNormal
}

// StatusBar holds a free text message on the left and, on panels about
// one machine, that machine's condition on the right.
type StatusBar struct {
	once    sync.Once
	level   Level
	text    string
	machine string
	views.SimpleStyledTextBar
}

func (sb *StatusBar) Init() {
	sb.once.Do(func() {
		sb.SimpleStyledTextBar.Init()
		sb.SetLevel(LevelNormal)
	})
}

func (sb *StatusBar) SetLevel(l Level) {
	st, ok := statusStyles[l]
	if !ok {
		l, st = LevelNormal, statusStyles[LevelNormal]
	}
	sb.level = l
	sb.SimpleStyledTextBar.SetStyle(st)
	sb.RegisterLeftStyle('N', st)
	sb.RegisterRightStyle('N', st)
	sb.SetLeft(escape(sb.text))
	sb.SetRight(escape(sb.machine))
}

func (sb *StatusBar) Level() Level {
	return sb.level
}

func (sb *StatusBar) SetText(text string) {
	sb.text = text
	sb.SetLeft(escape(text))
}

func (sb *StatusBar) Text() string {
	return sb.text
}

// SetMachine reports m on the right and takes its level.  A nil m
// clears the report.
func (sb *StatusBar) SetMachine(m *rest.MachineInfo) {
	if m == nil {
		sb.machine = ""
		sb.SetRight("")
		return
	}
	sb.machine = util.Status(m)
	if d := util.Detail(m); d != "" {
		sb.machine += ", " + d
	}
	sb.SetLevel(LevelFor(m))
}

// Machine is the machine report currently shown.
func (sb *StatusBar) Machine() string {
	return sb.machine
}

func escape(s string) string {
	return strings.ReplaceAll(s, "%", "%%")
}

func NewStatusBar() *StatusBar {
	sb := &StatusBar{}
	sb.Init()
	return sb
}
