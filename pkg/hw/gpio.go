// Copyright 2023 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hw

// LineID names one of the board's edge-sensitive input lines.
type LineID int

// The board's input lines. Both carry internal pull-ups, so the idle
// level is high and a press reads low (negative logic).
const (
	LineSW1 LineID = iota
	LineSW2

	// NumLines is the number of input lines on the board.
	NumLines
)

// line models an edge-sensitive input with a raw interrupt status bit
// that latches on any edge and an arm bit that gates delivery. The
// status stays asserted until cleared, as on real hardware; a handler
// that neither clears nor masks will be re-entered.
type line struct {
	configured bool
	level      bool // true = high (released, under pull-up)
	armed      bool
	ris        bool
	prio       Priority
	h          Handler
}

// ConfigureLine makes a line edge-sensitive on both edges with the
// given interrupt priority and handler, armed, pulled up high.
func (m *Machine) ConfigureLine(id LineID, prio Priority, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines[id] = line{
		configured: true,
		level:      true,
		armed:      true,
		prio:       prio,
		h:          h,
	}
}

// ReadLine samples the line level. True is high (released).
func (m *Machine) ReadLine(id LineID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lines[id].level
}

// MaskLine disarms the line's interrupt. Edges still latch into the raw
// status.
func (m *Machine) MaskLine(id LineID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines[id].armed = false
}

// UnmaskLine rearms the line's interrupt.
func (m *Machine) UnmaskLine(id LineID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines[id].armed = true
}

// ClearLine acknowledges the line's latched edge.
func (m *Machine) ClearLine(id LineID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines[id].ris = false
}

// Host side.

// SetLine drives the line to the given level from outside the board. A
// change of level latches an edge. Host-safe.
func (m *Machine) SetLine(id LineID, level bool) {
	m.mu.Lock()
	l := &m.lines[id]
	if l.configured && l.level != level {
		l.ris = true
	}
	l.level = level
	m.mu.Unlock()
	m.kickHost()
}
