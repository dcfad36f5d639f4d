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

import "fmt"

// TimerID names one of the board's countdown timers.
type TimerID int

// The board's timers and their conventional assignments. The kernel is
// free to repurpose them, but the simulator wires workloads assuming
// this split.
const (
	// TimerSysTick drives time-slice preemption.
	TimerSysTick TimerID = iota

	// TimerOS drives the kernel's 1ms tick.
	TimerOS

	// TimerTask0 and TimerTask1 are for background periodic tasks.
	TimerTask0
	TimerTask1

	// NumTimers is the number of countdown timers on the board.
	NumTimers
)

// timer is a 32-bit-style periodic down-counter. The count register
// runs from reload-1 to 0; the interrupt fires when it wraps, and the
// counter reloads immediately.
type timer struct {
	enabled   bool
	reload    uint64
	remaining uint64 // cycles until the next fire; register value is remaining-1
	prio      Priority
	pending   bool
	h         Handler
}

// ConfigureTimer programs a timer with its period in cycles, interrupt
// priority, and handler, leaving it stopped with a full countdown.
func (m *Machine) ConfigureTimer(id TimerID, reload uint64, prio Priority, h Handler) {
	if reload == 0 {
		panic(fmt.Sprintf("hw: timer %d configured with zero period", id))
	}
	t := &m.timers[id]
	t.enabled = false
	t.reload = reload
	t.remaining = reload
	t.prio = prio
	t.pending = false
	t.h = h
}

// StartTimer starts a configured timer counting down.
func (m *Machine) StartTimer(id TimerID) {
	t := &m.timers[id]
	if t.reload == 0 {
		panic(fmt.Sprintf("hw: timer %d started before configuration", id))
	}
	t.enabled = true
}

// StopTimer stops a timer. A pending, undelivered interrupt stays
// pending.
func (m *Machine) StopTimer(id TimerID) {
	m.timers[id].enabled = false
}

// TimerCurrent returns the timer's current count register. It counts
// down from reload-1 to 0 over one period.
func (m *Machine) TimerCurrent(id TimerID) uint64 {
	t := &m.timers[id]
	if t.remaining == 0 {
		return t.reload - 1
	}
	return t.remaining - 1
}

// ReloadTimer rewinds the timer's countdown to the start of a period,
// as a write to the count register does on hardware.
func (m *Machine) ReloadTimer(id TimerID) {
	t := &m.timers[id]
	t.remaining = t.reload
}

// TimerPeriod returns the timer's configured period in cycles.
func (m *Machine) TimerPeriod(id TimerID) uint64 {
	return m.timers[id].reload
}
