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

// Package hw simulates the single-core 32-bit board the kernel runs on:
// a cycle-accurate virtual clock, countdown timers with prioritized
// interrupts, a pended lowest-priority service exception, PRIMASK-style
// interrupt masking, edge-sensitive input lines, and a console device.
//
// The board is single-core in the strictest sense: exactly one goroutine
// executes machine and kernel code at a time, and control moves between
// goroutines only through the service exception. Virtual time advances
// only when the running context burns cycles (Work, WaitForInterrupt);
// due interrupts are delivered at those boundaries, highest hardware
// priority first, exactly as a microcontroller delivers them at
// instruction boundaries. Interrupt handlers execute inline on the
// running goroutine and are charged zero cycles, so handler work never
// perturbs the clock.
//
// Everything below the "Host side" markers may be called from goroutines
// other than the running context (tests, the simulator binary).
package hw

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Bus clock constants. One cycle is 12.5ns.
const (
	BusHz       = 80000000
	CyclesPerMs = BusHz / 1000
	CyclesPerUs = BusHz / 1000000
)

// Priority is a hardware interrupt priority. 0 is the highest.
type Priority uint8

// Handler is an interrupt service routine. It runs inline on the
// running context with further dispatch deferred, and must not block.
type Handler func()

// ErrHalted is the panic value thrown through the running context when
// the board is powered off. The thread trampoline recovers it.
var ErrHalted = errors.New("hw: machine halted")

// Machine is the simulated board. The zero value is not usable; call New.
type Machine struct {
	// cycles is the number of bus cycles elapsed since power-on. It is
	// written by the running context and read from anywhere.
	cycles atomic.Uint64

	// The fields below are owned by the running context. They need no
	// lock: only one goroutine runs at a time, and the handoff through
	// the service exception orders all access.
	primask    bool
	depth      int
	svcPending bool
	svc        func()
	timers     [NumTimers]timer

	// mu guards the input lines, which the host mutates asynchronously.
	mu    sync.Mutex
	lines [NumLines]line

	// kick wakes a WaitForInterrupt that has nothing to count down.
	kick chan struct{}

	halted atomic.Bool
	done   chan struct{}

	// realtime paces WaitForInterrupt fast-forwards against the wall
	// clock so interactive workloads run at board speed.
	realtime bool

	console Console
}

// New returns a powered-on machine with all timers stopped, all lines
// unconfigured, and interrupts enabled.
func New() *Machine {
	return &Machine{
		kick: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Console returns the board's console device.
func (m *Machine) Console() *Console {
	return &m.console
}

// SetRealtime paces virtual time against the wall clock while the board
// waits for interrupts. Off by default; tests run free.
func (m *Machine) SetRealtime(rt bool) {
	m.realtime = rt
}

// IntrState is a saved interrupt-enable state. Callers must restore it
// on every exit path; see DisableInterrupts.
type IntrState struct {
	primask bool
}

// DisableInterrupts masks interrupts and returns the previous state, to
// be handed back to RestoreInterrupts. Critical sections nest: the
// inner restore is a no-op if the outer section already masked.
func (m *Machine) DisableInterrupts() IntrState {
	s := IntrState{m.primask}
	m.primask = true
	return s
}

// RestoreInterrupts restores a state saved by DisableInterrupts. If the
// restore unmasks, pending interrupts are delivered before it returns.
func (m *Machine) RestoreInterrupts(s IntrState) {
	m.primask = s.primask
	if !m.primask {
		m.dispatch()
	}
}

// InterruptsDisabled returns whether interrupts are masked.
func (m *Machine) InterruptsDisabled() bool {
	return m.primask
}

// InHandler returns whether the running context is executing an
// interrupt handler.
func (m *Machine) InHandler() bool {
	return m.depth > 0
}

// SetServiceHandler installs the handler for the pended service
// exception. It runs at the lowest priority, after every due interrupt,
// and is the only place a context switch may happen.
func (m *Machine) SetServiceHandler(h func()) {
	m.svc = h
}

// PendService requests the service exception. It is delivered at the
// next boundary once interrupts are unmasked and all due handlers have
// run. Callable from handlers.
func (m *Machine) PendService() {
	m.svcPending = true
}

// Cycles returns the virtual cycle count. Host-safe.
func (m *Machine) Cycles() uint64 {
	return m.cycles.Load()
}

// Work burns n cycles of straight-line computation on the running
// thread, delivering interrupts as their deadlines pass. Inside a
// handler it is a no-op: handler execution is charged zero cycles.
func (m *Machine) Work(n uint64) {
	if m.depth > 0 {
		return
	}
	m.advance(n)
}

// Sync is a zero-cost boundary: pending interrupts and a pended service
// exception are delivered without advancing the clock.
func (m *Machine) Sync() {
	if m.depth > 0 {
		return
	}
	m.dispatch()
}

// WaitForInterrupt idles the CPU until an interrupt is taken. With an
// armed timer the clock fast-forwards to its deadline; with none, the
// board blocks until the host provides a stimulus.
func (m *Machine) WaitForInterrupt() {
	for {
		if m.halted.Load() {
			panic(ErrHalted)
		}
		if m.deliverable() {
			m.dispatch()
			return
		}
		d, ok := m.nextDeadline()
		if !ok {
			select {
			case <-m.kick:
			case <-m.done:
			}
			continue
		}
		if m.realtime {
			time.Sleep(time.Duration(d) * time.Second / BusHz)
		}
		m.advance(d)
		return
	}
}

// Halt powers the board off. Every thread unwinds with ErrHalted at its
// next boundary; parked threads are the kernel's to reap. Host-safe and
// idempotent.
func (m *Machine) Halt() {
	if m.halted.Swap(true) {
		return
	}
	close(m.done)
	m.kickHost()
}

// Halted returns whether the board has been powered off. Host-safe.
func (m *Machine) Halted() bool {
	return m.halted.Load()
}

// Done returns a channel closed when the board is powered off.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

func (m *Machine) kickHost() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// advance moves virtual time forward n cycles, stopping at every timer
// deadline to deliver interrupts in priority order.
func (m *Machine) advance(n uint64) {
	m.dispatch()
	for n > 0 {
		step := n
		if d, ok := m.nextDeadline(); ok && d < step {
			step = d
		}
		for i := range m.timers {
			t := &m.timers[i]
			if t.enabled {
				t.remaining -= step
			}
		}
		m.cycles.Add(step)
		n -= step
		for i := range m.timers {
			t := &m.timers[i]
			if t.enabled && t.remaining == 0 {
				t.pending = true
				t.remaining = t.reload
			}
		}
		m.dispatch()
	}
}

// nextDeadline returns the cycles until the nearest enabled timer fires.
func (m *Machine) nextDeadline() (uint64, bool) {
	var d uint64
	ok := false
	for i := range m.timers {
		t := &m.timers[i]
		if t.enabled && (!ok || t.remaining < d) {
			d = t.remaining
			ok = true
		}
	}
	return d, ok
}

// deliverable returns whether any interrupt or the service exception is
// waiting for delivery.
func (m *Machine) deliverable() bool {
	if m.svcPending {
		return true
	}
	for i := range m.timers {
		if m.timers[i].pending {
			return true
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.lines {
		l := &m.lines[i]
		if l.configured && l.armed && l.ris {
			return true
		}
	}
	return false
}

// dispatch delivers pending interrupts, highest priority first, then a
// pended service exception. It runs only at thread level with
// interrupts unmasked; handler and critical-section contexts return
// immediately and the work happens at the enclosing boundary.
func (m *Machine) dispatch() {
	for {
		if m.depth > 0 || m.primask {
			return
		}
		if m.halted.Load() {
			panic(ErrHalted)
		}
		if src, ok := m.takeBest(); ok {
			m.depth++
			src()
			m.depth--
			continue
		}
		if m.svcPending && m.svc != nil {
			// The service exception runs at thread switch level, not
			// handler level: it may park this goroutine and resume
			// another, which unwinds through this same frame later.
			m.svcPending = false
			m.svc()
			continue
		}
		return
	}
}

// takeBest selects and acknowledges the highest-priority pending timer
// interrupt, or selects (without acknowledging) the highest-priority
// asserted line interrupt. Line interrupts stay asserted until the
// handler clears or masks them, as on real hardware.
func (m *Machine) takeBest() (Handler, bool) {
	bestPrio := Priority(255)
	bestTimer := -1
	for i := range m.timers {
		t := &m.timers[i]
		if t.pending && t.prio < bestPrio {
			bestPrio = t.prio
			bestTimer = i
		}
	}
	bestLine := -1
	m.mu.Lock()
	for i := range m.lines {
		l := &m.lines[i]
		if l.configured && l.armed && l.ris && l.prio < bestPrio {
			bestPrio = l.prio
			bestLine = i
		}
	}
	var h Handler
	if bestLine >= 0 {
		h = m.lines[bestLine].h
	}
	m.mu.Unlock()
	if bestLine >= 0 {
		return h, true
	}
	if bestTimer >= 0 {
		t := &m.timers[bestTimer]
		t.pending = false
		return t.h, true
	}
	return nil, false
}
