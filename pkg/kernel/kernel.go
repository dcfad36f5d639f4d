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

// Package kernel implements a preemptive real-time kernel for the
// simulated board in pkg/hw: fixed-priority round-robin scheduling over
// a ring of thread control blocks, blocking counting and binary
// semaphores with FIFO wakeup, timed sleep, a single-producer consumer
// stream, a mailbox rendezvous, background periodic tasks with jitter
// accounting, and debounced switch tasks.
//
// Threads are goroutines, but the board is single-core: exactly one
// thread executes at a time, and the CPU moves between threads only
// inside the pended service exception, which saves the outgoing
// thread's frame, asks the scheduler for the next runnable thread, and
// restores its frame. All kernel structures are therefore mutated
// either from the running thread inside an interrupt-disabled critical
// section or from an interrupt handler, never concurrently.
//
// The host may halt the board at any time. The setup calls (AddThread,
// AddPeriodicTask, AddSwitchTask, FifoInit, MailboxInit) may also be
// made before Launch; every other method is for thread context (or, for
// the ISR surface, interrupt context) once Launch has been called.
package kernel

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/talismancer/rtkernel/pkg/arch"
	"github.com/talismancer/rtkernel/pkg/hw"
	"github.com/talismancer/rtkernel/pkg/log"
)

// NumThreads is the number of user thread slots. The idle thread lives
// in a reserved slot beyond these and is not creatable or killable.
const NumThreads = 16

// numSlots includes the reserved idle slot.
const numSlots = NumThreads + 1

// idleSlot is the reserved TCB index of the idle thread.
const idleSlot = NumThreads

// NumPriorities is the number of user priority levels. 0 is the
// highest, NumPriorities-1 the lowest.
const NumPriorities = 8

// idlePriority sits numerically below every user priority so the idle
// thread wins only when nothing else is runnable.
const idlePriority = NumPriorities

// errKilled unwinds a thread goroutine whose TCB has been released.
var errKilled = errors.New("kernel: thread killed")

type threadState uint8

const (
	stateFree threadState = iota
	stateActive
	stateSleeping
	stateBlocked
)

// tcb is a thread control block. Ring links are TCB indices; a TCB is
// linked iff its state is not free. An unlinked TCB keeps its stale
// next/prev so the scheduler can still walk off a just-killed RunPt.
type tcb struct {
	ctx  arch.Context
	next int32
	prev int32

	id       int64
	state    threadState
	priority uint8

	// sleepLeft is nonzero iff state is stateSleeping; ticks remaining.
	sleepLeft uint32

	// blockedOn is non-nil iff state is stateBlocked.
	blockedOn *Semaphore

	entry func()
}

// Kernel is a single board's operating system instance.
type Kernel struct {
	m *hw.Machine

	tcbs [numSlots]tcb

	// runIdx is RunPt: the TCB index of the thread owning the CPU.
	// Written only by AddThread (first thread) and the service
	// exception.
	runIdx int32

	// lastIns is the splice cursor: new threads link in after it.
	lastIns   int32
	threadCnt int32
	nextID    int64

	launched bool

	// ticks is the millisecond counter advanced by the kernel tick.
	ticks uint64

	fifo     fifo
	mbox     mailbox
	periodic [numPeriodic]periodicSlot
	switches [hw.NumLines]switchSlot

	idleCount atomic.Uint64

	// live counts thread goroutines; reaped signals each exit so Launch
	// can collect them after a halt.
	live   atomic.Int32
	reaped chan struct{}
}

// New returns a kernel bound to the given board, with no threads.
func New(m *hw.Machine) *Kernel {
	return &Kernel{
		m:       m,
		runIdx:  -1,
		lastIns: -1,
		reaped:  make(chan struct{}, numSlots),
	}
}

// Machine returns the board this kernel runs on.
func (k *Kernel) Machine() *hw.Machine {
	return k.m
}

// entryPC is the synthetic program counter seeded into a fresh stack
// frame for the given slot. The service exception checks it on first
// restore before starting the thread at its entry function.
func entryPC(slot int32) uint32 {
	return 0x00080000 | uint32(slot)<<6
}

// AddThread creates a thread running task with the given stack size
// hint in bytes and priority (0 highest .. 7 lowest). It returns false,
// mutating nothing, if no TCB is free, the hint exceeds the fixed stack
// capacity, the priority is out of range, or task is nil. The first
// thread ever added becomes the initial running thread. Callable from
// interrupt context.
func (k *Kernel) AddThread(task func(), stackBytes int, priority uint8) bool {
	if task == nil || stackBytes > arch.StackBytes || priority >= NumPriorities {
		return false
	}
	return k.addThread(task, priority)
}

func (k *Kernel) addThread(task func(), priority uint8) bool {
	sr := k.m.DisableInterrupts()
	defer k.m.RestoreInterrupts(sr)

	if k.threadCnt == 0 {
		t := &k.tcbs[0]
		t.next = 0
		t.prev = 0
		k.initTCB(0, task, priority)
		k.lastIns = 0
		k.runIdx = 0
		k.threadCnt++
		return true
	}

	slot := k.findFreeSlot()
	if slot < 0 {
		return false
	}
	// Splice after the last inserted thread. Keeping both directions
	// intact lets a dying thread's neighbors relink in O(1).
	t := &k.tcbs[slot]
	last := &k.tcbs[k.lastIns]
	t.next = last.next
	t.prev = k.lastIns
	k.tcbs[last.next].prev = slot
	last.next = slot
	k.lastIns = slot
	k.initTCB(slot, task, priority)
	k.threadCnt++
	return true
}

func (k *Kernel) initTCB(slot int32, task func(), priority uint8) {
	t := &k.tcbs[slot]
	t.ctx.Init(entryPC(slot))
	t.id = k.nextID
	k.nextID++
	t.state = stateActive
	t.priority = priority
	t.sleepLeft = 0
	t.blockedOn = nil
	t.entry = task
}

func (k *Kernel) findFreeSlot() int32 {
	for i := int32(0); i < NumThreads; i++ {
		if k.tcbs[i].state == stateFree {
			return i
		}
	}
	return -1
}

// Suspend gives up the rest of the current time slice. The slice timer
// rewinds so the next thread gets a full slice, and the service
// exception is pended to switch immediately. Interrupts must be enabled
// on entry.
func (k *Kernel) Suspend() {
	k.assertThread("Suspend")
	k.m.ReloadTimer(hw.TimerSysTick)
	k.m.PendService()
	k.m.Sync()
}

// Sleep puts the running thread into a dormant state for the given
// number of milliseconds. Sleep(0) yields the slice cooperatively.
func (k *Kernel) Sleep(ms uint32) {
	k.assertThread("Sleep")
	if ms == 0 {
		k.Suspend()
		return
	}
	sr := k.m.DisableInterrupts()
	t := &k.tcbs[k.runIdx]
	t.sleepLeft = ms
	t.state = stateSleeping
	k.m.RestoreInterrupts(sr)
	k.Suspend()
}

// Kill terminates the running thread, unlinking its TCB and releasing
// it for reuse. It does not return.
func (k *Kernel) Kill() {
	k.assertThread("Kill")
	if k.runIdx == idleSlot {
		panic("kernel: idle thread killed")
	}
	sr := k.m.DisableInterrupts()
	t := &k.tcbs[k.runIdx]
	if k.lastIns == k.runIdx {
		k.lastIns = t.prev
	}
	t.state = stateFree
	t.blockedOn = nil
	k.tcbs[t.prev].next = t.next
	k.tcbs[t.next].prev = t.prev
	k.threadCnt--
	k.m.RestoreInterrupts(sr)
	k.Suspend()
	panic("kernel: killed thread resumed")
}

// ID returns the identifier of the running thread. Identifiers are
// assigned in creation order and never reused.
func (k *Kernel) ID() int64 {
	return k.tcbs[k.runIdx].id
}

// ThreadCount returns the number of live (non-free) user threads plus
// the idle thread once launched.
func (k *Kernel) ThreadCount() int32 {
	return k.threadCnt
}

// IdleCount returns the number of times the idle thread has run its
// loop, a rough measure of slack. Host-safe.
func (k *Kernel) IdleCount() uint64 {
	return k.idleCount.Load()
}

// Launch installs the service exception and the kernel tick, arms
// time-slice preemption at the given period in cycles, starts the first
// thread, and runs the board until it halts. At least one thread must
// have been added. On return all thread goroutines have exited.
func (k *Kernel) Launch(timeSliceCycles uint64) {
	if k.runIdx < 0 {
		panic("kernel: Launch with no threads")
	}
	if k.launched {
		panic("kernel: Launch called twice")
	}
	k.launched = true

	// The idle thread is mandatory: it keeps the scheduler total and
	// soaks up time nothing else wants.
	idle := &k.tcbs[idleSlot]
	last := &k.tcbs[k.lastIns]
	idle.next = last.next
	idle.prev = k.lastIns
	k.tcbs[last.next].prev = idleSlot
	last.next = idleSlot
	k.lastIns = idleSlot
	k.initTCB(idleSlot, k.idle, idlePriority)
	k.threadCnt++

	k.m.SetServiceHandler(k.pendService)
	k.m.ConfigureTimer(hw.TimerOS, hw.CyclesPerMs, 0, k.tick)
	k.m.StartTimer(hw.TimerOS)
	k.m.ConfigureTimer(hw.TimerSysTick, timeSliceCycles, hw.Priority(7), k.sliceExpired)
	k.m.StartTimer(hw.TimerSysTick)

	log.Infof("kernel: launching, slice=%d cycles, threads=%d", timeSliceCycles, k.threadCnt)

	first := k.runIdx
	if !k.tcbs[first].ctx.Restore() {
		panic("kernel: first thread already started")
	}
	k.startThread(first)
	k.tcbs[first].ctx.Wake()

	<-k.m.Done()
	k.reap()
	log.Infof("kernel: halted at %d cycles, %d ms", k.m.Cycles(), k.ticks)
}

// sliceExpired is the slice timer's handler: request a switch.
func (k *Kernel) sliceExpired() {
	k.m.PendService()
}

// idle is the body of the idle thread. It never blocks and is never
// killed; on halt it unwinds with the rest.
func (k *Kernel) idle() {
	for {
		k.idleCount.Add(1)
		k.m.WaitForInterrupt()
	}
}

// startThread spawns the goroutine backing a thread whose context has
// just been restored for the first time.
func (k *Kernel) startThread(slot int32) {
	t := &k.tcbs[slot]
	if pc := t.ctx.PC(); pc != entryPC(slot) {
		panic(fmt.Sprintf("kernel: thread %d starting at pc %#x, want %#x", slot, pc, entryPC(slot)))
	}
	entry := t.entry
	k.live.Add(1)
	go k.trampoline(slot, entry)
}

// trampoline runs a thread's entry function once the CPU is handed to
// it. A thread that returns from its entry function is killed as if it
// had called Kill itself.
func (k *Kernel) trampoline(slot int32, entry func()) {
	defer func() {
		r := recover()
		k.live.Add(-1)
		select {
		case k.reaped <- struct{}{}:
		default:
		}
		switch r {
		case nil, errKilled, hw.ErrHalted:
		default:
			panic(r)
		}
	}()
	if !k.tcbs[slot].ctx.Park() {
		panic(hw.ErrHalted)
	}
	entry()
	k.Kill()
}

// reap aborts every parked thread until all thread goroutines exit.
// Runs on the host after the board halts.
func (k *Kernel) reap() {
	for k.live.Load() > 0 {
		for i := range k.tcbs {
			k.tcbs[i].ctx.Abort()
		}
		select {
		case <-k.reaped:
		case <-time.After(time.Millisecond):
		}
	}
}

// assertThread panics when a thread-only primitive is entered from
// interrupt context. Interrupt handlers get the ISR surface, which
// exposes only the operations that cannot block.
func (k *Kernel) assertThread(op string) {
	if k.m.InHandler() {
		panic(fmt.Sprintf("kernel: %s called from interrupt context", op))
	}
}
