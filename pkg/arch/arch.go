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

// Package arch holds the architecture-specific half of the context
// switch: per-thread stacks, the ARMv7-M-style exception frame layout,
// and the gate used to move the single CPU between thread goroutines.
//
// On the simulated board a thread's code runs on its goroutine's Go
// stack, but its kernel-visible context is exactly what the real port
// keeps: a private full-descending stack of 32-bit words holding the
// 8-word hardware frame (r0-r3, r12, lr, pc, psr) pushed on exception
// entry and the 8-word callee-saved frame (r4-r11) pushed by the switch
// handler, plus the saved stack pointer. The kernel manipulates frames
// through Save and Restore and transfers control through the gate; the
// two must stay paired, which is the whole of this package's contract.
package arch

import "fmt"

// StackWords is the size of each thread stack in 32-bit words.
// Comfortably above the 400-byte floor threads are promised.
const StackWords = 512

// StackBytes is the stack capacity in bytes, the unit of the stack
// size hint callers pass at thread creation.
const StackBytes = StackWords * 4

// frameWords is the size of a full saved context: the 8-word hardware
// frame plus the 8-word callee-saved frame.
const frameWords = 16

// initPSR is the program status word seeded into a fresh stack. Bit 24
// is the Thumb bit; a restore that pops a frame without it would fault
// on real silicon, so here it panics.
const initPSR = 0x01000000

// Registers is the synthetic register bank a frame is saved from and
// restored into.
type Registers struct {
	R   [13]uint32 // r0-r12
	LR  uint32
	PC  uint32
	PSR uint32
}

// Context is a thread's private execution context.
type Context struct {
	stack [StackWords]uint32
	sp    int // index of the current stack top (full-descending)
	regs  Registers

	started bool
	gate    chan bool
}

// Init resets the context to a fresh stack whose synthetic exception
// frame resumes at pc with interrupts enabled, exactly the state the
// first Restore needs to start the thread.
func (c *Context) Init(pc uint32) {
	c.sp = StackWords - frameWords
	c.started = false
	c.gate = make(chan bool, 1)

	c.stack[StackWords-1] = initPSR // PSR, Thumb bit set
	c.stack[StackWords-2] = pc      // PC
	c.stack[StackWords-3] = 0x14141414
	c.stack[StackWords-4] = 0x12121212
	c.stack[StackWords-5] = 0x03030303
	c.stack[StackWords-6] = 0x02020202
	c.stack[StackWords-7] = 0x01010101
	c.stack[StackWords-8] = 0x00000000
	c.stack[StackWords-9] = 0x11111111
	c.stack[StackWords-10] = 0x10101010
	c.stack[StackWords-11] = 0x09090909
	c.stack[StackWords-12] = 0x08080808
	c.stack[StackWords-13] = 0x07070707
	c.stack[StackWords-14] = 0x06060606
	c.stack[StackWords-15] = 0x05050505
	c.stack[StackWords-16] = 0x04040404
}

// SP returns the saved stack pointer as a word index. Meaningful only
// between a Save and the matching Restore.
func (c *Context) SP() int {
	return c.sp
}

// StackFree returns the number of unused words below the stack top.
func (c *Context) StackFree() int {
	return c.sp
}

// Save pushes the hardware frame and then the callee-saved frame onto
// the context's stack from the register bank, recording the resulting
// stack pointer. It is the exception-entry half of a context switch.
func (c *Context) Save() {
	if c.sp < frameWords {
		panic(fmt.Sprintf("arch: stack overflow: sp=%d", c.sp))
	}
	// Hardware frame, pushed by the CPU on exception entry.
	c.stack[c.sp-1] = c.regs.PSR
	c.stack[c.sp-2] = c.regs.PC
	c.stack[c.sp-3] = c.regs.LR
	c.stack[c.sp-4] = c.regs.R[12]
	c.stack[c.sp-5] = c.regs.R[3]
	c.stack[c.sp-6] = c.regs.R[2]
	c.stack[c.sp-7] = c.regs.R[1]
	c.stack[c.sp-8] = c.regs.R[0]
	// Callee-saved frame, pushed by the switch handler.
	c.stack[c.sp-9] = c.regs.R[11]
	c.stack[c.sp-10] = c.regs.R[10]
	c.stack[c.sp-11] = c.regs.R[9]
	c.stack[c.sp-12] = c.regs.R[8]
	c.stack[c.sp-13] = c.regs.R[7]
	c.stack[c.sp-14] = c.regs.R[6]
	c.stack[c.sp-15] = c.regs.R[5]
	c.stack[c.sp-16] = c.regs.R[4]
	c.sp -= frameWords
}

// Restore pops the callee-saved frame and then the hardware frame from
// the context's stack into the register bank, the exception-return half
// of a context switch. It reports whether this context has never run,
// in which case the caller must start its goroutine rather than wake
// its gate.
func (c *Context) Restore() (firstRun bool) {
	if c.sp+frameWords > StackWords {
		panic(fmt.Sprintf("arch: stack underflow: sp=%d", c.sp))
	}
	c.regs.R[4] = c.stack[c.sp]
	c.regs.R[5] = c.stack[c.sp+1]
	c.regs.R[6] = c.stack[c.sp+2]
	c.regs.R[7] = c.stack[c.sp+3]
	c.regs.R[8] = c.stack[c.sp+4]
	c.regs.R[9] = c.stack[c.sp+5]
	c.regs.R[10] = c.stack[c.sp+6]
	c.regs.R[11] = c.stack[c.sp+7]
	c.regs.R[0] = c.stack[c.sp+8]
	c.regs.R[1] = c.stack[c.sp+9]
	c.regs.R[2] = c.stack[c.sp+10]
	c.regs.R[3] = c.stack[c.sp+11]
	c.regs.R[12] = c.stack[c.sp+12]
	c.regs.LR = c.stack[c.sp+13]
	c.regs.PC = c.stack[c.sp+14]
	c.regs.PSR = c.stack[c.sp+15]
	c.sp += frameWords

	if c.regs.PSR&initPSR == 0 {
		panic(fmt.Sprintf("arch: restored frame without Thumb bit: psr=%#x", c.regs.PSR))
	}
	firstRun = !c.started
	c.started = true
	return firstRun
}

// PC returns the program counter popped by the last Restore. For a
// first run this is the value Init seeded, which the kernel uses to
// find the thread's entry function.
func (c *Context) PC() uint32 {
	return c.regs.PC
}

// Wake hands the CPU to this context's parked goroutine. The buffer
// absorbs the send so the waker can reach its own park point; on a
// single core the target is always already parked or about to be.
func (c *Context) Wake() {
	c.gate <- true
}

// Park blocks this goroutine until another context wakes it. It reports
// false when the wake is an abort, in which case the caller must unwind
// the thread instead of continuing.
func (c *Context) Park() bool {
	return <-c.gate
}

// Abort wakes a parked goroutine with an abort indication, without
// blocking if nothing is parked.
func (c *Context) Abort() {
	select {
	case c.gate <- false:
	default:
	}
}
