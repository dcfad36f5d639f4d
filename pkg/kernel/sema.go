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

package kernel

// waiterCap bounds a semaphore's waiter queue. Every thread on the
// board can block on the same semaphore at once; one spare slot keeps
// head==tail meaning empty.
const waiterCap = numSlots + 1

// Semaphore is a counting semaphore with a bounded FIFO queue of
// waiting threads. A negative value's magnitude is the number of
// waiters. The zero value is unusable; initialize with InitSemaphore.
//
// The binary operations BWait and BSignal confine the value to {0, 1}
// and share the same queue; a semaphore should be used either as a
// counting or as a binary semaphore, not both.
type Semaphore struct {
	value   int32
	waiters [waiterCap]int32
	head    int32
	tail    int32
}

// Value returns the semaphore's counter. Diagnostic; racy by nature
// when the board is running.
func (s *Semaphore) Value() int32 {
	return s.value
}

// InitSemaphore sets the semaphore's value and empties its queue.
func (k *Kernel) InitSemaphore(s *Semaphore, n int32) {
	sr := k.m.DisableInterrupts()
	s.value = n
	s.head = 0
	s.tail = 0
	k.m.RestoreInterrupts(sr)
}

// block queues the running thread on s and marks it blocked. Called
// with interrupts disabled; the caller suspends after re-enabling.
func (k *Kernel) block(s *Semaphore) {
	t := &k.tcbs[k.runIdx]
	t.state = stateBlocked
	t.blockedOn = s
	s.waiters[s.tail] = k.runIdx
	s.tail = (s.tail + 1) % waiterCap
}

// release wakes the thread at the head of s's queue. Called with
// interrupts disabled; the queue must be nonempty.
func (k *Kernel) release(s *Semaphore) {
	if s.head == s.tail {
		panic("kernel: semaphore released with no waiters")
	}
	idx := s.waiters[s.head]
	s.head = (s.head + 1) % waiterCap
	t := &k.tcbs[idx]
	t.state = stateActive
	t.blockedOn = nil
}

// Wait decrements the semaphore, blocking while the result is
// negative. Wakeups are FIFO: the thread released by the n-th Signal
// after this thread blocked is the n-th thread that blocked. Not
// callable from interrupt context; there is no timeout and no
// cancellation.
func (k *Kernel) Wait(s *Semaphore) {
	k.assertThread("Wait")
	sr := k.m.DisableInterrupts()
	s.value--
	if s.value < 0 {
		k.block(s)
		k.m.RestoreInterrupts(sr)
		k.Suspend()
		return
	}
	k.m.RestoreInterrupts(sr)
}

// Signal increments the semaphore, waking the longest-blocked waiter
// if any thread is blocked. It never blocks and is callable from
// interrupt context.
func (k *Kernel) Signal(s *Semaphore) {
	sr := k.m.DisableInterrupts()
	s.value++
	if s.value <= 0 {
		k.release(s)
	}
	k.m.RestoreInterrupts(sr)
}

// BWait blocks while the binary semaphore is 0, then takes it, leaving
// it 0. Wakeup order is FIFO, but a freshly woken thread races any
// already-active thread for the token and re-queues if it loses.
func (k *Kernel) BWait(s *Semaphore) {
	k.assertThread("BWait")
	sr := k.m.DisableInterrupts()
	for s.value == 0 {
		k.block(s)
		k.m.RestoreInterrupts(sr)
		k.Suspend()
		sr = k.m.DisableInterrupts()
	}
	s.value = 0
	k.m.RestoreInterrupts(sr)
}

// BSignal sets the binary semaphore to 1 and wakes at most one waiter.
// It never blocks and is callable from interrupt context.
func (k *Kernel) BSignal(s *Semaphore) {
	sr := k.m.DisableInterrupts()
	if s.value == 0 && s.head != s.tail {
		k.release(s)
	}
	s.value = 1
	k.m.RestoreInterrupts(sr)
}
