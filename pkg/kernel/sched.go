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

import "github.com/talismancer/rtkernel/pkg/hw"

// schedule picks the next thread to run: the first active TCB with the
// numerically lowest priority value, scanning the ring once starting
// one past RunPt. Starting past the current thread is what rotates the
// CPU among equal-priority threads, one slice each per ring pass.
//
// A killed RunPt has been unlinked but keeps its stale links, so the
// scan endpoint moves to its predecessor to cover the whole remaining
// ring. The idle thread is always active, so a winner always exists.
//
// Runs only inside the service exception.
func (k *Kernel) schedule() int32 {
	pt := k.runIdx
	end := k.runIdx
	if k.tcbs[end].state == stateFree {
		end = k.tcbs[end].prev
	}
	best := int32(-1)
	bestPri := idlePriority + 1
	for {
		pt = k.tcbs[pt].next
		if t := &k.tcbs[pt]; t.state == stateActive && int(t.priority) < bestPri {
			bestPri = int(t.priority)
			best = pt
		}
		if pt == end {
			break
		}
	}
	if best < 0 {
		panic("kernel: no runnable thread")
	}
	return best
}

// pendService is the service exception body: the context switch. The
// board delivers it at the lowest priority, after every due interrupt
// handler, so it never preempts an in-progress handler.
//
// Protocol: save the outgoing thread's frames onto its own stack,
// schedule, restore the incoming thread's frames, and transfer the CPU.
// A thread switched out stays parked on its gate until a later switch
// restores it; a killed thread unwinds here and its goroutine exits.
func (k *Kernel) pendService() {
	cur := k.runIdx
	t := &k.tcbs[cur]
	if t.state != stateFree {
		t.ctx.Save()
	}

	next := k.schedule()
	k.runIdx = next
	nt := &k.tcbs[next]

	if next == cur {
		// Exception return straight back into the same thread.
		nt.ctx.Restore()
		return
	}

	if nt.ctx.Restore() {
		k.startThread(next)
	}
	nt.ctx.Wake()

	if t.state == stateFree {
		panic(errKilled)
	}
	if !t.ctx.Park() {
		panic(hw.ErrHalted)
	}
}
