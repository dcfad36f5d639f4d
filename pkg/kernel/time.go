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

// tick is the kernel tick handler, run every millisecond at the highest
// hardware priority the kernel uses. It advances the clock and walks
// the TCB pool decrementing sleep counters, waking threads that reach
// zero. It is wait-free and never switches itself. When a woken thread
// has strictly higher priority than the running one, it pends the
// service exception so the switch happens as the handlers unwind; any
// other woken thread runs when the next slice expires or the current
// thread suspends.
func (k *Kernel) tick() {
	k.ticks++
	cur := &k.tcbs[k.runIdx]
	for i := range k.tcbs {
		t := &k.tcbs[i]
		if t.state == stateSleeping {
			t.sleepLeft--
			if t.sleepLeft == 0 {
				t.state = stateActive
				if t.priority < cur.priority {
					// A strictly higher-priority thread woke: switch as
					// soon as the handler stack unwinds rather than
					// letting it wait out the current slice.
					k.m.PendService()
				}
			}
		}
	}
}

// Time returns the system time in bus cycles (12.5ns units): full
// milliseconds from the tick counter plus the cycles the tick timer has
// counted into the current millisecond.
func (k *Kernel) Time() uint64 {
	period := k.m.TimerPeriod(hw.TimerOS)
	if period == 0 {
		// Not launched; the tick timer is not configured yet.
		return 0
	}
	return k.ticks*period + (period - 1 - k.m.TimerCurrent(hw.TimerOS))
}

// TimeDifference returns stop-start in cycles, corrected for
// wraparound of the time base.
func TimeDifference(start, stop uint64) uint64 {
	if stop >= start {
		return stop - start
	}
	return ^uint64(0) - (start - stop) + 1
}

// MsTime returns the system time in milliseconds.
func (k *Kernel) MsTime() uint32 {
	return uint32(k.ticks)
}

// ClearMsTime rewinds the system time to zero, including the tick
// timer's countdown into the current millisecond.
func (k *Kernel) ClearMsTime() {
	sr := k.m.DisableInterrupts()
	k.ticks = 0
	k.m.ReloadTimer(hw.TimerOS)
	k.m.RestoreInterrupts(sr)
}
