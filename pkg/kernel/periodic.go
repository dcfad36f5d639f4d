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

// numPeriodic is the number of background periodic task slots, one per
// dedicated hardware timer.
const numPeriodic = 2

// JitterBuckets is the size of each periodic task's jitter histogram.
// Buckets are 0.1us wide; overshoot clamps into the last bucket.
const JitterBuckets = 64

// periodicSlot is one background periodic task and its timing record.
// All fields are written only by the owning timer's handler; threads
// may read them concurrently and must tolerate a torn 32-bit word.
type periodicSlot struct {
	used     bool
	task     func()
	period   uint64 // cycles
	count    uint32
	lastTime uint64
	maxJit   uint32
	hist     [JitterBuckets]uint32
}

// AddPeriodicTask installs task to run every period cycles at the given
// hardware interrupt priority, on its own dedicated timer. It returns
// false, altering nothing, when both slots are taken. The task runs in
// interrupt context: it must run to completion and may not block,
// sleep, spin, or kill; it may use the ISR surface.
func (k *Kernel) AddPeriodicTask(task func(), period uint64, priority uint8) bool {
	if task == nil || period == 0 {
		return false
	}
	sr := k.m.DisableInterrupts()
	defer k.m.RestoreInterrupts(sr)

	slot := -1
	for i := range k.periodic {
		if !k.periodic[i].used {
			slot = i
			break
		}
	}
	if slot < 0 {
		return false
	}
	p := &k.periodic[slot]
	*p = periodicSlot{
		used:   true,
		task:   task,
		period: period,
	}
	id := hw.TimerTask0 + hw.TimerID(slot)
	n := slot
	k.m.ConfigureTimer(id, period, hw.Priority(priority), func() {
		k.periodicFired(n)
	})
	k.m.StartTimer(id)
	return true
}

// periodicFired runs a periodic slot's user task and accounts jitter
// against the requested period. The first invocation has no previous
// observation and is not measured.
func (k *Kernel) periodicFired(slot int) {
	p := &k.periodic[slot]
	thisTime := k.Time()
	p.task()
	p.count++
	if p.count > 1 {
		diff := TimeDifference(p.lastTime, thisTime)
		var dev uint64
		if diff > p.period {
			dev = diff - p.period
		} else {
			dev = p.period - diff
		}
		jit := uint32((dev + 4) / 8) // 0.1us units
		if jit > p.maxJit {
			p.maxJit = jit
		}
		if jit >= JitterBuckets {
			jit = JitterBuckets - 1
		}
		p.hist[jit]++
	}
	p.lastTime = thisTime
}

// PeriodicCount returns the number of times the slot's task has run.
func (k *Kernel) PeriodicCount(slot int) uint32 {
	return k.periodic[slot].count
}

// ClearPeriodicCount zeroes the slot's invocation count. The next
// interval is treated as a first observation again.
func (k *Kernel) ClearPeriodicCount(slot int) {
	sr := k.m.DisableInterrupts()
	k.periodic[slot].count = 0
	k.m.RestoreInterrupts(sr)
}

// MaxJitter returns the worst observed deviation from the slot's
// requested period, in 0.1us units.
func (k *Kernel) MaxJitter(slot int) uint32 {
	return k.periodic[slot].maxJit
}

// JitterHistogram returns a copy of the slot's jitter histogram. Over
// K invocations the buckets sum to K-1.
func (k *Kernel) JitterHistogram(slot int) [JitterBuckets]uint32 {
	return k.periodic[slot].hist
}
