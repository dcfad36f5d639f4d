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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talismancer/rtkernel/pkg/hw"
)

// TestRoundRobinFairness runs three equal-priority counting threads
// under a 1ms slice for 300ms: each loop iteration models 1us of work,
// so fair slicing leaves the counters near-identical and the total
// near 300k.
func TestRoundRobinFairness(t *testing.T) {
	var counts [3]uint64
	runBoard(t, defaultSlice, func(m *hw.Machine, k *Kernel) {
		addHalter(k, 300)
		for i := range counts {
			c := &counts[i]
			k.AddThread(func() {
				for {
					*c++
					k.Machine().Work(hw.CyclesPerUs)
				}
			}, 1024, 3)
		}
	})

	min, max, sum := counts[0], counts[0], uint64(0)
	for _, c := range counts {
		if c < min {
			min = c
		}
		if c > max {
			max = c
		}
		sum += c
	}
	assert.LessOrEqual(t, max-min, uint64(2), "equal-priority threads advance in lockstep: %v", counts)
	assert.InDelta(t, 300000, float64(sum), 0.03*300000, "total tracks wall time")
}

// TestPriorityPreemption: a priority-5 spinner owns the board until a
// priority-1 thread arrives, sleeps 5ms, and then runs a 100us burst
// to completion. While the burst runs the spinner must not advance,
// and the burst finishes within 6ms of its creation.
func TestPriorityPreemption(t *testing.T) {
	var low uint64
	var lowBefore, lowAfter uint64
	var spawnTime, doneTime uint64
	var high uint64
	runBoard(t, defaultSlice, func(m *hw.Machine, k *Kernel) {
		k.AddThread(func() {
			for {
				low++
				k.Machine().Work(hw.CyclesPerUs)
			}
		}, 1024, 5)
		k.AddThread(func() {
			k.Sleep(10)
			spawnTime = k.Time()
			k.AddThread(func() {
				k.Sleep(5)
				lowBefore = low
				for i := 0; i < 1000; i++ {
					high++
					k.Machine().Work(hw.CyclesPerUs / 10)
				}
				lowAfter = low
				doneTime = k.Time()
				m.Halt()
			}, 1024, 1)
			k.Kill()
		}, 1024, 4)
	})

	assert.Equal(t, uint64(1000), high)
	assert.Equal(t, lowBefore, lowAfter, "low-priority counter frozen during the burst")
	require.NotZero(t, doneTime)
	assert.LessOrEqual(t, TimeDifference(spawnTime, doneTime), uint64(6*hw.CyclesPerMs),
		"burst completes within 6ms of spawn")
	assert.NotZero(t, low, "spinner ran before and after")
}

// TestIdleThreadSoaksSleep: when every user thread sleeps, the idle
// thread must be selected; the board keeps ticking rather than
// deadlocking.
func TestIdleThreadSoaksSleep(t *testing.T) {
	k := runBoard(t, defaultSlice, func(m *hw.Machine, k *Kernel) {
		k.AddThread(func() {
			k.Sleep(50)
			m.Halt()
		}, 1024, 1)
	})
	assert.NotZero(t, k.IdleCount(), "idle thread ran while the only user thread slept")
}

// TestHaltFromHost: the host can pull the plug while threads spin;
// Launch returns and every thread goroutine is reaped.
func TestHaltFromHost(t *testing.T) {
	m := hw.New()
	k := New(m)
	k.AddThread(func() {
		for {
			k.Machine().Work(hw.CyclesPerUs)
		}
	}, 1024, 3)
	k.AddThread(func() {
		for {
			k.Sleep(10)
		}
	}, 1024, 3)

	go func() {
		for m.Cycles() < 10*hw.CyclesPerMs {
		}
		m.Halt()
	}()
	k.Launch(defaultSlice)
	assert.True(t, m.Halted())
}

// TestLaunchRequiresAThread documents the precondition.
func TestLaunchRequiresAThread(t *testing.T) {
	k := New(hw.New())
	assert.Panics(t, func() {
		k.Launch(defaultSlice)
	})
}
