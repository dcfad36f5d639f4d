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

func TestTimeDifferenceForward(t *testing.T) {
	assert.Equal(t, uint64(150), TimeDifference(100, 250))
	assert.Equal(t, uint64(0), TimeDifference(100, 100))
}

func TestTimeDifferenceWraparound(t *testing.T) {
	start := ^uint64(0) - 5
	assert.Equal(t, uint64(9), TimeDifference(start, 3))
}

// TestSleepPrecision loops sleep(100) a hundred times; the elapsed
// wall clock lands within one tick of ten seconds.
func TestSleepPrecision(t *testing.T) {
	var elapsed uint64
	runBoard(t, defaultSlice, func(m *hw.Machine, k *Kernel) {
		k.AddThread(func() {
			start := k.Time()
			for i := 0; i < 100; i++ {
				k.Sleep(100)
			}
			elapsed = TimeDifference(start, k.Time())
			m.Halt()
		}, 1024, 1)
	})
	assert.GreaterOrEqual(t, elapsed, uint64(10000*hw.CyclesPerMs))
	assert.LessOrEqual(t, elapsed, uint64(10001*hw.CyclesPerMs))
}

// TestSleepNeverWakesEarly pins down the tick semantics: a sleep
// registered mid-tick is decremented at each following tick, so it
// wakes after at least N-1 and at most N milliseconds.
func TestSleepNeverWakesEarly(t *testing.T) {
	var elapsed uint64
	runBoard(t, defaultSlice, func(m *hw.Machine, k *Kernel) {
		k.AddThread(func() {
			k.Machine().Work(hw.CyclesPerMs / 2) // land mid-tick
			start := k.Time()
			k.Sleep(10)
			elapsed = TimeDifference(start, k.Time())
			m.Halt()
		}, 1024, 1)
	})
	assert.GreaterOrEqual(t, elapsed, uint64(9*hw.CyclesPerMs))
	assert.LessOrEqual(t, elapsed, uint64(10*hw.CyclesPerMs))
}

func TestTimeMonotoneAcrossTicks(t *testing.T) {
	ok := true
	runBoard(t, defaultSlice, func(m *hw.Machine, k *Kernel) {
		k.AddThread(func() {
			prev := k.Time()
			for i := 0; i < 5000; i++ {
				k.Machine().Work(100)
				now := k.Time()
				if now <= prev {
					ok = false
					break
				}
				prev = now
			}
			m.Halt()
		}, 1024, 1)
	})
	assert.True(t, ok, "clock must advance strictly across tick reloads")
}

func TestTimeTracksSubTickCycles(t *testing.T) {
	var t0, t1 uint64
	runBoard(t, defaultSlice, func(m *hw.Machine, k *Kernel) {
		k.AddThread(func() {
			t0 = k.Time()
			k.Machine().Work(320) // 4us
			t1 = k.Time()
			m.Halt()
		}, 1024, 1)
	})
	assert.Equal(t, uint64(320), t1-t0)
}

func TestMsTimeAndClear(t *testing.T) {
	var at5, cleared, after3 uint32
	runBoard(t, defaultSlice, func(m *hw.Machine, k *Kernel) {
		k.AddThread(func() {
			k.Sleep(5)
			at5 = k.MsTime()
			k.ClearMsTime()
			cleared = k.MsTime()
			k.Sleep(3)
			after3 = k.MsTime()
			m.Halt()
		}, 1024, 1)
	})
	assert.Equal(t, uint32(5), at5)
	assert.Equal(t, uint32(0), cleared)
	assert.Equal(t, uint32(3), after3)
}

// TestWakePreemptsLowerPriority: a sleeping high-priority thread takes
// the CPU at the very tick that wakes it, not at the next slice.
func TestWakePreemptsLowerPriority(t *testing.T) {
	var wakeTime uint64
	runBoard(t, 10*hw.CyclesPerMs, func(m *hw.Machine, k *Kernel) {
		k.AddThread(func() {
			k.Sleep(3)
			wakeTime = k.Time()
			m.Halt()
		}, 1024, 1)
		k.AddThread(func() {
			for {
				k.Machine().Work(hw.CyclesPerUs)
			}
		}, 1024, 5)
	})
	// Sleeper wakes at tick 3 despite the 10ms slice protecting the
	// spinner.
	require.NotZero(t, wakeTime)
	assert.LessOrEqual(t, wakeTime, uint64(3*hw.CyclesPerMs+hw.CyclesPerUs))
}
