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

// newRing builds an unlaunched kernel with one thread per priority
// given, in slot order.
func newRing(t *testing.T, prios ...uint8) *Kernel {
	t.Helper()
	k := New(hw.New())
	for _, p := range prios {
		require.True(t, k.AddThread(func() {}, 512, p))
	}
	return k
}

func TestScheduleRotatesAmongEqualPriorities(t *testing.T) {
	k := newRing(t, 3, 3, 3)
	// Starting one past RunPt hands each equal thread one turn per
	// ring pass.
	want := []int32{1, 2, 0, 1, 2, 0}
	for _, w := range want {
		next := k.schedule()
		assert.Equal(t, w, next)
		k.runIdx = next
	}
}

func TestSchedulePrefersHighestPriority(t *testing.T) {
	k := newRing(t, 3, 3, 1)
	assert.Equal(t, int32(2), k.schedule())
	k.runIdx = 2
	// Still the best; it keeps the CPU.
	assert.Equal(t, int32(2), k.schedule())
}

func TestScheduleSkipsSleepingAndBlocked(t *testing.T) {
	k := newRing(t, 3, 3, 3)
	k.tcbs[1].state = stateSleeping
	k.tcbs[1].sleepLeft = 5
	assert.Equal(t, int32(2), k.schedule())
	k.runIdx = 2
	k.tcbs[0].state = stateBlocked
	k.tcbs[0].blockedOn = &Semaphore{}
	assert.Equal(t, int32(2), k.schedule(), "only the current thread remains active")
}

func TestScheduleAfterKillScansFromStaleLinks(t *testing.T) {
	k := newRing(t, 3, 3, 3)
	// Replicate Kill's unlink of the running thread: neighbors relink,
	// the dead TCB keeps its stale links for this one last scan.
	k.runIdx = 1
	dead := &k.tcbs[1]
	dead.state = stateFree
	k.tcbs[dead.prev].next = dead.next
	k.tcbs[dead.next].prev = dead.prev
	k.threadCnt--

	assert.Equal(t, int32(2), k.schedule())
	k.runIdx = 2
	assert.Equal(t, int32(0), k.schedule())
}

func TestScheduleLowestPriorityWinsOnlyAlone(t *testing.T) {
	k := newRing(t, 7, 2)
	assert.Equal(t, int32(1), k.schedule())
	k.tcbs[1].state = stateSleeping
	k.tcbs[1].sleepLeft = 1
	assert.Equal(t, int32(0), k.schedule())
}
