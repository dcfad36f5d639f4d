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

func TestFifoInitRoundsToPowerOfTwo(t *testing.T) {
	k := New(hw.New())
	for _, tc := range []struct {
		size uint32
		want int
	}{
		{0, 16},
		{3, 4},
		{8, 8},
		{10, 16},
		{2000, 1024},
	} {
		k.FifoInit(tc.size)
		assert.Equal(t, tc.want, len(k.fifo.buf), "size %d", tc.size)
	}
}

func TestFifoPutDropsWhenFull(t *testing.T) {
	k := New(hw.New())
	k.FifoInit(8)
	for i := uint32(0); i < 8; i++ {
		require.True(t, k.FifoPut(i))
	}
	assert.False(t, k.FifoPut(99), "ninth put drops")
	assert.Equal(t, int32(8), k.FifoSize())
	assert.False(t, k.FifoPut(100), "still full, still dropping")
	assert.Equal(t, int32(8), k.FifoSize())
}

func TestFifoOrderPreserved(t *testing.T) {
	var got []uint32
	runBoard(t, defaultSlice, func(m *hw.Machine, k *Kernel) {
		k.FifoInit(16)
		k.AddThread(func() {
			for i := uint32(1); i <= 10; i++ {
				k.FifoPut(i * 11)
			}
			for len(got) < 10 {
				got = append(got, k.FifoGet())
			}
			m.Halt()
		}, 1024, 1)
	})
	require.Len(t, got, 10)
	for i, v := range got {
		assert.Equal(t, uint32(i+1)*11, v)
	}
}

func TestFifoGetBlocksUntilData(t *testing.T) {
	var gotAt uint64
	var got uint32
	runBoard(t, defaultSlice, func(m *hw.Machine, k *Kernel) {
		k.FifoInit(8)
		k.AddThread(func() {
			got = k.FifoGet()
			gotAt = k.Time()
			m.Halt()
		}, 1024, 2)
		k.AddThread(func() {
			k.Sleep(5)
			k.FifoPut(42)
			for {
				k.Sleep(1000)
			}
		}, 1024, 3)
	})
	assert.Equal(t, uint32(42), got)
	assert.GreaterOrEqual(t, gotAt, uint64(4*hw.CyclesPerMs), "consumer blocked until the put")
}

// TestFifoInterruptProducer drives the stream from a periodic task at
// a rate the consumer matches; nothing is dropped and order holds.
func TestFifoInterruptProducer(t *testing.T) {
	var got []uint32
	var dropped int
	runBoard(t, defaultSlice, func(m *hw.Machine, k *Kernel) {
		k.FifoInit(32)
		k.AddThread(func() {
			isr := k.ISR()
			var next uint32
			k.AddPeriodicTask(func() {
				next++
				if !isr.FifoPut(next) {
					dropped++
				}
			}, hw.CyclesPerMs, 1)
			for len(got) < 50 {
				got = append(got, k.FifoGet())
			}
			m.Halt()
		}, 1024, 2)
	})
	require.Len(t, got, 50)
	assert.Zero(t, dropped)
	for i, v := range got {
		assert.Equal(t, uint32(i+1), v)
	}
}
