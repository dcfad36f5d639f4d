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

package arch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitFrameLayout(t *testing.T) {
	var c Context
	c.Init(0x00080040)

	assert.Equal(t, StackWords-frameWords, c.SP())
	assert.Equal(t, uint32(initPSR), c.stack[StackWords-1], "PSR with Thumb bit")
	assert.Equal(t, uint32(0x00080040), c.stack[StackWords-2], "PC")
	assert.Equal(t, uint32(0x14141414), c.stack[StackWords-3], "LR pattern")
	assert.Equal(t, uint32(0x04040404), c.stack[StackWords-16], "r4 pattern")
}

func TestFirstRestoreStartsThread(t *testing.T) {
	var c Context
	c.Init(0x00080000)

	require.True(t, c.Restore(), "first restore must report first run")
	assert.Equal(t, uint32(0x00080000), c.PC())
	assert.Equal(t, StackWords, c.SP(), "initial frame fully popped")
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	var c Context
	c.Init(0x00080000)
	c.Restore()

	c.regs.R[4] = 0xdeadbeef
	c.regs.R[11] = 0x12345678
	c.regs.PC = 0xcafe0000
	c.regs.PSR = initPSR | 0x3

	c.Save()
	require.Equal(t, StackWords-frameWords, c.SP())

	// Clobber the bank, then restore and check it came back from the
	// stack.
	c.regs = Registers{}
	require.False(t, c.Restore(), "second restore is not a first run")
	assert.Equal(t, uint32(0xdeadbeef), c.regs.R[4])
	assert.Equal(t, uint32(0x12345678), c.regs.R[11])
	assert.Equal(t, uint32(0xcafe0000), c.regs.PC)
	assert.Equal(t, uint32(initPSR|0x3), c.regs.PSR)
	assert.Equal(t, StackWords, c.SP())
}

func TestNestedSavesConsumeStack(t *testing.T) {
	var c Context
	c.Init(0x00080000)
	c.Restore()

	c.Save()
	c.Save()
	assert.Equal(t, StackWords-2*frameWords, c.SP())
	c.Restore()
	c.Restore()
	assert.Equal(t, StackWords, c.SP())
}

func TestStackOverflowPanics(t *testing.T) {
	var c Context
	c.Init(0x00080000)
	c.Restore()

	require.Panics(t, func() {
		for i := 0; i < StackWords; i++ {
			c.Save()
		}
	})
}

func TestRestoreWithoutThumbBitPanics(t *testing.T) {
	var c Context
	c.Init(0x00080000)
	c.Restore()
	c.regs.PSR = 0 // corrupt
	c.Save()
	require.Panics(t, func() {
		c.Restore()
	})
}

func TestGateHandoff(t *testing.T) {
	var c Context
	c.Init(0x00080000)

	done := make(chan bool, 1)
	go func() {
		done <- c.Park()
	}()
	c.Wake()
	require.True(t, <-done, "wake resumes")

	go func() {
		done <- c.Park()
	}()
	c.Abort()
	require.False(t, <-done, "abort unwinds")
}

func TestAbortWithoutParkerDoesNotBlock(t *testing.T) {
	var c Context
	c.Init(0x00080000)
	c.Abort()
	c.Abort() // second abort is dropped, not queued behind the first
	require.False(t, c.Park())
}
