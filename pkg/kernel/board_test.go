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
	"time"

	"github.com/talismancer/rtkernel/pkg/hw"
)

// defaultSlice is the time slice used by board tests: 1ms.
const defaultSlice = hw.CyclesPerMs

// runBoard powers on a board, installs threads via setup, launches, and
// returns the kernel once the board halts. setup must arrange a halt
// (its own thread calling m.Halt, or addHalter); a wall-clock watchdog
// pulls the plug if it never comes.
func runBoard(t *testing.T, slice uint64, setup func(m *hw.Machine, k *Kernel)) *Kernel {
	t.Helper()
	m := hw.New()
	k := New(m)
	setup(m, k)
	wd := time.AfterFunc(60*time.Second, m.Halt)
	defer wd.Stop()
	k.Launch(slice)
	return k
}

// addHalter installs a priority-0 thread that powers the board off
// after ms virtual milliseconds. Counters read after runBoard returns
// hold their values from that instant.
func addHalter(k *Kernel, ms uint32) {
	m := k.m
	k.AddThread(func() {
		k.Sleep(ms)
		m.Halt()
	}, 512, 0)
}
