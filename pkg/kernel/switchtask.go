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

// debounceMs is how long a switch must settle before its line rearms.
const debounceMs = 10

// debouncePriority is the priority of the short-lived debounce thread.
// High, so it is scheduled promptly and the line is not dead for long.
const debouncePriority = 1

// switchSlot is one edge-triggered switch task. lastLevel is the level
// observed after the last debounce; under negative logic true (high)
// means released, so an edge arriving while lastLevel is true is a
// press.
type switchSlot struct {
	used      bool
	task      func()
	lastLevel bool
}

// AddSwitchTask arms the next free input line and runs task on each
// valid press. Lines are edge-sensitive on both edges so both press
// and release are debounced. It returns false, altering nothing, when
// every line already has a task. The task runs in interrupt context
// under the same restrictions as a periodic task.
func (k *Kernel) AddSwitchTask(task func(), priority uint8) bool {
	if task == nil {
		return false
	}
	sr := k.m.DisableInterrupts()
	defer k.m.RestoreInterrupts(sr)

	line := hw.LineID(-1)
	for i := range k.switches {
		if !k.switches[i].used {
			line = hw.LineID(i)
			break
		}
	}
	if line < 0 {
		return false
	}
	s := &k.switches[line]
	s.used = true
	s.task = task
	k.m.ConfigureLine(line, hw.Priority(priority), func() {
		k.switchFired(line)
	})
	s.lastLevel = k.m.ReadLine(line)
	return true
}

// switchFired handles an edge on a switch line: mask the line against
// bounce, run the user task if the previous debounced level says this
// edge starts a press, and hand the rest to a debounce thread. If no
// thread slot is free the line rearms immediately and this press
// bounces as it may.
func (k *Kernel) switchFired(line hw.LineID) {
	s := &k.switches[line]
	k.m.MaskLine(line)
	if s.lastLevel {
		s.task()
	}
	ok := k.AddThread(func() {
		k.debounce(line)
	}, 128, debouncePriority)
	if !ok {
		k.m.ClearLine(line)
		k.m.UnmaskLine(line)
	}
}

// debounce is the body of the short-lived thread spawned per edge: let
// the contacts settle, record the settled level, drop the edges the
// settling produced, rearm, die.
func (k *Kernel) debounce(line hw.LineID) {
	k.Sleep(debounceMs)
	s := &k.switches[line]
	s.lastLevel = k.m.ReadLine(line)
	k.m.ClearLine(line)
	k.m.UnmaskLine(line)
	k.Kill()
}
