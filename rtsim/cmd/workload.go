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

package cmd

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/talismancer/rtkernel/pkg/hw"
	"github.com/talismancer/rtkernel/pkg/kernel"
	"github.com/talismancer/rtkernel/rtsim/config"
)

// Workload is a program for the board: threads and background tasks
// installed before launch, an optional early-finish condition, an
// optional host-side stimulus, and a final report.
type Workload struct {
	Name string

	// Setup installs threads and background tasks. The first thread it
	// adds is the initial running thread.
	Setup func(k *kernel.Kernel, conf *config.Config)

	// Quiesced, if non-nil, reports that the workload finished before
	// the configured run duration.
	Quiesced func() bool

	// Stimulate, if non-nil, runs host-side while the board runs,
	// e.g. to press buttons.
	Stimulate func(ctx context.Context, m *hw.Machine)

	// Report renders the workload's counters after the board halts.
	Report func(k *kernel.Kernel) string
}

// newWorkload builds the named workload.
func newWorkload(name string) (*Workload, error) {
	switch name {
	case "roundrobin":
		return roundRobinWorkload(), nil
	case "preempt":
		return preemptWorkload(), nil
	case "producer":
		return producerWorkload(), nil
	case "buttons":
		return buttonsWorkload(), nil
	}
	return nil, fmt.Errorf("unknown workload %q", name)
}

// roundRobinWorkload runs three equal-priority counting threads; with
// fair slicing their counters stay within a whisker of each other.
func roundRobinWorkload() *Workload {
	var counts [3]atomic.Uint64
	return &Workload{
		Name: "roundrobin",
		Setup: func(k *kernel.Kernel, conf *config.Config) {
			for i := range counts {
				c := &counts[i]
				k.AddThread(func() {
					for {
						c.Add(1)
						k.Machine().Work(hw.CyclesPerUs)
					}
				}, 1024, 3)
			}
		},
		Report: func(k *kernel.Kernel) string {
			return fmt.Sprintf("counts: %d %d %d, idle loops: %d",
				counts[0].Load(), counts[1].Load(), counts[2].Load(), k.IdleCount())
		},
	}
}

// preemptWorkload pits a busy low-priority thread against a
// high-priority burst that arrives later, sleeps, then runs to
// completion and exits.
func preemptWorkload() *Workload {
	var low, high atomic.Uint64
	var finished atomic.Bool
	return &Workload{
		Name: "preempt",
		Setup: func(k *kernel.Kernel, conf *config.Config) {
			k.AddThread(func() {
				for {
					low.Add(1)
					k.Machine().Work(hw.CyclesPerUs)
				}
			}, 1024, 5)
			k.AddThread(func() {
				k.Sleep(10)
				k.AddThread(func() {
					k.Sleep(5)
					for i := 0; i < 1000; i++ {
						high.Add(1)
						k.Machine().Work(hw.CyclesPerUs / 10)
					}
					finished.Store(true)
					k.Kill()
				}, 1024, 1)
				k.Kill()
			}, 1024, 4)
		},
		Quiesced: finished.Load,
		Report: func(k *kernel.Kernel) string {
			return fmt.Sprintf("low: %d, high: %d, finished: %t",
				low.Load(), high.Load(), finished.Load())
		},
	}
}

// producerWorkload is the classic pipeline: a 1kHz periodic task
// produces samples into the stream, a consumer drains them into the
// mailbox, a display thread receives and occasionally prints.
func producerWorkload() *Workload {
	var produced, dropped, consumed, displayed atomic.Uint64
	return &Workload{
		Name: "producer",
		Setup: func(k *kernel.Kernel, conf *config.Config) {
			k.FifoInit(32)
			k.MailboxInit()

			k.AddThread(func() {
				for {
					v := k.FifoGet()
					consumed.Add(1)
					k.MailboxSend(v)
				}
			}, 1024, 2)
			k.AddThread(func() {
				console := k.Machine().Console()
				for {
					v := k.MailboxRecv()
					displayed.Add(1)
					if v%100 == 0 {
						console.Printf("sample %d at %dms\n", v, k.MsTime())
					}
				}
			}, 1024, 3)

			isr := k.ISR()
			var sample uint32
			k.AddPeriodicTask(func() {
				sample++
				if isr.FifoPut(sample) {
					produced.Add(1)
				} else {
					dropped.Add(1)
				}
			}, hw.CyclesPerMs, 1)
		},
		Report: func(k *kernel.Kernel) string {
			return fmt.Sprintf("produced: %d, dropped: %d, consumed: %d, displayed: %d",
				produced.Load(), dropped.Load(), consumed.Load(), displayed.Load())
		},
	}
}

// buttonsWorkload counts debounced presses on both switches while a
// heartbeat thread keeps the console alive. The host presses SW1
// periodically; run it with -realtime to press at human speed.
func buttonsWorkload() *Workload {
	var sw1, sw2 atomic.Uint64
	return &Workload{
		Name: "buttons",
		Setup: func(k *kernel.Kernel, conf *config.Config) {
			k.AddThread(func() {
				console := k.Machine().Console()
				for {
					k.Sleep(500)
					console.Printf("up %dms, sw1=%d sw2=%d\n", k.MsTime(), sw1.Load(), sw2.Load())
				}
			}, 1024, 3)
			k.AddSwitchTask(func() { sw1.Add(1) }, 2)
			k.AddSwitchTask(func() { sw2.Add(1) }, 2)
		},
		Stimulate: func(ctx context.Context, m *hw.Machine) {
			t := time.NewTicker(100 * time.Millisecond)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-m.Done():
					return
				case <-t.C:
				}
				m.SetLine(hw.LineSW1, false)
				time.Sleep(30 * time.Millisecond)
				m.SetLine(hw.LineSW1, true)
			}
		},
		Report: func(k *kernel.Kernel) string {
			return fmt.Sprintf("sw1 presses: %d, sw2 presses: %d", sw1.Load(), sw2.Load())
		},
	}
}

// Names returns the known workload names for usage text.
func Names() string {
	return strings.Join([]string{"roundrobin", "preempt", "producer", "buttons"}, ", ")
}
