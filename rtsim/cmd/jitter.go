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
	"flag"
	"fmt"
	"time"

	"github.com/google/subcommands"
	"github.com/talismancer/rtkernel/pkg/hw"
	"github.com/talismancer/rtkernel/pkg/kernel"
	"github.com/talismancer/rtkernel/rtsim/config"
)

// Jitter implements subcommands.Command for the "jitter" command: it
// runs a do-nothing periodic task against an otherwise idle board and
// prints the timing record.
type Jitter struct {
	periodUs uint64
}

// Name implements subcommands.Command.Name.
func (*Jitter) Name() string {
	return "jitter"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Jitter) Synopsis() string {
	return "measure periodic task jitter on an idle board"
}

// Usage implements subcommands.Command.Usage.
func (*Jitter) Usage() string {
	return `jitter [flags] - run an empty periodic task and report its jitter histogram
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (j *Jitter) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&j.periodUs, "period-us", 1000, "periodic task period in microseconds")
}

// Execute implements subcommands.Command.Execute.
func (j *Jitter) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	if j.periodUs == 0 {
		Fatalf("period must be positive")
	}

	m := hw.New()
	k := kernel.New(m)

	// One foreground thread that stays out of the way; the idle thread
	// soaks up the rest.
	k.AddThread(func() {
		for {
			k.Sleep(1000)
		}
	}, 1024, 7)
	if !k.AddPeriodicTask(func() {}, j.periodUs*hw.CyclesPerUs, 1) {
		Fatalf("no periodic slot free")
	}

	go func() {
		target := conf.RunMs * hw.CyclesPerMs
		for m.Cycles() < target {
			time.Sleep(time.Millisecond)
		}
		m.Halt()
	}()
	k.Launch(conf.TimeSliceCycles())

	fmt.Printf("invocations: %d\n", k.PeriodicCount(0))
	fmt.Printf("max jitter: %d (0.1us units)\n", k.MaxJitter(0))
	hist := k.JitterHistogram(0)
	for i, n := range hist {
		if n != 0 {
			fmt.Printf("  bucket %2d: %d\n", i, n)
		}
	}
	return subcommands.ExitSuccess
}
