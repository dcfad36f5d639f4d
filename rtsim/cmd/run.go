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
	"os"
	"os/signal"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/subcommands"
	"github.com/talismancer/rtkernel/pkg/hw"
	"github.com/talismancer/rtkernel/pkg/kernel"
	"github.com/talismancer/rtkernel/pkg/log"
	"github.com/talismancer/rtkernel/rtsim/config"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

// Run implements subcommands.Command for the "run" command.
type Run struct{}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "boot the kernel on the simulated board and run a workload"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] - boot the board and run the configured workload (` + Names() + `)
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Run) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)

	w, err := newWorkload(conf.Workload)
	if err != nil {
		Fatalf("%v", err)
	}

	m := hw.New()
	m.SetRealtime(conf.Realtime)
	k := kernel.New(m)
	w.Setup(k, conf)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, unix.SIGTERM)
	defer signal.Stop(sig)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		k.Launch(conf.TimeSliceCycles())
		return nil
	})
	g.Go(func() error {
		return pumpConsole(gctx, m, conf.BaudRate)
	})
	if w.Stimulate != nil {
		g.Go(func() error {
			w.Stimulate(gctx, m)
			return nil
		})
	}
	g.Go(func() error {
		defer m.Halt()
		return waitQuiesce(gctx, m, w, conf.RunMs*hw.CyclesPerMs, sig)
	})

	if err := g.Wait(); err != nil {
		Fatalf("%v", err)
	}
	if b := m.Console().Drain(1 << 20); len(b) > 0 {
		os.Stdout.Write(b)
	}
	fmt.Println(w.Report(k))
	return subcommands.ExitSuccess
}

// waitQuiesce polls until the workload reports done, the board reaches
// its virtual run target, a signal arrives, or the context ends.
func waitQuiesce(ctx context.Context, m *hw.Machine, w *Workload, targetCycles uint64, sig <-chan os.Signal) error {
	op := func() error {
		select {
		case <-ctx.Done():
			return nil
		case s := <-sig:
			log.Warningf("caught signal %v, halting board", s)
			return nil
		default:
		}
		if w.Quiesced != nil && w.Quiesced() {
			log.Debugf("workload quiesced at %d cycles", m.Cycles())
			return nil
		}
		if m.Cycles() >= targetCycles {
			return nil
		}
		return fmt.Errorf("board still running")
	}
	return backoff.Retry(op, backoff.WithContext(backoff.NewConstantBackOff(10*time.Millisecond), ctx))
}

// pumpConsole drains the board's console to stdout at the configured
// baud rate (8N1: ten bit times per byte).
func pumpConsole(ctx context.Context, m *hw.Machine, baud int) error {
	bytesPerSec := baud / 10
	lim := rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec)
	for {
		b := m.Console().Drain(256)
		if len(b) > 0 {
			if err := lim.WaitN(ctx, len(b)); err != nil {
				return nil
			}
			os.Stdout.Write(b)
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-m.Done():
			if rest := m.Console().Drain(1 << 20); len(rest) > 0 {
				os.Stdout.Write(rest)
			}
			return nil
		case <-time.After(5 * time.Millisecond):
		}
	}
}
