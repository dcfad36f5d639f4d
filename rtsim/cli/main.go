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

// Package cli is the main entrypoint for rtsim.
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/talismancer/rtkernel/pkg/log"
	"github.com/talismancer/rtkernel/rtsim/cmd"
	"github.com/talismancer/rtkernel/rtsim/config"
	"github.com/talismancer/rtkernel/rtsim/version"
)

// versionFlagName triggers printing the version, for parity with the
// subcommand.
const versionFlagName = "version"

// Main is the main entrypoint.
func Main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")

	subcommands.Register(new(cmd.Run), "")
	subcommands.Register(new(cmd.Jitter), "")
	subcommands.Register(new(cmd.Version), "")

	// All subcommands must be registered before flag parsing.
	config.RegisterFlags(flag.CommandLine)
	if flag.CommandLine.Lookup(versionFlagName) == nil {
		flag.Bool(versionFlagName, false, "show version and exit.")
	}
	flag.Parse()

	if flag.CommandLine.Lookup(versionFlagName).Value.String() == "true" {
		fmt.Fprintf(os.Stdout, "rtsim version %s\n", version.Version())
		os.Exit(0)
	}

	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		cmd.Fatalf("%v", err)
	}

	log.SetFormat(conf.LogFormat)
	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	log.Infof("***************************")
	log.Infof("Args: %s", os.Args)
	log.Infof("Version %s", version.Version())
	log.Infof("PID: %d", os.Getpid())
	log.Infof("Configuration:")
	log.Infof("\t\tWorkload: %s", conf.Workload)
	log.Infof("\t\tTime slice: %dus", conf.TimeSliceUs)
	log.Infof("\t\tRun: %dms, realtime: %t", conf.RunMs, conf.Realtime)
	log.Infof("\t\tConsole baud: %d", conf.BaudRate)
	log.Infof("***************************")

	os.Exit(int(subcommands.Execute(context.Background(), conf)))
}
