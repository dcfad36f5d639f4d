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

// Package config holds the simulator configuration, populated from
// flags and optionally a TOML file. Flags win over the file.
package config

import (
	"flag"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/talismancer/rtkernel/pkg/hw"
)

// Config is the simulator configuration.
type Config struct {
	// TimeSliceUs is the preemption time slice in microseconds.
	TimeSliceUs uint64 `toml:"time_slice_us"`

	// RunMs is how long the board runs, in virtual milliseconds.
	RunMs uint64 `toml:"run_ms"`

	// Workload selects what the board runs; see rtsim/cmd.
	Workload string `toml:"workload"`

	// Realtime paces virtual time against the wall clock.
	Realtime bool `toml:"realtime"`

	// BaudRate paces the console drain, in bits per second.
	BaudRate int `toml:"baud_rate"`

	// Debug enables debug logging.
	Debug bool `toml:"debug"`

	// LogFormat is "text" or "json".
	LogFormat string `toml:"log_format"`
}

// Default returns the configuration used when nothing is specified.
func Default() *Config {
	return &Config{
		TimeSliceUs: 1000,
		RunMs:       1000,
		Workload:    "roundrobin",
		BaudRate:    115200,
		LogFormat:   "text",
	}
}

// file mirrors Config for decoding; a pointer field distinguishes
// "absent" from zero.
type file struct {
	TimeSliceUs *uint64 `toml:"time_slice_us"`
	RunMs       *uint64 `toml:"run_ms"`
	Workload    *string `toml:"workload"`
	Realtime    *bool   `toml:"realtime"`
	BaudRate    *int    `toml:"baud_rate"`
	Debug       *bool   `toml:"debug"`
	LogFormat   *string `toml:"log_format"`
}

// RegisterFlags registers the configuration flags.
func RegisterFlags(fs *flag.FlagSet) {
	def := Default()
	fs.String("config", "", "path to a TOML configuration file.")
	fs.Uint64("time-slice-us", def.TimeSliceUs, "preemption time slice in microseconds.")
	fs.Uint64("run-ms", def.RunMs, "how long to run the board, in virtual milliseconds.")
	fs.String("workload", def.Workload, "workload to run: roundrobin, preempt, producer, buttons.")
	fs.Bool("realtime", def.Realtime, "pace virtual time against the wall clock.")
	fs.Int("baud-rate", def.BaudRate, "console drain rate in bits per second.")
	fs.Bool("debug", def.Debug, "enable debug logging.")
	fs.String("log-format", def.LogFormat, "log format: text or json.")
}

// NewFromFlags builds a Config from the parsed flag set, merging in the
// TOML file if one was named.
func NewFromFlags(fs *flag.FlagSet) (*Config, error) {
	conf := Default()

	if path := lookupString(fs, "config"); path != "" {
		var f file
		if _, err := toml.DecodeFile(path, &f); err != nil {
			return nil, fmt.Errorf("decoding config file %q: %w", path, err)
		}
		f.apply(conf)
	}

	// Flags the user set explicitly override the file.
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["time-slice-us"] {
		conf.TimeSliceUs = lookupUint64(fs, "time-slice-us")
	}
	if set["run-ms"] {
		conf.RunMs = lookupUint64(fs, "run-ms")
	}
	if set["workload"] {
		conf.Workload = lookupString(fs, "workload")
	}
	if set["realtime"] {
		conf.Realtime = lookupBool(fs, "realtime")
	}
	if set["baud-rate"] {
		conf.BaudRate = lookupInt(fs, "baud-rate")
	}
	if set["debug"] {
		conf.Debug = lookupBool(fs, "debug")
	}
	if set["log-format"] {
		conf.LogFormat = lookupString(fs, "log-format")
	}

	return conf, conf.validate()
}

func (f *file) apply(conf *Config) {
	if f.TimeSliceUs != nil {
		conf.TimeSliceUs = *f.TimeSliceUs
	}
	if f.RunMs != nil {
		conf.RunMs = *f.RunMs
	}
	if f.Workload != nil {
		conf.Workload = *f.Workload
	}
	if f.Realtime != nil {
		conf.Realtime = *f.Realtime
	}
	if f.BaudRate != nil {
		conf.BaudRate = *f.BaudRate
	}
	if f.Debug != nil {
		conf.Debug = *f.Debug
	}
	if f.LogFormat != nil {
		conf.LogFormat = *f.LogFormat
	}
}

func (c *Config) validate() error {
	if c.TimeSliceUs == 0 {
		return fmt.Errorf("time slice must be positive")
	}
	if c.TimeSliceUs*hw.CyclesPerUs > 1<<24 {
		// The slice countdown is 24-bit on the reference part.
		return fmt.Errorf("time slice %dus exceeds the 24-bit slice counter", c.TimeSliceUs)
	}
	if c.RunMs == 0 {
		return fmt.Errorf("run duration must be positive")
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("baud rate must be positive")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format %q", c.LogFormat)
	}
	return nil
}

// TimeSliceCycles returns the preemption slice in bus cycles.
func (c *Config) TimeSliceCycles() uint64 {
	return c.TimeSliceUs * hw.CyclesPerUs
}

func lookupString(fs *flag.FlagSet, name string) string {
	return fs.Lookup(name).Value.(flag.Getter).Get().(string)
}

func lookupUint64(fs *flag.FlagSet, name string) uint64 {
	return fs.Lookup(name).Value.(flag.Getter).Get().(uint64)
}

func lookupBool(fs *flag.FlagSet, name string) bool {
	return fs.Lookup(name).Value.(flag.Getter).Get().(bool)
}

func lookupInt(fs *flag.FlagSet, name string) int {
	return fs.Lookup(name).Value.(flag.Getter).Get().(int)
}
