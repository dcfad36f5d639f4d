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

// Package log provides the logging facade used throughout the project.
//
// Log messages are meant for the host side: the simulator binary, board
// bring-up, and the halt path. Kernel code must never log from an
// interrupt-grade path, where the cost would show up as tick jitter.
package log

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Level is the log level.
type Level uint32

// The set of levels, lowest priority last.
const (
	// Warning indicates a problem the run can survive.
	Warning Level = iota

	// Info is the normal operational level.
	Info

	// Debug traces kernel bring-up and host plumbing.
	Debug
)

var logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000000",
	})
	return l
}

// SetLevel sets the log level.
func SetLevel(level Level) {
	switch level {
	case Warning:
		logger.SetLevel(logrus.WarnLevel)
	case Info:
		logger.SetLevel(logrus.InfoLevel)
	case Debug:
		logger.SetLevel(logrus.DebugLevel)
	}
}

// IsLogging returns whether the given level would be emitted.
func IsLogging(level Level) bool {
	switch level {
	case Warning:
		return logger.IsLevelEnabled(logrus.WarnLevel)
	case Info:
		return logger.IsLevelEnabled(logrus.InfoLevel)
	case Debug:
		return logger.IsLevelEnabled(logrus.DebugLevel)
	}
	return false
}

// SetTarget redirects log output.
func SetTarget(w io.Writer) {
	logger.SetOutput(w)
}

// SetFormat selects the output format: "text" (default) or "json".
// Unknown formats fall back to text.
func SetFormat(format string) {
	switch format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000000",
		})
	}
}

// Debugf logs at the Debug level.
func Debugf(format string, v ...any) {
	logger.Debugf(format, v...)
}

// Infof logs at the Info level.
func Infof(format string, v ...any) {
	logger.Infof(format, v...)
}

// Warningf logs at the Warning level.
func Warningf(format string, v ...any) {
	logger.Warnf(format, v...)
}
