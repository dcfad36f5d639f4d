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

package hw

import (
	"bytes"
	"fmt"
	"sync"
)

// Console is the board's console UART transmit side. Threads write;
// the host drains. Writes never block the board, the buffer is
// unbounded, and draining is the host's problem (the simulator paces it
// at a configured baud rate).
type Console struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write implements io.Writer.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

// Printf formats into the console buffer.
func (c *Console) Printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(&c.buf, format, args...)
}

// Host side.

// Drain removes and returns up to max buffered bytes. Host-safe.
func (c *Console) Drain(max int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.buf.Len()
	if n == 0 {
		return nil
	}
	if n > max {
		n = max
	}
	out := make([]byte, n)
	copy(out, c.buf.Next(n))
	return out
}

// Len returns the number of buffered bytes. Host-safe.
func (c *Console) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Len()
}
