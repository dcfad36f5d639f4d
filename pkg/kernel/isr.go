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

// ISR is the interrupt-safe surface of the kernel: the only operations
// an interrupt handler, periodic task, or switch task may use. Handing
// handlers this type instead of the Kernel keeps the blocking surface
// out of reach statically; the blocking primitives also assert at run
// time.
type ISR struct {
	k *Kernel
}

// ISR returns the kernel's interrupt-safe surface.
func (k *Kernel) ISR() ISR {
	return ISR{k}
}

// Signal increments a counting semaphore. See Kernel.Signal.
func (i ISR) Signal(s *Semaphore) {
	i.k.Signal(s)
}

// BSignal releases a binary semaphore. See Kernel.BSignal.
func (i ISR) BSignal(s *Semaphore) {
	i.k.BSignal(s)
}

// AddThread creates a thread. See Kernel.AddThread.
func (i ISR) AddThread(task func(), stackBytes int, priority uint8) bool {
	return i.k.AddThread(task, stackBytes, priority)
}

// FifoPut appends one sample to the stream. See Kernel.FifoPut.
func (i ISR) FifoPut(v uint32) bool {
	return i.k.FifoPut(v)
}

// Time returns the system time in cycles. See Kernel.Time.
func (i ISR) Time() uint64 {
	return i.k.Time()
}
