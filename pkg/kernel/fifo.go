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

// fifoDefaultSize is used when FifoInit is given a zero size.
const fifoDefaultSize = 16

// fifoMaxSize bounds the ring; sizes are rounded up to a power of two.
const fifoMaxSize = 1024

// fifo is the kernel's single-producer, single-consumer stream. The
// producer is typically a periodic task in interrupt context; the
// single consumer means Get needs no mutual exclusion, only the
// counting semaphore that tracks occupancy. Put and Get use
// free-running indices; the power-of-two capacity makes the wrap a
// mask.
type fifo struct {
	buf  []uint32
	mask uint32
	put  uint32
	get  uint32

	dataAvail Semaphore
}

// FifoInit empties the stream and sets its capacity, rounded up to a
// power of two between 4 and 1024. A zero size selects the default.
func (k *Kernel) FifoInit(size uint32) {
	if size == 0 {
		size = fifoDefaultSize
	}
	capacity := uint32(4)
	for capacity < size && capacity < fifoMaxSize {
		capacity <<= 1
	}
	sr := k.m.DisableInterrupts()
	k.fifo.buf = make([]uint32, capacity)
	k.fifo.mask = capacity - 1
	k.fifo.put = 0
	k.fifo.get = 0
	k.m.RestoreInterrupts(sr)
	k.InitSemaphore(&k.fifo.dataAvail, 0)
}

// FifoPut appends one sample, returning false and discarding it when
// the stream is full. Callable from interrupt context; the data path
// itself takes no critical section, which a single producer makes
// safe. A consumer mid-Get can make the stream look momentarily full;
// the sample is dropped rather than ever letting put overtake get.
func (k *Kernel) FifoPut(v uint32) bool {
	f := &k.fifo
	if f.put-f.get == uint32(len(f.buf)) {
		return false
	}
	f.buf[f.put&f.mask] = v
	f.put++
	k.Signal(&f.dataAvail)
	return true
}

// FifoGet removes and returns the oldest sample, blocking while the
// stream is empty. Single consumer only.
func (k *Kernel) FifoGet() uint32 {
	k.assertThread("FifoGet")
	f := &k.fifo
	k.Wait(&f.dataAvail)
	v := f.buf[f.get&f.mask]
	sr := k.m.DisableInterrupts()
	f.get++
	k.m.RestoreInterrupts(sr)
	return v
}

// FifoSize returns the number of buffered samples. Zero means the next
// FifoGet will block.
func (k *Kernel) FifoSize() int32 {
	f := &k.fifo
	return int32(f.put - f.get)
}
