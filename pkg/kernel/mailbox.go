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

// mailbox is a one-slot rendezvous. boxFree gates the producer in,
// dataValid gates the consumer; together they guarantee at most one
// value in flight.
type mailbox struct {
	word      uint32
	dataValid Semaphore
	boxFree   Semaphore
}

// MailboxInit empties the mailbox.
func (k *Kernel) MailboxInit() {
	k.InitSemaphore(&k.mbox.dataValid, 0)
	k.InitSemaphore(&k.mbox.boxFree, 1)
}

// MailboxSend stores one word, blocking until the previous word has
// been received. Thread context only.
func (k *Kernel) MailboxSend(v uint32) {
	k.assertThread("MailboxSend")
	k.BWait(&k.mbox.boxFree)
	k.mbox.word = v
	k.BSignal(&k.mbox.dataValid)
}

// MailboxRecv removes and returns the stored word, blocking until a
// sender has stored one. Thread context only.
func (k *Kernel) MailboxRecv() uint32 {
	k.assertThread("MailboxRecv")
	k.BWait(&k.mbox.dataValid)
	v := k.mbox.word
	k.BSignal(&k.mbox.boxFree)
	return v
}
