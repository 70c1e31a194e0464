// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package stateos

// Box is the bounded, fixed-message-size mailbox (spec §4.7), grounded
// on osmailboxqueue.c. Unlike the C original, which stores a flat byte
// ring and copies size bytes per message, this rewrite stores a ring of
// []byte messages directly (each a copy of the slice the sender passed;
// its length is not checked against msgSize) since Go has no reason to
// flatten them into a shared buffer — the byte-ring layout exists in the
// original only because C has no slice-of-slices.
// count/limit/head/tail from spec's struct are replaced by a plain
// Go slice-as-ring-buffer (buf, head, count), preserving the same
// algorithm (wrap modulo limit, FIFO, overwrite-push) over message
// units instead of bytes.
type Box struct {
	Name string

	k *Kernel

	msgSize int
	limit   int // in messages
	buf     [][]byte
	head    int
	count   int

	waiters WaitQ
}

// NewBox creates a mailbox holding up to limit messages of msgSize
// bytes each.
func (k *Kernel) NewBox(name string, limit, msgSize int) (*Box, error) {
	if limit <= 0 || msgSize <= 0 {
		return nil, ErrZeroCapacity
	}
	return &Box{
		Name:    name,
		k:       k,
		msgSize: msgSize,
		limit:   limit,
		buf:     make([][]byte, limit),
	}, nil
}

func (b *Box) full() bool  { return b.count == b.limit }
func (b *Box) empty() bool { return b.count == 0 }

// get pops and returns the oldest stored message (the stored slice
// itself, not a copy), advancing head.
func (b *Box) get() []byte {
	msg := b.buf[b.head]
	b.buf[b.head] = nil
	b.head = (b.head + 1) % b.limit
	b.count--
	return msg
}

// put appends msg at the tail.
func (b *Box) put(msg []byte) {
	tail := (b.head + b.count) % b.limit
	b.buf[tail] = msg
	b.count++
}

// skip drops the oldest message without returning it, for Push's
// overwrite path (osmailboxqueue.c's priv_box_skip).
func (b *Box) skip() {
	b.buf[b.head] = nil
	b.head = (b.head + 1) % b.limit
	b.count--
}

// getUpdate pops one message and, if a blocked sender is waiting, wakes
// it and immediately enqueues its pending message into the slot just
// freed — grounded on priv_box_getUpdate's direct hand-off.
func (b *Box) getUpdate() []byte {
	msg := b.get()
	if t := b.waiters.popHighest(); t != nil {
		if t.boxOut != nil {
			b.put(t.boxOut)
			t.boxOut = nil
		}
		b.k.wakeReady(t)
		b.k.checkpointLocked()
	}
	return msg
}

// putUpdate enqueues msg and, if a blocked receiver is waiting, wakes it
// and delivers directly into its buffer — grounded on
// priv_box_putUpdate.
func (b *Box) putUpdate(msg []byte) {
	b.put(msg)
	if t := b.waiters.popHighest(); t != nil {
		if t.boxIn != nil {
			copy(t.boxIn, b.get())
			t.boxIn = nil
		}
		b.k.wakeReady(t)
		b.k.checkpointLocked()
	}
}

// Take copies the oldest message into data (which must be msgSize long)
// without blocking. Returns ETimeout if the mailbox is empty.
func (b *Box) Take(data []byte) Event {
	b.k.mu.Lock()
	defer b.k.mu.Unlock()
	if b.empty() {
		return ETimeout
	}
	copy(data, b.getUpdate())
	return ESuccess
}

// WaitTake blocks the calling task until a message is available, or
// delay ticks elapse, copying it into data on success.
func (b *Box) WaitTake(self *Task, data []byte, delay Ticks) Event {
	b.k.mu.Lock()
	return b.waitTake(self, data, delay)
}

// WaitTakeUntil is WaitTake's absolute-deadline counterpart, returning
// ETimeout immediately if abs is already due per untilDelay's boundary
// rule.
func (b *Box) WaitTakeUntil(self *Task, data []byte, abs Ticks) Event {
	b.k.mu.Lock()
	delay, ok := untilDelay(b.k.port.Now(), abs)
	if !ok {
		b.k.mu.Unlock()
		return ETimeout
	}
	return b.waitTake(self, data, delay)
}

// waitTake is WaitTake/WaitTakeUntil's shared body. Must be called with
// b.k.mu held; always returns with it released.
func (b *Box) waitTake(self *Task, data []byte, delay Ticks) Event {
	if !b.empty() {
		copy(data, b.getUpdate())
		b.k.mu.Unlock()
		return ESuccess
	}
	self.boxIn = data
	ev := b.k.blockOn(self, &b.waiters, delay)
	b.k.mu.Unlock()
	return ev
}

// Give enqueues data without blocking. Returns ETimeout if full.
func (b *Box) Give(data []byte) Event {
	b.k.mu.Lock()
	defer b.k.mu.Unlock()
	if b.full() {
		return ETimeout
	}
	msg := append([]byte(nil), data...)
	b.putUpdate(msg)
	return ESuccess
}

// WaitSend blocks the calling task until space is available, or delay
// ticks elapse, then enqueues data.
func (b *Box) WaitSend(self *Task, data []byte, delay Ticks) Event {
	b.k.mu.Lock()
	return b.waitSend(self, data, delay)
}

// WaitSendUntil is WaitSend's absolute-deadline counterpart, returning
// ETimeout immediately if abs is already due per untilDelay's boundary
// rule.
func (b *Box) WaitSendUntil(self *Task, data []byte, abs Ticks) Event {
	b.k.mu.Lock()
	delay, ok := untilDelay(b.k.port.Now(), abs)
	if !ok {
		b.k.mu.Unlock()
		return ETimeout
	}
	return b.waitSend(self, data, delay)
}

// waitSend is WaitSend/WaitSendUntil's shared body. Must be called with
// b.k.mu held; always returns with it released.
func (b *Box) waitSend(self *Task, data []byte, delay Ticks) Event {
	if !b.full() {
		msg := append([]byte(nil), data...)
		b.putUpdate(msg)
		b.k.mu.Unlock()
		return ESuccess
	}
	self.boxOut = append([]byte(nil), data...)
	ev := b.k.blockOn(self, &b.waiters, delay)
	b.k.mu.Unlock()
	return ev
}

// Push is a non-blocking overwrite send. When the mailbox is empty or
// no task is waiting on it, Push enqueues data (first dropping the
// oldest message if full, and handing it straight to a waiting taker if
// there is one) and returns ESuccess. Otherwise (the mailbox holds
// messages and tasks wait on it, i.e. it is full with blocked senders)
// Push changes nothing and returns ETimeout, so an overwrite never
// discards a message ahead of a blocked sender's. Grounded exactly on
// box_push's "count == 0 || queue == nil" condition in
// osmailboxqueue.c (see DESIGN.md).
func (b *Box) Push(data []byte) Event {
	b.k.mu.Lock()
	defer b.k.mu.Unlock()
	if b.empty() || b.waiters.Empty() {
		if b.full() {
			b.skip()
		}
		msg := append([]byte(nil), data...)
		b.putUpdate(msg)
		return ESuccess
	}
	return ETimeout
}

// Count returns the number of messages currently queued.
func (b *Box) Count() int {
	b.k.mu.Lock()
	defer b.k.mu.Unlock()
	return b.count
}

// Space returns the number of additional messages that can be enqueued
// before Give/WaitSend would block.
func (b *Box) Space() int {
	b.k.mu.Lock()
	defer b.k.mu.Unlock()
	return b.limit - b.count
}

// Kill empties the mailbox and broadcasts EStopped to every waiter.
func (b *Box) Kill() {
	b.k.mu.Lock()
	b.count, b.head = 0, 0
	for i := range b.buf {
		b.buf[i] = nil
	}
	n := 0
	for t := b.waiters.popHighest(); t != nil; t = b.waiters.popHighest() {
		t.event = EStopped
		b.k.wakeReady(t)
		n++
	}
	b.k.logObjectKilled("box", b.Name, n)
	b.k.checkpointLocked()
	b.k.mu.Unlock()
}
