// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package stateos

// WaitQ is the single canonical blocking pathway every synchronization
// object (Flg, Box, and Task.joinQueue) is built on, grounded on
// oskernel.c's core_tsk_wakeup/core_one_wakeup/core_all_wakeup and the
// append/unlink pattern shared by ostask.c, os_flg.c and
// osmailboxqueue.c. Ordering is descending priority, FIFO within ties.
//
// The head is a plain *Task slot (nil when empty) rather than a
// sentinel node, since unlike the ready queue a WaitQ has no fixed
// always-present member to anchor on.
type WaitQ struct {
	head *Task
}

// Empty reports whether the queue currently has no waiters.
func (q *WaitQ) Empty() bool { return q.head == nil }

// append links t into q in priority order (descending prio, FIFO among
// equal priorities — the scan skips every waiter whose priority is >=
// t's, matching priv_tsk_insert's ordering rule), and records t.guard/t.waitBack so
// that *t.waitBack == t holds from this point until unlink. The caller
// must hold the kernel lock.
func (q *WaitQ) append(t *Task) {
	slot := &q.head
	for *slot != nil && (*slot).prio >= t.prio {
		slot = &(*slot).waitNext
	}
	t.waitNext = *slot
	t.waitBack = slot
	*slot = t
	if t.waitNext != nil {
		t.waitNext.waitBack = &t.waitNext
	}
	t.guard = q
}

// unlink removes t from whatever WaitQ it is linked into and records
// event as the reason. It is explicitly idempotent: calling it on a
// task that is not currently linked into any WaitQ (guard == nil) is a
// no-op, preserving the timeout/post race resolution documented in
// oskernel.c's core_tsk_wakeup (see DESIGN.md). The caller must hold the
// kernel lock.
func (t *Task) unlink(event Event) {
	if t.guard == nil {
		return
	}
	*t.waitBack = t.waitNext
	if t.waitNext != nil {
		t.waitNext.waitBack = t.waitBack
	}
	t.waitNext = nil
	t.waitBack = nil
	t.guard = nil
	t.event = event
}

// transfer unlinks t (if linked anywhere) and re-appends it to dst,
// used when a blocked task's priority changes while it is already
// queued (the priority-inheritance hook) and the task must move to
// preserve dst's ordering invariant.
func (t *Task) transfer(dst *WaitQ) {
	t.unlink(ESuccess) // event is overwritten by whatever eventually wakes t
	dst.append(t)
}

// popHighest removes and returns the highest-priority waiter, or nil if
// the queue is empty. It leaves t.event set to ESuccess (via unlink);
// a caller waking t for another reason overwrites it.
func (q *WaitQ) popHighest() *Task {
	t := q.head
	if t == nil {
		return nil
	}
	t.unlink(ESuccess)
	return t
}
