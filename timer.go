// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package stateos

import "container/heap"

// timerKind distinguishes a user Timer deadline from a DELAYED task's
// deadline sharing the same heap, the same aliasing core_tmr_insert /
// core_tmr_remove give both in oskernel.c (see DESIGN.md).
type timerKind int

const (
	timerKindUser timerKind = iota
	timerKindTask
)

// timerEntry is one deadline in Timers. deadline is the absolute tick
// (start+delay) the entry expires at; seq breaks exact ties in
// insertion order, giving FIFO behavior among simultaneous deadlines.
type timerEntry struct {
	deadline Ticks
	seq      uint64
	kind     timerKind

	// task is set when kind == timerKindTask.
	task *Task
	// timer is set when kind == timerKindUser.
	timer *Timer

	index int // heap.Interface bookkeeping
}

// Timer is a user-visible periodic or one-shot timer, analogous to
// spec's Tmr when id == TIMER (the DELAYED/task case is represented
// directly by timerEntry.task instead of a second Tmr value).
type Timer struct {
	Name string

	start  Ticks
	delay  Ticks // Infinite means never fires
	period Ticks // 0 means one-shot

	callback func()

	entry *timerEntry
}

// tickBefore reports whether a is strictly before b on the wrapping
// tick counter, using signed-difference comparison exactly as
// priv_tmr_insert's "(cnt_t)(tmr->start + tmr->delay - nxt->start)"
// pattern does in unsigned modular arithmetic: the difference is
// reinterpreted as signed, so it stays correct across a wrap as long as
// the true separation is less than CNT_MAX/2.
func tickBefore(a, b Ticks) bool {
	return int32(a-b) < 0
}

// timerHeap is a container/heap min-heap of timerEntry, grounded
// directly on the teacher's own timerHeap in eventloop/loop.go (same
// Len/Less/Swap/Push/Pop shape, same heap.Push/heap.Pop call sites),
// substituted for spec's literal sorted ring per DESIGN.md.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline != h[j].deadline {
		return tickBefore(h[i].deadline, h[j].deadline)
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Timers is the kernel's deadline-ordered queue of pending timeouts,
// shared by DELAYED tasks and user Timer values.
type Timers struct {
	h       timerHeap
	nextSeq uint64
}

func newTimers() *Timers {
	t := &Timers{}
	heap.Init(&t.h)
	return t
}

func (ts *Timers) insertTask(t *Task, deadline Ticks) {
	e := &timerEntry{deadline: deadline, seq: ts.nextSeq, kind: timerKindTask, task: t}
	ts.nextSeq++
	t.timer = e
	heap.Push(&ts.h, e)
}

func (ts *Timers) insertUser(tm *Timer, deadline Ticks) {
	e := &timerEntry{deadline: deadline, seq: ts.nextSeq, kind: timerKindUser, timer: tm}
	ts.nextSeq++
	tm.entry = e
	heap.Push(&ts.h, e)
}

// remove drops an entry that is being cancelled by something other than
// expiry (task woken early, timer stopped). It is a no-op if the entry
// is not currently in the heap (index < 0), matching Task.unlink's
// idempotency for the analogous race.
func (ts *Timers) remove(e *timerEntry) {
	if e == nil || e.index < 0 {
		return
	}
	heap.Remove(&ts.h, e.index)
	e.index = -1
	if e.task != nil {
		e.task.timer = nil
	}
	if e.timer != nil {
		e.timer.entry = nil
	}
}

func (ts *Timers) empty() bool { return ts.h.Len() == 0 }

// nextDeadline returns the soonest pending deadline and true, or false
// if Timers is empty — used by the tickless strategy to arm the
// hardware comparator (Port.TmrStart).
func (ts *Timers) nextDeadline() (Ticks, bool) {
	if ts.h.Len() == 0 {
		return 0, false
	}
	return ts.h[0].deadline, true
}

// expired reports whether the earliest entry's deadline has passed at
// now, using the periodic-tick formula from oskernel.c's priv_tmr_expired
// (delay < now - start + 1, restated here directly against an absolute
// deadline): an entry is expired once now is not strictly before its
// deadline.
func expired(deadline, now Ticks) bool {
	return !tickBefore(now, deadline)
}
