// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package stateos

// Entry is a task body. It receives the Task it is running as, so it can
// pass itself to the blocking methods (Flg.Wait, Kernel.Yield,
// Kernel.Stop, ...). Entry
// runs on its own goroutine, parked and resumed by the Kernel rather than
// ever executing concurrently with another task's Entry while holding
// kernel state — see Kernel's docs for the checkpoint model this relies
// on.
type Entry func(t *Task)

// Task is a schedulable entity. Its layout begins with Hdr, mirroring
// spec's "a Tmr pointer is also a valid Task pointer" aliasing trick:
// here, a *Task is handed directly to the timer heap when the task is
// DELAYED, via the timerEntry.task field, rather than through pointer
// reinterpretation.
type Task struct {
	Hdr

	// Name is informational only; used in logging and tests.
	Name string

	k *Kernel

	entry Entry

	basic int // configured (base) priority
	prio  int // effective priority (recomputed from basic by SetPriority)

	sliceRemaining int // round-robin ticks used in the current slice

	event Event // last wake reason, valid once resumed

	// guard identifies which WaitQ (if any) this task is linked into.
	// Combined with waitBack, it lets Task.unlink be idempotent: a
	// task with guard == nil is not linked into any queue, and a
	// second unlink call is a no-op. Grounded on oskernel.c's
	// core_tsk_wakeup race (see DESIGN.md).
	guard    *WaitQ
	waitNext *Task
	waitBack **Task

	// timer is set while this task is DELAYED: it is the Timers heap
	// entry tracking its deadline, so Timers.remove can find and
	// remove it in O(log n) on wake or kill.
	timer *timerEntry

	// joinable/joinQueue replace spec's overloaded join field
	// (JOINABLE / DETACHED / task-pointer sentinel) with two plain
	// fields: whether a joiner is permitted, and the queue a joiner
	// parks on.
	joinable  bool
	joinQueue WaitQ

	// flagMask/flagMode are the Flg "tmp" scratch: the bits this task
	// is waiting for and the mode (All/Any, Accept, Protect) it is
	// waiting with. Valid only while guard points at a Flg's WaitQ.
	flagMask uint32
	flagMode Mode

	// boxIn/boxOut are the mailbox "tmp" scratch: the buffer a
	// blocked Box.WaitTake should fill, or the message a blocked
	// Box.WaitSend is offering. Valid only while guard points at a Box's WaitQ.
	boxIn  []byte
	boxOut []byte

	// owned is the set of resources (mutex-like Owners) this task
	// currently holds, used by the priority-inheritance hook to walk
	// and recompute boosted priorities. Nothing in this package
	// implements a concrete Owner; it exists so a future mutex
	// package can participate without reopening Kernel.
	owned []Owner

	// done is closed once this task's goroutine has returned from
	// Entry (reached Stop or Kill), for Port implementations and
	// tests that need to observe task completion.
	done chan struct{}

	stopped bool
}

// Owner models a resource a task can hold that supports priority
// inheritance (a mutex, in a full build). Boost is called by the
// priority-inheritance hook (Kernel.SetPriority) with the owning task's
// newly computed effective priority, and by Kernel.Kill with 0; Boost
// returns the task (if any) that itself needs re-evaluating
// transitively (spec's mtx.tree walk). The hook never reads a priority
// back from an Owner, so an Owner cannot raise its holder's priority.
type Owner interface {
	Boost(prio int) (next *Task)
}

// Priority returns the task's current effective priority.
func (t *Task) Priority() int { return t.prio }

// Basic returns the task's configured (non-boosted) priority.
func (t *Task) Basic() int { return t.basic }

// State reports the task's current lifecycle tag.
func (t *Task) State() taskState { return t.id }

// LastEvent returns the Event the task most recently woke with.
func (t *Task) LastEvent() Event { return t.event }
