// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package stateos

// Sched is the fixed-priority ready queue: a ring keyed by descending
// Task.prio, with IDLE as its always-present sentinel (priority 0, last
// in the ring), grounded on oskernel.c's priv_tsk_insert/priv_tsk_remove.
type Sched struct {
	idle *Task
}

func newSched(idle *Task) *Sched {
	ringSelf(idle)
	idle.id = stateReady
	return &Sched{idle: idle}
}

// insert places t into the ready ring in priority order: the scan skips
// every entry whose priority is >= t's and splices t before the first
// strictly lower one, so an arriving task with priority equal to an
// existing entry lands behind it (FIFO within equal priority), exactly
// as priv_tsk_insert's "while (nxt->prio >= tsk->prio)" encodes.
// Reports whether t became the new head (highest priority ready task),
// the signal for "request a context switch".
func (s *Sched) insert(t *Task) (becameHead bool) {
	t.id = stateReady
	nxt := s.idle.next
	for nxt != s.idle && nxt.prio >= t.prio {
		nxt = nxt.next
	}
	ringInsertBefore(t, nxt)
	return s.idle.next == t
}

// remove unlinks t from the ready ring. t must currently be READY.
func (s *Sched) remove(t *Task) {
	ringRemove(t)
}

// head returns the highest-priority ready task (never nil: IDLE is
// always present when nothing else is ready).
func (s *Sched) head() *Task {
	if s.idle.next == s.idle {
		return s.idle
	}
	return s.idle.next
}

// second returns the ready task behind head (IDLE if there is none).
// Nothing in the kernel calls it: Kernel.Yield rotates the current task
// behind its equals unconditionally instead of consulting second.
func (s *Sched) second() *Task {
	h := s.head()
	if h == s.idle {
		return s.idle
	}
	return h.next
}

// rotate moves t (assumed to be the current head, and not IDLE) behind
// any other ready tasks of the same priority, implementing round robin.
// Grounded on spec §4.3's "remove + reinsert to move behind equals".
func (s *Sched) rotate(t *Task) {
	ringRemove(t)
	s.insert(t)
}

// each invokes fn for every READY task, in ready order, including IDLE
// last. Used by invariant checks and tests, not by the kernel itself.
func (s *Sched) each(fn func(*Task)) {
	ringEach(s.idle, fn)
	fn(s.idle)
}
