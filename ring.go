// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package stateos

// taskState is the tag carried in Hdr.id: exactly one of these describes
// a task at any instant, and it determines which structure (if any) the
// task is linked into.
type taskState int

const (
	stateReady taskState = iota
	stateDelayed
	stateIdle
	stateStopped
)

func (s taskState) String() string {
	switch s {
	case stateReady:
		return "READY"
	case stateDelayed:
		return "DELAYED"
	case stateIdle:
		return "IDLE"
	case stateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Hdr is the ring link and state tag every schedulable entity embeds as
// its first field, mirroring spec's header-of-everything layout. Unlike
// the original, which aliases Hdr across Tmr and Task via struct prefix
// tricks, Go tasks simply embed it directly; there is only one
// schedulable entity type in this rewrite (Task), so no aliasing is
// needed to keep the ring generic.
type Hdr struct {
	next, prev *Task
	id         taskState
}

// ringSelf makes a node a one-element ring pointing at itself, the state
// a freshly created task is put in (ringRemove leaves a node's links nil
// instead).
func ringSelf(h *Task) {
	h.next = h
	h.prev = h
}

// ringInsertBefore splices h immediately before nxt, an O(1) operation
// requiring the caller to already hold the kernel lock. Grounded on
// priv_rdy_insert in oskernel.c.
func ringInsertBefore(h, nxt *Task) {
	prv := nxt.prev
	h.prev = prv
	h.next = nxt
	nxt.prev = h
	prv.next = h
}

// ringRemove unlinks h from whatever ring it is currently part of,
// leaving h pointing nowhere. Grounded on priv_rdy_remove in
// oskernel.c. The caller must hold the kernel lock.
func ringRemove(h *Task) {
	h.next.prev = h.prev
	h.prev.next = h.next
	h.next = nil
	h.prev = nil
}

// ringEach walks a ring starting at head's successor, stopping before
// revisiting head, invoking fn for every node. head is typically a
// sentinel (IDLE) and is never itself passed to fn.
func ringEach(head *Task, fn func(*Task)) {
	for n := head.next; n != head; n = n.next {
		fn(n)
	}
}
