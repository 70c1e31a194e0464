// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package stateos implements the scheduling and synchronization core of a
// small preemptive real-time kernel: a fixed-priority scheduler, a tick
// driven timer service, task lifecycle management, and three blocking
// primitives built on a single wait-queue protocol (event flags, a bounded
// mailbox, and the primitive itself).
//
// # Architecture
//
// A [Kernel] owns all scheduling state: the ready queue ([Sched]), the
// timer heap ([Timers]), the IDLE and MAIN tasks and the suspend queue.
// Every task embeds a [Hdr] (ring link and state tag) as its first
// field. A DELAYED task's deadline sits in the same timer heap as user
// [Timer] deadlines, through an entry pointing at the task, so no second
// structure is needed. Exactly one task is ever "current"; every other task is
// READY, DELAYED, IDLE (suspended) or STOPPED.
//
// Go cannot interrupt an arbitrary running goroutine the way a hardware
// timer ISR interrupts a CPU, so [Kernel] approximates preemption with a
// checkpoint model: [Kernel.mu] makes every mutation of scheduler state
// race-free regardless of goroutine interleaving, and any task that calls
// back into the kernel discovers there, and only there, whether it has
// lost its place to a higher-priority task. See the [Kernel] docs for the
// precise guarantee this gives and does not give.
//
// # Blocking primitives
//
// [Flg] (event flags) and [Box] (mailbox) are both built on [WaitQ], the
// same append/unlink/transfer protocol used to park a task waiting on a
// timeout. There is exactly one canonical blocking pathway; the
// primitives differ only in what they stage before blocking and what they
// do when a waiter wakes.
//
// # Ports
//
// [Port] is the hardware/environment contract this package consumes: a
// tick source, an idle hook, and an optional tickless timer interface.
// The "simport" subpackage, alongside this one, is a goroutine-based
// reference implementation used by this package's own tests; it is not a
// substitute for a real hardware port.
//
// # Errors
//
// Blocking and attempt operations report outcomes as an [Event] value
// ([ESuccess], [ETimeout], [EStopped]), per the kernel's own
// errors-are-values policy — this is not funneled through the [error]
// interface. Construction-time failures (bad [Config], nil entry
// function) return a conventional wrapped [error]; violated preconditions
// (nil task, blocking call from ISR context) panic.
package stateos
