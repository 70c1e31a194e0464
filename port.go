// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package stateos

// Port is the hardware/environment contract the kernel consumes (spec
// §6's "Port (consumed) contract"), trimmed to the pieces that still
// mean something once context switching is a goroutine park/resume
// instead of a raw stack-pointer swap: ctx_init, tsk_flip and
// ctx_switch are Kernel-internal in this rewrite (every Task already
// runs on its own goroutine, which is Go's own context-switch
// mechanism), so Port only needs to describe time and idling.
type Port interface {
	// Now returns the current free-running tick count.
	Now() Ticks

	// IdleWait is invoked by the IDLE task's body when there is
	// nothing ready to run. A real port waits for an interrupt; a
	// test port typically blocks on a channel or sleeps briefly.
	IdleWait()

	// IsISRContext reports whether the caller is executing from
	// interrupt context, where blocking operations must panic.
	IsISRContext() bool

	// TmrForce, TmrStart and TmrStop are the tickless timer
	// interface (spec's HW_TIMER_SIZE > 0 strategy). A periodic-tick
	// port that never uses the tickless strategy may implement these
	// as no-ops. Kernel calls TmrStart and TmrStop only when
	// Config.HWTimerSize > 0; it calls TmrForce whenever it arms a new
	// deadline, under either strategy.
	TmrForce()
	TmrStart(deadline Ticks)
	TmrStop()
}
