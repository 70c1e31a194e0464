// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package simport is a reference implementation of stateos.Port: a
// deterministic, virtual-time clock driven explicitly by test code rather
// than a real hardware timer. It stands in for the hardware port spec.md
// leaves out of scope (spec §1's Non-goals), the same role a fake/manual
// clock plays in the teacher corpus's own tests — except the teacher
// tests a real poller against real deadlines, where stateos needs a clock
// a test can advance one tick at a time to assert exact scheduling order.
//
// Every exported Port method is safe for concurrent use, since Kernel
// calls them from arbitrary task goroutines.
package simport

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-stateos"
)

// Port is a virtual-time, goroutine-park-based stateos.Port. Time only
// advances when Advance is called; IdleWait parks the IDLE task's
// goroutine on a condition variable rather than spinning or sleeping,
// so a test suite built on Port never depends on wall-clock timing.
type Port struct {
	now atomic.Uint32

	mu       sync.Mutex
	idleCond *sync.Cond
	idle     bool // true while IDLE is blocked in IdleWait

	tickless    bool
	armed       bool
	armDeadline stateos.Ticks
}

// New constructs a Port starting at tick 0.
func New() *Port {
	p := &Port{}
	p.idleCond = sync.NewCond(&p.mu)
	return p
}

// Now returns the current virtual tick count.
func (p *Port) Now() stateos.Ticks { return stateos.Ticks(p.now.Load()) }

// IdleWait blocks until Advance or Wake is called. Grounded on the
// teacher's own condition-variable park pattern (eventloop's
// wakeWaitingGoroutines via its wake pipe), substituting a sync.Cond
// for the teacher's self-pipe since there is no real fd to poll here.
func (p *Port) IdleWait() {
	p.mu.Lock()
	p.idle = true
	p.idleCond.Wait()
	p.idle = false
	p.mu.Unlock()
}

// Wake releases every IdleWait call currently parked (if any) without
// advancing time, for tests that need to nudge the IDLE task after
// changing external state (e.g. calling Kernel.Resume from outside any
// task).
func (p *Port) Wake() {
	p.mu.Lock()
	p.idleCond.Broadcast()
	p.mu.Unlock()
}

// IsISRContext always reports false: this reference port has no
// interrupt context, every call originates from an ordinary goroutine.
func (p *Port) IsISRContext() bool { return false }

// Advance moves the virtual clock forward by delta ticks and calls
// k.Tick() once per tick, in order, waking IDLE between calls so any
// newly-ready task gets a chance to run before the next tick lands.
// This is the test-facing equivalent of a real periodic timer interrupt
// firing delta times.
func (p *Port) Advance(k *stateos.Kernel, delta stateos.Ticks) {
	for i := stateos.Ticks(0); i < delta; i++ {
		p.now.Add(1)
		k.Tick()
		p.Wake()
	}
}

// TmrForce wakes IDLE immediately, for the tickless strategy's "a
// deadline changed, re-evaluate now" signal (spec §4.2).
func (p *Port) TmrForce() { p.Wake() }

// TmrStart records the next deadline the tickless strategy armed.
// Combined with a test driving Advance, a tickless-configured Kernel
// still progresses correctly: Port records the deadline but the actual
// expiry is still realized through Kernel.Tick, called by Advance.
func (p *Port) TmrStart(deadline stateos.Ticks) {
	p.mu.Lock()
	p.tickless = true
	p.armed = true
	p.armDeadline = deadline
	p.mu.Unlock()
}

// TmrStop disarms the tickless deadline recorded by TmrStart.
func (p *Port) TmrStop() {
	p.mu.Lock()
	p.armed = false
	p.mu.Unlock()
}

// Armed reports whether a tickless deadline is currently armed, and
// what it is, for tests asserting on the tickless strategy's Port
// interactions directly.
func (p *Port) Armed() (deadline stateos.Ticks, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.armDeadline, p.armed
}

var _ stateos.Port = (*Port)(nil)
