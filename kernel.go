// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package stateos

import (
	"container/heap"
	"runtime"
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Kernel owns every piece of scheduling state: the ready queue, the
// timer heap, the IDLE and MAIN tasks, and the suspend queue. It is the
// single mutable core this
// package revolves around, the same shape as the teacher's own Loop —
// one struct, one lock, public methods take the lock and leave it
// released before returning to the caller.
//
// # The preemption checkpoint model
//
// Spec describes a genuinely preemptive scheduler: a higher-priority
// task becoming ready interrupts whatever is currently running, at the
// hardware instruction level. Go has no equivalent of a timer ISR that
// can suspend an arbitrary goroutine mid-instruction, so Kernel
// approximates it:
//
//   - Kernel.mu (via Kernel.cond, a sync.Cond over it) makes every
//     mutation of ready queue, timer heap, and wait queues race-free,
//     regardless of how goroutines are interleaved by the Go runtime.
//     This part is not a simplification: it is real mutual exclusion.
//   - "Current" is, at all times, whichever task is at the head of the
//     ready queue (Sched.head). Every kernel entry point that changes
//     the ready queue recomputes this and broadcasts on Kernel.cond.
//   - A task becomes aware it is no longer current only at its next
//     checkpoint: a call back into the kernel (a blocking primitive,
//     Yield, Stop, ...), which is where it parks itself if it finds
//     Kernel.cur no longer pointing at it.
//
// The result: Kernel.Tick can make a higher-priority task ready and
// have it actually execute before the previously-current task's next
// kernel call, because that task's goroutine is woken and allowed to
// run immediately, but it cannot forcibly suspend whatever plain Go
// code the previously-current task is in the middle of outside a
// kernel call. That gap is real and is bounded: nothing about the
// kernel's own data is ever unsafe because of it, only the scheduling
// fidelity between checkpoints.
type Kernel struct {
	mu   sync.Mutex
	cond *sync.Cond

	port   Port
	config Config
	logger *logiface.Logger[*stumpy.Event]

	sched  *Sched
	timers *Timers

	idle *Task
	main *Task
	cur  *Task

	suspendQ WaitQ

	started bool
}

// NewKernel constructs a Kernel bound to port, applying opts over the
// default Config, mirroring the teacher's eventloop.New(opts...) shape.
func NewKernel(port Port, opts ...Option) (*Kernel, error) {
	if port == nil {
		return nil, ErrNilPort
	}
	settings, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	logger := settings.logger
	if logger == nil {
		logger = newDiscardLogger()
	}

	k := &Kernel{
		port:   port,
		config: settings.config,
		logger: logger,
		timers: newTimers(),
	}
	k.cond = sync.NewCond(&k.mu)

	idle := &Task{Name: "IDLE", k: k, done: make(chan struct{})}
	idle.entry = k.idleEntry
	k.sched = newSched(idle)
	k.idle = idle

	main := &Task{
		Name:     "MAIN",
		k:        k,
		basic:    settings.config.MainPriority,
		prio:     settings.config.MainPriority,
		joinable: false,
	}
	ringSelf(main)
	k.main = main
	k.cur = main
	k.sched.insert(main)

	go k.runTask(idle)

	return k, nil
}

// Current returns the task the kernel considers current. Before Run is
// called it is always the MAIN pseudo-task, matching ostask.c's MAIN
// global and spec's documented startup behavior.
func (k *Kernel) Current() *Task {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.started {
		return k.main
	}
	return k.cur
}

// Run starts the scheduler: ready tasks (including any spawned before
// Run) become eligible to execute, and the call blocks until MAIN
// itself is granted the CPU, at which point MAIN proceeds as an
// ordinary READY task pinned at Config.MainPriority.
func (k *Kernel) Run() {
	k.mu.Lock()
	k.started = true
	k.reschedulePick()
	for k.cur != k.main {
		k.cond.Wait()
	}
	k.mu.Unlock()
}

// reschedulePick recomputes the current task from the ready queue's
// head and wakes every goroutine parked on Kernel.cond so it can
// recheck whether it is now current. Must be called with k.mu held.
func (k *Kernel) reschedulePick() {
	if !k.started {
		return
	}
	k.cur = k.sched.head()
	k.cond.Broadcast()
}

// checkpointLocked is reschedulePick under a name that reads better at
// call sites that aren't themselves about picking a task (Flg.Give,
// Box.Kill, ...); the operation is identical.
func (k *Kernel) checkpointLocked() { k.reschedulePick() }

// wakeReady removes t from whatever timer entry it holds (a no-op if
// none) and inserts it into the ready queue as READY. Must be called
// with k.mu held; does not itself trigger reschedulePick, so callers
// that wake one or more tasks should call it once after the batch.
func (k *Kernel) wakeReady(t *Task) {
	k.timers.remove(t.timer)
	k.sched.insert(t)
}

// blockOn parks self into q (priority order) and, unless delay is
// Infinite, arms a timeout; removes self from the ready queue, recomputes
// current, and blocks (via Kernel.cond, which atomically releases k.mu)
// until self is both unlinked from q (woken) and either current again or
// STOPPED by Kill (which then reports EStopped). Must be called with k.mu
// held and self == k.cur; returns with k.mu held.
func (k *Kernel) blockOn(self *Task, q *WaitQ, delay Ticks) Event {
	return k.blockOnState(self, q, delay, stateDelayed)
}

func (k *Kernel) blockOnState(self *Task, q *WaitQ, delay Ticks, st taskState) Event {
	if k.port.IsISRContext() {
		panic("stateos: blocking call from ISR context")
	}
	if delay == Immediate {
		return ETimeout
	}
	q.append(self)
	self.id = st
	if delay != Infinite {
		k.timers.insertTask(self, k.port.Now()+delay)
		k.port.TmrForce()
	}
	k.sched.remove(self)
	k.reschedulePick()
	for self.guard != nil || (k.cur != self && !self.stopped) {
		k.cond.Wait()
	}
	return self.event
}

// runTask is every non-MAIN task's goroutine prologue/epilogue: wait
// for the very first turn, run Entry, then Stop — the trampoline
// described in spec §4.4 as tsk_loop ("returning from state... yields
// to equals; explicit stop is required to terminate" — here, returning
// from Entry performs that stop implicitly, since there is no caller to
// return control to).
func (k *Kernel) runTask(t *Task) {
	k.mu.Lock()
	for (!k.started || k.cur != t) && !t.stopped {
		k.cond.Wait()
	}
	if t.stopped {
		k.mu.Unlock()
		return
	}
	k.mu.Unlock()

	t.entry(t)

	k.Stop(t)
}

// idleEntry is IDLE's body: wait for an interrupt whenever nothing else
// is ready, per spec §5 ("The IDLE task, always last in the ready ring,
// executes a wait-for-interrupt instruction"). It never returns.
func (k *Kernel) idleEntry(self *Task) {
	for {
		k.mu.Lock()
		for k.sched.head() == self && k.cur == self {
			k.mu.Unlock()
			k.port.IdleWait()
			k.mu.Lock()
		}
		for k.cur != self {
			k.cond.Wait()
		}
		k.mu.Unlock()
	}
}

// Spawn creates and starts a new task at the given priority, running
// entry on its own goroutine. Grounded on ostask.c's tsk_init +
// core_tsk_insert.
func (k *Kernel) Spawn(name string, prio int, entry Entry) (*Task, error) {
	if entry == nil {
		return nil, ErrNilEntry
	}
	if prio <= 0 {
		return nil, configError("task priority must be positive (priority 0 is reserved for IDLE)")
	}
	t := &Task{
		Name:     name,
		k:        k,
		basic:    prio,
		prio:     prio,
		entry:    entry,
		joinable: true,
		done:     make(chan struct{}),
	}
	ringSelf(t)

	k.mu.Lock()
	k.sched.insert(t)
	k.reschedulePick()
	k.mu.Unlock()

	go k.runTask(t)
	return t, nil
}

// Sleep blocks self for delay ticks, waking with ETimeout once it
// elapses, or returns ETimeout immediately for Immediate. Grounded on
// ostask.c's tsk_waitFor used generically (no flag/mailbox object), the
// form spec §8 scenario 5 exercises directly: unlike a real task, which
// anchors on its own Hdr.obj.queue so a future tsk_give could also wake
// it, this rewrite has no such per-task signal API, so Sleep parks self
// on a queue private to the call.
func (k *Kernel) Sleep(self *Task, delay Ticks) Event {
	k.mu.Lock()
	defer k.mu.Unlock()
	var q WaitQ
	return k.blockOn(self, &q, delay)
}

// cntMaxHalf is spec §8's wraparound boundary: an absolute deadline
// farther than this from now is indistinguishable from one already in
// the past under modular arithmetic, so waitUntil treats it as due
// immediately rather than blocking for (effectively) a full counter
// revolution. Grounded on ostask.c's priv_tsk_waitUntil guard,
// "(cnt_t)(time - now) > (CNT_MAX/2)".
const cntMaxHalf = Infinite / 2

// untilDelay converts an absolute deadline abs into a delay relative to
// now, applying spec §8's waitUntil boundary rule: ok is false when the
// computed delay exceeds half the counter's range, in which case the
// caller must report ETimeout immediately instead of blocking.
func untilDelay(now, abs Ticks) (delay Ticks, ok bool) {
	delay = abs - now
	if delay > cntMaxHalf {
		return 0, false
	}
	return delay, true
}

// SleepUntil blocks self until the absolute tick deadline abs, or
// returns ETimeout immediately if abs is already due (or too far past
// to distinguish from the future, per untilDelay). The absolute-
// deadline counterpart to Sleep, grounded on ostask.c's tsk_waitUntil
// used generically, the same way Sleep generalizes tsk_waitFor.
func (k *Kernel) SleepUntil(self *Task, abs Ticks) Event {
	k.mu.Lock()
	defer k.mu.Unlock()
	delay, ok := untilDelay(k.port.Now(), abs)
	if !ok {
		return ETimeout
	}
	var q WaitQ
	return k.blockOn(self, &q, delay)
}

// Yield performs a cooperative, immediate context switch: self is moved
// behind any ready tasks of equal priority and the caller blocks until
// scheduled again. Grounded on ostask.c's tsk_yield / core_ctx_switchNow.
func (k *Kernel) Yield(self *Task) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.sched.rotate(self)
	k.reschedulePick()
	for k.cur != self {
		k.cond.Wait()
	}
}

// Flip replaces self's entry function and restarts it from scratch: per
// spec §4.4, this performs a context switch and relocates the stack
// pointer to the top of the task's stack, so the task's *next* schedule
// runs entry from a fresh call, with nothing of the old call frame
// surviving. This rewrite approximates that with runtime.Goexit after
// invoking entry directly: code after Flip in the caller's stack never
// resumes, and — matching the original exactly — Flip has no RAII
// semantics of its own (see DESIGN.md); unlike the original, deferred
// calls already on the Go stack above Flip's caller DO still run during
// the unwind, which a real stack-pointer reset would not do.
func (k *Kernel) Flip(self *Task, entry Entry) {
	k.mu.Lock()
	self.entry = entry
	k.mu.Unlock()

	entry(self)
	k.Stop(self)
	runtime.Goexit()
}

// SetPriority sets self's basic priority and recomputes its effective
// priority, re-sorting it in whichever structure currently holds it.
// The effective priority is set to the basic priority: each owned
// resource's Owner.Boost is called with it and the task Boost returns
// is recomputed in turn, but owned resources never raise the effective
// priority above the basic one.
// Grounded on ostask.c's tsk_prio / core_tsk_prio (the mutex-boost
// recursion itself lives in Task.owned / Owner.Boost, out of scope
// here per spec §1's Non-goals).
func (k *Kernel) SetPriority(self *Task, prio int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	self.basic = prio
	k.recomputePriority(self)
}

func (k *Kernel) recomputePriority(t *Task) {
	boosted := t.basic
	for _, o := range t.owned {
		if next := o.Boost(boosted); next != nil && next != t {
			k.recomputePriority(next)
		}
	}
	if boosted == t.prio {
		return
	}
	t.prio = boosted
	switch t.id {
	case stateReady:
		k.sched.remove(t)
		k.sched.insert(t)
	default:
		if t.guard != nil {
			t.transfer(t.guard)
		}
	}
	k.reschedulePick()
}

// Suspend moves self onto the dedicated suspend queue with an infinite
// deadline, per spec §4.4's tsk_suspend.
func (k *Kernel) Suspend(self *Task) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.blockOnState(self, &k.suspendQ, Infinite, stateIdle)
}

// Resume wakes t from Suspend. Valid only if t is currently linked into
// the suspend queue, matching tsk_resume's guard check in ostask.c.
func (k *Kernel) Resume(t *Task) Event {
	k.mu.Lock()
	defer k.mu.Unlock()
	if t.guard != &k.suspendQ {
		return ETimeout
	}
	t.unlink(ESuccess)
	k.wakeReady(t)
	k.reschedulePick()
	return ESuccess
}

// Stop terminates the calling task voluntarily: wakes a joiner (if any)
// with ESuccess, removes self from the ready queue, and marks it
// STOPPED. Grounded on ostask.c's tsk_stop.
func (k *Kernel) Stop(self *Task) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if self.id == stateStopped {
		return
	}
	joined := false
	if self.joinable {
		if w := self.joinQueue.popHighest(); w != nil {
			w.event = ESuccess
			k.wakeReady(w)
			joined = true
		}
	}
	if self.id == stateReady {
		k.sched.remove(self)
	}
	self.id = stateStopped
	self.stopped = true
	close(self.done)
	k.logTaskStopped(self, false, joined)
	k.reschedulePick()
}

// Kill forcibly terminates t: releases any owned resources (the
// priority-inheritance hook surface), wakes a joiner with EStopped, and
// removes t from whichever structure currently holds it. Grounded on
// ostask.c's tsk_kill. Note that if t's own goroutine is currently
// executing plain Go code rather than blocked in the kernel, Kill
// cannot halt it mid-flight — it stops scheduling t and answers its
// next checkpoint with the fact that it is STOPPED, per the checkpoint
// model documented on Kernel itself.
func (k *Kernel) Kill(t *Task) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if t.id == stateStopped {
		return
	}
	for _, o := range t.owned {
		o.Boost(0)
	}
	t.owned = nil

	joined := false
	if t.joinable {
		if w := t.joinQueue.popHighest(); w != nil {
			w.event = EStopped
			k.wakeReady(w)
			joined = true
		}
	}

	switch t.id {
	case stateReady:
		k.sched.remove(t)
	case stateDelayed, stateIdle:
		t.unlink(EStopped)
		k.timers.remove(t.timer)
	}
	t.id = stateStopped
	t.stopped = true
	close(t.done)
	k.logTaskStopped(t, true, joined)
	k.reschedulePick()
	k.cond.Broadcast()
}

// Detach marks t non-joinable, waking any task already blocked in Join
// with ETimeout (matching tsk_detach's convention that a detach racing
// a pending join reports timeout to the joiner, not success).
func (k *Kernel) Detach(t *Task) Event {
	k.mu.Lock()
	defer k.mu.Unlock()
	if t.id == stateStopped || !t.joinable {
		return ETimeout
	}
	if w := t.joinQueue.popHighest(); w != nil {
		w.event = ETimeout
		k.wakeReady(w)
		k.reschedulePick()
	}
	t.joinable = false
	return ESuccess
}

// Join blocks self until t stops, returning ESuccess once it has, or
// ETimeout immediately if t is not joinable. Grounded on ostask.c's
// tsk_join.
func (k *Kernel) Join(self, t *Task) Event {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !t.joinable {
		return ETimeout
	}
	if t.id == stateStopped {
		return ESuccess
	}
	return k.blockOn(self, &t.joinQueue, Infinite)
}

// Tick advances the kernel by one tick: expired timers and delayed
// tasks are woken, and (when the periodic-tick strategy is in effect)
// round-robin slice accounting is applied to whichever task is current.
// Grounded on oskernel.c's core_tmr_handler.
func (k *Kernel) Tick() {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.port.Now()
	k.processExpired(now)
	if !k.config.ticklessEnabled() && k.started {
		cur := k.sched.head()
		if cur != k.idle {
			cur.sliceRemaining++
			if slice := k.config.sliceTicks(); slice > 0 && cur.sliceRemaining >= slice {
				cur.sliceRemaining = 0
				k.sched.rotate(cur)
				k.reschedulePick()
			}
		}
	}
}

// processExpired pops every timer entry whose deadline has passed and
// handles it: DELAYED tasks wake with ETimeout, user Timers run their
// callback and, if periodic, are re-armed. A periodic timer that missed
// more than one period in a row fires once per missed period — the
// outer loop naturally re-examines the same Timer after re-insertion —
// matching core_tmr_handler exactly (see DESIGN.md's Open Question
// resolution). Must be called with k.mu held.
func (k *Kernel) processExpired(now Ticks) {
	fireCounts := make(map[*Timer]int)
	for !k.timers.empty() {
		e := k.timers.h[0]
		if !expired(e.deadline, now) {
			break
		}
		heap.Pop(&k.timers.h)
		e.index = -1
		switch e.kind {
		case timerKindTask:
			t := e.task
			t.timer = nil
			t.unlink(ETimeout)
			k.wakeReady(t)
		case timerKindUser:
			tm := e.timer
			tm.entry = nil
			if tm.callback != nil {
				tm.callback()
			}
			if tm.period > 0 {
				// Matches core_tmr_handler exactly: the first re-arm
				// advances start by the delay that actually elapsed to
				// this fire (which may differ from period), then every
				// subsequent fire advances by period. Advancing by
				// period unconditionally here would double-count an
				// initial delay != period.
				tm.start += tm.delay
				tm.delay = tm.period
				k.timers.insertUser(tm, tm.start+tm.delay)
				fireCounts[tm]++
			}
		}
	}
	for tm, n := range fireCounts {
		if n > 1 {
			k.logTimerDropped(tm.Name, n-1)
		}
	}
	k.reschedulePick()
	if k.config.ticklessEnabled() {
		if d, ok := k.timers.nextDeadline(); ok {
			k.port.TmrStart(d)
		} else {
			k.port.TmrStop()
		}
	}
}

// NewTimer creates a user timer; it does nothing until StartTimer is
// called.
func (k *Kernel) NewTimer(name string, callback func()) *Timer {
	return &Timer{Name: name, callback: callback}
}

// StartTimer (re)arms tm to fire after delay ticks, repeating every
// period ticks thereafter if period is non-zero.
func (k *Kernel) StartTimer(tm *Timer, delay, period Ticks) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if tm.entry != nil {
		k.timers.remove(tm.entry)
	}
	tm.start = k.port.Now()
	tm.delay = delay
	tm.period = period
	if delay == Infinite {
		return
	}
	k.timers.insertUser(tm, tm.start+delay)
	k.port.TmrForce()
}

// StopTimer cancels tm. A no-op if tm is not currently armed.
func (k *Kernel) StopTimer(tm *Timer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.timers.remove(tm.entry)
}

// Done returns a channel closed once t reaches STOPPED, for tests and
// Port implementations that need to observe task completion without
// polling State().
func (t *Task) Done() <-chan struct{} { return t.done }
