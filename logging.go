// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package stateos

import (
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// newDiscardLogger builds the logger used when a Kernel is constructed
// without WithLogger: a real logiface.Logger backed by stumpy, writing
// to a no-op writer. This mirrors the teacher's own stance that a logger
// is never required to exercise core behavior, while still giving
// internal call sites a concrete, always-non-nil *logiface.Logger to
// call methods on instead of nil-checking at every log site.
func newDiscardLogger() *logiface.Logger[*stumpy.Event] {
	return stumpy.L.New(
		stumpy.L.WithWriter(logiface.WriterFunc[*stumpy.Event](func(*stumpy.Event) error {
			return nil
		})),
	)
}

// logTaskStopped records a task reaching STOPPED, whether via Stop or
// Kill, and how its join result was delivered.
func (k *Kernel) logTaskStopped(t *Task, killed bool, joined bool) {
	evt := k.logger.Notice()
	if killed {
		evt = k.logger.Warning()
	}
	evt.Str(`task`, t.Name).
		Bool(`killed`, killed).
		Bool(`joined`, joined).
		Log(`task stopped`)
}

// logObjectKilled records Flg.Kill/Box.Kill broadcasting EStopped.
func (k *Kernel) logObjectKilled(kind, name string, waiters int) {
	k.logger.Notice().
		Str(`kind`, kind).
		Str(`object`, name).
		Int(`waiters`, waiters).
		Log(`object killed`)
}

// logTimerDropped records a periodic timer whose callback overran one or
// more full periods, per the catch-up behavior documented in DESIGN.md.
func (k *Kernel) logTimerDropped(name string, missedPeriods int) {
	if missedPeriods <= 0 {
		return
	}
	k.logger.Warning().
		Str(`timer`, name).
		Int(`missed`, missedPeriods).
		Log(`periodic timer fell behind`)
}
