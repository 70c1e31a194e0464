// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package stateos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlgWaitImmediateSuccessConsumesBits(t *testing.T) {
	k, _ := newTestKernel(t)
	flg := k.NewFlg("f", 0)
	flg.Give(0x1)

	result := make(chan Event, 1)
	_, err := k.Spawn("t", 5, func(self *Task) {
		result <- flg.Wait(self, 0x1, ModeAny|ModeAccept, Immediate)
	})
	require.NoError(t, err)
	k.Run()

	select {
	case ev := <-result:
		assert.Equal(t, ESuccess, ev)
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
	assert.Equal(t, uint32(0), flg.Peek())
}

func TestFlgWaitAllRequiresEveryBit(t *testing.T) {
	k, _ := newTestKernel(t)
	flg := k.NewFlg("f", 0)

	result := make(chan Event, 1)
	_, err := k.Spawn("t", 5, func(self *Task) {
		result <- flg.Wait(self, 0x3, ModeAll, Infinite)
	})
	require.NoError(t, err)
	k.Run()
	time.Sleep(20 * time.Millisecond)

	flg.Give(0x1)
	select {
	case <-result:
		t.Fatal("woke on a partial match under ModeAll")
	case <-time.After(20 * time.Millisecond):
	}
	// Give's consume step clears the waiter's whole pending mask (0x3),
	// not just the bit just posted, so flags reads back 0 here even
	// though the waiter is still blocked on the other bit — see
	// DESIGN.md's note on os_flg.c's flg_give loop.
	assert.Equal(t, uint32(0), flg.Peek())

	flg.Give(0x2)
	select {
	case ev := <-result:
		assert.Equal(t, ESuccess, ev)
	case <-time.After(time.Second):
		t.Fatal("task never woke once all bits were posted")
	}
	assert.Equal(t, uint32(0), flg.Peek())
}

func TestFlgWaitUntilBlocksThenWakesOnGive(t *testing.T) {
	k, _ := newTestKernel(t)
	flg := k.NewFlg("f", 0)

	result := make(chan Event, 1)
	_, err := k.Spawn("t", 5, func(self *Task) {
		// abs (100) is ahead of now (0) and no tick is ever driven, so
		// only the Give below can end the wait.
		result <- flg.WaitUntil(self, 0x1, ModeAny, 100)
	})
	require.NoError(t, err)
	k.Run()
	time.Sleep(20 * time.Millisecond)

	// If WaitUntil (or the internal body it shares with Wait) ever left
	// f.k.mu held on the blocking path, this Give would deadlock here.
	flg.Give(0x1)
	select {
	case ev := <-result:
		assert.Equal(t, ESuccess, ev)
	case <-time.After(time.Second):
		t.Fatal("task never woke after Give")
	}
}

func TestFlgWaitUntilPastDeadlineReturnsImmediately(t *testing.T) {
	k, p := newTestKernel(t)
	p.now.Add(20)
	flg := k.NewFlg("f", 0)

	result := make(chan Event, 1)
	_, err := k.Spawn("t", 5, func(self *Task) {
		// abs (10) is already behind now (20): must report ETimeout
		// without ever blocking, per untilDelay's boundary rule.
		result <- flg.WaitUntil(self, 0x1, ModeAny, 10)
	})
	require.NoError(t, err)
	k.Run()

	select {
	case ev := <-result:
		assert.Equal(t, ETimeout, ev)
	case <-time.After(time.Second):
		t.Fatal("WaitUntil with a past deadline never returned")
	}
}

func TestFlgGiveWakesAnyModeOnFirstMatchingBit(t *testing.T) {
	k, _ := newTestKernel(t)
	flg := k.NewFlg("f", 0)

	result := make(chan Event, 1)
	_, err := k.Spawn("t", 5, func(self *Task) {
		result <- flg.Wait(self, 0x1, ModeAny|ModeAccept, Infinite)
	})
	require.NoError(t, err)
	k.Run()
	time.Sleep(20 * time.Millisecond)

	flg.Give(0x1)
	select {
	case ev := <-result:
		assert.Equal(t, ESuccess, ev)
	case <-time.After(time.Second):
		t.Fatal("task never woke")
	}
	assert.Equal(t, uint32(0), flg.Peek())
}

func TestFlgModeProtectLeavesBitsSet(t *testing.T) {
	k, _ := newTestKernel(t)
	flg := k.NewFlg("f", 0)
	flg.Give(0x1)

	result := make(chan Event, 1)
	_, err := k.Spawn("t", 5, func(self *Task) {
		result <- flg.Wait(self, 0x1, ModeAny|ModeAccept|ModeProtect, Immediate)
	})
	require.NoError(t, err)
	k.Run()

	select {
	case ev := <-result:
		assert.Equal(t, ESuccess, ev)
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
	assert.Equal(t, uint32(0x1), flg.Peek())
}

func TestFlgKillWakesAllWaitersWithEStoppedInPriorityOrder(t *testing.T) {
	k, _ := newTestKernel(t)
	flg := k.NewFlg("f", 0)

	const n = 5
	results := make(chan struct {
		prio int
		ev   Event
	}, n)
	for i := 0; i < n; i++ {
		prio := i + 2 // start above MAIN's default priority (1) so every waiter actually gets to run
		_, err := k.Spawn("t", prio, func(self *Task) {
			ev := flg.Wait(self, uint32(1<<uint(prio)), ModeAny, Infinite)
			results <- struct {
				prio int
				ev   Event
			}{prio, ev}
		})
		require.NoError(t, err)
	}
	k.Run()
	time.Sleep(20 * time.Millisecond)

	flg.Kill()

	for i := 0; i < n; i++ {
		select {
		case r := <-results:
			assert.Equal(t, EStopped, r.ev)
			assert.Equal(t, n+1-i, r.prio, "waiters must wake highest priority first")
		case <-time.After(time.Second):
			t.Fatalf("waiter %d never woke", i)
		}
	}
}
