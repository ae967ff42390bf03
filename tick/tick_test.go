// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package tick_test

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GermanBionicSystems/epdclock/fault"
	"github.com/GermanBionicSystems/epdclock/tick"
	"github.com/GermanBionicSystems/epdclock/tick/ticktest"
)

func TestBudget(t *testing.T) {
	for _, tc := range []struct {
		d    time.Duration
		want uint32
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Microsecond, 1},
		{time.Millisecond, 1},
		{1500 * time.Microsecond, 2},
		{time.Second, 1000},
	} {
		assert.Equal(t, tc.want, tick.Budget(tc.d), "Budget(%s)", tc.d)
	}
}

func TestGuardZeroBudget(t *testing.T) {
	src := ticktest.Never()
	var g tick.Guard
	g.Start(src, 0)
	assert.True(t, g.Expired())
	assert.Zero(t, src.Samples(), "a zero budget must not sample the flag")

	var zero tick.Guard
	assert.True(t, zero.Expired())
}

func TestGuardDiscardsStaleFlag(t *testing.T) {
	// The flag is set when the guard starts. It must not count.
	src := &ticktest.Script{Flags: []bool{true, false, true}}
	var g tick.Guard
	g.Start(src, 1)
	assert.False(t, g.Expired())
	assert.True(t, g.Expired())
}

func TestGuardMonotonic(t *testing.T) {
	for _, budget := range []uint32{1, 2, 7, 100} {
		src := ticktest.Always()
		var g tick.Guard
		g.Start(src, budget)
		polls := uint32(0)
		for !g.Expired() {
			polls++
			require.Less(t, polls, budget, "guard did not expire")
		}
		assert.Equal(t, budget-1, polls)
		// Once expired it stays expired.
		for i := 0; i < 3; i++ {
			assert.True(t, g.Expired())
		}
		assert.Zero(t, g.Remaining())
	}
}

func TestGuardNeverExpiresEarly(t *testing.T) {
	src := &ticktest.Every{N: 3}
	var g tick.Guard
	g.Start(src, 4)
	n := 0
	for !g.Expired() {
		n++
	}
	// One discarded sample in Start, then 4 ticks every 3 samples.
	assert.Equal(t, 10, n)
	assert.EqualValues(t, 12, src.Samples())
}

func TestWait(t *testing.T) {
	t.Run("condition met", func(t *testing.T) {
		src := ticktest.Always()
		assert.NoError(t, tick.Wait(src, 0, func() bool { return false }))
	})
	t.Run("condition met late", func(t *testing.T) {
		n := 0
		err := tick.Wait(ticktest.Never(), 5, func() bool {
			n++
			return n < 50
		})
		assert.NoError(t, err)
		assert.Equal(t, 50, n)
	})
	t.Run("timeout", func(t *testing.T) {
		err := tick.Wait(ticktest.Always(), 10, func() bool { return true })
		assert.ErrorIs(t, err, fault.ErrTimeout)
	})
}

func TestClock(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c := tick.NewClock(clk)
	assert.False(t, c.Ticked())

	clk.Advance(500 * time.Microsecond)
	assert.False(t, c.Ticked())
	clk.Advance(500 * time.Microsecond)
	assert.True(t, c.Ticked())
	assert.False(t, c.Ticked(), "reading clears the flag")

	// Several elapsed periods collapse into one observation.
	clk.Advance(10 * time.Millisecond)
	assert.True(t, c.Ticked())
	assert.False(t, c.Ticked())

	// Remainder of a partial period is kept.
	clk.Advance(1500 * time.Microsecond)
	assert.True(t, c.Ticked())
	clk.Advance(500 * time.Microsecond)
	assert.True(t, c.Ticked())
}

func TestClockPeriod(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c := tick.NewClockPeriod(clk, 10*time.Millisecond)
	clk.Advance(9 * time.Millisecond)
	assert.False(t, c.Ticked())
	clk.Advance(time.Millisecond)
	assert.True(t, c.Ticked())
	assert.Equal(t, "tick.Clock(10ms)", c.String())
}
