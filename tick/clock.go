// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package tick

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is a Source driven by a clockwork.Clock.
//
// It only compares successive readings of the clock, so it counts periods
// the way a hardware down-counter would and a clock stepping backward never
// produces a tick.
type Clock struct {
	clk    clockwork.Clock
	period time.Duration
	mark   time.Time
}

// NewClock returns a Source ticking every Period on clk. A nil clk selects
// the real clock.
func NewClock(clk clockwork.Clock) *Clock {
	return NewClockPeriod(clk, Period)
}

// NewClockPeriod returns a Source ticking every period on clk.
func NewClockPeriod(clk clockwork.Clock, period time.Duration) *Clock {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if period <= 0 {
		period = Period
	}
	return &Clock{clk: clk, period: period, mark: clk.Now()}
}

// Ticked implements Source.
func (c *Clock) Ticked() bool {
	now := c.clk.Now()
	elapsed := now.Sub(c.mark)
	if elapsed < c.period {
		if elapsed < 0 {
			c.mark = now
		}
		return false
	}
	c.mark = c.mark.Add(elapsed / c.period * c.period)
	return true
}

func (c *Clock) String() string {
	return "tick.Clock(" + c.period.String() + ")"
}

var _ Source = &Clock{}
