// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package tick bounds every busy-wait of the clock drivers.
//
// A Source exposes a tick flag with count-flag semantics: sampling it
// reports whether at least one tick period elapsed since the previous
// sample and clears it. Several periods elapsed between two samples count
// as a single tick, so a Guard never expires early; it may only expire late
// when the caller samples less often than once per period.
package tick

import (
	"runtime"
	"time"

	"github.com/GermanBionicSystems/epdclock/fault"
)

// Period is the nominal duration of one tick.
const Period = time.Millisecond

// Source is a free-running tick counter.
type Source interface {
	// Ticked returns true if the tick flag was set since the previous call.
	// Reading clears the flag.
	Ticked() bool
}

// Budget converts d into a number of ticks, rounding up. It returns 0 for
// d <= 0.
func Budget(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	n := (d + Period - 1) / Period
	if n > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(n)
}

// Guard counts tick occurrences against a budget.
//
// The zero value is expired.
type Guard struct {
	src       Source
	remaining uint32
}

// Start arms g with budget ticks of src. A stale flag left over from before
// Start is discarded. A budget of 0 is expired immediately.
func (g *Guard) Start(src Source, budget uint32) {
	g.src = src
	g.remaining = budget
	if budget != 0 {
		src.Ticked()
	}
}

// Expired samples the tick flag once and returns true once the budget was
// consumed. It keeps returning true afterwards.
func (g *Guard) Expired() bool {
	if g.remaining == 0 {
		return true
	}
	if g.src.Ticked() {
		g.remaining--
	}
	return g.remaining == 0
}

// Remaining returns the number of ticks left.
func (g *Guard) Remaining() uint32 {
	return g.remaining
}

// Wait polls pending until it returns false or budget ticks elapsed.
//
// The condition is evaluated before the guard so a condition that is already
// met never times out. Returns fault.ErrTimeout on expiry.
func Wait(src Source, budget uint32, pending func() bool) error {
	var g Guard
	g.Start(src, budget)
	for pending() {
		if g.Expired() {
			return fault.ErrTimeout
		}
		runtime.Gosched()
	}
	return nil
}
