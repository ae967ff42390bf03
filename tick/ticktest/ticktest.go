// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ticktest implements deterministic tick sources for unit tests.
package ticktest

import (
	"github.com/GermanBionicSystems/epdclock/internal/syncutil"
	"github.com/GermanBionicSystems/epdclock/tick"
)

// Every is a Source whose flag is set once every N samples.
//
// N == 0 never ticks. N == 1 ticks on every sample.
type Every struct {
	N uint32

	mu      syncutil.Mutex
	samples uint64
}

// Ticked implements tick.Source.
func (e *Every) Ticked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.samples++
	if e.N == 0 {
		return false
	}
	return e.samples%uint64(e.N) == 0
}

// Samples returns the number of times the flag was sampled.
func (e *Every) Samples() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.samples
}

// Always returns a Source ticking on every sample, the fastest possible
// expiry of a guard.
func Always() *Every {
	return &Every{N: 1}
}

// Never returns a Source that never ticks.
func Never() *Every {
	return &Every{}
}

// Script is a Source replaying a fixed sequence of flag values, then
// returning Tail forever.
type Script struct {
	Flags []bool
	Tail  bool

	mu  syncutil.Mutex
	pos int
}

// Ticked implements tick.Source.
func (s *Script) Ticked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos < len(s.Flags) {
		f := s.Flags[s.pos]
		s.pos++
		return f
	}
	return s.Tail
}

var _ tick.Source = &Every{}
var _ tick.Source = &Script{}
