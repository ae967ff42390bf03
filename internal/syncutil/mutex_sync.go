// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build !deadlock

// Package syncutil provides mutex types that can optionally use deadlock
// detection.
//
// The simulators of this module are touched both by the code under test and
// by goroutines standing in for interrupts. Build with -tags=deadlock to run
// them under github.com/sasha-s/go-deadlock.
package syncutil

import "sync"

// Mutex wraps sync.Mutex.
type Mutex struct {
	sync.Mutex
}
