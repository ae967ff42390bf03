// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package fault defines the error taxonomy shared by every driver of the
// clock: bounded waits that expired, misbehaving buses, peripherals asked to
// work before they were brought up, and failures that survived recovery.
//
// Drivers wrap one of the sentinel errors in an *Error so callers can both
// print a useful message and branch with errors.Is.
package fault

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when a bounded wait expired.
	ErrTimeout = errors.New("timeout")
	// ErrBusFault is returned when a bus transaction failed in a way the
	// transport recovered from (NACK, arbitration, stuck line released).
	ErrBusFault = errors.New("bus fault")
	// ErrNotReady is returned when an operation is attempted before the
	// peripheral reached the required state.
	ErrNotReady = errors.New("not ready")
	// ErrHardFail is returned when recovery itself failed. It is never
	// retried.
	ErrHardFail = errors.New("hard failure")
	// ErrNACK is the bus fault reported when the addressed device did not
	// acknowledge.
	ErrNACK = fmt.Errorf("nack: %w", ErrBusFault)
)

// Kind is the category of an error, used for logging and retry decisions.
type Kind int

const (
	// KindNone is returned for a nil error.
	KindNone Kind = iota
	// KindTimeout is a bounded wait that expired.
	KindTimeout
	// KindBusFault is a recovered bus error.
	KindBusFault
	// KindNotReady is a premature operation.
	KindNotReady
	// KindHardFail is an unrecovered failure.
	KindHardFail
	// KindOther is any error outside of the taxonomy, like a GPIO driver
	// failure.
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTimeout:
		return "timeout"
	case KindBusFault:
		return "bus-fault"
	case KindNotReady:
		return "not-ready"
	case KindHardFail:
		return "hard-fail"
	default:
		return "other"
	}
}

// KindOf classifies err. HardFail wins over every other category since a
// hard failure may wrap the timeout that caused it.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrHardFail):
		return KindHardFail
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrBusFault):
		return KindBusFault
	case errors.Is(err, ErrNotReady):
		return KindNotReady
	default:
		return KindOther
	}
}

// Error wraps a failure with the operation and the device it happened on.
type Error struct {
	Op  string // Operation that failed, e.g. "start" or "show"
	Dev string // Device or bus identifier
	Err error  // Underlying error
}

func (e *Error) Error() string {
	if e.Dev != "" {
		return fmt.Sprintf("%s %s: %v", e.Dev, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns nil when err is nil, an *Error otherwise.
func Wrap(dev, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Dev: dev, Err: err}
}

// Recoverable reports whether the failed operation may be attempted once
// more: the transport already ran its recovery and the bus is usable.
func Recoverable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindBusFault:
		return true
	default:
		return false
	}
}

// Retry runs op and, if it failed with a recoverable error, runs it exactly
// once more. The error of the last attempt is returned.
func Retry(op func() error) error {
	err := op()
	if !Recoverable(err) {
		return err
	}
	return op()
}
