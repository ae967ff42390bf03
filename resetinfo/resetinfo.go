// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package resetinfo classifies why the chip started.
//
// The flags are read once at boot and cleared, so a second Classify in the
// same boot returns Unknown. Callers cache the Cause.
package resetinfo

import "fmt"

// Cause is the reason the program started.
type Cause int

const (
	// Unknown is reported when no flag was set, like on a second read.
	Unknown Cause = iota
	// PowerOn is a power on or brown out reset: the battery was inserted.
	PowerOn
	// ExternalReset covers the reset pin, the watchdogs, software and
	// option byte resets.
	ExternalReset
	// WakeFromStandby is a wake up from Standby.
	WakeFromStandby
)

func (c Cause) String() string {
	switch c {
	case Unknown:
		return "Unknown"
	case PowerOn:
		return "PowerOn"
	case ExternalReset:
		return "ExternalReset"
	case WakeFromStandby:
		return "WakeFromStandby"
	default:
		return fmt.Sprintf("Cause(%d)", int(c))
	}
}

// Flags is the view of the reset and standby flags.
type Flags interface {
	// PowerOnReset returns the power on reset flag.
	PowerOnReset() bool
	// ResetGroup returns the reset cause flags, zero when none is set.
	ResetGroup() uint8
	// StandbyWake returns the flag set by a wake up from Standby.
	StandbyWake() bool
	// ClearStandby clears the standby wake up flag.
	ClearStandby()
	// ClearResets clears every reset cause flag, power on included.
	ClearResets()
}

// Classify returns the first matching cause: power on, then any other
// reset, then a standby wake up. The flags are cleared in every case.
func Classify(f Flags) Cause {
	c := Unknown
	switch {
	case f.PowerOnReset():
		c = PowerOn
	case f.ResetGroup() != 0:
		c = ExternalReset
	case f.StandbyWake():
		c = WakeFromStandby
	}
	f.ClearStandby()
	f.ClearResets()
	return c
}

// Bits of the RCC control/status register.
const (
	CSRLowPowerReset  uint32 = 1 << 31
	CSRWindowWatchdog uint32 = 1 << 30
	CSRWatchdog       uint32 = 1 << 29
	CSRSoftware       uint32 = 1 << 28
	CSRPowerOn        uint32 = 1 << 27
	CSRPin            uint32 = 1 << 26
	CSROptionBytes    uint32 = 1 << 25
	CSRFirewall       uint32 = 1 << 24

	csrResetGroup uint32 = 0xFF000000
)

// PWRStandby is the standby flag of the PWR control/status register.
const PWRStandby uint32 = 1 << 1

// Registers implements Flags over copies of the RCC and PWR control/status
// registers.
type Registers struct {
	RCC uint32
	PWR uint32
}

// PowerOnReset implements Flags.
func (r *Registers) PowerOnReset() bool {
	return r.RCC&CSRPowerOn != 0
}

// ResetGroup implements Flags.
func (r *Registers) ResetGroup() uint8 {
	return uint8((r.RCC & csrResetGroup) >> 24)
}

// StandbyWake implements Flags.
func (r *Registers) StandbyWake() bool {
	return r.PWR&PWRStandby != 0
}

// ClearStandby implements Flags.
func (r *Registers) ClearStandby() {
	r.PWR &^= PWRStandby
}

// ClearResets implements Flags.
func (r *Registers) ClearResets() {
	r.RCC &^= csrResetGroup
}

var _ Flags = &Registers{}
