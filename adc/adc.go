// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package adc sequences the on-chip analog-to-digital converter: power up,
// calibration, single conversion sequences and power down, every step
// bounded by a tick.Guard.
//
// Only raw counts are returned. Turning them into volts is the caller's
// business.
package adc

import (
	"errors"
	"fmt"
	"time"

	"github.com/GermanBionicSystems/epdclock/fault"
	"github.com/GermanBionicSystems/epdclock/tick"
)

// Controller is the register-level view of the converter.
type Controller interface {
	String() string
	// SetRegulator powers the internal voltage regulator.
	SetRegulator(on bool)
	// Enable requests the converter on. Ready reports completion.
	Enable()
	// Disable requests the converter off. Enabled reports completion.
	Disable()
	Enabled() bool
	// Ready returns the ready flag.
	Ready() bool
	// ClearReady acknowledges the ready flag.
	ClearReady()
	// Converting returns true while a conversion sequence runs.
	Converting() bool
	// StopConversion aborts the running sequence.
	StopConversion()
	// StartCalibration starts the self calibration. Calibrating reports
	// completion.
	StartCalibration()
	Calibrating() bool
	// Select sets the channels of the conversion sequence.
	Select(channels []int)
	// StartConversion starts a single conversion sequence.
	StartConversion()
	// EndOfConversion returns true when a channel result is available.
	EndOfConversion() bool
	// Data reads the result of the last converted channel and clears
	// EndOfConversion.
	Data() uint16
}

// Opts is the converter configuration.
type Opts struct {
	// Timeout bounds every wait on a converter flag.
	Timeout time.Duration
}

// DefaultOpts is the configuration of the clock board.
var DefaultOpts = Opts{Timeout: 100 * time.Millisecond}

// Dev is a converter handle.
type Dev struct {
	ctrl   Controller
	ticks  tick.Source
	budget uint32
}

// New returns a handle on ctrl.
func New(ctrl Controller, ticks tick.Source, opts *Opts) (*Dev, error) {
	if ctrl == nil || ticks == nil {
		return nil, errors.New("adc: controller and tick source are required")
	}
	if opts == nil {
		opts = &DefaultOpts
	}
	if opts.Timeout <= 0 {
		return nil, errors.New("adc: timeout must be positive")
	}
	return &Dev{ctrl: ctrl, ticks: ticks, budget: tick.Budget(opts.Timeout)}, nil
}

func (d *Dev) String() string {
	return d.ctrl.String()
}

// Enable powers the converter and waits for it to be ready.
func (d *Dev) Enable() error {
	d.ctrl.ClearReady()
	d.ctrl.SetRegulator(true)
	d.ctrl.Enable()
	return d.wait("enable", func() bool { return !d.ctrl.Ready() })
}

// Disable stops any running sequence and powers the converter down.
func (d *Dev) Disable() error {
	if d.ctrl.Converting() {
		d.ctrl.StopConversion()
		if err := d.wait("disable", d.ctrl.Converting); err != nil {
			return err
		}
	}
	if d.ctrl.Enabled() {
		d.ctrl.Disable()
		if err := d.wait("disable", d.ctrl.Enabled); err != nil {
			return err
		}
	}
	d.ctrl.ClearReady()
	d.ctrl.SetRegulator(false)
	return nil
}

// Calibrate runs the self calibration. The converter must be disabled.
func (d *Dev) Calibrate() error {
	if d.ctrl.Enabled() {
		return fault.Wrap(d.ctrl.String(), "calibrate", fmt.Errorf("%w: converter is enabled", fault.ErrNotReady))
	}
	d.ctrl.StartCalibration()
	return d.wait("calibrate", d.ctrl.Calibrating)
}

// Convert runs one conversion sequence over channels and returns the raw
// counts in the same order. The converter must be enabled and ready.
func (d *Dev) Convert(channels ...int) ([]uint16, error) {
	if len(channels) == 0 {
		return nil, nil
	}
	if !d.ctrl.Ready() {
		return nil, fault.Wrap(d.ctrl.String(), "convert", fmt.Errorf("%w: converter is not ready", fault.ErrNotReady))
	}
	d.ctrl.Select(channels)
	d.ctrl.StartConversion()
	out := make([]uint16, len(channels))
	for i := range channels {
		if err := d.wait("convert", func() bool { return !d.ctrl.EndOfConversion() }); err != nil {
			return nil, err
		}
		out[i] = d.ctrl.Data()
	}
	return out, nil
}

// Suspend powers the converter down before a low-power state.
func (d *Dev) Suspend() error {
	return d.Disable()
}

// Resume powers the converter up after a low-power state. The calibration
// is kept by the converter.
func (d *Dev) Resume() error {
	return d.Enable()
}

func (d *Dev) wait(op string, pending func() bool) error {
	return fault.Wrap(d.ctrl.String(), op, tick.Wait(d.ticks, d.budget, pending))
}
