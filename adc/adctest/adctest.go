// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package adctest implements a simulated converter.
package adctest

import (
	"github.com/GermanBionicSystems/epdclock/adc"
)

// Sim implements adc.Controller. Results are read from Channels.
type Sim struct {
	// Channels holds the value returned for each channel number.
	Channels map[int]uint16
	// NeverReady keeps the ready flag low after Enable.
	NeverReady bool
	// StuckCalibration keeps the calibration running forever.
	StuckCalibration bool

	Regulator   bool
	Calibrated  int
	Conversions int

	enabled  bool
	ready    bool
	cal      bool
	seq      []int
	pos      int
	running  bool
}

func (s *Sim) String() string {
	return "adcsim"
}

// SetRegulator implements adc.Controller.
func (s *Sim) SetRegulator(on bool) { s.Regulator = on }

// Enable implements adc.Controller.
func (s *Sim) Enable() {
	s.enabled = true
	s.ready = !s.NeverReady && s.Regulator
}

// Disable implements adc.Controller.
func (s *Sim) Disable() { s.enabled = false }

// Enabled implements adc.Controller.
func (s *Sim) Enabled() bool { return s.enabled }

// Ready implements adc.Controller.
func (s *Sim) Ready() bool { return s.ready }

// ClearReady implements adc.Controller.
func (s *Sim) ClearReady() { s.ready = false }

// Converting implements adc.Controller.
func (s *Sim) Converting() bool { return s.running }

// StopConversion implements adc.Controller.
func (s *Sim) StopConversion() { s.running = false }

// StartCalibration implements adc.Controller.
func (s *Sim) StartCalibration() {
	s.cal = s.StuckCalibration
	if !s.cal {
		s.Calibrated++
	}
}

// Calibrating implements adc.Controller.
func (s *Sim) Calibrating() bool { return s.cal }

// Select implements adc.Controller.
func (s *Sim) Select(channels []int) { s.seq = append(s.seq[:0], channels...) }

// StartConversion implements adc.Controller.
func (s *Sim) StartConversion() {
	s.pos = 0
	s.running = len(s.seq) != 0
	s.Conversions++
}

// EndOfConversion implements adc.Controller.
func (s *Sim) EndOfConversion() bool { return s.running && s.pos < len(s.seq) }

// Data implements adc.Controller.
func (s *Sim) Data() uint16 {
	if s.pos >= len(s.seq) {
		return 0
	}
	v := s.Channels[s.seq[s.pos]]
	s.pos++
	if s.pos == len(s.seq) {
		s.running = false
	}
	return v
}

var _ adc.Controller = &Sim{}
