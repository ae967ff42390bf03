// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package i2cbustest implements a simulated I²C peripheral, its two lines
// and the devices behind them.
//
// The simulation is not cycle accurate. It models what the transport can
// observe: status flags, ownership of the lines and a slave holding SDA low
// until it sees enough clock pulses.
package i2cbustest

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"

	"github.com/GermanBionicSystems/epdclock/i2cbus"
	"github.com/GermanBionicSystems/epdclock/internal/syncutil"
)

// Device answers the transactions sent to one address.
type Device interface {
	// Write receives the bytes of a completed write phase.
	Write(w []byte)
	// Read returns the next byte of a read phase.
	Read() byte
}

// Mem is a Device replaying Reply on reads and recording writes.
type Mem struct {
	Reply   []byte
	Written [][]byte

	pos int
}

// Write implements Device.
func (m *Mem) Write(w []byte) {
	m.Written = append(m.Written, append([]byte(nil), w...))
	m.pos = 0
}

// Read implements Device. It wraps around Reply and returns 0xFF when Reply
// is empty, like an idle bus.
func (m *Mem) Read() byte {
	if len(m.Reply) == 0 {
		return 0xFF
	}
	v := m.Reply[m.pos%len(m.Reply)]
	m.pos++
	return v
}

// Regs is a Device exposing a register file with an auto-incremented
// pointer, like most sensors and RTCs. The first byte of a write sets the
// pointer; the following bytes are stored from there.
type Regs struct {
	Regs []byte

	ptr int
}

// Write implements Device.
func (r *Regs) Write(w []byte) {
	if len(w) == 0 {
		return
	}
	r.ptr = int(w[0])
	for _, v := range w[1:] {
		if r.ptr < len(r.Regs) {
			r.Regs[r.ptr] = v
		}
		r.ptr++
	}
}

// Read implements Device. Reads past the register file return 0xFF.
func (r *Regs) Read() byte {
	v := byte(0xFF)
	if r.ptr < len(r.Regs) {
		v = r.Regs[r.ptr]
	}
	r.ptr++
	return v
}

// Sim implements i2cbus.Controller.
type Sim struct {
	// Devices present on the bus, by 7-bit address.
	Devices map[uint16]Device
	// HangStarts is the number of upcoming START conditions that will never
	// raise a flag, like a wedged peripheral.
	HangStarts int
	// Speed is the last value passed to SetSpeed.
	Speed physic.Frequency

	// Counters for assertions.
	Starts   int
	Stops    int
	Releases int
	Reinits  int
	Pulses   int

	mu        syncutil.Mutex
	scl       *Line
	sda       *Line
	enabled   bool
	gpioOwned bool
	holdSDA   int // SCL pulses left before the slave lets go; <0 forever
	holding   bool
	status    i2cbus.Status
	addr      uint16
	read      bool
	left      int
	wbuf      []byte
}

// New returns a simulated peripheral with devs on the bus.
func New(devs map[uint16]Device) *Sim {
	if devs == nil {
		devs = map[uint16]Device{}
	}
	s := &Sim{Devices: devs}
	s.scl = &Line{Pin: gpiotest.Pin{N: "SCL", L: gpio.High}, sim: s, clock: true}
	s.sda = &Line{Pin: gpiotest.Pin{N: "SDA", L: gpio.High}, sim: s}
	return s
}

// SCL returns the clock line.
func (s *Sim) SCL() *Line {
	return s.scl
}

// SDA returns the data line.
func (s *Sim) SDA() *Line {
	return s.sda
}

// HoldSDA makes a slave drive SDA low until it receives pulses clock pulses.
// A negative value holds it forever.
func (s *Sim) HoldSDA(pulses int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holding = pulses != 0
	s.holdSDA = pulses
}

// Holding returns true while a slave drives SDA low.
func (s *Sim) Holding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holding
}

// PeripheralOwned returns true when the lines are muxed to the peripheral.
func (s *Sim) PeripheralOwned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.gpioOwned
}

func (s *Sim) String() string {
	return "i2csim"
}

// Enable implements i2cbus.Controller.
func (s *Sim) Enable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gpioOwned {
		return errors.New("i2cbustest: enable while lines are released")
	}
	s.enabled = true
	return nil
}

// Disable implements i2cbus.Controller.
func (s *Sim) Disable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = false
	s.status = 0
	return nil
}

// Enabled implements i2cbus.Controller.
func (s *Sim) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Release implements i2cbus.Controller.
func (s *Sim) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled {
		return errors.New("i2cbustest: release while enabled")
	}
	s.gpioOwned = true
	s.Releases++
	return nil
}

// Reinit implements i2cbus.Controller.
func (s *Sim) Reinit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gpioOwned = false
	s.enabled = true
	s.status = 0
	s.wbuf = nil
	s.Reinits++
	return nil
}

// Start implements i2cbus.Controller.
func (s *Sim) Start(addr uint16, n int, read bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return errors.New("i2cbustest: start while disabled")
	}
	s.flushLocked()
	s.Starts++
	s.addr, s.read, s.left = addr, read, n
	s.status = i2cbus.Busy
	if s.HangStarts > 0 {
		s.HangStarts--
		return nil
	}
	if s.holding {
		return nil
	}
	if _, ok := s.Devices[addr]; !ok {
		s.status |= i2cbus.NACK
		return nil
	}
	if read {
		if n > 0 {
			s.status |= i2cbus.RXNE
		}
	} else {
		s.status |= i2cbus.TXE
	}
	return nil
}

// Stop implements i2cbus.Controller.
func (s *Sim) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
	s.Stops++
	s.status = 0
	return nil
}

// Status implements i2cbus.Controller.
func (s *Sim) Status() i2cbus.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ClearNACK implements i2cbus.Controller.
func (s *Sim) ClearNACK() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status &^= i2cbus.NACK
}

// Transmit implements i2cbus.Controller.
func (s *Sim) Transmit(b byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wbuf = append(s.wbuf, b)
	s.left--
}

// Receive implements i2cbus.Controller.
func (s *Sim) Receive() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.left--
	if s.left <= 0 {
		s.status &^= i2cbus.RXNE
	}
	if d, ok := s.Devices[s.addr]; ok {
		return d.Read()
	}
	return 0xFF
}

// SetSpeed implements i2cbus.Controller.
func (s *Sim) SetSpeed(f physic.Frequency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Speed = f
	return nil
}

func (s *Sim) flushLocked() {
	if len(s.wbuf) == 0 {
		return
	}
	if d, ok := s.Devices[s.addr]; ok {
		d.Write(s.wbuf)
	}
	s.wbuf = nil
}

// pulse is called on every rising edge of SCL driven by GPIO.
func (s *Sim) pulse() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Pulses++
	if !s.holding || s.holdSDA < 0 {
		return
	}
	s.holdSDA--
	if s.holdSDA == 0 {
		s.holding = false
	}
}

// Line is one of the two open-drain bus lines.
type Line struct {
	gpiotest.Pin
	sim   *Sim
	clock bool
}

// Out implements gpio.PinOut.
func (l *Line) Out(lvl gpio.Level) error {
	l.sim.mu.Lock()
	owned := l.sim.gpioOwned
	l.sim.mu.Unlock()
	if !owned {
		return fmt.Errorf("i2cbustest: %s is owned by the peripheral", l.N)
	}
	prev := l.Pin.Read()
	if err := l.Pin.Out(lvl); err != nil {
		return err
	}
	if l.clock && prev == gpio.Low && lvl == gpio.High {
		l.sim.pulse()
	}
	return nil
}

// Read implements gpio.PinIn. A slave holding SDA wins over the driven
// level.
func (l *Line) Read() gpio.Level {
	if !l.clock && l.sim.Holding() {
		return gpio.Low
	}
	return l.Pin.Read()
}

var _ i2cbus.Controller = &Sim{}
var _ gpio.PinIO = &Line{}
