// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package i2cbus

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/GermanBionicSystems/epdclock/fault"
	"github.com/GermanBionicSystems/epdclock/internal/syncutil"
	"github.com/GermanBionicSystems/epdclock/tick"
)

// Status is the set of peripheral flags the transport waits on.
type Status uint8

const (
	// TXE is set when the transmit data register can accept a byte.
	TXE Status = 1 << iota
	// RXNE is set when a received byte is available.
	RXNE
	// NACK is set when the addressed device did not acknowledge.
	NACK
	// Busy is set between START and STOP.
	Busy
)

// Controller is the register-level view of an I²C master peripheral.
type Controller interface {
	String() string
	// Enable turns the peripheral on.
	Enable() error
	// Disable turns the peripheral off. The peripheral may take a few polls
	// of Enabled to acknowledge.
	Disable() error
	// Enabled returns the current state of the peripheral.
	Enabled() bool
	// Release de-initializes the peripheral and hands SCL and SDA to GPIO as
	// open-drain outputs.
	Release() error
	// Reinit restores the normal configuration and the ownership of the
	// lines.
	Reinit() error
	// Start programs a 7-bit address, the direction and the byte count with
	// automatic STOP disabled, then generates a START condition.
	Start(addr uint16, n int, read bool) error
	// Stop generates a STOP condition.
	Stop() error
	// Status returns the current flags.
	Status() Status
	// ClearNACK acknowledges the NACK flag.
	ClearNACK()
	// Transmit writes the transmit data register.
	Transmit(b byte)
	// Receive reads the receive data register.
	Receive() byte
	// SetSpeed changes the bus clock.
	SetSpeed(f physic.Frequency) error
}

// Opts is the transport configuration.
type Opts struct {
	// Timeout bounds every wait on a peripheral flag.
	Timeout time.Duration
	// RecoveryPulses is the maximum number of SCL pulses sent to a slave
	// holding SDA low.
	RecoveryPulses int
	// DisablePolls bounds the wait for the peripheral to acknowledge
	// Disable.
	DisablePolls int
	// Settle is the delay after driving both lines high.
	Settle time.Duration
	// HalfPeriod is the duration of each level of a recovery pulse.
	HalfPeriod time.Duration
	// StopHold is the duration of each level of the STOP waveform.
	StopHold time.Duration
	// Clock is used for the recovery delays. Nil selects the real clock.
	Clock clockwork.Clock
}

// DefaultOpts is the configuration of the clock board.
var DefaultOpts = Opts{
	Timeout:        time.Second,
	RecoveryPulses: 255,
	DisablePolls:   10,
	Settle:         20 * time.Microsecond,
	HalfPeriod:     5 * time.Microsecond,
	StopHold:       time.Millisecond,
}

// Bus is a guarded I²C master.
type Bus struct {
	mu    syncutil.Mutex
	ctrl  Controller
	scl   gpio.PinIO
	sda   gpio.PinIO
	ticks tick.Source
	clk   clockwork.Clock
	opts  Opts
}

// New returns a Bus driving ctrl. scl and sda are the GPIO views of the bus
// lines, used only during recovery.
func New(ctrl Controller, scl, sda gpio.PinIO, ticks tick.Source, opts *Opts) (*Bus, error) {
	if ctrl == nil || scl == nil || sda == nil || ticks == nil {
		return nil, errors.New("i2cbus: controller, lines and tick source are required")
	}
	if opts == nil {
		opts = &DefaultOpts
	}
	o := *opts
	if o.Timeout <= 0 {
		return nil, errors.New("i2cbus: timeout must be positive")
	}
	if o.RecoveryPulses <= 0 {
		return nil, errors.New("i2cbus: recovery pulse budget must be positive")
	}
	clk := o.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Bus{ctrl: ctrl, scl: scl, sda: sda, ticks: ticks, clk: clk, opts: o}, nil
}

func (b *Bus) String() string {
	return b.ctrl.String()
}

// SCL implements i2c.Pins.
func (b *Bus) SCL() gpio.PinIO {
	return b.scl
}

// SDA implements i2c.Pins.
func (b *Bus) SDA() gpio.PinIO {
	return b.sda
}

// SetSpeed implements i2c.Bus.
func (b *Bus) SetSpeed(f physic.Frequency) error {
	return b.wrap("speed", b.ctrl.SetSpeed(f))
}

// Start begins a transaction of n bytes with the device at addr.
//
// On NACK the transaction is closed with a STOP and an error wrapping
// fault.ErrNACK is returned. On timeout the bus is recovered and the error
// wraps fault.ErrTimeout, or fault.ErrHardFail if recovery failed.
func (b *Bus) Start(addr uint16, n int, read bool) error {
	if addr > 0x7F {
		return b.wrap("start", fmt.Errorf("invalid 7-bit address %#x", addr))
	}
	if n < 0 || n > 255 {
		return b.wrap("start", fmt.Errorf("invalid byte count %d", n))
	}
	if !b.ctrl.Enabled() {
		if err := b.ctrl.Enable(); err != nil {
			return b.wrap("start", err)
		}
	}
	if err := b.ctrl.Start(addr, n, read); err != nil {
		return b.wrap("start", err)
	}
	want := TXE
	if read {
		want = RXNE
	}
	return b.waitFlag("start", want)
}

// WriteByte sends one byte of the current write transaction.
func (b *Bus) WriteByte(v byte) error {
	if err := b.waitFlag("write", TXE); err != nil {
		return err
	}
	b.ctrl.Transmit(v)
	return nil
}

// ReadByte receives one byte of the current read transaction. It returns 0
// on failure.
func (b *Bus) ReadByte() (byte, error) {
	if err := b.waitFlag("read", RXNE); err != nil {
		return 0, err
	}
	return b.ctrl.Receive(), nil
}

// Stop ends the current transaction and waits for the bus to be idle.
func (b *Bus) Stop() error {
	if err := b.ctrl.Stop(); err != nil {
		return b.wrap("stop", err)
	}
	if err := tick.Wait(b.ticks, tick.Budget(b.opts.Timeout), b.busy); err != nil {
		return b.recoverFrom("stop", err)
	}
	return nil
}

// Tx implements i2c.Bus.
//
// The write phase, if any, is followed by a repeated START for the read
// phase. A failed attempt the transport recovered from is retried once.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fault.Retry(func() error {
		return b.tx(addr, w, r)
	})
}

func (b *Bus) tx(addr uint16, w, r []byte) error {
	if len(w) != 0 || len(r) == 0 {
		if err := b.Start(addr, len(w), false); err != nil {
			return err
		}
		for _, v := range w {
			if err := b.WriteByte(v); err != nil {
				return err
			}
		}
	}
	if len(r) != 0 {
		if err := b.Start(addr, len(r), true); err != nil {
			return err
		}
		for i := range r {
			v, err := b.ReadByte()
			if err != nil {
				return err
			}
			r[i] = v
		}
	}
	return b.Stop()
}

// Recover frees a bus whose SDA line is held low by a slave, then restores
// the peripheral.
//
// The procedure is bounded by Opts.RecoveryPulses. It returns nil when SDA
// was observed released and an error wrapping fault.ErrHardFail otherwise.
// The peripheral is reinitialized in every case.
func (b *Bus) Recover() error {
	_ = b.ctrl.Disable()
	for i := 0; i < b.opts.DisablePolls && b.ctrl.Enabled(); i++ {
	}

	released, lineErr := b.unstick()

	if err := b.ctrl.Reinit(); err != nil {
		return b.wrap("recover", fmt.Errorf("%w: %w", fault.ErrHardFail, err))
	}
	if lineErr != nil {
		return b.wrap("recover", fmt.Errorf("%w: %w", fault.ErrHardFail, lineErr))
	}
	if !released {
		return b.wrap("recover", fmt.Errorf("%w: SDA held low after %d pulses", fault.ErrHardFail, b.opts.RecoveryPulses))
	}
	return nil
}

// Suspend disables the peripheral before a low-power state.
func (b *Bus) Suspend() error {
	return b.wrap("suspend", b.ctrl.Disable())
}

// Resume enables the peripheral after a low-power state.
func (b *Bus) Resume() error {
	return b.wrap("resume", b.ctrl.Enable())
}

// unstick drives the lines by hand. It returns whether SDA was observed
// high.
func (b *Bus) unstick() (bool, error) {
	eh := lineHandler{b: b}
	eh.release()
	eh.out(b.scl, gpio.High)
	eh.out(b.sda, gpio.High)
	b.delay(b.opts.Settle)
	if eh.err != nil {
		return false, eh.err
	}
	if b.sda.Read() == gpio.High {
		return true, nil
	}

	released := false
	for i := 0; i < b.opts.RecoveryPulses && !released; i++ {
		eh.out(b.scl, gpio.Low)
		b.delay(b.opts.HalfPeriod)
		eh.out(b.scl, gpio.High)
		b.delay(b.opts.HalfPeriod)
		if eh.err != nil {
			return false, eh.err
		}
		released = b.sda.Read() == gpio.High
	}

	// STOP: SDA rises while SCL is high.
	eh.out(b.sda, gpio.Low)
	b.delay(b.opts.StopHold)
	eh.out(b.sda, gpio.High)
	b.delay(b.opts.StopHold)
	return released, eh.err
}

// waitFlag waits for want, handling NACK and timeout.
func (b *Bus) waitFlag(op string, want Status) error {
	nacked := false
	err := tick.Wait(b.ticks, tick.Budget(b.opts.Timeout), func() bool {
		s := b.ctrl.Status()
		if s&NACK != 0 {
			nacked = true
			return false
		}
		return s&want == 0
	})
	if nacked {
		b.ctrl.ClearNACK()
		if err := b.Stop(); err != nil {
			return err
		}
		return b.wrap(op, fault.ErrNACK)
	}
	if err != nil {
		return b.recoverFrom(op, err)
	}
	return nil
}

func (b *Bus) busy() bool {
	return b.ctrl.Status()&Busy != 0
}

// recoverFrom runs Recover after cause and maps the outcome.
func (b *Bus) recoverFrom(op string, cause error) error {
	if err := b.Recover(); err != nil {
		return b.wrap(op, fmt.Errorf("%w: %w", cause, err))
	}
	return b.wrap(op, cause)
}

func (b *Bus) wrap(op string, err error) error {
	return fault.Wrap(b.ctrl.String(), op, err)
}

func (b *Bus) delay(d time.Duration) {
	if d > 0 {
		b.clk.Sleep(d)
	}
}

// lineHandler keeps the first error of a GPIO sequence.
type lineHandler struct {
	b   *Bus
	err error
}

func (eh *lineHandler) release() {
	if eh.err != nil {
		return
	}
	eh.err = eh.b.ctrl.Release()
}

func (eh *lineHandler) out(p gpio.PinOut, l gpio.Level) {
	if eh.err != nil {
		return
	}
	eh.err = p.Out(l)
}

var _ i2c.Bus = &Bus{}
var _ i2c.Pins = &Bus{}
