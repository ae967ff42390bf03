// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds3231 handles the alarm and status bookkeeping of the DS3231
// real time clock.
//
// Alarm 2 drives the INT/SQW output, wired to the wake pin of the
// microcontroller. The calendar registers are left to the caller.
//
// # Datasheet
//
// https://www.analog.com/media/en/technical-documentation/data-sheets/DS3231.pdf
package ds3231

import (
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// DefaultAddress is the fixed address of the DS3231.
const DefaultAddress i2c.Addr = 0x68

// Registers
const (
	regSeconds  byte = 0x00
	regAlarm2   byte = 0x0B // Minutes, hours, day/date
	regControl  byte = 0x0E
	regStatus   byte = 0x0F
	regTempMSB  byte = 0x11
	numRegs          = 0x13
	alarmMask   byte = 0x80
)

// Control register bits.
const (
	ctlEOSC  byte = 0x80
	ctlINTCN byte = 0x04
	ctlA2IE  byte = 0x02
	ctlA1IE  byte = 0x01
)

// Status register bits.
const (
	staOSF     byte = 0x80
	staEN32kHz byte = 0x08
	staA2F     byte = 0x02
	staA1F     byte = 0x01
)

// Alarm2Mask selects which fields of alarm 2 are ignored. Bit 0 is A2M2
// (minutes), bit 1 A2M3 (hours) and bit 2 A2M4 (day or date).
type Alarm2Mask uint8

// EveryMinute fires alarm 2 each time the seconds roll over to 00.
const EveryMinute Alarm2Mask = 0x07

// defaults are the power on values of the time, alarm and control
// registers.
var defaults = []byte{
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00,
	0x1C, 0x8B, 0x00,
}

// Dev is a handle to a DS3231.
type Dev struct {
	d *i2c.Dev
}

// New returns a handle to the DS3231 on bus.
func New(bus i2c.Bus) *Dev {
	return &Dev{d: &i2c.Dev{Bus: bus, Addr: uint16(DefaultAddress)}}
}

// OscillatorStopped returns the OSF flag: the time kept is not valid, for
// example after the backup battery was removed.
func (d *Dev) OscillatorStopped() (bool, error) {
	return d.test("osf", regStatus, staOSF)
}

// ClearOscillatorStopped clears the OSF flag once the time was set.
func (d *Dev) ClearOscillatorStopped() error {
	return d.modify("clear osf", regStatus, staOSF, 0)
}

// Alarm2Fired returns the alarm 2 flag.
func (d *Dev) Alarm2Fired() (bool, error) {
	return d.test("a2f", regStatus, staA2F)
}

// ClearAlarm2 clears the alarm 2 flag, which releases the INT output.
func (d *Dev) ClearAlarm2() error {
	return d.modify("clear a2f", regStatus, staA2F, 0)
}

// Alarm2Mask returns the fields of alarm 2 that are ignored.
func (d *Dev) Alarm2Mask() (Alarm2Mask, error) {
	r := make([]byte, 3)
	if err := d.d.Tx([]byte{regAlarm2}, r); err != nil {
		return 0, d.wrap("alarm2 mask", err)
	}
	var m Alarm2Mask
	for i, v := range r {
		if v&alarmMask != 0 {
			m |= 1 << uint(i)
		}
	}
	return m, nil
}

// SetAlarm2Mask selects the fields of alarm 2 that are ignored.
func (d *Dev) SetAlarm2Mask(m Alarm2Mask) error {
	if m > EveryMinute {
		return fmt.Errorf("ds3231: invalid alarm 2 mask %#x", uint8(m))
	}
	for i := 0; i < 3; i++ {
		var v byte
		if m&(1<<uint(i)) != 0 {
			v = alarmMask
		}
		if err := d.modify("alarm2 mask", regAlarm2+byte(i), alarmMask, v); err != nil {
			return err
		}
	}
	return nil
}

// SetAlarm2Interrupt enables the alarm 2 interrupt.
func (d *Dev) SetAlarm2Interrupt(on bool) error {
	return d.modify("a2ie", regControl, ctlA2IE, flag(on, ctlA2IE))
}

// SetInterruptOutput selects the interrupt output instead of the square
// wave on INT/SQW.
func (d *Dev) SetInterruptOutput(on bool) error {
	return d.modify("intcn", regControl, ctlINTCN, flag(on, ctlINTCN))
}

// ArmEveryMinute fires alarm 2 once per minute on the interrupt output.
func (d *Dev) ArmEveryMinute() error {
	if err := d.SetAlarm2Mask(EveryMinute); err != nil {
		return err
	}
	if err := d.SetAlarm2Interrupt(true); err != nil {
		return err
	}
	return d.SetInterruptOutput(true)
}

// Temperature returns the temperature of the compensation sensor, in steps
// of 0.25°C.
func (d *Dev) Temperature() (physic.Temperature, error) {
	r := make([]byte, 2)
	if err := d.d.Tx([]byte{regTempMSB}, r); err != nil {
		return 0, d.wrap("temperature", err)
	}
	quarters := int(int8(r[0]))<<2 | int(r[1]>>6)
	return physic.ZeroCelsius + physic.Temperature(quarters)*physic.Kelvin/4, nil
}

// Reset writes the power on values to the time, alarm and control
// registers. The oscillator keeps running.
func (d *Dev) Reset() error {
	if _, err := d.d.Write(append([]byte{regSeconds}, defaults...)); err != nil {
		return d.wrap("reset", err)
	}
	return nil
}

// Dump returns every register, for debugging.
func (d *Dev) Dump() ([]byte, error) {
	r := make([]byte, numRegs)
	if err := d.d.Tx([]byte{regSeconds}, r); err != nil {
		return nil, d.wrap("dump", err)
	}
	return r, nil
}

// Halt implements conn.Resource. It does nothing: the clock keeps running.
func (d *Dev) Halt() error {
	return nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("ds3231{%s}", d.d)
}

func (d *Dev) test(op string, reg, mask byte) (bool, error) {
	r := []byte{0}
	if err := d.d.Tx([]byte{reg}, r); err != nil {
		return false, d.wrap(op, err)
	}
	return r[0]&mask != 0, nil
}

// modify writes the bits of mask in reg to value and reads them back.
func (d *Dev) modify(op string, reg, mask, value byte) error {
	r := []byte{0}
	if err := d.d.Tx([]byte{reg}, r); err != nil {
		return d.wrap(op, err)
	}
	v := r[0]&^mask | value&mask
	if v != r[0] {
		if _, err := d.d.Write([]byte{reg, v}); err != nil {
			return d.wrap(op, err)
		}
	}
	if err := d.d.Tx([]byte{reg}, r); err != nil {
		return d.wrap(op, err)
	}
	if r[0]&mask != value&mask {
		return fmt.Errorf("ds3231: %s: register 0x%02x reads 0x%02x", op, reg, r[0])
	}
	return nil
}

func (d *Dev) wrap(op string, err error) error {
	return fmt.Errorf("ds3231: %s: %w", op, err)
}

func flag(on bool, bit byte) byte {
	if on {
		return bit
	}
	return 0
}

var _ conn.Resource = &Dev{}
