// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sht3x is a package for interfacing with the Sensirion SHT30, SHT31
// and SHT35 humidity and temperature sensors.
//
// Measurements are single shot with clock stretching: the sensor holds SCL
// low until the result is ready, so a read is a single transaction. A stuck
// sensor is released by the bus recovery of the transport.
//
// # Datasheet
//
// https://sensirion.com/media/documents/213E6A3B/63A5A569/Datasheet_SHT3x_DIS.pdf
package sht3x

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/GermanBionicSystems/epdclock/common"
)

// Repeatability selects the measurement duration and noise.
type Repeatability int

const (
	High Repeatability = iota
	Medium
	Low
)

// DefaultAddress is the address with ADDR tied low.
const DefaultAddress i2c.Addr = 0x44

// Status is the content of the status register.
type Status uint16

// Status bits.
const (
	AlertPending   Status = 1 << 15
	HeaterOn       Status = 1 << 13
	HumidityAlert  Status = 1 << 11
	TempAlert      Status = 1 << 10
	ResetDetected  Status = 1 << 4
	CommandFailed  Status = 1 << 1
	WriteCRCFailed Status = 1 << 0
)

const (
	cmdMeasureHigh   uint16 = 0x2C06
	cmdMeasureMedium uint16 = 0x2C0D
	cmdMeasureLow    uint16 = 0x2C10
	cmdReadStatus    uint16 = 0xF32D
	cmdClearStatus   uint16 = 0x3041
	cmdSoftReset     uint16 = 0x30A2

	countDivisor = float64(65535)

	minRH = 0 * physic.PercentRH
	maxRH = 100 * physic.PercentRH

	minSampleDuration = 20 * time.Millisecond
)

// Opts holds the measurement configuration.
type Opts struct {
	Repeatability Repeatability
	// TempOffset and HumidityOffset are added to every reading. They come
	// from the user calibration.
	TempOffset     physic.Temperature
	HumidityOffset physic.RelativeHumidity
}

// DefaultOpts measures with the high repeatability and no offset.
var DefaultOpts = Opts{Repeatability: High}

// Dev represents a SHT3x sensor.
type Dev struct {
	d        *i2c.Dev
	opts     Opts
	cmd      uint16
	mu       sync.Mutex
	shutdown chan struct{}
}

// New returns a handle to a SHT3x sensor on bus.
func New(bus i2c.Bus, addr i2c.Addr, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	dev := &Dev{d: &i2c.Dev{Bus: bus, Addr: uint16(addr)}, opts: *opts}
	switch opts.Repeatability {
	case High:
		dev.cmd = cmdMeasureHigh
	case Medium:
		dev.cmd = cmdMeasureMedium
	case Low:
		dev.cmd = cmdMeasureLow
	default:
		return nil, fmt.Errorf("sht3x: invalid repeatability %d", opts.Repeatability)
	}
	return dev, nil
}

// SetOffsets replaces the calibration offsets.
func (dev *Dev) SetOffsets(t physic.Temperature, rh physic.RelativeHumidity) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.opts.TempOffset = t
	dev.opts.HumidityOffset = rh
}

// Sense reads temperature and humidity from the device.
//
// On failure the temperature and humidity are zero.
func (dev *Dev) Sense(e *physic.Env) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	e.Pressure = 0
	e.Temperature = 0
	e.Humidity = 0
	words, err := dev.readCmd(dev.cmd, 2)
	if err != nil {
		return fmt.Errorf("sht3x: error reading device %w", err)
	}
	e.Temperature = countToTemp(words[0]) + dev.opts.TempOffset
	e.Humidity = clampRH(countToHumidity(words[1]) + dev.opts.HumidityOffset)
	return nil
}

// SenseContinuous continuously reads from the device and sends the output
// to the returned channel. To terminate the read, call Dev.Halt()
func (dev *Dev) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.shutdown != nil {
		return nil, errors.New("sht3x: SenseContinuous already running")
	}
	if interval < minSampleDuration {
		return nil, errors.New("sht3x: sample interval is < device sample rate")
	}
	shutdown := make(chan struct{})
	dev.shutdown = shutdown
	ch := make(chan physic.Env, 16)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer close(ch)
		for {
			select {
			case <-shutdown:
				return
			case <-ticker.C:
				env := physic.Env{}
				if err := dev.Sense(&env); err != nil {
					continue
				}
				select {
				case ch <- env:
				case <-shutdown:
					return
				}
			}
		}
	}()
	return ch, nil
}

// Status reads the status register.
func (dev *Dev) Status() (Status, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	words, err := dev.readCmd(cmdReadStatus, 1)
	if err != nil {
		return 0, fmt.Errorf("sht3x: error reading status %w", err)
	}
	return Status(words[0]), nil
}

// ClearStatus clears the alert and reset bits of the status register.
func (dev *Dev) ClearStatus() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.writeCmd(cmdClearStatus); err != nil {
		return fmt.Errorf("sht3x: error clearing status %w", err)
	}
	return nil
}

// Reset issues a soft-reset to the device
func (dev *Dev) Reset() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.writeCmd(cmdSoftReset); err != nil {
		return fmt.Errorf("sht3x: error resetting %w", err)
	}
	return nil
}

// Precision returns the smallest change in readings the device can produce.
// Implements physic.SenseEnv.
func (dev *Dev) Precision(e *physic.Env) {
	e.Temperature = physic.Kelvin / 100
	e.Humidity = physic.PercentRH / 100
	e.Pressure = 0
}

// Halt terminates a SenseContinuous command if running. Implements
// conn.Resource
func (dev *Dev) Halt() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.shutdown != nil {
		close(dev.shutdown)
		dev.shutdown = nil
	}
	return nil
}

// String returns a string representation of the device.
func (dev *Dev) String() string {
	return fmt.Sprintf("sht3x{%s}", dev.d)
}

func (dev *Dev) writeCmd(cmd uint16) error {
	return dev.d.Tx([]byte{byte(cmd >> 8), byte(cmd)}, nil)
}

// readCmd sends cmd and reads n CRC protected words after a repeated start.
func (dev *Dev) readCmd(cmd uint16, n int) ([]uint16, error) {
	r := make([]byte, 3*n)
	if err := dev.d.Tx([]byte{byte(cmd >> 8), byte(cmd)}, r); err != nil {
		return nil, err
	}
	return common.Words(r)
}

// convert the count to a temperature value.
func countToTemp(count uint16) physic.Temperature {
	// T=-45+175*(count/countDivisor)
	return physic.Temperature(float64(physic.Kelvin)*(-45.0+175.0*(float64(count)/countDivisor))) + physic.ZeroCelsius
}

func countToHumidity(count uint16) physic.RelativeHumidity {
	// RH=100*(count/countDivisor)
	return physic.RelativeHumidity(100.0 * (float64(count) / countDivisor) * float64(physic.PercentRH))
}

func clampRH(v physic.RelativeHumidity) physic.RelativeHumidity {
	if v < minRH {
		return minRH
	}
	if v > maxRH {
		return maxRH
	}
	return v
}

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
